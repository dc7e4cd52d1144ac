package tcp

import "errors"

// ParseError values mirror ipv4's: recovered locally by dropping the
// offending segment, never propagated to the application.
var (
	// ErrMalformed means src_port or dst_port was zero.
	ErrMalformed = errors.New("tcp: malformed segment")
	// ErrTruncated means the buffer is shorter than a bare TCP header.
	ErrTruncated = errors.New("tcp: truncated segment")
	// ErrChecksum means the TCP checksum (with pseudo-header) does not verify.
	ErrChecksum = errors.New("tcp: bad checksum")
)
