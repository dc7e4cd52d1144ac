package ipv4

import "errors"

// ParseError is the set of ways a byte buffer can fail to parse as a
// well-formed, unfragmented, option-free IPv4 datagram carrying TCP.
var (
	// ErrMalformed means the version field was not 4.
	ErrMalformed = errors.New("ipv4: malformed header")
	// ErrTruncated means the buffer is shorter than the header or
	// total-length field claims.
	ErrTruncated = errors.New("ipv4: truncated datagram")
	// ErrUnrecognized means the header carries options (IHL > 5).
	ErrUnrecognized = errors.New("ipv4: unrecognized header options")
	// ErrFragmented means MF is set or the fragment offset is nonzero.
	ErrFragmented = errors.New("ipv4: fragmented datagram")
	// ErrUnknownProtocol means the protocol field is not TCP.
	ErrUnknownProtocol = errors.New("ipv4: unknown protocol")
	// ErrChecksum means the header checksum does not verify.
	ErrChecksum = errors.New("ipv4: bad header checksum")
)
