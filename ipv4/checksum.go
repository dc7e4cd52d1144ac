package ipv4

import (
	"encoding/binary"

	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// compute is the one's-complement internet checksum (RFC 1071): sum 16-bit
// big-endian words, zero-pad a trailing odd byte, fold carries until the
// high 16 bits are zero, then complement. start is an already-accumulated,
// not-yet-complemented partial sum (e.g. the TCP pseudo-header) that gets
// folded in before the data bytes.
//
// Ported field-for-field from the Rust original's ipv4::checksum::compute.
func compute(data []byte, start uint32) uint16 {
	sum := start
	i := 0
	for i+1 < len(data) {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
		i += 2
	}
	if i < len(data) {
		sum += uint32(data[i]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}

// Verify reports whether data's stored checksum (included in data) folds
// to zero under the one's-complement algorithm.
func Verify(data []byte) bool {
	return compute(data, 0) == 0
}

// ComputeWithPartial returns the one's-complement checksum of data, folding
// in a partial sum (such as a TCP pseudo-header, see PseudoHeaderSum) ahead
// of it.
func ComputeWithPartial(data []byte, partial uint16) uint16 {
	return compute(data, uint32(partial))
}

// PseudoHeaderSum folds the TCP pseudo-header (src addr, dst addr,
// protocol, TCP length) into a single not-yet-complemented 16-bit running
// sum, using gvisor's header.ChecksumCombine to do the 16-bit-word carry
// fold one field at a time — the same combinator gvisor's own TCP/IP
// checksum code uses to stitch a pseudo-header sum onto a payload sum.
func PseudoHeaderSum(src, dst Address, protocol uint8, length uint16) uint16 {
	sum := header.ChecksumCombine(
		binary.BigEndian.Uint16(src[0:2]),
		binary.BigEndian.Uint16(src[2:4]),
	)
	sum = header.ChecksumCombine(sum, binary.BigEndian.Uint16(dst[0:2]))
	sum = header.ChecksumCombine(sum, binary.BigEndian.Uint16(dst[2:4]))
	sum = header.ChecksumCombine(sum, uint16(protocol))
	sum = header.ChecksumCombine(sum, length)
	return sum
}
