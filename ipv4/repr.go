package ipv4

// Repr is the subset of IPv4 header fields this stack interprets. It is
// the only thing the rest of the stack deals with; Packet is purely a wire
// view used to produce and consume a Repr.
type Repr struct {
	SrcAddr    Address
	DstAddr    Address
	PayloadLen int
}

// Parse validates p as an unfragmented, option-free IPv4 datagram
// encapsulating TCP and returns the fields this stack cares about.
//
// A header length field below 5 (fewer than 20 header bytes) is rejected
// as ErrTruncated before anything else is checked. After that, validation
// order follows the Rust original's ipv4::Repr::parse exactly: version,
// then options, then fragmentation, then protocol, then checksum, then
// truncation of the claimed payload against the actual buffer.
func Parse(p Packet) (Repr, error) {
	if p.HeaderLen() < HeaderLen {
		return Repr{}, ErrTruncated
	}
	if p.Version() != 4 {
		return Repr{}, ErrMalformed
	}
	if p.HeaderLen() > HeaderLen {
		return Repr{}, ErrUnrecognized
	}
	if p.FlagMF() || p.FragmentOffset() != 0 {
		return Repr{}, ErrFragmented
	}
	if p.Protocol() != TCPProtocol {
		return Repr{}, ErrUnknownProtocol
	}
	if !p.ChecksumValid() {
		return Repr{}, ErrChecksum
	}

	payloadLen := int(p.TotalLen()) - int(p.HeaderLen())
	if payloadLen < 0 || len(p.Payload()) < payloadLen {
		return Repr{}, ErrTruncated
	}

	return Repr{
		SrcAddr:    p.SrcAddr(),
		DstAddr:    p.DstAddr(),
		PayloadLen: payloadLen,
	}, nil
}

// Emit writes r's fields into p as a complete, checksummed, option-free
// IPv4 header: version 4, header length 20, DSCP/ECN zero, identification
// zero, DF set, MF clear, TTL 64, protocol TCP, and a valid header
// checksum written last (emitted after every other field, as the checksum
// depends on all of them).
func (r Repr) Emit(p Packet) {
	p.SetVersion(4)
	p.SetHeaderLen(HeaderLen)
	p.SetDSCP(0)
	p.SetECN(0)
	p.SetTotalLen(uint16(HeaderLen + r.PayloadLen))
	p.SetID(0)
	p.SetFlagDF(true)
	p.SetFlagMF(false)
	p.SetTTL(64)
	p.SetProtocol(TCPProtocol)
	p.SetSrcAddr(r.SrcAddr)
	p.SetDstAddr(r.DstAddr)
	p.SetChecksum(0)
	p.SetChecksum(compute(p.Bytes()[:HeaderLen], 0))
}
