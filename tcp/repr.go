package tcp

import "github.com/halfwire/usertcp/ipv4"

// Control selects at most one of the SYN/FIN/RST control flags a segment
// carries; when none of those is set, Control is ControlNone.
type Control int

const (
	ControlNone Control = iota
	ControlSyn
	ControlFin
	ControlRst
)

func (c Control) String() string {
	switch c {
	case ControlSyn:
		return "SYN"
	case ControlFin:
		return "FIN"
	case ControlRst:
		return "RST"
	default:
		return "NONE"
	}
}

// Repr is the subset of TCP header fields this stack interprets.
type Repr struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	// Ack is present iff the ACK flag is set.
	Ack     *uint32
	Control Control
	Payload []byte
}

// Parse validates p as a well-formed TCP segment addressed between
// src/dst and returns the fields this stack cares about.
//
// validateChecksum gates the pseudo-header checksum check. Production
// entry points (stack's receive loop) always pass true; tests may pass
// false to construct deliberately invalid segments without having to
// forge a matching checksum, per spec.md §4.1's development toggle.
func Parse(p Packet, src, dst ipv4.Address, validateChecksum bool) (Repr, error) {
	if p.SrcPort() == 0 || p.DstPort() == 0 {
		return Repr{}, ErrMalformed
	}
	if validateChecksum && !p.ChecksumValid(src, dst) {
		return Repr{}, ErrChecksum
	}

	control := ControlNone
	switch {
	case p.FlagSYN():
		control = ControlSyn
	case p.FlagFIN():
		control = ControlFin
	case p.FlagRST():
		control = ControlRst
	}

	var ack *uint32
	if p.FlagACK() {
		a := p.AckNum()
		ack = &a
	}

	return Repr{
		SrcPort: p.SrcPort(),
		DstPort: p.DstPort(),
		Seq:     p.SeqNum(),
		Ack:     ack,
		Control: control,
		Payload: p.Payload(),
	}, nil
}

// HeaderLen is the on-wire header length this stack always emits: 20
// bytes, no options.
func (r Repr) HeaderLen() int { return HeaderLen }

// Emit writes r's fields into p: ports, seq, ack (0 if absent), a 20-byte
// data offset, exactly one of SYN/FIN/RST per r.Control plus ACK iff
// r.Ack is set, the payload body, and finally the checksum (computed over
// the whole segment plus the src/dst pseudo-header).
func (r Repr) Emit(p Packet, src, dst ipv4.Address) {
	p.SetSrcPort(r.SrcPort)
	p.SetDstPort(r.DstPort)
	p.SetSeqNum(r.Seq)
	if r.Ack != nil {
		p.SetAckNum(*r.Ack)
	} else {
		p.SetAckNum(0)
	}
	p.SetDataOffset(uint8(r.HeaderLen()))
	p.ClearFlags()
	switch r.Control {
	case ControlSyn:
		p.SetFlagSYN(true)
	case ControlFin:
		p.SetFlagFIN(true)
	case ControlRst:
		p.SetFlagRST(true)
	}
	if r.Ack != nil {
		p.SetFlagACK(true)
	}
	copy(p.PayloadMut(), r.Payload)
	p.FillChecksum(src, dst)
}
