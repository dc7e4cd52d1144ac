// Package tcp is a hand-rolled, allocation-free codec for TCP segment
// headers, in the same Packet/Repr split as the ipv4 package.
package tcp

import (
	"encoding/binary"
	"fmt"

	"github.com/halfwire/usertcp/ipv4"
)

// HeaderLen is the length in bytes of a TCP header with no options, the
// only kind this stack emits or accepts.
const HeaderLen = 20

// Endpoint is an IPv4 address plus a port number. (local, remote) pairs of
// Endpoint identify a connection.
type Endpoint struct {
	Addr ipv4.Address
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%v:%d", e.Addr, e.Port)
}

// field offsets, per RFC 793.
const (
	fieldSrcPort0  = 0
	fieldSrcPort1  = 2
	fieldDstPort0  = 2
	fieldDstPort1  = 4
	fieldSeq0      = 4
	fieldSeq1      = 8
	fieldAck0      = 8
	fieldAck1      = 12
	fieldOffFlags0 = 12
	fieldOffFlags1 = 14
	fieldWindow0   = 14
	fieldWindow1   = 16
	fieldSum0      = 16
	fieldSum1      = 18
	fieldUrgent0   = 18
	fieldUrgent1   = 20
)

const (
	flagFIN = 0x01
	flagSYN = 0x02
	flagRST = 0x04
	flagPSH = 0x08
	flagACK = 0x10
	flagURG = 0x20
	flagECE = 0x40
	flagCWR = 0x80
	// NS is the low bit of the data-offset/reserved byte, not the flags byte.
	flagNS = 0x01
)

// Packet is a view over a borrowed byte buffer holding a TCP segment.
type Packet struct {
	buf []byte
}

// New wraps buf as a TCP packet view. It fails with ErrTruncated if buf is
// too short to hold even a bare 20-byte header.
func New(buf []byte) (Packet, error) {
	if len(buf) < HeaderLen {
		return Packet{}, ErrTruncated
	}
	return Packet{buf: buf}, nil
}

func (p Packet) Bytes() []byte { return p.buf }

func (p Packet) SrcPort() uint16 {
	return binary.BigEndian.Uint16(p.buf[fieldSrcPort0:fieldSrcPort1])
}
func (p Packet) DstPort() uint16 {
	return binary.BigEndian.Uint16(p.buf[fieldDstPort0:fieldDstPort1])
}
func (p Packet) SeqNum() uint32 { return binary.BigEndian.Uint32(p.buf[fieldSeq0:fieldSeq1]) }
func (p Packet) AckNum() uint32 { return binary.BigEndian.Uint32(p.buf[fieldAck0:fieldAck1]) }
func (p Packet) DataOffset() uint8 {
	return (p.buf[fieldOffFlags0] >> 4) * 4
}
func (p Packet) FlagNS() bool  { return p.buf[fieldOffFlags0]&flagNS != 0 }
func (p Packet) FlagCWR() bool { return p.buf[fieldOffFlags1-1]&flagCWR != 0 }
func (p Packet) FlagECE() bool { return p.buf[fieldOffFlags1-1]&flagECE != 0 }
func (p Packet) FlagURG() bool { return p.buf[fieldOffFlags1-1]&flagURG != 0 }
func (p Packet) FlagACK() bool { return p.buf[fieldOffFlags1-1]&flagACK != 0 }
func (p Packet) FlagPSH() bool { return p.buf[fieldOffFlags1-1]&flagPSH != 0 }
func (p Packet) FlagRST() bool { return p.buf[fieldOffFlags1-1]&flagRST != 0 }
func (p Packet) FlagSYN() bool { return p.buf[fieldOffFlags1-1]&flagSYN != 0 }
func (p Packet) FlagFIN() bool { return p.buf[fieldOffFlags1-1]&flagFIN != 0 }
func (p Packet) WindowSize() uint16 {
	return binary.BigEndian.Uint16(p.buf[fieldWindow0:fieldWindow1])
}
func (p Packet) Checksum() uint16 {
	return binary.BigEndian.Uint16(p.buf[fieldSum0:fieldSum1])
}
func (p Packet) Urgent() uint16 {
	return binary.BigEndian.Uint16(p.buf[fieldUrgent0:fieldUrgent1])
}

// Payload returns the slice from byte DataOffset() onward.
func (p Packet) Payload() []byte {
	off := int(p.DataOffset())
	if off > len(p.buf) {
		return nil
	}
	return p.buf[off:]
}

// ChecksumValid verifies the TCP checksum against the pseudo-header built
// from src/dst (protocol=TCP, length=len(segment)).
func (p Packet) ChecksumValid(src, dst ipv4.Address) bool {
	partial := ipv4.PseudoHeaderSum(src, dst, ipv4.TCPProtocol, uint16(len(p.buf)))
	return ipv4.ComputeWithPartial(p.buf, partial) == 0
}

func (p Packet) SetSrcPort(v uint16) {
	binary.BigEndian.PutUint16(p.buf[fieldSrcPort0:fieldSrcPort1], v)
}
func (p Packet) SetDstPort(v uint16) {
	binary.BigEndian.PutUint16(p.buf[fieldDstPort0:fieldDstPort1], v)
}
func (p Packet) SetSeqNum(v uint32) { binary.BigEndian.PutUint32(p.buf[fieldSeq0:fieldSeq1], v) }
func (p Packet) SetAckNum(v uint32) { binary.BigEndian.PutUint32(p.buf[fieldAck0:fieldAck1], v) }
func (p Packet) SetDataOffset(off uint8) {
	p.buf[fieldOffFlags0] = (p.buf[fieldOffFlags0] & 0x0F) | ((off / 4) << 4)
}

// ClearFlags zeroes every flag bit (including NS) while preserving the
// data offset.
func (p Packet) ClearFlags() {
	off := p.buf[fieldOffFlags0] & 0xF0
	p.buf[fieldOffFlags0] = off
	p.buf[fieldOffFlags1-1] = 0
}

func (p Packet) setFlag(byteOff int, mask uint8, flag bool) {
	if flag {
		p.buf[byteOff] |= mask
	} else {
		p.buf[byteOff] &^= mask
	}
}

func (p Packet) SetFlagNS(flag bool)  { p.setFlag(fieldOffFlags0, flagNS, flag) }
func (p Packet) SetFlagCWR(flag bool) { p.setFlag(fieldOffFlags1-1, flagCWR, flag) }
func (p Packet) SetFlagECE(flag bool) { p.setFlag(fieldOffFlags1-1, flagECE, flag) }
func (p Packet) SetFlagURG(flag bool) { p.setFlag(fieldOffFlags1-1, flagURG, flag) }
func (p Packet) SetFlagACK(flag bool) { p.setFlag(fieldOffFlags1-1, flagACK, flag) }
func (p Packet) SetFlagPSH(flag bool) { p.setFlag(fieldOffFlags1-1, flagPSH, flag) }
func (p Packet) SetFlagRST(flag bool) { p.setFlag(fieldOffFlags1-1, flagRST, flag) }
func (p Packet) SetFlagSYN(flag bool) { p.setFlag(fieldOffFlags1-1, flagSYN, flag) }
func (p Packet) SetFlagFIN(flag bool) { p.setFlag(fieldOffFlags1-1, flagFIN, flag) }

func (p Packet) SetWindowSize(v uint16) {
	binary.BigEndian.PutUint16(p.buf[fieldWindow0:fieldWindow1], v)
}
func (p Packet) SetChecksum(v uint16) {
	binary.BigEndian.PutUint16(p.buf[fieldSum0:fieldSum1], v)
}
func (p Packet) SetUrgent(v uint16) {
	binary.BigEndian.PutUint16(p.buf[fieldUrgent0:fieldUrgent1], v)
}

// PayloadMut returns the mutable slice from byte DataOffset() onward.
func (p Packet) PayloadMut() []byte {
	return p.buf[p.DataOffset():]
}

// FillChecksum zeroes the checksum field, computes the checksum over the
// whole segment plus the pseudo-header for (src, dst), and writes it back.
func (p Packet) FillChecksum(src, dst ipv4.Address) {
	p.SetChecksum(0)
	partial := ipv4.PseudoHeaderSum(src, dst, ipv4.TCPProtocol, uint16(len(p.buf)))
	p.SetChecksum(ipv4.ComputeWithPartial(p.buf, partial))
}

func (p Packet) String() string {
	var flags string
	for _, f := range []struct {
		set  bool
		name string
	}{
		{p.FlagSYN(), "SYN"}, {p.FlagACK(), "ACK"}, {p.FlagFIN(), "FIN"}, {p.FlagRST(), "RST"},
	} {
		if f.set {
			flags += f.name + "+"
		}
	}
	return fmt.Sprintf("TCP %d=>%d %sseq=%d ack=%d len=%d",
		p.SrcPort(), p.DstPort(), flags, p.SeqNum(), p.AckNum(), len(p.Payload()))
}
