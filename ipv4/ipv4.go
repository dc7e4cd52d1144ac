// Package ipv4 is a hand-rolled, allocation-free codec for IPv4 headers.
//
// It mirrors the field-accessor style of gvisor's tcpip/header package and
// of the ipv4.rs Packet/Repr split this stack was distilled from: a Packet
// type is a thin view over a borrowed byte buffer, offering one method per
// RFC 791 field, and a Repr type carries only the fields this stack
// actually interprets.
package ipv4

import (
	"encoding/binary"
	"fmt"
)

// HeaderLen is the length in bytes of an IPv4 header with no options, the
// only kind this stack emits or accepts.
const HeaderLen = 20

// TCPProtocol is the IPv4 protocol number for TCP (RFC 793).
const TCPProtocol = 6

// Address is a 4-octet IPv4 address. It has value semantics and is
// directly comparable, so it can be used as a map key.
type Address [4]byte

// AddressFromBytes copies the first 4 bytes of b into a new Address.
func AddressFromBytes(b []byte) Address {
	var a Address
	copy(a[:], b)
	return a
}

func (a Address) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", a[0], a[1], a[2], a[3])
}

// field offsets, per RFC 791.
const (
	fieldVerIHL   = 0
	fieldDSCPECN  = 1
	fieldLength0  = 2
	fieldLength1  = 4
	fieldID0      = 4
	fieldID1      = 6
	fieldFlagOff0 = 6
	fieldFlagOff1 = 8
	fieldTTL      = 8
	fieldProto    = 9
	fieldSum0     = 10
	fieldSum1     = 12
	fieldSrc0     = 12
	fieldSrc1     = 16
	fieldDst0     = 16
	fieldDst1     = 20
)

// Packet is a view over a borrowed byte buffer holding an IPv4 datagram.
// It performs no allocation and no bounds checking beyond what New does.
type Packet struct {
	buf []byte
}

// New wraps buf as an IPv4 packet view. It fails with ErrTruncated if buf
// is too short to hold even a bare 20-byte header.
func New(buf []byte) (Packet, error) {
	if len(buf) < HeaderLen {
		return Packet{}, ErrTruncated
	}
	return Packet{buf: buf}, nil
}

// Bytes returns the underlying buffer.
func (p Packet) Bytes() []byte { return p.buf }

func (p Packet) Version() uint8    { return p.buf[fieldVerIHL] >> 4 }
func (p Packet) HeaderLen() uint8  { return (p.buf[fieldVerIHL] & 0x0F) * 4 }
func (p Packet) DSCP() uint8       { return p.buf[fieldDSCPECN] >> 2 }
func (p Packet) ECN() uint8        { return p.buf[fieldDSCPECN] & 0x03 }
func (p Packet) TotalLen() uint16  { return binary.BigEndian.Uint16(p.buf[fieldLength0:fieldLength1]) }
func (p Packet) ID() uint16        { return binary.BigEndian.Uint16(p.buf[fieldID0:fieldID1]) }
func (p Packet) FlagDF() bool      { return p.buf[fieldFlagOff0]&0x40 != 0 }
func (p Packet) FlagMF() bool      { return p.buf[fieldFlagOff0]&0x20 != 0 }
func (p Packet) FragmentOffset() uint16 {
	return binary.BigEndian.Uint16(p.buf[fieldFlagOff0:fieldFlagOff1]) << 3
}
func (p Packet) TTL() uint8      { return p.buf[fieldTTL] }
func (p Packet) Protocol() uint8 { return p.buf[fieldProto] }
func (p Packet) Checksum() uint16 {
	return binary.BigEndian.Uint16(p.buf[fieldSum0:fieldSum1])
}
func (p Packet) SrcAddr() Address { return AddressFromBytes(p.buf[fieldSrc0:fieldSrc1]) }
func (p Packet) DstAddr() Address { return AddressFromBytes(p.buf[fieldDst0:fieldDst1]) }

// Payload returns the slice from byte HeaderLen() onward. Callers must
// validate HeaderLen()/TotalLen() against len(buf) first (Repr.Parse does).
func (p Packet) Payload() []byte {
	h := int(p.HeaderLen())
	if h > len(p.buf) {
		return nil
	}
	return p.buf[h:]
}

// ChecksumValid returns true iff the one's-complement sum of the header
// (including the stored checksum field) folds to zero.
func (p Packet) ChecksumValid() bool {
	h := int(p.HeaderLen())
	if h > len(p.buf) {
		return false
	}
	return compute(p.buf[:h], 0) == 0
}

func (p Packet) SetVersion(v uint8) {
	p.buf[fieldVerIHL] = (p.buf[fieldVerIHL] & 0x0F) | (v << 4)
}
func (p Packet) SetHeaderLen(length uint8) {
	p.buf[fieldVerIHL] = (p.buf[fieldVerIHL] & 0xF0) | ((length / 4) & 0x0F)
}
func (p Packet) SetDSCP(v uint8) {
	p.buf[fieldDSCPECN] = (p.buf[fieldDSCPECN] & 0x03) | ((v << 2) & 0xFC)
}
func (p Packet) SetECN(v uint8) {
	p.buf[fieldDSCPECN] = (p.buf[fieldDSCPECN] & 0xFC) | (v & 0x03)
}
func (p Packet) SetTotalLen(v uint16) {
	binary.BigEndian.PutUint16(p.buf[fieldLength0:fieldLength1], v)
}
func (p Packet) SetID(v uint16) { binary.BigEndian.PutUint16(p.buf[fieldID0:fieldID1], v) }
func (p Packet) SetFlagDF(flag bool) {
	if flag {
		p.buf[fieldFlagOff0] |= 0x40
	} else {
		p.buf[fieldFlagOff0] &^= 0x40
	}
}
func (p Packet) SetFlagMF(flag bool) {
	if flag {
		p.buf[fieldFlagOff0] |= 0x20
	} else {
		p.buf[fieldFlagOff0] &^= 0x20
	}
}
func (p Packet) SetTTL(v uint8)      { p.buf[fieldTTL] = v }
func (p Packet) SetProtocol(v uint8) { p.buf[fieldProto] = v }
func (p Packet) SetChecksum(v uint16) {
	binary.BigEndian.PutUint16(p.buf[fieldSum0:fieldSum1], v)
}
func (p Packet) SetSrcAddr(a Address) { copy(p.buf[fieldSrc0:fieldSrc1], a[:]) }
func (p Packet) SetDstAddr(a Address) { copy(p.buf[fieldDst0:fieldDst1], a[:]) }

// PayloadMut returns the mutable slice from byte HeaderLen() onward.
func (p Packet) PayloadMut() []byte {
	return p.buf[p.HeaderLen():]
}

func (p Packet) String() string {
	return fmt.Sprintf("IPv4 %v => %v proto=%d len=%d ttl=%d",
		p.SrcAddr(), p.DstAddr(), p.Protocol(), p.TotalLen(), p.TTL())
}
