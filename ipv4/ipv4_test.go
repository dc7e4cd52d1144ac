package ipv4

import (
	"bytes"
	"testing"
)

func mustPacket(t *testing.T, buf []byte) Packet {
	t.Helper()
	p, err := New(buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestRoundTrip(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	r := Repr{
		SrcAddr:    Address{10, 0, 0, 1},
		DstAddr:    Address{10, 0, 0, 2},
		PayloadLen: len(payload),
	}

	buf := make([]byte, HeaderLen+len(payload))
	p := mustPacket(t, buf)
	r.Emit(p)
	copy(p.Payload(), payload)

	got, err := Parse(p)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.SrcAddr != r.SrcAddr || got.DstAddr != r.DstAddr || got.PayloadLen != r.PayloadLen {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, r)
	}
	if !bytes.Equal(p.Payload(), payload) {
		t.Fatalf("payload mismatch: got %v, want %v", p.Payload(), payload)
	}
	if !p.ChecksumValid() {
		t.Fatalf("checksum did not verify")
	}
}

func TestParseRejectsBadVersion(t *testing.T) {
	buf := make([]byte, HeaderLen)
	p := mustPacket(t, buf)
	(Repr{PayloadLen: 0}).Emit(p)
	p.SetVersion(6)
	p.SetChecksum(0)
	p.SetChecksum(compute(buf[:HeaderLen], 0))

	if _, err := Parse(p); err != ErrMalformed {
		t.Fatalf("got %v, want ErrMalformed", err)
	}
}

func TestParseRejectsOptions(t *testing.T) {
	buf := make([]byte, 24)
	p := mustPacket(t, buf)
	(Repr{PayloadLen: 4}).Emit(p)
	p.SetHeaderLen(24)
	p.SetChecksum(0)
	p.SetChecksum(compute(buf[:24], 0))

	if _, err := Parse(p); err != ErrUnrecognized {
		t.Fatalf("got %v, want ErrUnrecognized", err)
	}
}

func TestParseRejectsFragments(t *testing.T) {
	buf := make([]byte, HeaderLen)
	p := mustPacket(t, buf)
	(Repr{PayloadLen: 0}).Emit(p)
	p.SetFlagMF(true)
	p.SetChecksum(0)
	p.SetChecksum(compute(buf[:HeaderLen], 0))

	if _, err := Parse(p); err != ErrFragmented {
		t.Fatalf("got %v, want ErrFragmented", err)
	}
}

func TestParseRejectsUnknownProtocol(t *testing.T) {
	buf := make([]byte, HeaderLen)
	p := mustPacket(t, buf)
	(Repr{PayloadLen: 0}).Emit(p)
	p.SetProtocol(17)
	p.SetChecksum(0)
	p.SetChecksum(compute(buf[:HeaderLen], 0))

	if _, err := Parse(p); err != ErrUnknownProtocol {
		t.Fatalf("got %v, want ErrUnknownProtocol", err)
	}
}

func TestParseRejectsBadChecksum(t *testing.T) {
	buf := make([]byte, HeaderLen)
	p := mustPacket(t, buf)
	(Repr{PayloadLen: 0}).Emit(p)
	p.SetTTL(p.TTL() + 1) // perturb header without recomputing checksum

	if _, err := Parse(p); err != ErrChecksum {
		t.Fatalf("got %v, want ErrChecksum", err)
	}
}

func TestParseRejectsTruncatedPayload(t *testing.T) {
	buf := make([]byte, HeaderLen+4)
	p := mustPacket(t, buf)
	(Repr{PayloadLen: 10}).Emit(p) // claims 10 bytes of payload, buffer only has 4
	p.SetChecksum(0)
	p.SetChecksum(compute(buf[:HeaderLen], 0))

	if _, err := Parse(p); err != ErrTruncated {
		t.Fatalf("got %v, want ErrTruncated", err)
	}
}
