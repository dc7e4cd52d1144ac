package tcp

import (
	"bytes"
	"testing"

	"github.com/halfwire/usertcp/ipv4"
)

func TestRoundTrip(t *testing.T) {
	src := ipv4.Address{10, 0, 0, 1}
	dst := ipv4.Address{10, 0, 0, 2}
	payload := []byte("hello")
	ack := uint32(555)

	r := Repr{
		SrcPort: 8090,
		DstPort: 6969,
		Seq:     123,
		Ack:     &ack,
		Control: ControlSyn,
		Payload: payload,
	}

	buf := make([]byte, HeaderLen+len(payload))
	p, err := New(buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.Emit(p, src, dst)

	got, err := Parse(p, src, dst, true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.SrcPort != r.SrcPort || got.DstPort != r.DstPort || got.Seq != r.Seq {
		t.Fatalf("mismatch: got %+v", got)
	}
	if got.Ack == nil || *got.Ack != *r.Ack {
		t.Fatalf("ack mismatch: got %v", got.Ack)
	}
	if got.Control != ControlSyn {
		t.Fatalf("control mismatch: got %v", got.Control)
	}
	if !bytes.Equal(got.Payload, payload) {
		t.Fatalf("payload mismatch: got %v", got.Payload)
	}
}

func TestControlIsMutuallyExclusive(t *testing.T) {
	src := ipv4.Address{127, 0, 0, 1}
	dst := ipv4.Address{127, 0, 0, 1}

	for _, c := range []Control{ControlNone, ControlSyn, ControlFin, ControlRst} {
		buf := make([]byte, HeaderLen)
		p, _ := New(buf)
		r := Repr{SrcPort: 1, DstPort: 2, Control: c}
		r.Emit(p, src, dst)

		flagsSet := 0
		if p.FlagSYN() {
			flagsSet++
		}
		if p.FlagFIN() {
			flagsSet++
		}
		if p.FlagRST() {
			flagsSet++
		}
		if flagsSet > 1 {
			t.Fatalf("control %v produced more than one of SYN/FIN/RST", c)
		}
	}
}

func TestParseRejectsZeroPorts(t *testing.T) {
	src := ipv4.Address{1, 2, 3, 4}
	dst := ipv4.Address{5, 6, 7, 8}

	buf := make([]byte, HeaderLen)
	p, _ := New(buf)
	r := Repr{SrcPort: 0, DstPort: 80, Control: ControlNone}
	r.Emit(p, src, dst)

	if _, err := Parse(p, src, dst, true); err != ErrMalformed {
		t.Fatalf("got %v, want ErrMalformed", err)
	}
}

func TestParseValidatesChecksum(t *testing.T) {
	src := ipv4.Address{1, 2, 3, 4}
	dst := ipv4.Address{5, 6, 7, 8}

	buf := make([]byte, HeaderLen)
	p, _ := New(buf)
	r := Repr{SrcPort: 1, DstPort: 2, Control: ControlNone}
	r.Emit(p, src, dst)
	p.SetSeqNum(p.SeqNum() + 1) // perturb without recomputing checksum

	if _, err := Parse(p, src, dst, true); err != ErrChecksum {
		t.Fatalf("got %v, want ErrChecksum", err)
	}
	if _, err := Parse(p, src, dst, false); err != nil {
		t.Fatalf("with validation disabled, got %v, want nil", err)
	}
}

func TestAckAbsentWhenFlagClear(t *testing.T) {
	src := ipv4.Address{1, 1, 1, 1}
	dst := ipv4.Address{2, 2, 2, 2}

	buf := make([]byte, HeaderLen)
	p, _ := New(buf)
	r := Repr{SrcPort: 10, DstPort: 20, Control: ControlSyn, Ack: nil}
	r.Emit(p, src, dst)

	got, err := Parse(p, src, dst, true)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.Ack != nil {
		t.Fatalf("expected no ack, got %v", *got.Ack)
	}
}
