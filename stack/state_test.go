package stack

import "testing"

func TestSocketStateString(t *testing.T) {
	cases := []struct {
		name  string
		state SocketState
		want  string
	}{
		{"synsent", SynSent(), "SynSent"},
		{"synreceived", SynReceived(), "SynReceived"},
		{"established", Established(1, 2), "Established"},
		{"closed", Closed(), "Closed"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.state.String(); got != c.want {
				t.Fatalf("String() = %q, want %q", got, c.want)
			}
		})
	}
}

func TestEstablishedCarriesSeqAck(t *testing.T) {
	s := Established(10, 20)
	if !s.IsEstablished() {
		t.Fatal("expected IsEstablished")
	}
	if s.Seq != 10 || s.Ack != 20 {
		t.Fatalf("got seq=%d ack=%d, want seq=10 ack=20", s.Seq, s.Ack)
	}
	if s.IsSynSent() || s.IsSynReceived() || s.IsClosed() {
		t.Fatalf("established state also matched another predicate: %+v", s)
	}
}
