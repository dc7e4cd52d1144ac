package stack

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/halfwire/usertcp/ipv4"
	"github.com/halfwire/usertcp/tcp"
)

func TestCollectorReportsConnectionsByState(t *testing.T) {
	reg := newRegistry()
	reg.insert(tcp.Endpoint{Addr: ipv4.Address{10, 0, 0, 1}, Port: 1}, SynSent(), ipv4.Address{10, 0, 0, 100})
	reg.insert(tcp.Endpoint{Addr: ipv4.Address{10, 0, 0, 2}, Port: 2}, Established(1, 1), ipv4.Address{10, 0, 0, 100})

	c := NewCollector(reg)
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(c)

	n, err := testutil.GatherAndCount(promReg, "usertcp_connections")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("got %d connection series, want 2", n)
	}
}

func TestCollectorReportsHandshakeAndByteCounters(t *testing.T) {
	reg := newRegistry()
	c := NewCollector(reg)
	c.recordHandshake(handshakeAccepted)
	c.recordHandshake(handshakeAccepted)
	c.recordHandshake(handshakeRefused)
	c.recordBytes(directionTx, 100)
	c.recordDrop(dropChecksum)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(c)

	got, err := testutil.GatherAndCount(promReg, "usertcp_handshakes_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if got != 2 {
		t.Fatalf("got %d handshake outcome series, want 2 (accepted, refused)", got)
	}

	got, err = testutil.GatherAndCount(promReg, "usertcp_bytes_total")
	if err != nil {
		t.Fatalf("GatherAndCount: %v", err)
	}
	if got != 1 {
		t.Fatalf("got %d byte direction series, want 1 (tx)", got)
	}
}
