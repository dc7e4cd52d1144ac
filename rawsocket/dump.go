package rawsocket

import (
	"log"
	"strconv"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/halfwire/usertcp/tcp"
)

// DumpConn wraps a Conn and logs a one-line gopacket decode of every frame
// that passes through Send or Recv, for a binary's -dump-tcp flag.
// Adapted from httptap.go's dumpPacketsToSubprocess/summarizeTCP path:
// gopacket is used here purely to render a human-readable trace, never to
// drive the stack's own parse/emit logic (that stays hand-rolled in ipv4
// and tcp, per spec.md §4.1).
type DumpConn struct {
	Conn
}

// NewDumpConn wraps conn so every datagram it carries is logged.
func NewDumpConn(conn Conn) *DumpConn {
	return &DumpConn{Conn: conn}
}

func (d *DumpConn) Recv(buf []byte) (int, error) {
	n, err := d.Conn.Recv(buf)
	if n > 0 {
		log.Printf("recv: %s", summarize(buf[:n]))
	}
	return n, err
}

func (d *DumpConn) Send(dest tcp.Endpoint, buf []byte) (int, error) {
	log.Printf("send to %v: %s", dest, summarize(buf))
	return d.Conn.Send(dest, buf)
}

func summarize(buf []byte) string {
	pkt := gopacket.NewPacket(buf, layers.LayerTypeIPv4, gopacket.NoCopy)
	if tcpLayer := pkt.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		ipLayer := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
		t := tcpLayer.(*layers.TCP)
		return ipLayer.SrcIP.String() + ":" + t.SrcPort.String() + " => " +
			ipLayer.DstIP.String() + ":" + t.DstPort.String() +
			" " + flagSummary(t) +
			" seq=" + strconv.Itoa(int(t.Seq)) + " ack=" + strconv.Itoa(int(t.Ack)) +
			" len=" + strconv.Itoa(len(t.Payload))
	}
	return pkt.String()
}

func flagSummary(t *layers.TCP) string {
	var s string
	for _, f := range []struct {
		set  bool
		name string
	}{
		{t.SYN, "SYN"}, {t.ACK, "ACK"}, {t.FIN, "FIN"}, {t.RST, "RST"}, {t.PSH, "PSH"},
	} {
		if f.set {
			s += f.name + "+"
		}
	}
	return s
}
