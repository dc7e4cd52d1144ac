package stack

import (
	"context"
	"testing"
	"time"

	"github.com/halfwire/usertcp/ipv4"
	"github.com/halfwire/usertcp/rawsocket"
	"github.com/halfwire/usertcp/tcp"
)

var (
	clientAddr = ipv4.Address{10, 0, 0, 1}
	serverAddr = ipv4.Address{10, 0, 0, 2}
)

func newPair(t *testing.T) (client, server *Interface, net *rawsocket.Network) {
	t.Helper()
	net = rawsocket.NewNetwork()
	client = New(net.Host(clientAddr), clientAddr, 8090)
	server = New(net.Host(serverAddr), serverAddr, 6969)
	t.Cleanup(func() {
		client.Stop()
		server.Stop()
	})
	return client, server, net
}

func TestHandshakeAndDataRoundTrip(t *testing.T) {
	client, server, _ := newPair(t)

	serverConn := make(chan *Connection, 1)
	serverErr := make(chan error, 1)
	go func() {
		c, err := server.Listen(context.Background())
		if err != nil {
			serverErr <- err
			return
		}
		serverConn <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	clientConn, err := client.Connect(ctx, tcp.Endpoint{Addr: serverAddr, Port: 6969})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if clientConn.Remote.Addr != serverAddr || clientConn.Remote.Port != 6969 {
		t.Fatalf("unexpected remote %v", clientConn.Remote)
	}

	var accepted *Connection
	select {
	case accepted = <-serverConn:
	case err := <-serverErr:
		t.Fatalf("Listen: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("server never accepted")
	}
	if accepted.Remote.Addr != clientAddr {
		t.Fatalf("server sees wrong remote addr %v", accepted.Remote.Addr)
	}

	if _, err := clientConn.Write([]byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 64)
	n, err := accepted.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q, want %q", buf[:n], "hello")
	}

	if _, err := accepted.Write([]byte("world")); err != nil {
		t.Fatalf("server Write: %v", err)
	}
	n, err = clientConn.Read(buf)
	if err != nil {
		t.Fatalf("client Read: %v", err)
	}
	if string(buf[:n]) != "world" {
		t.Fatalf("got %q, want %q", buf[:n], "world")
	}
}

func TestPeerResetClosesConnection(t *testing.T) {
	client, server, net := newPair(t)

	serverConn := make(chan *Connection, 1)
	go func() {
		c, _ := server.Listen(context.Background())
		serverConn <- c
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	clientConn, err := client.Connect(ctx, tcp.Endpoint{Addr: serverAddr, Port: 6969})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-serverConn

	attacker := net.Host(serverAddr)
	defer attacker.Close()
	sendRaw(t, attacker, serverAddr, clientAddr, tcp.Endpoint{Addr: clientAddr, Port: 8090},
		tcp.Repr{SrcPort: 6969, DstPort: 8090, Seq: 999, Control: tcp.ControlRst})

	buf := make([]byte, 16)
	if _, err := clientConn.Read(buf); err != ErrClosed {
		t.Fatalf("Read after RST = %v, want ErrClosed", err)
	}
}

func TestUnrelatedTrafficIgnored(t *testing.T) {
	client, _, net := newPair(t)

	// a third host, so the client keeps its own inbox on the fake network.
	other := net.Host(ipv4.Address{10, 0, 0, 3})
	defer other.Close()

	// a non-TCP IPv4 datagram (protocol 17, UDP) addressed to the client.
	buf := make([]byte, ipv4.HeaderLen+8)
	pkt, err := ipv4.New(buf)
	if err != nil {
		t.Fatal(err)
	}
	ipv4.Repr{SrcAddr: serverAddr, DstAddr: clientAddr, PayloadLen: 8}.Emit(pkt)
	pkt.SetProtocol(17)
	pkt.SetChecksum(0)
	pkt.SetChecksum(ipv4.ComputeWithPartial(pkt.Bytes()[:ipv4.HeaderLen], 0))

	if _, err := other.Send(tcp.Endpoint{Addr: clientAddr}, buf); err != nil {
		t.Fatal(err)
	}

	// give the dispatcher time to process and confirm it did not crash
	// or register a bogus connection.
	time.Sleep(50 * time.Millisecond)
	if n := len(client.reg.snapshot()); n != 0 {
		t.Fatalf("unrelated traffic created %d registry entries", n)
	}
}

func TestConnectTimesOutWhenUnreachable(t *testing.T) {
	net := rawsocket.NewNetwork()
	client := New(net.Host(clientAddr), clientAddr, 8090)
	defer client.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := client.Connect(ctx, tcp.Endpoint{Addr: serverAddr, Port: 6969})
	if err != ErrTimeout {
		t.Fatalf("Connect = %v, want ErrTimeout", err)
	}
}

// TestConnectHasBuiltinDeadline confirms Connect bounds its own wait at
// connectTimeout even when the caller passes an unbounded context, per
// spec.md §4.3 and §8 scenario 6.
func TestConnectHasBuiltinDeadline(t *testing.T) {
	net := rawsocket.NewNetwork()
	client := New(net.Host(clientAddr), clientAddr, 8090)
	defer client.Stop()

	start := time.Now()
	_, err := client.Connect(context.Background(), tcp.Endpoint{Addr: serverAddr, Port: 6969})
	elapsed := time.Since(start)

	if err != ErrTimeout {
		t.Fatalf("Connect = %v, want ErrTimeout", err)
	}
	if elapsed > 3*time.Second {
		t.Fatalf("Connect took %v, want bounded near connectTimeout (%v)", elapsed, connectTimeout)
	}
}

// sendRaw crafts and transmits one complete IPv4+TCP datagram over conn,
// for tests that need to inject a segment the Interface under test never
// itself sent (e.g. an unsolicited RST).
func sendRaw(t *testing.T, conn rawsocket.Conn, src, dst ipv4.Address, dest tcp.Endpoint, seg tcp.Repr) {
	t.Helper()
	segLen := seg.HeaderLen() + len(seg.Payload)
	buf := make([]byte, ipv4.HeaderLen+segLen)

	ipPkt, err := ipv4.New(buf)
	if err != nil {
		t.Fatal(err)
	}
	ipv4.Repr{SrcAddr: src, DstAddr: dst, PayloadLen: segLen}.Emit(ipPkt)

	tcpPkt, err := tcp.New(ipPkt.PayloadMut())
	if err != nil {
		t.Fatal(err)
	}
	seg.Emit(tcpPkt, src, dst)

	if _, err := conn.Send(dest, buf); err != nil {
		t.Fatal(err)
	}
}
