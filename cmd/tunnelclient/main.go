// Command tunnelclient accepts UDP datagrams from local peers and
// bridges each source address to its own usertcp connection, the Go
// port of original_source's examples/tunnel_client/src/main.rs.
package main

import (
	"context"
	"log"
	"net"
	"sync"

	"github.com/alexflint/go-arg"

	"github.com/halfwire/usertcp/internal/netlog"
	"github.com/halfwire/usertcp/ipv4"
	"github.com/halfwire/usertcp/rawsocket"
	"github.com/halfwire/usertcp/stack"
	"github.com/halfwire/usertcp/tcp"
)

type args struct {
	Iface      string `arg:"--iface" default:"lo" help:"network interface to bind the raw sockets to"`
	Listen     string `arg:"--listen" default:"127.0.0.1:25566" help:"UDP address to accept local peers on"`
	LocalPort  uint16 `arg:"--local-port" default:"8090" help:"TCP port this client presents itself on"`
	ServerAddr string `arg:"--server-addr" default:"127.0.0.1" help:"IPv4 address of the tunnelserver"`
	ServerPort uint16 `arg:"--server-port" default:"6969" help:"TCP port the tunnelserver accepts connections on"`
	DumpTCP    bool   `arg:"--dump-tcp" help:"log a one-line decode of every segment sent or received"`
	Verbose    bool   `arg:"-v" help:"enable verbose logging"`
}

func main() {
	var a args
	arg.MustParse(&a)
	netlog.Verbose = a.Verbose

	udp, err := net.ListenPacket("udp", a.Listen)
	if err != nil {
		log.Fatalf("listening on %s: %v", a.Listen, err)
	}
	defer udp.Close()

	serverIP := net.ParseIP(a.ServerAddr).To4()
	if serverIP == nil {
		log.Fatalf("invalid --server-addr %q", a.ServerAddr)
	}
	server := tcp.Endpoint{Addr: ipv4.AddressFromBytes(serverIP), Port: a.ServerPort}

	var mu sync.Mutex
	peers := make(map[string]chan []byte)

	log.Printf("tunnelclient listening on %s, forwarding to %v", a.Listen, server)

	buf := make([]byte, 17000)
	for {
		n, src, err := udp.ReadFrom(buf)
		if err != nil {
			log.Fatalf("reading udp: %v", err)
		}

		key := src.String()
		mu.Lock()
		send, ok := peers[key]
		if !ok {
			send = make(chan []byte, 64)
			peers[key] = send
			go runPeer(a, server, udp, src, send)
		}
		mu.Unlock()

		packet := make([]byte, n)
		copy(packet, buf[:n])
		send <- packet
	}
}

// runPeer dials one usertcp connection to the server for a single UDP
// source address and pumps datagrams between them until the connection
// drops.
func runPeer(a args, server tcp.Endpoint, udp net.PacketConn, src net.Addr, recv <-chan []byte) {
	rawconn, err := rawsocket.New(a.Iface)
	if err != nil {
		log.Printf("opening raw sockets for %v: %v", src, err)
		return
	}
	defer rawconn.Close()

	var transport rawsocket.Conn = rawconn
	if a.DumpTCP {
		transport = rawsocket.NewDumpConn(transport)
	}

	iface := stack.New(transport, ipv4.Address{127, 0, 0, 1}, a.LocalPort)
	defer iface.Stop()

	c, err := iface.Connect(context.Background(), server)
	if err != nil {
		log.Printf("connecting to %v for %v: %v", server, src, err)
		return
	}
	log.Printf("connection established with %v for peer %v", c.Remote, src)

	w, r := c.Split()

	go func() {
		for packet := range recv {
			netlog.Vf("sent: %d", len(packet))
			if _, err := w.Write(packet); err != nil {
				return
			}
		}
	}()

	out := make([]byte, 17000)
	for {
		n, err := r.Read(out)
		if err != nil {
			if err != stack.ErrClosed {
				log.Printf("connection read for %v: %v", src, err)
			}
			return
		}
		netlog.Vf("received: %d", n)
		if _, err := udp.WriteTo(out[:n], src); err != nil {
			log.Printf("writing udp to %v: %v", src, err)
			return
		}
	}
}
