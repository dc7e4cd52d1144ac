// Command tunnelserver accepts usertcp connections and bridges each one
// to a UDP upstream, the Go port of original_source's
// examples/tunnel_server/src/main.rs.
package main

import (
	"context"
	"io"
	"log"
	"net"

	"github.com/alexflint/go-arg"

	"github.com/halfwire/usertcp/internal/netlog"
	"github.com/halfwire/usertcp/ipv4"
	"github.com/halfwire/usertcp/rawsocket"
	"github.com/halfwire/usertcp/stack"
)

type args struct {
	Iface    string `arg:"--iface" default:"lo" help:"network interface to bind the raw sockets to"`
	Listen   uint16 `arg:"--listen" default:"6969" help:"TCP port to accept usertcp connections on"`
	Upstream string `arg:"--upstream" default:"127.0.0.1:25565" help:"UDP address each accepted connection is bridged to"`
	DumpTCP  bool   `arg:"--dump-tcp" help:"log a one-line decode of every segment sent or received"`
	Verbose  bool   `arg:"-v" help:"enable verbose logging"`
}

func main() {
	var a args
	arg.MustParse(&a)
	netlog.Verbose = a.Verbose

	conn, err := rawsocket.New(a.Iface)
	if err != nil {
		log.Fatalf("opening raw sockets on %q: %v", a.Iface, err)
	}
	var transport rawsocket.Conn = conn
	if a.DumpTCP {
		transport = rawsocket.NewDumpConn(transport)
	}

	iface := stack.New(transport, ipv4.Address{}, a.Listen)
	defer iface.Stop()

	log.Printf("tunnelserver listening on :%d, bridging to %s", a.Listen, a.Upstream)

	for {
		c, err := iface.Listen(context.Background())
		if err != nil {
			log.Printf("listen: %v", err)
			return
		}
		go serve(c, a.Upstream)
	}
}

func serve(c *stack.Connection, upstream string) {
	log.Printf("connection established with %v", c.Remote)

	udp, err := net.Dial("udp", upstream)
	if err != nil {
		log.Printf("dialing upstream %s for %v: %v", upstream, c.Remote, err)
		c.Close()
		return
	}
	defer udp.Close()

	w, r := c.Split()

	go func() {
		buf := make([]byte, 1024)
		for {
			n, err := udp.Read(buf)
			if err != nil {
				if err != io.EOF {
					log.Printf("upstream read for %v: %v", c.Remote, err)
				}
				return
			}
			netlog.Vf("server sent: %d", n)
			if _, err := w.Write(buf[:n]); err != nil {
				return
			}
		}
	}()

	buf := make([]byte, 17000)
	for {
		n, err := r.Read(buf)
		if err != nil {
			if err != stack.ErrClosed {
				log.Printf("connection read for %v: %v", c.Remote, err)
			}
			return
		}
		netlog.Vf("server received: %d", n)
		if _, err := udp.Write(buf[:n]); err != nil {
			log.Printf("upstream write for %v: %v", c.Remote, err)
			return
		}
	}
}
