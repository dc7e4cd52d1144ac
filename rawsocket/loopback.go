package rawsocket

import (
	"sync"

	"github.com/halfwire/usertcp/ipv4"
	"github.com/halfwire/usertcp/tcp"
)

// Network is an in-process fake of the physical network this stack would
// otherwise reach through raw sockets. It exists so stack package tests
// can exercise the full handshake/data/reset scenarios from spec.md §8
// without root privileges or a real NIC, the same role a loopback
// interface plays for the real adapter.
type Network struct {
	mu    sync.Mutex
	boxes map[ipv4.Address]chan []byte
}

// NewNetwork creates an empty fake network.
func NewNetwork() *Network {
	return &Network{boxes: make(map[ipv4.Address]chan []byte)}
}

// Host attaches a new Conn to the network at addr. Datagrams Sent to addr
// by any other Conn on this Network arrive on this Conn's Recv.
func (n *Network) Host(addr ipv4.Address) Conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	box := make(chan []byte, 64)
	n.boxes[addr] = box
	return &loopbackConn{network: n, addr: addr, inbox: box}
}

type loopbackConn struct {
	network *Network
	addr    ipv4.Address
	inbox   chan []byte
}

func (c *loopbackConn) Recv(buf []byte) (int, error) {
	datagram, ok := <-c.inbox
	if !ok {
		return 0, nil
	}
	return copy(buf, datagram), nil
}

func (c *loopbackConn) Send(dest tcp.Endpoint, buf []byte) (int, error) {
	c.network.mu.Lock()
	box, ok := c.network.boxes[dest.Addr]
	c.network.mu.Unlock()
	if !ok {
		// no host listening at that address: datagram vanishes, like a
		// real network with nothing behind the destination IP.
		return len(buf), nil
	}

	cp := make([]byte, len(buf))
	copy(cp, buf)
	select {
	case box <- cp:
	default:
		// inbox full: drop, matching the "errors are fatal to the sending
		// operation but not to the stack" policy in spec.md §4.2.
	}
	return len(buf), nil
}

func (c *loopbackConn) Close() error {
	c.network.mu.Lock()
	defer c.network.mu.Unlock()
	delete(c.network.boxes, c.addr)
	close(c.inbox)
	return nil
}

var _ Conn = (*loopbackConn)(nil)
