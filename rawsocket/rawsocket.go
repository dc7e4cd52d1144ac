// Package rawsocket is the raw transport adapter the core stack talks to:
// two primitives, Recv and Send, over raw IPv4 datagrams. It never parses
// TCP itself — that's the stack package's job — it only moves bytes.
package rawsocket

import (
	"fmt"
	"net"

	"github.com/mdlayher/packet"
	"golang.org/x/sys/unix"

	"github.com/halfwire/usertcp/tcp"
)

// Conn is the capability the core stack consumes. A faithful
// implementation pairs an AF_PACKET/SOCK_DGRAM socket (Recv) with an
// AF_INET/SOCK_RAW, IP_HDRINCL socket (Send), per spec.md §4.2.
type Conn interface {
	// Recv blocks until the next IPv4 datagram addressed to this host
	// arrives and copies its bytes into buf, returning the length
	// written. Implementations return (0, nil) rather than an error for
	// conditions the dispatcher should just retry on.
	Recv(buf []byte) (int, error)
	// Send transmits buf (a complete IPv4+TCP datagram) to dest.
	Send(dest tcp.Endpoint, buf []byte) (int, error)
	Close() error
}

// NetConn is the real Conn, backed by the two raw sockets described in
// spec.md §4.2 and grounded on original_source's platform/raw.rs: an
// mdlayher/packet AF_PACKET/SOCK_DGRAM socket bound to ETH_P_IP for
// receiving, and a golang.org/x/sys/unix AF_INET/SOCK_RAW socket with
// IP_HDRINCL for sending.
type NetConn struct {
	recv   *packet.Conn
	sendfd int
}

// New opens both raw sockets against the named network interface (e.g.
// "lo" for loopback testing, or a real NIC name). It requires the
// privileges a raw socket always requires (CAP_NET_RAW or root).
func New(ifaceName string) (*NetConn, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("rawsocket: finding interface %q: %w", ifaceName, err)
	}

	recv, err := packet.Listen(iface, packet.Datagram, unix.ETH_P_IP, nil)
	if err != nil {
		return nil, fmt.Errorf("rawsocket: opening AF_PACKET socket on %q: %w", ifaceName, err)
	}

	sendfd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_TCP)
	if err != nil {
		recv.Close()
		return nil, fmt.Errorf("rawsocket: opening AF_INET/SOCK_RAW socket: %w", err)
	}
	if err := unix.SetsockoptInt(sendfd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
		unix.Close(sendfd)
		recv.Close()
		return nil, fmt.Errorf("rawsocket: setting IP_HDRINCL: %w", err)
	}

	return &NetConn{recv: recv, sendfd: sendfd}, nil
}

// Recv implements Conn.
func (c *NetConn) Recv(buf []byte) (int, error) {
	n, _, err := c.recv.ReadFrom(buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Send implements Conn. The core supplies the complete IPv4+TCP header in
// buf; Send is responsible only for routing it to dest with IP_HDRINCL
// semantics.
func (c *NetConn) Send(dest tcp.Endpoint, buf []byte) (int, error) {
	addr := unix.SockaddrInet4{Addr: dest.Addr}
	if err := unix.Sendto(c.sendfd, buf, 0, &addr); err != nil {
		return 0, fmt.Errorf("rawsocket: sendto %v: %w", dest, err)
	}
	return len(buf), nil
}

// Close releases both underlying sockets.
func (c *NetConn) Close() error {
	sendErr := unix.Close(c.sendfd)
	recvErr := c.recv.Close()
	if sendErr != nil {
		return sendErr
	}
	return recvErr
}

var _ Conn = (*NetConn)(nil)
