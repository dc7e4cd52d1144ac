package stack

import (
	"github.com/rs/xid"

	"github.com/halfwire/usertcp/tcp"
)

// PacketBuffer is an owned, immutable payload — the unit carried through
// both the inbound and outbound in-process queues. It is a copy, never a
// view into the raw receive buffer, because that buffer must be released
// before the application gets to read it (spec.md §3).
type PacketBuffer []byte

// outboundWrite is what a Connection pushes onto the shared outbound
// queue: which peer the payload is destined for, plus the payload itself.
type outboundWrite struct {
	remote  tcp.Endpoint
	payload PacketBuffer
}

// Connection is the application-facing byte-stream handle for one TCP
// connection. It is backed by two queues: inboundRx, fed by the
// dispatcher's receive loop, and outboundTx, drained by the Interface's
// send loop. See spec.md §4.4.
type Connection struct {
	id     xid.ID
	Remote tcp.Endpoint

	inboundRx  <-chan PacketBuffer
	outboundTx chan<- outboundWrite

	carryover []byte
	closed    bool
}

// ID returns a short identifier for this connection, used only to
// correlate log lines for one peer across the receive and send loops —
// it carries no protocol meaning.
func (c *Connection) ID() xid.ID { return c.id }

// Write wraps b in a PacketBuffer and pushes it onto the shared outbound
// queue. There is no fragmentation at this layer (spec.md §4.4): a single
// Write is a single queue entry, sequenced into exactly one outbound
// segment by the send loop.
func (c *Connection) Write(b []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	cp := make(PacketBuffer, len(b))
	copy(cp, b)
	c.outboundTx <- outboundWrite{remote: c.Remote, payload: cp}
	return len(b), nil
}

// Read drains any carryover from the previous call first, then blocks on
// the inbound queue for one more PacketBuffer if out has room left,
// copies as much as fits, and stashes any tail in carryover for next
// time. It returns 0 only once the producer is gone and carryover is
// empty.
func (c *Connection) Read(out []byte) (int, error) {
	n := 0

	if len(c.carryover) > 0 {
		n = copy(out, c.carryover)
		c.carryover = c.carryover[n:]
		if n == len(out) {
			return n, nil
		}
	}

	buf, ok := <-c.inboundRx
	if !ok {
		if n > 0 {
			return n, nil
		}
		return 0, ErrClosed
	}

	m := copy(out[n:], buf)
	if m < len(buf) {
		c.carryover = append(c.carryover, buf[m:]...)
	}
	return n + m, nil
}

// Writer is the write half of a split Connection.
type Writer interface {
	Write(b []byte) (int, error)
}

// Reader is the read half of a split Connection.
type Reader interface {
	Read(out []byte) (int, error)
}

// Split divides the connection into independent read and write halves so
// a pair of goroutines can pump it without sharing the carryover state,
// mirroring original_source's Socket::to_tx_rx. Both halves still share
// the same underlying queues.
func (c *Connection) Split() (Writer, Reader) {
	return c, c
}

// Close marks the connection closed for future Writes. It does not emit a
// FIN (out of scope per spec.md §1); the registry side of the connection
// is torn down independently, by the dispatcher, on receiving RST.
func (c *Connection) Close() error {
	c.closed = true
	return nil
}
