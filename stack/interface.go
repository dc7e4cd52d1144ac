package stack

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/halfwire/usertcp/internal/netlog"
	"github.com/halfwire/usertcp/ipv4"
	"github.com/halfwire/usertcp/rawsocket"
	"github.com/halfwire/usertcp/tcp"
)

// staleSynSentAge is how long an outbound handshake may sit in SynSent
// before the sweep evicts it (SPEC_FULL.md §6.4). There is no retransmit
// timer in this stack, so a SYN that never gets a reply would otherwise
// pin a record forever.
const staleSynSentAge = 30 * time.Second

const sweepInterval = 5 * time.Second

// connectTimeout bounds how long Connect waits for a handshake to
// complete, regardless of the context the caller passes in (spec.md
// §4.3, §8 scenario 6): "waits up to 2 seconds ... returns Timeout on
// expiry".
const connectTimeout = 2 * time.Second

// connectResult carries the outcome of a pending outbound handshake back
// to the goroutine blocked in Connect.
type connectResult struct {
	conn *Connection
	err  error
}

// Interface binds one local TCP port to a raw transport, and dispatches
// every inbound segment addressed to that port, whatever its destination
// address, against the connection registry's state machine (spec.md §4.3).
// Its configured local address is the source address of the SYN an
// outbound Connect sends.
type Interface struct {
	localAddr ipv4.Address
	localPort uint16
	conn      rawsocket.Conn

	reg     *registry
	metrics *Collector

	outbound chan outboundWrite
	accept   chan *Connection

	pendingMu sync.Mutex
	pending   map[tcp.Endpoint]chan connectResult

	done chan struct{}
	wg   sync.WaitGroup
}

// New binds an Interface to local over conn and starts its receive, send,
// and stale-handshake sweep loops. Stop must be called to release them.
func New(conn rawsocket.Conn, local ipv4.Address, port uint16) *Interface {
	reg := newRegistry()
	iface := &Interface{
		localAddr: local,
		localPort: port,
		conn:      conn,
		reg:       reg,
		metrics:   NewCollector(reg),
		outbound:  make(chan outboundWrite, 64),
		accept:    make(chan *Connection, 16),
		pending:   make(map[tcp.Endpoint]chan connectResult),
		done:      make(chan struct{}),
	}

	iface.wg.Add(3)
	go iface.recvLoop()
	go iface.sendLoop()
	go iface.sweepLoop()
	return iface
}

// Metrics returns the Prometheus collector for this Interface's registry.
func (i *Interface) Metrics() *Collector { return i.metrics }

// Stop halts all loops and releases the underlying raw connection. Any
// Connection obtained from this Interface becomes unusable: pending and
// future Reads return ErrClosed.
func (i *Interface) Stop() error {
	select {
	case <-i.done:
		return nil
	default:
		close(i.done)
	}
	err := i.conn.Close()
	i.wg.Wait()
	// Removing every record closes its inbound queue, which is what makes
	// Reads on this Interface's Connections return ErrClosed.
	for remote := range i.reg.snapshot() {
		i.reg.remove(remote)
	}
	return err
}

// Listen blocks until an inbound connection completes its handshake, ctx
// is cancelled, or the Interface is stopped.
func (i *Interface) Listen(ctx context.Context) (*Connection, error) {
	select {
	case c := <-i.accept:
		return c, nil
	case <-i.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Connect initiates an outbound handshake to remote and blocks until it
// completes, ctx is cancelled, or the Interface is stopped.
func (i *Interface) Connect(ctx context.Context, remote tcp.Endpoint) (*Connection, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	isn := randomISN()
	rec := i.reg.insert(remote, SynSent(), i.localAddr)
	rec.localISN = isn

	wait := make(chan connectResult, 1)
	i.pendingMu.Lock()
	i.pending[remote] = wait
	i.pendingMu.Unlock()

	defer func() {
		i.pendingMu.Lock()
		delete(i.pending, remote)
		i.pendingMu.Unlock()
	}()

	// A SYN the transport fails to send is logged and otherwise treated
	// like one that got no reply: the wait below ends in ErrTimeout.
	if err := i.sendSegment(i.localAddr, remote, isn, nil, tcp.ControlSyn, nil); err != nil {
		netlog.Errorf("sending SYN to %v: %v", remote, err)
	}

	select {
	case res := <-wait:
		return res.conn, res.err
	case <-i.done:
		return nil, ErrClosed
	case <-ctx.Done():
		i.reg.remove(remote)
		i.metrics.recordHandshake(handshakeTimedOut)
		return nil, ErrTimeout
	}
}

func (i *Interface) completeConnect(remote tcp.Endpoint, conn *Connection, err error) bool {
	i.pendingMu.Lock()
	wait, ok := i.pending[remote]
	i.pendingMu.Unlock()
	if !ok {
		return false
	}
	wait <- connectResult{conn: conn, err: err}
	return true
}

func (i *Interface) newConnection(remote tcp.Endpoint, rec *record) *Connection {
	return &Connection{
		id:         rec.id,
		Remote:     remote,
		inboundRx:  rec.inbound,
		outboundTx: i.outbound,
	}
}

func randomISN() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		netlog.Errorf("reading random ISN: %v", err)
	}
	return binary.BigEndian.Uint32(b[:])
}

// recvLoop is the receive side of the dispatcher: it pulls raw datagrams
// off the transport and hands each to handleInbound.
func (i *Interface) recvLoop() {
	defer i.wg.Done()
	buf := make([]byte, 65535)
	for {
		select {
		case <-i.done:
			return
		default:
		}
		n, err := i.conn.Recv(buf)
		if err != nil {
			select {
			case <-i.done:
				return
			default:
			}
			netlog.Errorf("recv: %v", err)
			continue
		}
		if n == 0 {
			continue
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		i.handleInbound(cp)
	}
}

// sendLoop is the send side: every Connection.Write lands here as an
// outboundWrite, which this loop sequences into one TCP segment against
// that remote's established sequence state and hands to the transport.
func (i *Interface) sendLoop() {
	defer i.wg.Done()
	for {
		select {
		case <-i.done:
			return
		case w := <-i.outbound:
			i.sendData(w.remote, w.payload)
		}
	}
}

func (i *Interface) sendData(remote tcp.Endpoint, payload []byte) {
	rec, ok := i.reg.lookup(remote)
	if !ok || !rec.state.IsEstablished() {
		netlog.Vf("dropping write to %v: no established connection", remote)
		return
	}

	// Reserve the sequence range for this write before transmitting, so
	// a second concurrent Write can't reuse the same seq: only one
	// sendLoop goroutine drains i.outbound, but advance still goes
	// through the registry lock since inbound delivery bumps the same
	// record's Ack concurrently.
	reserved, ok := i.reg.advance(remote, func(s SocketState) SocketState {
		return Established(s.Seq+uint32(len(payload)), s.Ack)
	})
	if !ok {
		return
	}
	seq := reserved.Seq - uint32(len(payload))
	ack := reserved.Ack

	if err := i.sendSegment(rec.localAddr, remote, seq, &ack, tcp.ControlNone, payload); err != nil {
		netlog.Errorf("send to %v: %v", remote, err)
		return
	}
	i.metrics.recordBytes(directionTx, len(payload))
}

// sweepLoop periodically evicts handshakes stuck in SynSent.
func (i *Interface) sweepLoop() {
	defer i.wg.Done()
	t := time.NewTicker(sweepInterval)
	defer t.Stop()
	for {
		select {
		case <-i.done:
			return
		case <-t.C:
			for _, remote := range i.reg.sweepStaleSynSent(staleSynSentAge) {
				netlog.Vf("evicting stale SynSent record for %v", remote)
				i.metrics.recordHandshake(handshakeTimedOut)
				i.completeConnect(remote, nil, ErrTimeout)
			}
		}
	}
}

// sendSegment builds and transmits one TCP segment from src to remote.
// src is the record's local address, not necessarily this Interface's own
// configured address: a passive-open record replies from whatever address
// the peer's SYN was addressed to (handlePassiveSyn), since this stack
// does not require a single bound local address (DESIGN.md, "Local
// address is per-record, not per-Interface", mirroring original_source/src/socket/interface.rs's per-packet local
// endpoint derivation).
func (i *Interface) sendSegment(src ipv4.Address, remote tcp.Endpoint, seq uint32, ack *uint32, control tcp.Control, payload []byte) error {
	repr := tcp.Repr{
		SrcPort: i.localPort,
		DstPort: remote.Port,
		Seq:     seq,
		Ack:     ack,
		Control: control,
		Payload: payload,
	}

	segLen := repr.HeaderLen() + len(payload)
	ipRepr := ipv4.Repr{SrcAddr: src, DstAddr: remote.Addr, PayloadLen: segLen}

	buf := make([]byte, ipv4.HeaderLen+segLen)
	ipPkt, err := ipv4.New(buf)
	if err != nil {
		return err
	}
	ipRepr.Emit(ipPkt)

	tcpPkt, err := tcp.New(ipPkt.PayloadMut())
	if err != nil {
		return err
	}
	repr.Emit(tcpPkt, src, remote.Addr)

	_, err = i.conn.Send(remote, buf)
	return err
}

// handleInbound parses one raw datagram and dispatches it against the
// registry's state machine.
func (i *Interface) handleInbound(raw []byte) {
	ipPkt, err := ipv4.New(raw)
	if err != nil {
		i.metrics.recordDrop(dropTruncated)
		netlog.Vf("dropping truncated datagram: %v", err)
		return
	}

	ipRepr, err := ipv4.Parse(ipPkt)
	if err != nil {
		switch {
		case errors.Is(err, ipv4.ErrUnknownProtocol):
			i.metrics.recordDrop(dropUnknownProtocol)
			netlog.Vf("ignoring non-TCP datagram from %v", ipPkt.SrcAddr())
		case errors.Is(err, ipv4.ErrTruncated):
			i.metrics.recordDrop(dropTruncated)
			netlog.Vf("dropping truncated datagram from %v", ipPkt.SrcAddr())
		default:
			i.metrics.recordDrop(dropChecksum)
			netlog.Vf("dropping malformed IPv4 datagram from %v: %v", ipPkt.SrcAddr(), err)
		}
		return
	}

	tcpPkt, err := tcp.New(ipPkt.Payload()[:ipRepr.PayloadLen])
	if err != nil {
		i.metrics.recordDrop(dropTruncated)
		netlog.Vf("dropping truncated segment from %v: %v", ipRepr.SrcAddr, err)
		return
	}

	seg, err := tcp.Parse(tcpPkt, ipRepr.SrcAddr, ipRepr.DstAddr, true)
	if err != nil {
		if errors.Is(err, tcp.ErrChecksum) {
			i.metrics.recordDrop(dropChecksum)
		} else {
			i.metrics.recordDrop(dropTruncated)
		}
		netlog.Vf("dropping malformed TCP segment from %v: %v", ipRepr.SrcAddr, err)
		return
	}

	if seg.DstPort != i.localPort {
		i.metrics.recordDrop(dropUnmatchedPeer)
		return
	}

	remote := tcp.Endpoint{Addr: ipRepr.SrcAddr, Port: seg.SrcPort}

	switch {
	case seg.Control == tcp.ControlRst:
		i.handleRst(remote)
	case seg.Control == tcp.ControlFin:
		netlog.Vf("ignoring FIN from %v", remote)
	case seg.Control == tcp.ControlSyn && seg.Ack == nil:
		i.handlePassiveSyn(remote, ipRepr.DstAddr, seg)
	case seg.Control == tcp.ControlSyn && seg.Ack != nil:
		i.handleSynAck(remote, seg)
	case seg.Control == tcp.ControlNone && seg.Ack != nil:
		i.handleAck(remote, seg)
	default:
		netlog.Vf("ignoring segment with no recognized control from %v", remote)
	}
}

func (i *Interface) handleRst(remote tcp.Endpoint) {
	if _, ok := i.reg.lookup(remote); !ok {
		return
	}
	netlog.Vf("connection reset by %v", remote)
	i.reg.remove(remote)
	i.metrics.recordHandshake(handshakeRefused)
	i.completeConnect(remote, nil, ErrClosed)
}

// handlePassiveSyn handles an inbound connection request: spec.md §4.3's
// passive-open path. A SYN for a remote we already have a record for is
// treated as a retransmit and ignored rather than restarting the
// handshake. localAddr is the destination address carried by the inbound
// SYN itself, not this Interface's own configured address, so the
// handshake replies from whichever local address the peer actually
// addressed (matching original_source/src/socket/interface.rs, which
// never compares against a statically configured address).
func (i *Interface) handlePassiveSyn(remote tcp.Endpoint, localAddr ipv4.Address, seg tcp.Repr) {
	if _, exists := i.reg.lookup(remote); exists {
		return
	}

	isn := randomISN()
	rec := i.reg.insert(remote, SynReceived(), localAddr)
	rec.localISN = isn
	rec.remoteISN = seg.Seq

	ack := seg.Seq + 1
	if err := i.sendSegment(localAddr, remote, isn, &ack, tcp.ControlSyn, nil); err != nil {
		netlog.Errorf("sending SYN+ACK to %v: %v", remote, err)
		i.reg.remove(remote)
	}
}

// handleSynAck completes the active-open path for a pending Connect: our
// SYN was answered with the peer's SYN+ACK, so we send the final ACK.
//
// The final ACK's sequence number is the ack number the peer just sent us
// (it already equals our ISN+1, since that's what it's acknowledging) —
// not that value incremented again, which was this stack's original
// RFC 793 deviation.
func (i *Interface) handleSynAck(remote tcp.Endpoint, seg tcp.Repr) {
	rec, ok := i.reg.lookup(remote)
	if !ok || !rec.state.IsSynSent() {
		netlog.Vf("ignoring unexpected SYN+ACK from %v", remote)
		return
	}
	if *seg.Ack != rec.localISN+1 {
		netlog.Vf("ignoring SYN+ACK from %v with mismatched ack %d", remote, *seg.Ack)
		return
	}

	rec.remoteISN = seg.Seq
	finalSeq := *seg.Ack
	finalAck := seg.Seq + 1

	if err := i.sendSegment(rec.localAddr, remote, finalSeq, &finalAck, tcp.ControlNone, nil); err != nil {
		netlog.Errorf("sending final ACK to %v: %v", remote, err)
		return
	}

	established := Established(finalSeq, finalAck)
	i.reg.transition(remote, established)
	conn := i.newConnection(remote, rec)
	i.metrics.recordHandshake(handshakeAccepted)
	i.completeConnect(remote, conn, nil)
}

// handleAck covers two cases that share the same wire shape (Control
// none, ACK set): the final ACK of a passive-open handshake, and an
// established connection's data or pure-ack segment.
func (i *Interface) handleAck(remote tcp.Endpoint, seg tcp.Repr) {
	rec, ok := i.reg.lookup(remote)
	if !ok {
		i.metrics.recordDrop(dropUnmatchedPeer)
		return
	}

	switch {
	case rec.state.IsSynReceived():
		expectedAck := rec.localISN + 1
		if *seg.Ack != expectedAck {
			netlog.Vf("ignoring final ACK from %v with mismatched ack %d", remote, *seg.Ack)
			return
		}
		established := Established(expectedAck, rec.remoteISN+1)
		i.reg.transition(remote, established)
		conn := i.newConnection(remote, rec)
		i.metrics.recordHandshake(handshakeAccepted)

		select {
		case i.accept <- conn:
		case <-i.done:
			return
		}

		if len(seg.Payload) > 0 {
			i.deliver(remote, rec, seg.Payload)
		}

	case rec.state.IsEstablished():
		if len(seg.Payload) == 0 {
			return
		}
		i.deliver(remote, rec, seg.Payload)

	default:
		netlog.Vf("ignoring ack-only segment from %v in state %v", remote, rec.state)
	}
}

func (i *Interface) deliver(remote tcp.Endpoint, rec *record, payload []byte) {
	cp := make(PacketBuffer, len(payload))
	copy(cp, payload)
	select {
	case rec.inboundTx <- cp:
		i.metrics.recordBytes(directionRx, len(payload))
		i.reg.advance(remote, func(s SocketState) SocketState {
			return Established(s.Seq, s.Ack+uint32(len(payload)))
		})
	default:
		i.metrics.recordDrop(dropQueueFull)
	}
}
