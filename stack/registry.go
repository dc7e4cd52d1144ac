package stack

import (
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/halfwire/usertcp/ipv4"
	"github.com/halfwire/usertcp/tcp"
)

// record is the registry's private view of one connection: the state
// machine position plus the producer side of the queue a Connection
// drains. Closing a record drops the producer so the application's Read
// observes end-of-stream, per spec.md §9.
type record struct {
	id    xid.ID
	state SocketState

	// localISN and remoteISN are handshake scratch state: the initial
	// sequence numbers chosen or observed while the record is in
	// SynSent or SynReceived, needed to validate the peer's reply and
	// to compute the Established seq/ack pair. They are meaningless
	// once state.IsEstablished() is true, where state.Seq/state.Ack
	// take over (SocketState is the authority on those, per state.go).
	localISN  uint32
	remoteISN uint32

	// localAddr is the IPv4 address this record replies from: the
	// Interface's own configured address for an active-open (Connect)
	// record, or the destination address carried by the inbound SYN for
	// a passive-open (Listen) record. Never compared for equality against
	// anything; it only ever supplies Repr.SrcAddr on the way out.
	localAddr ipv4.Address

	inboundTx chan<- PacketBuffer
	inbound   chan PacketBuffer

	// createdAt backs the stale-SynSent sweep (SPEC_FULL.md §6.4): a
	// record that never leaves SynSent within the sweep window is
	// evicted, since no retransmit timer exists to prompt the peer.
	createdAt time.Time
}

// registry owns every live ConnectionRecord, keyed by the remote endpoint
// a connection is bound to, since one Interface serves one local port
// and this stack does not multiplex by local port (spec.md §3).
type registry struct {
	mu      sync.Mutex
	records map[tcp.Endpoint]*record
}

func newRegistry() *registry {
	return &registry{records: make(map[tcp.Endpoint]*record)}
}

// insert adds a new record for remote in the given state. It does not
// check for an existing record: one already stored for remote is
// replaced, and its inbound queue is left open. The mutex is held only across this short section, never
// across a raw send (spec.md §5).
func (r *registry) insert(remote tcp.Endpoint, state SocketState, localAddr ipv4.Address) *record {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := &record{
		id:        xid.New(),
		state:     state,
		localAddr: localAddr,
		createdAt: time.Now(),
	}
	rec.inbound = make(chan PacketBuffer, 64)
	rec.inboundTx = rec.inbound
	r.records[remote] = rec
	return rec
}

// lookup returns the record for remote, if any, under the lock.
func (r *registry) lookup(remote tcp.Endpoint) (*record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[remote]
	return rec, ok
}

// transition atomically looks up the record for remote and replaces its
// state, returning false if no such record exists. After insert, this and
// advance are the only ways a record's state field is mutated, so every
// change happens under the registry's single lock (spec.md §9).
func (r *registry) transition(remote tcp.Endpoint, next SocketState) (*record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[remote]
	if !ok {
		return nil, false
	}
	rec.state = next
	return rec, true
}

// advance applies fn to the current state of remote's record under the
// registry lock and stores the result, for the two places (inbound
// delivery, outbound send) that bump Seq/Ack relative to their current
// value rather than replacing it outright. Using transition for these
// would race: the result of a stale read-then-write can clobber a
// concurrent update from the other direction.
func (r *registry) advance(remote tcp.Endpoint, fn func(SocketState) SocketState) (SocketState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[remote]
	if !ok {
		return SocketState{}, false
	}
	rec.state = fn(rec.state)
	return rec.state, true
}

// remove deletes the record for remote and closes its inbound producer,
// which is what causes a blocked Connection.Read to return ErrClosed.
func (r *registry) remove(remote tcp.Endpoint) {
	r.mu.Lock()
	rec, ok := r.records[remote]
	if ok {
		delete(r.records, remote)
	}
	r.mu.Unlock()
	if ok {
		close(rec.inbound)
	}
}

// sweepStaleSynSent evicts any record still in SynSent older than
// maxAge, resolving spec.md §9's open question about an outbound
// handshake whose SYN+ACK never arrives: with no retransmit timer, the
// record would otherwise wait forever for a matching reply.
func (r *registry) sweepStaleSynSent(maxAge time.Duration) []tcp.Endpoint {
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []tcp.Endpoint
	now := time.Now()
	for remote, rec := range r.records {
		if rec.state.IsSynSent() && now.Sub(rec.createdAt) > maxAge {
			delete(r.records, remote)
			close(rec.inbound)
			evicted = append(evicted, remote)
		}
	}
	return evicted
}

// snapshot returns the current remote endpoints and their states, for the
// metrics Collector (stack/metrics.go) to report without holding the
// registry lock for the duration of a Prometheus scrape.
func (r *registry) snapshot() map[tcp.Endpoint]SocketState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[tcp.Endpoint]SocketState, len(r.records))
	for remote, rec := range r.records {
		out[remote] = rec.state
	}
	return out
}
