package stack

// SocketState is the sole authority for which transitions a connection
// record may make (spec.md §3). Established carries the sequence state
// inside the state value itself, rather than alongside it. Go has no
// algebraic enums, so Seq and Ack exist on every SocketState value and the
// compiler does not stop a non-Established state from carrying them; the
// code paths that advance seq/ack check IsEstablished first. See spec.md
// §9, "who advances seq" race.
type SocketState struct {
	kind establishedKind
	// Seq is the next sequence number to use on outbound payload.
	// Ack is the next expected sequence number from the peer.
	// Both are meaningful only when IsEstablished() is true.
	Seq, Ack uint32
}

type establishedKind int

const (
	stateSynSent establishedKind = iota
	stateSynReceived
	stateEstablished
	stateClosed
)

// SynSent is the state of a record created by an outbound Connect, before
// the peer's SYN+ACK arrives.
func SynSent() SocketState { return SocketState{kind: stateSynSent} }

// SynReceived is the state of a record created on receiving a bare SYN,
// before the peer's ACK arrives.
func SynReceived() SocketState { return SocketState{kind: stateSynReceived} }

// Established carries the next outbound sequence number and next expected
// inbound sequence number for a fully handshaken connection.
func Established(seq, ack uint32) SocketState {
	return SocketState{kind: stateEstablished, Seq: seq, Ack: ack}
}

// Closed is a terminal state; closed records are removed from the
// registry rather than kept around, but the zero-ish value is useful for
// reporting "no longer present" to callers that already hold a copy.
func Closed() SocketState { return SocketState{kind: stateClosed} }

func (s SocketState) IsSynSent() bool     { return s.kind == stateSynSent }
func (s SocketState) IsSynReceived() bool { return s.kind == stateSynReceived }
func (s SocketState) IsEstablished() bool { return s.kind == stateEstablished }
func (s SocketState) IsClosed() bool      { return s.kind == stateClosed }

func (s SocketState) String() string {
	switch s.kind {
	case stateSynSent:
		return "SynSent"
	case stateSynReceived:
		return "SynReceived"
	case stateEstablished:
		return "Established"
	default:
		return "Closed"
	}
}
