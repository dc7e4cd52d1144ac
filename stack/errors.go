package stack

import "errors"

// SocketError is the only error surface the application sees through a
// Connection or through Connect.
var (
	// ErrClosed means the peer sent RST or the stack was stopped.
	ErrClosed = errors.New("stack: connection closed")
	// ErrTimeout is produced only by Connect, on handshake timeout.
	ErrTimeout = errors.New("stack: connect timed out")
)
