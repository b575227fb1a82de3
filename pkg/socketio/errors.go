package socketio

import (
	"errors"
	"fmt"
)

// Error categories for the protocol layer. Consumers branch on the broad
// category with errors.Is; concrete causes are wrapped underneath.
var (
	// ErrConnectionFailed covers handshake rejection and dial failures.
	ErrConnectionFailed = errors.New("socket.io: connection failed")

	// ErrConnectionClosed is returned by every operation on a closed
	// connection, including pending requests resolved during teardown.
	ErrConnectionClosed = errors.New("socket.io: connection closed")

	// ErrPingTimeout is a closed-connection variant: errors.Is against
	// ErrConnectionClosed also matches it.
	ErrPingTimeout = fmt.Errorf("%w: ping timeout", ErrConnectionClosed)

	// ErrSocketConfig covers unreachable or malformed socket config
	// responses during transport discovery.
	ErrSocketConfig = errors.New("socket.io: bad socket config")
)
