package cytube

import (
	"errors"
	"fmt"
)

// Error categories for the channel layer. Protocol-level failures live
// in pkg/socketio; these cover authentication and channel semantics.
var (
	// ErrLogin means authentication failed. Fatal to Run: no retry.
	ErrLogin = errors.New("cytube: login failed")

	// ErrKicked means the server removed us from the channel. Fatal to
	// Run: no retry.
	ErrKicked = errors.New("cytube: kicked")

	// ErrChannel covers non-fatal channel-level command failures; the
	// connection stays open.
	ErrChannel = errors.New("cytube: channel error")

	// ErrPermission is a channel-error variant for insufficient rank or
	// muted users; errors.Is against ErrChannel also matches it.
	ErrPermission = fmt.Errorf("%w: permission denied", ErrChannel)

	// ErrStopPropagation, returned from an event handler, stops
	// dispatch to later handlers for that event. It never surfaces to
	// callers.
	ErrStopPropagation = errors.New("cytube: stop event propagation")
)
