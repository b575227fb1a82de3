package cytube

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Handler consumes one server event. Returning ErrStopPropagation
// stops later handlers for that event; returning an error wrapping
// ErrLogin or ErrKicked tears the session down; any other error is
// logged and rebroadcast as an "error" event without affecting the
// remaining handlers.
type Handler func(event string, data json.RawMessage) error

// Subscription identifies one registered handler for removal.
type Subscription int64

type dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   Subscription
	log      zerolog.Logger
}

type subscription struct {
	id Subscription
	fn Handler
}

func newDispatcher(log zerolog.Logger) *dispatcher {
	return &dispatcher{
		handlers: make(map[string][]subscription),
		log:      log,
	}
}

func (d *dispatcher) on(event string, fn Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	id := d.nextID
	d.handlers[event] = append(d.handlers[event], subscription{id: id, fn: fn})
	return id
}

func (d *dispatcher) off(event string, id Subscription) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	subs := d.handlers[event]
	for i, s := range subs {
		if s.id == id {
			d.handlers[event] = append(subs[:i:i], subs[i+1:]...)
			return true
		}
	}
	return false
}

// trigger runs the handlers for event in registration order. Only
// fatal session errors propagate to the caller.
func (d *dispatcher) trigger(event string, data json.RawMessage) error {
	d.mu.RLock()
	subs := d.handlers[event]
	d.mu.RUnlock()

	if len(subs) == 0 {
		d.log.Debug().Str("event", event).Msg("unhandled event dropped")
		return nil
	}
	for _, s := range subs {
		err := s.fn(event, data)
		switch {
		case err == nil:
		case errors.Is(err, ErrStopPropagation):
			return nil
		case errors.Is(err, ErrLogin), errors.Is(err, ErrKicked):
			return err
		default:
			d.log.Error().Err(err).Str("event", event).Msg("event handler failed")
			if event != "error" {
				msg, _ := json.Marshal(err.Error())
				d.trigger("error", msg)
			}
		}
	}
	return nil
}
