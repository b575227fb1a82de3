package socketio

import (
	"sync"
)

// Ack id space. Ids are unique only among concurrently outstanding
// requests: the allocator wraps from the ceiling back to the floor and
// skips ids that are still in flight.
const (
	ackIDFloor   int64 = 0
	ackIDCeiling int64 = 1<<31 - 1
)

// pendingResult resolves exactly one awaiting caller: either the
// matching event arrived, or the connection went away.
type pendingResult struct {
	Event Event
	Err   error
}

// pendingRequest is one in-flight reply-awaiting emit. The two server
// ack dialects are modeled as a tagged variant: id-tagged (matcher nil)
// or positional (matcher set, id unused).
type pendingRequest struct {
	id      int64
	matcher func(Event) bool
	ch      chan pendingResult
}

// pendingTable tracks outstanding requests for one connection. One
// mutex serializes registration and resolution against inbound
// dispatch; a dispatched handler may suspend before a conflicting
// registration happens, so the lock is required even under low
// parallelism.
type pendingTable struct {
	mu       sync.Mutex
	byID     map[int64]*pendingRequest
	matchers []*pendingRequest
	nextID   int64
	floor    int64
	ceiling  int64
	closed   bool
	closeErr error
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		byID:    make(map[int64]*pendingRequest),
		nextID:  ackIDFloor,
		floor:   ackIDFloor,
		ceiling: ackIDCeiling,
	}
}

// registerID allocates a fresh ack id and registers a pending request
// under it. Ids wrap at the ceiling; ids still outstanding are skipped.
func (t *pendingTable) registerID() (*pendingRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, t.closeErr
	}
	var id int64
	for {
		id = t.nextID
		t.nextID++
		if t.nextID > t.ceiling {
			t.nextID = t.floor
		}
		if _, busy := t.byID[id]; !busy {
			break
		}
	}
	req := &pendingRequest{id: id, ch: make(chan pendingResult, 1)}
	t.byID[id] = req
	return req, nil
}

// registerMatch registers a positional request resolved by the next
// inbound event the matcher accepts. Matchers are checked in
// registration order.
func (t *pendingTable) registerMatch(matcher func(Event) bool) (*pendingRequest, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, t.closeErr
	}
	req := &pendingRequest{id: -1, matcher: matcher, ch: make(chan pendingResult, 1)}
	t.matchers = append(t.matchers, req)
	return req, nil
}

// resolveID completes the request registered under id, if any.
func (t *pendingTable) resolveID(id int64, ev Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	req, ok := t.byID[id]
	if !ok {
		return false
	}
	delete(t.byID, id)
	req.ch <- pendingResult{Event: ev}
	return true
}

// resolveMatch offers an inbound event to the positional matchers.
// The first matcher that accepts it consumes the event; when two
// callers await the same event type concurrently the dialect itself
// cannot tell them apart, so first-registered wins.
func (t *pendingTable) resolveMatch(ev Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, req := range t.matchers {
		if req.matcher(ev) {
			t.matchers = append(t.matchers[:i], t.matchers[i+1:]...)
			req.ch <- pendingResult{Event: ev}
			return true
		}
	}
	return false
}

// cancel removes a request whose caller gave up waiting. The result
// channel is buffered, so a concurrent resolution never blocks.
func (t *pendingTable) cancel(req *pendingRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if req.matcher == nil {
		delete(t.byID, req.id)
		return
	}
	for i, r := range t.matchers {
		if r == req {
			t.matchers = append(t.matchers[:i], t.matchers[i+1:]...)
			return
		}
	}
}

// closeAll resolves every outstanding request with err and rejects
// later registrations with the same error. Idempotent.
func (t *pendingTable) closeAll(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.closeErr = err
	for id, req := range t.byID {
		delete(t.byID, id)
		req.ch <- pendingResult{Err: err}
	}
	for _, req := range t.matchers {
		req.ch <- pendingResult{Err: err}
	}
	t.matchers = nil
}

// outstanding reports the number of in-flight requests (both dialects).
func (t *pendingTable) outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID) + len(t.matchers)
}
