package socketio

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultPingInterval = 25 * time.Second
	defaultPingTimeout  = 60 * time.Second
	writeTimeout        = 10 * time.Second
	recvBuffer          = 64
)

// Options configures a connection. The zero value works: default
// websocket dialer, keepalive taken from the server handshake, no-op
// logger.
type Options struct {
	// NetDial overrides the underlying network dial, e.g. to route
	// through a SOCKS proxy. Nil dials directly.
	NetDial func(ctx context.Context, network, addr string) (net.Conn, error)

	// PingInterval and PingTimeout override the handshake values when
	// positive.
	PingInterval time.Duration
	PingTimeout  time.Duration

	Logger zerolog.Logger
}

// Conn is one live socket.io connection. Its receive loop and keepalive
// loop run as goroutines for the connection's lifetime; Close cancels
// both and resolves every pending request with ErrConnectionClosed.
type Conn struct {
	ws      *websocket.Conn
	id      string
	log     zerolog.Logger
	pending *pendingTable

	pingInterval time.Duration
	pingTimeout  time.Duration

	writeMu sync.Mutex

	recvCh   chan Event
	activity chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeMu   sync.Mutex
	closeErr  error
	closing   bool
	done      chan struct{}
}

// Connect dials the socket.io endpoint, performs the open handshake and
// waits for the namespace connect ack. The server URL is the value
// produced by GetSocketConfig; http(s) schemes are rewritten to ws(s).
func Connect(ctx context.Context, serverURL string, opts Options) (*Conn, error) {
	wsURL, err := websocketURL(serverURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 45 * time.Second,
		NetDialContext:   opts.NetDial,
	}
	ws, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, resp.Status, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:           ws,
		id:           uuid.New().String(),
		log:          opts.Logger,
		pending:      newPendingTable(),
		pingInterval: defaultPingInterval,
		pingTimeout:  defaultPingTimeout,
		recvCh:       make(chan Event, recvBuffer),
		activity:     make(chan struct{}, 1),
		ctx:          connCtx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	hs, err := c.readHandshake()
	if err != nil {
		ws.Close()
		cancel()
		return nil, err
	}
	if hs.PingInterval > 0 {
		c.pingInterval = time.Duration(hs.PingInterval) * time.Millisecond
	}
	if hs.PingTimeout > 0 {
		c.pingTimeout = time.Duration(hs.PingTimeout) * time.Millisecond
	}
	if opts.PingInterval > 0 {
		c.pingInterval = opts.PingInterval
	}
	if opts.PingTimeout > 0 {
		c.pingTimeout = opts.PingTimeout
	}

	c.log = c.log.With().Str("conn", c.id).Logger()
	c.log.Debug().
		Str("sid", hs.SID).
		Dur("ping_interval", c.pingInterval).
		Dur("ping_timeout", c.pingTimeout).
		Msg("socket.io connected")

	go c.receiveLoop()
	go c.keepaliveLoop()
	return c, nil
}

// readHandshake consumes the open frame and the namespace connect ack.
// Servers may interleave other control frames before the connect ack.
func (c *Conn) readHandshake() (handshake, error) {
	var hs handshake
	c.ws.SetReadDeadline(time.Now().Add(defaultPingTimeout))
	defer c.ws.SetReadDeadline(time.Time{})

	open := false
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return hs, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		f, err := decodeFrame(data)
		if err != nil {
			return hs, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
		switch {
		case f.Type == packetOpen:
			if err := json.Unmarshal(f.Payload, &hs); err != nil {
				return hs, fmt.Errorf("%w: bad open frame: %v", ErrConnectionFailed, err)
			}
			open = true
		case f.Type == packetMessage && f.Message == messageConnect:
			if !open {
				return hs, fmt.Errorf("%w: connect ack before open frame", ErrConnectionFailed)
			}
			return hs, nil
		case f.Type == packetClose:
			return hs, fmt.Errorf("%w: server closed during handshake", ErrConnectionFailed)
		default:
			// Tolerate pings or stray frames during the handshake.
		}
	}
}

// Emit writes one fire-and-forget event frame.
func (c *Conn) Emit(event string, payload any) error {
	buf, err := encodeEvent(event, payload, -1)
	if err != nil {
		return err
	}
	return c.writeFrame(buf)
}

// EmitWithAck writes an id-tagged event frame and waits for the ack
// carrying the same id. The wait is bounded by ctx.
func (c *Conn) EmitWithAck(ctx context.Context, event string, payload any) (json.RawMessage, error) {
	req, err := c.pending.registerID()
	if err != nil {
		return nil, err
	}
	buf, err := encodeEvent(event, payload, req.id)
	if err != nil {
		c.pending.cancel(req)
		return nil, err
	}
	if err := c.writeFrame(buf); err != nil {
		c.pending.cancel(req)
		return nil, err
	}
	ev, err := c.await(ctx, req)
	return ev.Data, err
}

// EmitMatch writes a fire-and-forget event frame and waits for the next
// inbound event accepted by matcher. This is the positional ack dialect:
// if two callers await the same event type concurrently the server gives
// no way to tell the replies apart, and the first registered matcher
// wins.
func (c *Conn) EmitMatch(ctx context.Context, event string, payload any, matcher func(Event) bool) (Event, error) {
	req, err := c.pending.registerMatch(matcher)
	if err != nil {
		return Event{}, err
	}
	buf, err := encodeEvent(event, payload, -1)
	if err != nil {
		c.pending.cancel(req)
		return Event{}, err
	}
	if err := c.writeFrame(buf); err != nil {
		c.pending.cancel(req)
		return Event{}, err
	}
	return c.await(ctx, req)
}

func (c *Conn) await(ctx context.Context, req *pendingRequest) (Event, error) {
	select {
	case res := <-req.ch:
		return res.Event, res.Err
	case <-ctx.Done():
		c.pending.cancel(req)
		return Event{}, ctx.Err()
	case <-c.ctx.Done():
		return Event{}, c.err()
	}
}

// Recv returns the next inbound event not consumed by a positional
// matcher. It returns the close cause once the connection is done.
func (c *Conn) Recv(ctx context.Context) (Event, error) {
	select {
	case ev := <-c.recvCh:
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-c.ctx.Done():
		// Drain events dispatched before the close won the race.
		select {
		case ev := <-c.recvCh:
			return ev, nil
		default:
			return Event{}, c.err()
		}
	}
}

// Err returns the close cause, or nil while the connection is live.
func (c *Conn) Err() error {
	select {
	case <-c.ctx.Done():
		return c.err()
	default:
		return nil
	}
}

func (c *Conn) err() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closeErr != nil {
		return c.closeErr
	}
	return ErrConnectionClosed
}

// Close tears the connection down: marks closing, cancels both loops,
// resolves all pending requests with ErrConnectionClosed and closes the
// socket. Safe to call multiple times and from any goroutine.
func (c *Conn) Close() error {
	c.closeWith(ErrConnectionClosed)
	return nil
}

func (c *Conn) closeWith(cause error) {
	c.closeOnce.Do(func() {
		c.closeMu.Lock()
		c.closing = true
		c.closeErr = cause
		c.closeMu.Unlock()

		c.cancel()
		c.pending.closeAll(cause)
		c.ws.Close()
		close(c.done)
		c.log.Debug().AnErr("cause", cause).Msg("socket.io closed")
	})
}

// Done is closed once teardown has finished.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) writeFrame(data []byte) error {
	select {
	case <-c.ctx.Done():
		return c.err()
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

// receiveLoop reads frames until the socket dies, resolving acks and
// positional matchers and queueing everything else for Recv.
func (c *Conn) receiveLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.ctx.Done():
			default:
				c.closeWith(fmt.Errorf("%w: %v", ErrConnectionClosed, err))
			}
			return
		}
		c.touch()

		f, err := decodeFrame(data)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping undecodable frame")
			continue
		}
		switch f.Type {
		case packetPing:
			// Server-initiated ping; answer so the remote deadline resets.
			c.writeFrame([]byte{packetPong})
		case packetPong:
			// Activity already recorded.
		case packetClose:
			c.closeWith(fmt.Errorf("%w: server close frame", ErrConnectionClosed))
			return
		case packetMessage:
			c.dispatchMessage(f)
		}
	}
}

func (c *Conn) dispatchMessage(f frame) {
	switch f.Message {
	case messageEvent:
		ev := Event{Name: f.Name, Data: f.Data}
		if c.pending.resolveMatch(ev) {
			return
		}
		select {
		case c.recvCh <- ev:
		case <-c.ctx.Done():
		}
	case messageAck:
		if f.ID >= 0 && !c.pending.resolveID(f.ID, Event{Data: f.Data}) {
			c.log.Debug().Int64("id", f.ID).Msg("ack for unknown request")
		}
	case messageDisconnect:
		c.closeWith(fmt.Errorf("%w: server disconnect", ErrConnectionClosed))
	case messageError:
		c.log.Warn().Bytes("payload", f.Payload).Msg("socket.io error frame")
	}
}

// keepaliveLoop sends a ping every pingInterval and arms a deadline.
// Any inbound traffic resets the deadline; expiry is fatal.
func (c *Conn) keepaliveLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(c.pingInterval + c.pingTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.writeFrame([]byte{packetPing}); err != nil {
				return
			}
		case <-c.activity:
			if !deadline.Stop() {
				select {
				case <-deadline.C:
				default:
				}
			}
			deadline.Reset(c.pingInterval + c.pingTimeout)
		case <-deadline.C:
			c.closeWith(ErrPingTimeout)
			return
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Conn) touch() {
	select {
	case c.activity <- struct{}{}:
	default:
	}
}

// websocketURL rewrites the socket config server URL into the websocket
// endpoint: scheme ws(s), path /socket.io/, EIO v3 query.
func websocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss", "":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if !strings.Contains(u.Path, "/socket.io") {
		u.Path = strings.TrimRight(u.Path, "/") + "/socket.io/"
	}
	q := u.Query()
	q.Set("EIO", "3")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}
