// Package cytube is a client for CyTube-style synchronized viewing
// channels. Bot joins one channel, keeps a live mirror of its state
// and exposes the channel commands; application code attaches through
// event subscriptions.
package cytube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cytube/pkg/socketio"
)

const (
	defaultResponseTimeout = 10 * time.Second
	defaultReconnectDelay  = 5 * time.Second
	defaultGuestLoginCap   = 5
)

var guestLoginThrottle = regexp.MustCompile(`(?i)guest logins .* ([0-9]+) seconds\.`)

// Options configure a Bot. Domain and Channel are required; an empty
// User joins anonymously, a User without a password logs in as guest.
type Options struct {
	Domain          string
	Channel         string
	ChannelPassword string
	User            string
	UserPassword    string

	// ResponseTimeout bounds how long commands wait for the server
	// event confirming them.
	ResponseTimeout time.Duration

	// ReconnectDelay is the pause before redialing after a connection
	// failure. Negative disables reconnection.
	ReconnectDelay time.Duration

	// GuestLoginCap bounds how many throttled guest login attempts are
	// made before giving up with ErrLogin.
	GuestLoginCap int

	// HTTPClient fetches the socket config. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client

	// Socket configures the underlying protocol connection, including
	// the dialer used for proxying.
	Socket socketio.Options

	Logger zerolog.Logger
}

// Bot is one channel session. Methods are safe for concurrent use;
// Run must be the only goroutine receiving from the connection.
type Bot struct {
	opts     Options
	log      zerolog.Logger
	dispatch *dispatcher

	stateMu sync.RWMutex
	channel *Channel
	user    *User

	connMu sync.Mutex
	conn   *socketio.Conn
	server string

	// guestAttempts counts throttled guest logins over the bot's
	// lifetime, so reconnects cannot reset the cap.
	guestAttempts int
}

// New builds a Bot. It does not connect; call Run.
func New(opts Options) (*Bot, error) {
	if opts.Domain == "" {
		return nil, errors.New("cytube: domain is required")
	}
	if opts.Channel == "" {
		return nil, errors.New("cytube: channel is required")
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = defaultResponseTimeout
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.GuestLoginCap <= 0 {
		opts.GuestLoginCap = defaultGuestLoginCap
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	log := opts.Logger.With().
		Str("domain", opts.Domain).
		Str("channel", opts.Channel).
		Logger()
	b := &Bot{
		opts:     opts,
		log:      log,
		dispatch: newDispatcher(log),
		channel:  NewChannel(opts.Channel, opts.ChannelPassword),
		user:     NewUser(opts.User, opts.UserPassword),
	}
	b.user.Rank = -1
	b.registerStateHandlers()
	return b, nil
}

// Channel returns the mirrored channel state. Read it from inside an
// event handler, or via State for a consistent snapshot.
func (b *Bot) Channel() *Channel {
	return b.channel
}

// User returns the bot's own identity.
func (b *Bot) User() *User {
	return b.user
}

// State runs fn with the state lock held for reading. The pointers
// must not escape fn.
func (b *Bot) State(fn func(c *Channel, u *User)) {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	fn(b.channel, b.user)
}

// On registers a handler for a server event. Handlers run on the Run
// goroutine in registration order, after the built-in state handlers.
func (b *Bot) On(event string, fn Handler) Subscription {
	return b.dispatch.on(event, fn)
}

// Off removes a handler registered with On.
func (b *Bot) Off(event string, sub Subscription) bool {
	return b.dispatch.off(event, sub)
}

// Trigger dispatches an event locally as if the server had sent it.
func (b *Bot) Trigger(event string, data []byte) error {
	return b.dispatch.trigger(event, data)
}

func (b *Bot) connection() (*socketio.Conn, error) {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	if b.conn == nil {
		return nil, fmt.Errorf("%w: not connected", ErrChannel)
	}
	return b.conn, nil
}

// Disconnect closes the connection if one is open. The bot's rank
// resets since the server forgets the session.
func (b *Bot) Disconnect() error {
	b.connMu.Lock()
	conn := b.conn
	b.conn = nil
	b.connMu.Unlock()
	if conn == nil {
		return nil
	}
	b.log.Info().Msg("disconnecting")
	err := conn.Close()
	b.stateMu.Lock()
	b.user.Rank = -1
	b.stateMu.Unlock()
	return err
}

func (b *Bot) connect(ctx context.Context) (*socketio.Conn, error) {
	if err := b.Disconnect(); err != nil {
		b.log.Error().Err(err).Msg("close previous connection")
	}
	if b.server == "" {
		server, err := socketio.GetSocketConfig(ctx, b.opts.HTTPClient, b.opts.Domain, b.opts.Channel)
		if err != nil {
			return nil, err
		}
		b.server = server
	}
	b.log.Info().Str("server", b.server).Msg("connecting")
	opts := b.opts.Socket
	opts.Logger = b.log
	conn, err := socketio.Connect(ctx, b.server, opts)
	if err != nil {
		return nil, err
	}
	b.connMu.Lock()
	b.conn = conn
	b.connMu.Unlock()
	return conn, nil
}

// Login connects, joins the channel and authenticates. Errors wrapping
// ErrLogin are permanent; anything else is a connection problem worth
// retrying.
func (b *Bot) Login(ctx context.Context) error {
	conn, err := b.connect(ctx)
	if err != nil {
		return err
	}

	joinCtx, cancel := context.WithTimeout(ctx, b.opts.ResponseTimeout)
	ev, err := conn.EmitMatch(joinCtx, "joinChannel", map[string]string{
		"name": b.channel.Name,
		"pw":   b.channel.Password,
	}, func(ev socketio.Event) bool {
		return ev.Name == "needPassword" || ev.Name == "rank"
	})
	cancel()
	if err != nil {
		return fmt.Errorf("join channel: %w", err)
	}
	if ev.Name == "needPassword" {
		return fmt.Errorf("%w: invalid channel password", ErrLogin)
	}
	if err := b.dispatch.trigger(ev.Name, ev.Data); err != nil {
		return err
	}

	if b.user.Name == "" {
		b.log.Warn().Msg("no user, staying anonymous")
	} else if err := b.authenticate(ctx, conn); err != nil {
		return err
	}
	return b.dispatch.trigger("login", nil)
}

func (b *Bot) authenticate(ctx context.Context, conn *socketio.Conn) error {
	for {
		b.log.Info().Str("user", b.user.Name).Msg("logging in")
		loginCtx, cancel := context.WithTimeout(ctx, b.opts.ResponseTimeout)
		ev, err := conn.EmitMatch(loginCtx, "login", map[string]string{
			"name": b.user.Name,
			"pw":   b.user.Password,
		}, func(ev socketio.Event) bool {
			return ev.Name == "login"
		})
		cancel()
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}

		var res struct {
			Success bool   `json:"success"`
			Error   string `json:"error"`
		}
		if err := json.Unmarshal(ev.Data, &res); err != nil {
			return fmt.Errorf("login: %w", err)
		}
		if res.Success {
			return nil
		}

		m := guestLoginThrottle.FindStringSubmatch(res.Error)
		if m == nil {
			return fmt.Errorf("%w: %s", ErrLogin, res.Error)
		}
		b.guestAttempts++
		if b.guestAttempts >= b.opts.GuestLoginCap {
			return fmt.Errorf("%w: guest login throttled %d times: %s",
				ErrLogin, b.guestAttempts, res.Error)
		}
		delay, err := strconv.Atoi(m[1])
		if err != nil || delay < 1 {
			delay = 1
		}
		b.log.Warn().Int("seconds", delay).Msg("guest login throttled")
		select {
		case <-time.After(time.Duration(delay) * time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Run drives the session: log in, pump events, reconnect on network
// failure. It returns when ctx is done, on ErrLogin or ErrKicked, or
// on a connection failure with reconnection disabled.
func (b *Bot) Run(ctx context.Context) error {
	defer b.Disconnect()
	for {
		conn, err := b.connection()
		if err != nil {
			if err = b.Login(ctx); err != nil {
				if errors.Is(err, ErrLogin) || errors.Is(err, ErrKicked) {
					return err
				}
				if err = b.backoff(ctx, err); err != nil {
					return err
				}
				continue
			}
			conn, _ = b.connection()
		}

		ev, err := conn.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err = b.backoff(ctx, err); err != nil {
				return err
			}
			continue
		}
		if err := b.dispatch.trigger(ev.Name, ev.Data); err != nil {
			return err
		}
	}
}

// backoff tears the connection down and waits out the reconnect delay.
// It returns the original error when reconnection is disabled.
func (b *Bot) backoff(ctx context.Context, cause error) error {
	b.log.Error().Err(cause).Msg("connection lost")
	b.Disconnect()
	if b.opts.ReconnectDelay < 0 {
		return cause
	}
	b.log.Info().Dur("delay", b.opts.ReconnectDelay).Msg("reconnecting")
	select {
	case <-time.After(b.opts.ReconnectDelay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
