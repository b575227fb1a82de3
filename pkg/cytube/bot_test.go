package cytube

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// fakeFrame is one decoded client event frame.
type fakeFrame struct {
	Name string
	Data json.RawMessage
}

// readClientEvent reads frames until an event arrives, answering
// engine.io pings along the way. ok is false once the client is gone;
// scripts must then return so a closing test does not fail assertions.
func readClientEvent(ws *websocket.Conn) (f fakeFrame, ok bool) {
	for {
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			return fakeFrame{}, false
		}
		s := string(data)
		if s == "2" {
			ws.WriteMessage(websocket.TextMessage, []byte("3"))
			continue
		}
		if !strings.HasPrefix(s, "42") {
			continue
		}
		var args []json.RawMessage
		if json.Unmarshal(data[2:], &args) != nil || len(args) == 0 {
			return fakeFrame{}, false
		}
		if json.Unmarshal(args[0], &f.Name) != nil {
			return fakeFrame{}, false
		}
		if len(args) > 1 {
			f.Data = args[1]
		}
		return f, true
	}
}

func sendEvent(ws *websocket.Conn, name string, payload string) {
	body := fmt.Sprintf(`42[%q,%s]`, name, payload)
	if payload == "" {
		body = fmt.Sprintf(`42[%q]`, name)
	}
	ws.WriteMessage(websocket.TextMessage, []byte(body))
}

// startFakeCytube serves both the socket config endpoint and the
// socket.io websocket, handing the upgraded socket to script after the
// engine.io handshake.
func startFakeCytube(t *testing.T, script func(ws *websocket.Conn)) *httptest.Server {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/socketconfig/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"servers":[{"url":%q,"secure":true}]}`, srv.URL)
	})
	mux.HandleFunc("/socket.io/", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		ws.WriteMessage(websocket.TextMessage, []byte(`0{"sid":"s","pingInterval":25000,"pingTimeout":60000}`))
		ws.WriteMessage(websocket.TextMessage, []byte("40"))
		script(ws)
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newFakeBot(t *testing.T, srv *httptest.Server, user string) *Bot {
	t.Helper()
	b, err := New(Options{
		Domain:          srv.URL,
		Channel:         "room",
		User:            user,
		ResponseTimeout: 5 * time.Second,
		ReconnectDelay:  -1,
		GuestLoginCap:   1,
		HTTPClient:      srv.Client(),
		Logger:          zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { b.Disconnect() })
	return b
}

// serveJoinAndLogin walks the fake server through the standard join
// plus login exchange.
func serveJoinAndLogin(ws *websocket.Conn) bool {
	f, ok := readClientEvent(ws)
	if !ok || f.Name != "joinChannel" {
		return false
	}
	sendEvent(ws, "rank", "3")
	f, ok = readClientEvent(ws)
	if !ok || f.Name != "login" {
		return false
	}
	sendEvent(ws, "login", `{"success":true}`)
	return true
}

func TestBotLogin(t *testing.T) {
	srv := startFakeCytube(t, func(ws *websocket.Conn) {
		if !serveJoinAndLogin(ws) {
			return
		}
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	b := newFakeBot(t, srv, "bot")

	var loggedIn bool
	b.On("login", func(string, json.RawMessage) error {
		loggedIn = true
		return nil
	})

	require.NoError(t, b.Login(context.Background()))
	assert.True(t, loggedIn)
	assert.EqualValues(t, 3, b.User().Rank)
}

func TestBotLoginAnonymous(t *testing.T) {
	srv := startFakeCytube(t, func(ws *websocket.Conn) {
		f, ok := readClientEvent(ws)
		if !ok || f.Name != "joinChannel" {
			return
		}
		sendEvent(ws, "rank", "0")
		// No login exchange for anonymous sessions.
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	b := newFakeBot(t, srv, "")
	require.NoError(t, b.Login(context.Background()))
}

func TestBotLoginNeedPassword(t *testing.T) {
	srv := startFakeCytube(t, func(ws *websocket.Conn) {
		if _, ok := readClientEvent(ws); !ok {
			return
		}
		sendEvent(ws, "needPassword", "true")
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	b := newFakeBot(t, srv, "bot")
	err := b.Login(context.Background())
	require.ErrorIs(t, err, ErrLogin)
	assert.Contains(t, err.Error(), "invalid channel password")
}

func TestBotLoginBadCredentials(t *testing.T) {
	srv := startFakeCytube(t, func(ws *websocket.Conn) {
		if _, ok := readClientEvent(ws); !ok {
			return
		}
		sendEvent(ws, "rank", "0")
		if _, ok := readClientEvent(ws); !ok {
			return
		}
		sendEvent(ws, "login", `{"success":false,"error":"Invalid login credentials"}`)
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	b := newFakeBot(t, srv, "bot")
	err := b.Login(context.Background())
	require.ErrorIs(t, err, ErrLogin)
	assert.Contains(t, err.Error(), "Invalid login credentials")
}

func TestBotGuestLoginCap(t *testing.T) {
	srv := startFakeCytube(t, func(ws *websocket.Conn) {
		if _, ok := readClientEvent(ws); !ok {
			return
		}
		sendEvent(ws, "rank", "0")
		for {
			f, ok := readClientEvent(ws)
			if !ok {
				return
			}
			if f.Name != "login" {
				continue
			}
			sendEvent(ws, "login", `{"success":false,"error":"guest logins are restricted for 1 seconds."}`)
		}
	})
	b := newFakeBot(t, srv, "guest")

	// Cap of one: the first throttled response is already the last
	// permitted attempt, so no sleep happens and the failure is permanent.
	start := time.Now()
	err := b.Login(context.Background())
	require.ErrorIs(t, err, ErrLogin)
	assert.Contains(t, err.Error(), "throttled")
	assert.Less(t, time.Since(start), time.Second)
}

func TestBotGuestLoginCapPersistsAcrossLogins(t *testing.T) {
	srv := startFakeCytube(t, func(ws *websocket.Conn) {
		if _, ok := readClientEvent(ws); !ok {
			return
		}
		sendEvent(ws, "rank", "0")
		for {
			f, ok := readClientEvent(ws)
			if !ok {
				return
			}
			if f.Name != "login" {
				continue
			}
			sendEvent(ws, "login", `{"success":false,"error":"guest logins are restricted for 1 seconds."}`)
		}
	})
	b := newFakeBot(t, srv, "guest")
	b.opts.GuestLoginCap = 2
	b.guestAttempts = 1 // throttled once in an earlier session

	// The counter lives on the bot, so the carried-over attempt plus
	// this one exhaust the cap with no sleep in between.
	start := time.Now()
	err := b.Login(context.Background())
	require.ErrorIs(t, err, ErrLogin)
	assert.Contains(t, err.Error(), "throttled 2 times")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 2, b.guestAttempts)
}

func TestBotRunDispatchesAndStopsOnKick(t *testing.T) {
	srv := startFakeCytube(t, func(ws *websocket.Conn) {
		if !serveJoinAndLogin(ws) {
			return
		}
		sendEvent(ws, "usercount", "5")
		sendEvent(ws, "kick", `{"reason":"enough"}`)
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	b := newFakeBot(t, srv, "bot")

	counts := make(chan int, 1)
	b.On("usercount", func(_ string, data json.RawMessage) error {
		var n int
		if json.Unmarshal(data, &n) == nil {
			counts <- n
		}
		return nil
	})

	err := b.Run(context.Background())
	require.ErrorIs(t, err, ErrKicked)
	select {
	case n := <-counts:
		assert.Equal(t, 5, n)
	default:
		t.Fatal("usercount never dispatched")
	}
	assert.Equal(t, 5, b.Channel().Userlist.Count)
}

func TestBotRunStopsOnContextCancel(t *testing.T) {
	srv := startFakeCytube(t, func(ws *websocket.Conn) {
		if !serveJoinAndLogin(ws) {
			return
		}
		ws.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	})
	b := newFakeBot(t, srv, "bot")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestBotChatCommand(t *testing.T) {
	srv := startFakeCytube(t, func(ws *websocket.Conn) {
		if !serveJoinAndLogin(ws) {
			return
		}
		sendEvent(ws, "setPermissions", `{"chat":0}`)
		for {
			f, ok := readClientEvent(ws)
			if !ok {
				return
			}
			if f.Name != "chatMsg" {
				continue
			}
			var d struct {
				Msg string `json:"msg"`
			}
			if json.Unmarshal(f.Data, &d) != nil {
				return
			}
			sendEvent(ws, "chatMsg", fmt.Sprintf(`{"username":"bot","msg":%q}`, d.Msg))
		}
	})
	b := newFakeBot(t, srv, "bot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	// Wait for the permission push so the local check passes.
	require.Eventually(t, func() bool {
		_, ok := b.Channel().Permissions["chat"]
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	data, err := b.Chat(ctx, "hello room", nil)
	require.NoError(t, err)
	var d struct {
		Username string `json:"username"`
		Msg      string `json:"msg"`
	}
	require.NoError(t, json.Unmarshal(data, &d))
	assert.Equal(t, "bot", d.Username)
	assert.Equal(t, "hello room", d.Msg)
}

func TestBotAddMediaQueued(t *testing.T) {
	sent := make(chan fakeFrame, 1)
	srv := startFakeCytube(t, func(ws *websocket.Conn) {
		if !serveJoinAndLogin(ws) {
			return
		}
		sendEvent(ws, "setPermissions", `{"oplaylistadd":0,"oplaylistnext":0,"addnontemp":0}`)
		for {
			f, ok := readClientEvent(ws)
			if !ok {
				return
			}
			if f.Name != "queue" {
				continue
			}
			sent <- f
			sendEvent(ws, "queue", `{"item":{"uid":42,"temp":false,"queueby":"bot",`+
				`"media":{"type":"yt","id":"dQw4w9WgXcQ","title":"clip","seconds":212}},"after":7}`)
		}
	})
	b := newFakeBot(t, srv, "bot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)
	require.Eventually(t, func() bool {
		_, ok := b.Channel().Permissions["addnontemp"]
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	data, err := b.AddMedia(ctx, MediaLink{Type: "yt", ID: "dQw4w9WgXcQ"}, false, false)
	require.NoError(t, err)

	var got struct {
		Item PlaylistItem `json:"item"`
	}
	require.NoError(t, json.Unmarshal(data, &got))
	assert.EqualValues(t, 42, got.Item.UID)
	assert.Equal(t, "dQw4w9WgXcQ", got.Item.Link.ID)
	assert.Equal(t, "bot", got.Item.QueuedBy)

	select {
	case f := <-sent:
		var req struct {
			Type string `json:"type"`
			ID   string `json:"id"`
			Pos  string `json:"pos"`
			Temp bool   `json:"temp"`
		}
		require.NoError(t, json.Unmarshal(f.Data, &req))
		assert.Equal(t, "yt", req.Type)
		assert.Equal(t, "dQw4w9WgXcQ", req.ID)
		assert.Equal(t, "next", req.Pos)
		assert.False(t, req.Temp)
	default:
		t.Fatal("queue request never reached the server")
	}
}

func TestBotAddMediaQueueFail(t *testing.T) {
	srv := startFakeCytube(t, func(ws *websocket.Conn) {
		if !serveJoinAndLogin(ws) {
			return
		}
		sendEvent(ws, "setPermissions", `{"oplaylistadd":0,"addnontemp":0}`)
		for {
			f, ok := readClientEvent(ws)
			if !ok {
				return
			}
			if f.Name != "queue" {
				continue
			}
			sendEvent(ws, "queueFail", `{"msg":"This item is already on the playlist"}`)
		}
	})
	b := newFakeBot(t, srv, "bot")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)
	require.Eventually(t, func() bool {
		_, ok := b.Channel().Permissions["addnontemp"]
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	_, err := b.AddMedia(ctx, MediaLink{Type: "yt", ID: "dQw4w9WgXcQ"}, true, false)
	require.ErrorIs(t, err, ErrChannel)
	assert.Contains(t, err.Error(), "already on the playlist")
}

func TestBotAddMediaLockedPermissionSet(t *testing.T) {
	b := newTestBot(t)
	require.NoError(t, b.Trigger("rank", []byte(`1`)))
	require.NoError(t, b.Trigger("setPermissions", []byte(`{"oplaylistadd":0,"playlistadd":2,"addnontemp":0}`)))

	// Locked playlists switch to the non-open permission set.
	require.NoError(t, b.Trigger("setPlaylistLocked", []byte(`true`)))
	_, err := b.AddMedia(context.Background(), MediaLink{Type: "yt", ID: "x"}, true, false)
	require.ErrorIs(t, err, ErrPermission)

	require.NoError(t, b.Trigger("setPlaylistLocked", []byte(`false`)))
	_, err = b.AddMedia(context.Background(), MediaLink{Type: "yt", ID: "x"}, true, false)
	require.ErrorIs(t, err, ErrChannel)
	assert.Contains(t, err.Error(), "not connected", "permission check passed, only the dial is missing")
}

func TestBotRemoveMediaUnknownUID(t *testing.T) {
	b := newTestBot(t)
	require.NoError(t, b.Trigger("rank", []byte(`2`)))
	require.NoError(t, b.Trigger("setPermissions", []byte(`{"oplaylistdelete":0,"oplaylistmove":0}`)))
	require.NoError(t, b.Trigger("playlist", []byte(`[
		{"uid":1,"temp":false,"queueby":"bot","media":{"type":"yt","id":"a","title":"a","seconds":1}}
	]`)))

	err := b.RemoveMedia(context.Background(), 99)
	require.ErrorIs(t, err, ErrChannel)
	assert.Contains(t, err.Error(), "unknown playlist item")

	err = b.MoveMedia(context.Background(), 99, 1)
	require.ErrorIs(t, err, ErrChannel)
	assert.Contains(t, err.Error(), "unknown playlist item")

	// A known uid gets past the local check and fails only on the
	// missing connection.
	err = b.RemoveMedia(context.Background(), 1)
	require.ErrorIs(t, err, ErrChannel)
	assert.Contains(t, err.Error(), "not connected")
}

func TestBotChatPermissionDenied(t *testing.T) {
	b := newTestBot(t)
	require.NoError(t, b.Trigger("setPermissions", []byte(`{"chat":2}`)))
	require.NoError(t, b.Trigger("rank", []byte(`0`)))
	_, err := b.Chat(context.Background(), "nope", nil)
	assert.ErrorIs(t, err, ErrPermission)
}

func TestBotChatMutedDenied(t *testing.T) {
	b := newTestBot(t)
	require.NoError(t, b.Trigger("setPermissions", []byte(`{"chat":0}`)))
	require.NoError(t, b.Trigger("rank", []byte(`1`)))
	require.NoError(t, b.Trigger("userlist", []byte(`[{"name":"bot","rank":1,"meta":{"muted":true}}]`)))
	_, err := b.Chat(context.Background(), "nope", nil)
	require.ErrorIs(t, err, ErrPermission)
	assert.Contains(t, err.Error(), "muted")
}

func TestBotKickRequiresOutranking(t *testing.T) {
	b := newTestBot(t)
	require.NoError(t, b.Trigger("setPermissions", []byte(`{"kick":1}`)))
	require.NoError(t, b.Trigger("userlist", []byte(`[
		{"name":"bot","rank":2,"meta":{}},
		{"name":"boss","rank":3,"meta":{}}
	]`)))

	err := b.Kick(context.Background(), "boss", "no")
	require.ErrorIs(t, err, ErrPermission)

	err = b.Kick(context.Background(), "ghost", "no")
	require.ErrorIs(t, err, ErrChannel)
}

func TestBotPauseRequiresLeadership(t *testing.T) {
	b := newTestBot(t)
	require.NoError(t, b.Trigger("userlist", []byte(`[{"name":"bot","rank":2,"meta":{}}]`)))
	err := b.Pause(context.Background())
	require.ErrorIs(t, err, ErrPermission)
	assert.Contains(t, err.Error(), "leader")
}
