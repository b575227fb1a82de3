package cytube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cytube/pkg/socketio"
)

// Channel commands. Each one checks the mirrored permissions locally
// before emitting, then waits for the server event that confirms the
// action, bounded by the configured response timeout.

func (b *Bot) checkPermission(actions ...string) error {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	for _, action := range actions {
		if err := b.channel.CheckPermission(action, b.user); err != nil {
			return err
		}
	}
	return nil
}

func (b *Bot) checkNotMuted() error {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	if b.user.Muted || b.user.SMuted {
		return fmt.Errorf("%w: muted", ErrPermission)
	}
	return nil
}

// emitMatch sends event and waits for a confirming server event under
// the response timeout. Timeouts come back as ErrChannel so callers
// can keep the session alive.
func (b *Bot) emitMatch(ctx context.Context, event string, payload any, match func(socketio.Event) bool) (socketio.Event, error) {
	conn, err := b.connection()
	if err != nil {
		return socketio.Event{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, b.opts.ResponseTimeout)
	defer cancel()
	ev, err := conn.EmitMatch(ctx, event, payload, match)
	if errors.Is(err, context.DeadlineExceeded) {
		return socketio.Event{}, fmt.Errorf("%w: %s response timeout", ErrChannel, event)
	}
	return ev, err
}

func serverMessage(data json.RawMessage, fallback string) string {
	var d struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(data, &d) == nil && d.Msg != "" {
		return d.Msg
	}
	return fallback
}

// Chat sends a chat message and returns the echoed message payload.
// Flood control maps to ErrPermission.
func (b *Bot) Chat(ctx context.Context, msg string, meta map[string]any) (json.RawMessage, error) {
	if err := b.checkPermission("chat"); err != nil {
		return nil, err
	}
	if err := b.checkNotMuted(); err != nil {
		return nil, err
	}
	if meta == nil {
		meta = map[string]any{}
	}
	name := b.user.Name
	ev, err := b.emitMatch(ctx, "chatMsg", map[string]any{"msg": msg, "meta": meta},
		func(ev socketio.Event) bool {
			switch ev.Name {
			case "noflood":
				return true
			case "chatMsg":
				var d struct {
					Username string `json:"username"`
				}
				return json.Unmarshal(ev.Data, &d) == nil && d.Username == name
			}
			return false
		})
	if err != nil {
		return nil, err
	}
	if ev.Name == "noflood" {
		return nil, fmt.Errorf("%w: %s", ErrPermission, serverMessage(ev.Data, "noflood"))
	}
	return ev.Data, nil
}

// PM sends a private message and returns the echoed payload.
func (b *Bot) PM(ctx context.Context, to, msg string, meta map[string]any) (json.RawMessage, error) {
	if err := b.checkPermission("chat"); err != nil {
		return nil, err
	}
	if err := b.checkNotMuted(); err != nil {
		return nil, err
	}
	if meta == nil {
		meta = map[string]any{}
	}
	name := b.user.Name
	ev, err := b.emitMatch(ctx, "pm", map[string]any{"msg": msg, "to": to, "meta": meta},
		func(ev socketio.Event) bool {
			switch ev.Name {
			case "errorMsg":
				return true
			case "pm":
				var d struct {
					Username string `json:"username"`
					To       string `json:"to"`
				}
				return json.Unmarshal(ev.Data, &d) == nil && d.Username == name && d.To == to
			}
			return false
		})
	if err != nil {
		return nil, err
	}
	if ev.Name == "errorMsg" {
		return nil, fmt.Errorf("%w: %s", ErrChannel, serverMessage(ev.Data, "private message rejected"))
	}
	return ev.Data, nil
}

// SetAFK toggles the bot's away flag. A no-op when already in the
// requested state; the server has no absolute setter, only /afk.
func (b *Bot) SetAFK(ctx context.Context, value bool) error {
	b.stateMu.RLock()
	current := b.user.AFK
	b.stateMu.RUnlock()
	if current == value {
		return nil
	}
	conn, err := b.connection()
	if err != nil {
		return err
	}
	return conn.Emit("chatMsg", map[string]any{"msg": "/afk"})
}

// ClearChat wipes the channel chat buffer.
func (b *Bot) ClearChat(ctx context.Context) error {
	if err := b.checkPermission("chatclear"); err != nil {
		return err
	}
	conn, err := b.connection()
	if err != nil {
		return err
	}
	return conn.Emit("chatMsg", map[string]any{"msg": "/clear"})
}

// Kick removes a user from the channel. The target must be present and
// outranked by the bot.
func (b *Bot) Kick(ctx context.Context, name, reason string) error {
	if err := b.checkPermission("kick"); err != nil {
		return err
	}
	b.stateMu.RLock()
	target, ok := b.channel.Userlist.Get(name)
	var outranked bool
	if ok {
		outranked = b.user.Rank > target.Rank
	}
	b.stateMu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: no such user %q", ErrChannel, name)
	}
	if !outranked {
		return fmt.Errorf("%w: cannot kick %s: not outranked", ErrPermission, name)
	}

	ev, err := b.emitMatch(ctx, "chatMsg", map[string]any{
		"msg":  fmt.Sprintf("/kick %s %s", name, reason),
		"meta": map[string]any{},
	}, func(ev socketio.Event) bool {
		switch ev.Name {
		case "errorMsg":
			return true
		case "userLeave":
			var d struct {
				Name string `json:"name"`
			}
			return json.Unmarshal(ev.Data, &d) == nil && d.Name == name
		}
		return false
	})
	if err != nil {
		return err
	}
	if ev.Name == "errorMsg" {
		return fmt.Errorf("%w: %s", ErrPermission, serverMessage(ev.Data, "kick rejected"))
	}
	return nil
}

// AddMedia queues a media link and returns the created playlist item
// payload. With appendEnd false the item lands after the current one;
// temp items leave the playlist once played.
func (b *Bot) AddMedia(ctx context.Context, link MediaLink, appendEnd, temp bool) (json.RawMessage, error) {
	b.stateMu.RLock()
	locked := b.channel.Playlist.Locked
	b.stateMu.RUnlock()

	// Unlocked playlists use the open (o-prefixed) permission set.
	action := "oplaylist"
	if locked {
		action = "playlist"
	}
	checks := []string{action + "add"}
	if !appendEnd {
		checks = append(checks, action+"next")
	}
	if !temp {
		checks = append(checks, "addnontemp")
	}
	if err := b.checkPermission(checks...); err != nil {
		return nil, err
	}

	pos := "end"
	if !appendEnd {
		pos = "next"
	}
	name := b.user.Name
	ev, err := b.emitMatch(ctx, "queue", map[string]any{
		"type": link.Type,
		"id":   link.ID,
		"pos":  pos,
		"temp": temp,
	}, func(ev socketio.Event) bool {
		switch ev.Name {
		case "queueFail":
			return true
		case "queue":
			var d struct {
				Item struct {
					QueuedBy string `json:"queueby"`
					Media    struct {
						Type string `json:"type"`
						ID   string `json:"id"`
					} `json:"media"`
				} `json:"item"`
			}
			return json.Unmarshal(ev.Data, &d) == nil &&
				d.Item.QueuedBy == name &&
				d.Item.Media.Type == link.Type &&
				d.Item.Media.ID == link.ID
		}
		return false
	})
	if err != nil {
		return nil, err
	}
	if ev.Name == "queueFail" {
		return nil, fmt.Errorf("%w: %s", ErrChannel, serverMessage(ev.Data, "queue failed"))
	}
	return ev.Data, nil
}

// AddMediaURL parses a provider URL and queues it.
func (b *Bot) AddMediaURL(ctx context.Context, rawURL string, appendEnd, temp bool) (json.RawMessage, error) {
	link, err := ParseMediaURL(rawURL)
	if err != nil {
		return nil, err
	}
	return b.AddMedia(ctx, link, appendEnd, temp)
}

func (b *Bot) playlistAction(suffix string) string {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	if b.channel.Playlist.Locked {
		return "playlist" + suffix
	}
	return "oplaylist" + suffix
}

// lookupItem verifies uid against the mirrored playlist, failing fast
// before a doomed round trip.
func (b *Bot) lookupItem(uid int64) error {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	_, err := b.channel.Playlist.Get(uid)
	return err
}

// RemoveMedia deletes a playlist item by uid.
func (b *Bot) RemoveMedia(ctx context.Context, uid int64) error {
	if err := b.checkPermission(b.playlistAction("delete")); err != nil {
		return err
	}
	if err := b.lookupItem(uid); err != nil {
		return err
	}
	_, err := b.emitMatch(ctx, "delete", uid, func(ev socketio.Event) bool {
		if ev.Name != "delete" {
			return false
		}
		var d struct {
			UID int64 `json:"uid"`
		}
		return json.Unmarshal(ev.Data, &d) == nil && d.UID == uid
	})
	return err
}

// MoveMedia relocates uid to directly after another item.
func (b *Bot) MoveMedia(ctx context.Context, uid, after int64) error {
	if err := b.checkPermission(b.playlistAction("move")); err != nil {
		return err
	}
	if err := b.lookupItem(uid); err != nil {
		return err
	}
	_, err := b.emitMatch(ctx, "moveMedia", map[string]any{
		"from":  uid,
		"after": after,
	}, func(ev socketio.Event) bool {
		if ev.Name != "moveVideo" {
			return false
		}
		var d struct {
			From  int64 `json:"from"`
			After int64 `json:"after"`
		}
		return json.Unmarshal(ev.Data, &d) == nil && d.From == uid && d.After == after
	})
	return err
}

// SetCurrentMedia jumps playback to the item with the given uid.
func (b *Bot) SetCurrentMedia(ctx context.Context, uid int64) error {
	if err := b.checkPermission(b.playlistAction("jump")); err != nil {
		return err
	}
	_, err := b.emitMatch(ctx, "jumpTo", uid, func(ev socketio.Event) bool {
		if ev.Name != "setCurrent" {
			return false
		}
		var got int64
		return json.Unmarshal(ev.Data, &got) == nil && got == uid
	})
	return err
}

// SetLeader hands playback control to the named user. An empty name
// returns control to the server.
func (b *Bot) SetLeader(ctx context.Context, name string) error {
	if err := b.checkPermission("leaderctl"); err != nil {
		return err
	}
	if name != "" {
		b.stateMu.RLock()
		_, ok := b.channel.Userlist.Get(name)
		b.stateMu.RUnlock()
		if !ok {
			return fmt.Errorf("%w: no such user %q", ErrChannel, name)
		}
	}
	_, err := b.emitMatch(ctx, "assignLeader", map[string]string{"name": name},
		func(ev socketio.Event) bool {
			if ev.Name != "setLeader" {
				return false
			}
			var got string
			return json.Unmarshal(ev.Data, &got) == nil && got == name
		})
	return err
}

// RemoveLeader returns playback control to the server.
func (b *Bot) RemoveLeader(ctx context.Context) error {
	return b.SetLeader(ctx, "")
}

// Pause stops playback at the current position. Only the leader can
// steer playback, so the bot must hold leadership.
func (b *Bot) Pause(ctx context.Context) error {
	b.stateMu.RLock()
	isLeader := b.channel.Userlist.Leader() == b.user
	current := b.channel.Playlist.Current()
	currentTime := b.channel.Playlist.CurrentTime
	b.stateMu.RUnlock()

	if !isLeader {
		return fmt.Errorf("%w: cannot pause: not the leader", ErrPermission)
	}
	if current == nil {
		return nil
	}
	conn, err := b.connection()
	if err != nil {
		return err
	}
	return conn.Emit("mediaUpdate", map[string]any{
		"currentTime": currentTime,
		"paused":      true,
		"id":          current.Link.ID,
		"type":        current.Link.Type,
	})
}
