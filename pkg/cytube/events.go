package cytube

import (
	"encoding/json"
	"fmt"
)

// Built-in handlers keep Channel in sync with the server's push
// events. They register before any user handler so state is current by
// the time user code observes an event.

type userData struct {
	Name    string      `json:"name"`
	Rank    float64     `json:"rank"`
	Profile UserProfile `json:"profile"`
	Meta    UserMeta    `json:"meta"`
}

func (b *Bot) registerStateHandlers() {
	b.On("rank", b.onRank)
	b.On("setMotd", b.onSetMOTD)
	b.On("channelCSSJS", b.onChannelCSSJS)
	b.On("channelOpts", b.onChannelOpts)
	b.On("setPermissions", b.onSetPermissions)
	b.On("emoteList", b.onEmoteList)
	b.On("drinkCount", b.onDrinkCount)
	b.On("usercount", b.onUsercount)
	b.On("needPassword", b.onNeedPassword)
	b.On("noflood", b.onServerError)
	b.On("errorMsg", b.onServerError)
	b.On("queueFail", b.onServerError)
	b.On("kick", b.onKick)
	b.On("userlist", b.onUserlist)
	b.On("addUser", b.onAddUser)
	b.On("userLeave", b.onUserLeave)
	b.On("setUserMeta", b.onSetUserMeta)
	b.On("setUserRank", b.onSetUserRank)
	b.On("setAFK", b.onSetUserAFK)
	b.On("setLeader", b.onSetLeader)
	b.On("setPlaylistMeta", b.onSetPlaylistMeta)
	b.On("mediaUpdate", b.onMediaUpdate)
	b.On("voteskip", b.onVoteskip)
	b.On("setCurrent", b.onSetCurrent)
	b.On("queue", b.onQueue)
	b.On("delete", b.onDelete)
	b.On("setTemp", b.onSetTemp)
	b.On("moveVideo", b.onMoveVideo)
	b.On("playlist", b.onPlaylist)
	b.On("setPlaylistLocked", b.onSetPlaylistLocked)
}

func (b *Bot) onRank(_ string, data json.RawMessage) error {
	var rank float64
	if err := json.Unmarshal(data, &rank); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.user.Rank = rank
	return nil
}

func (b *Bot) onSetMOTD(_ string, data json.RawMessage) error {
	var motd string
	if err := json.Unmarshal(data, &motd); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.channel.MOTD = motd
	return nil
}

func (b *Bot) onChannelCSSJS(_ string, data json.RawMessage) error {
	var css struct {
		CSS string `json:"css"`
		JS  string `json:"js"`
	}
	if err := json.Unmarshal(data, &css); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.channel.CSS = css.CSS
	b.channel.JS = css.JS
	return nil
}

func (b *Bot) onChannelOpts(_ string, data json.RawMessage) error {
	var opts map[string]json.RawMessage
	if err := json.Unmarshal(data, &opts); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.channel.Options = opts
	return nil
}

func (b *Bot) onSetPermissions(_ string, data json.RawMessage) error {
	var perms map[string]float64
	if err := json.Unmarshal(data, &perms); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.channel.Permissions = perms
	return nil
}

func (b *Bot) onEmoteList(_ string, data json.RawMessage) error {
	var emotes []Emote
	if err := json.Unmarshal(data, &emotes); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.channel.Emotes = emotes
	return nil
}

func (b *Bot) onDrinkCount(_ string, data json.RawMessage) error {
	var count int
	if err := json.Unmarshal(data, &count); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.channel.DrinkCount = count
	return nil
}

func (b *Bot) onUsercount(_ string, data json.RawMessage) error {
	var count int
	if err := json.Unmarshal(data, &count); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.channel.Userlist.Count = count
	return nil
}

func (b *Bot) onNeedPassword(_ string, data json.RawMessage) error {
	var need bool
	if err := json.Unmarshal(data, &need); err == nil && !need {
		return nil
	}
	return fmt.Errorf("%w: invalid channel password", ErrLogin)
}

func (b *Bot) onServerError(event string, data json.RawMessage) error {
	b.log.Error().Str("event", event).RawJSON("data", data).Msg("server error")
	return nil
}

func (b *Bot) onKick(_ string, data json.RawMessage) error {
	return fmt.Errorf("%w: %s", ErrKicked, data)
}

func (b *Bot) addUser(d userData) {
	u := NewUser(d.Name, "")
	if d.Name == b.user.Name {
		u = b.user
	}
	u.Rank = d.Rank
	u.Profile = d.Profile
	u.applyMeta(d.Meta)
	b.channel.Userlist.Add(u)
}

func (b *Bot) onUserlist(_ string, data json.RawMessage) error {
	var users []userData
	if err := json.Unmarshal(data, &users); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.channel.Userlist.Clear()
	for _, u := range users {
		b.addUser(u)
	}
	b.log.Info().Int("users", b.channel.Userlist.Len()).Msg("userlist replaced")
	return nil
}

func (b *Bot) onAddUser(_ string, data json.RawMessage) error {
	var u userData
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.addUser(u)
	b.log.Info().Str("user", u.Name).Msg("user joined")
	return nil
}

func (b *Bot) onUserLeave(_ string, data json.RawMessage) error {
	var u struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &u); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	if !b.channel.Userlist.Remove(u.Name) {
		b.log.Warn().Str("user", u.Name).Msg("leave for unknown user")
		return nil
	}
	b.log.Info().Str("user", u.Name).Msg("user left")
	return nil
}

func (b *Bot) onSetUserMeta(_ string, data json.RawMessage) error {
	var d struct {
		Name string   `json:"name"`
		Meta UserMeta `json:"meta"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	// The server occasionally sends blank names; they carry nothing.
	if d.Name == "" {
		return nil
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	u, ok := b.channel.Userlist.Get(d.Name)
	if !ok {
		b.log.Warn().Str("user", d.Name).Msg("meta for unknown user")
		return nil
	}
	u.applyMeta(d.Meta)
	return nil
}

func (b *Bot) onSetUserRank(_ string, data json.RawMessage) error {
	var d struct {
		Name string  `json:"name"`
		Rank float64 `json:"rank"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	if d.Name == "" {
		return nil
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	u, ok := b.channel.Userlist.Get(d.Name)
	if !ok {
		b.log.Warn().Str("user", d.Name).Msg("rank for unknown user")
		return nil
	}
	u.Rank = d.Rank
	return nil
}

func (b *Bot) onSetUserAFK(_ string, data json.RawMessage) error {
	var d struct {
		Name string `json:"name"`
		AFK  bool   `json:"afk"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	if d.Name == "" {
		return nil
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	u, ok := b.channel.Userlist.Get(d.Name)
	if !ok {
		b.log.Warn().Str("user", d.Name).Msg("afk for unknown user")
		return nil
	}
	u.AFK = d.AFK
	return nil
}

func (b *Bot) onSetLeader(_ string, data json.RawMessage) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.channel.Userlist.SetLeader(name)
	b.log.Info().Str("leader", name).Msg("leader changed")
	return nil
}

func (b *Bot) onSetPlaylistMeta(_ string, data json.RawMessage) error {
	var d struct {
		RawTime int `json:"rawTime"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.channel.Playlist.Time = d.RawTime
	return nil
}

func (b *Bot) onMediaUpdate(_ string, data json.RawMessage) error {
	var d struct {
		CurrentTime float64 `json:"currentTime"`
		Paused      *bool   `json:"paused"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.channel.Playlist.CurrentTime = d.CurrentTime
	b.channel.Playlist.Paused = d.Paused == nil || *d.Paused
	return nil
}

func (b *Bot) onVoteskip(_ string, data json.RawMessage) error {
	var d struct {
		Count int `json:"count"`
		Need  int `json:"need"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.channel.VoteskipCount = d.Count
	b.channel.VoteskipNeed = d.Need
	return nil
}

func (b *Bot) onSetCurrent(_ string, data json.RawMessage) error {
	var uid int64
	if err := json.Unmarshal(data, &uid); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.channel.Playlist.SetCurrent(uid)
}

func (b *Bot) onQueue(_ string, data json.RawMessage) error {
	var d struct {
		Item  *PlaylistItem   `json:"item"`
		After json.RawMessage `json:"after"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	if d.Item == nil {
		return fmt.Errorf("%w: queue event without item", ErrChannel)
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	var after int64
	if err := json.Unmarshal(d.After, &after); err == nil {
		return b.channel.Playlist.InsertAfter(after, d.Item)
	}
	var pos string
	if err := json.Unmarshal(d.After, &pos); err == nil && pos == "prepend" {
		b.channel.Playlist.Prepend(d.Item)
		return nil
	}
	b.channel.Playlist.Append(d.Item)
	return nil
}

func (b *Bot) onDelete(_ string, data json.RawMessage) error {
	var d struct {
		UID int64 `json:"uid"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.channel.Playlist.Remove(d.UID)
}

func (b *Bot) onSetTemp(_ string, data json.RawMessage) error {
	var d struct {
		UID  int64 `json:"uid"`
		Temp bool  `json:"temp"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	it, err := b.channel.Playlist.Get(d.UID)
	if err != nil {
		return err
	}
	it.Temp = d.Temp
	return nil
}

func (b *Bot) onMoveVideo(_ string, data json.RawMessage) error {
	var d struct {
		From  int64 `json:"from"`
		After int64 `json:"after"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.channel.Playlist.Move(d.From, d.After)
}

func (b *Bot) onPlaylist(_ string, data json.RawMessage) error {
	var items []*PlaylistItem
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.channel.Playlist.Clear()
	for _, it := range items {
		b.channel.Playlist.Append(it)
	}
	return nil
}

func (b *Bot) onSetPlaylistLocked(_ string, data json.RawMessage) error {
	var locked bool
	if err := json.Unmarshal(data, &locked); err != nil {
		return err
	}
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	b.channel.Playlist.Locked = locked
	return nil
}
