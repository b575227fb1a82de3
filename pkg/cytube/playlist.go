package cytube

import (
	"encoding/json"
	"fmt"
)

// PlaylistItem is one queue entry. UID is the server-assigned handle
// used by every mutation; Duration is in seconds.
type PlaylistItem struct {
	UID      int64
	Temp     bool
	QueuedBy string
	Title    string
	Duration int
	Link     MediaLink
}

// UnmarshalJSON decodes the wire shape, which nests the media fields.
func (it *PlaylistItem) UnmarshalJSON(b []byte) error {
	var raw struct {
		UID      int64  `json:"uid"`
		Temp     bool   `json:"temp"`
		QueuedBy string `json:"queueby"`
		Media    struct {
			Type    string `json:"type"`
			ID      string `json:"id"`
			Title   string `json:"title"`
			Seconds int    `json:"seconds"`
		} `json:"media"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	it.UID = raw.UID
	it.Temp = raw.Temp
	it.QueuedBy = raw.QueuedBy
	it.Title = raw.Media.Title
	it.Duration = raw.Media.Seconds
	it.Link = MediaLink{Type: raw.Media.Type, ID: raw.Media.ID}
	return nil
}

// Playlist mirrors the channel queue and playback position. It is not
// safe for concurrent use; the session serializes access.
type Playlist struct {
	items   []*PlaylistItem
	current *PlaylistItem

	// Time is the total queue duration in seconds as reported by the
	// server; CurrentTime is the playback offset within the current
	// item.
	Time        int
	CurrentTime float64
	Paused      bool
	Locked      bool
}

// NewPlaylist returns an empty, paused playlist.
func NewPlaylist() *Playlist {
	return &Playlist{Paused: true}
}

// Items returns the queue in playback order.
func (p *Playlist) Items() []*PlaylistItem {
	return p.items
}

// Len reports the queue length.
func (p *Playlist) Len() int {
	return len(p.items)
}

// Current returns the playing item, or nil when nothing is queued up.
func (p *Playlist) Current() *PlaylistItem {
	return p.current
}

func (p *Playlist) index(uid int64) (int, error) {
	for i, it := range p.items {
		if it.UID == uid {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown playlist item %d", ErrChannel, uid)
}

// Get looks up an item by uid.
func (p *Playlist) Get(uid int64) (*PlaylistItem, error) {
	i, err := p.index(uid)
	if err != nil {
		return nil, err
	}
	return p.items[i], nil
}

// Append adds an item to the end of the queue.
func (p *Playlist) Append(it *PlaylistItem) {
	p.items = append(p.items, it)
}

// Prepend adds an item to the front of the queue.
func (p *Playlist) Prepend(it *PlaylistItem) {
	p.items = append([]*PlaylistItem{it}, p.items...)
}

// InsertAfter places an item directly after the entry with uid after.
func (p *Playlist) InsertAfter(after int64, it *PlaylistItem) error {
	i, err := p.index(after)
	if err != nil {
		return err
	}
	p.items = append(p.items, nil)
	copy(p.items[i+2:], p.items[i+1:])
	p.items[i+1] = it
	return nil
}

// Remove drops the entry with the given uid. Removing the current item
// resets playback: no current item, offset zero, paused.
func (p *Playlist) Remove(uid int64) error {
	i, err := p.index(uid)
	if err != nil {
		return err
	}
	if p.current == p.items[i] {
		p.current = nil
		p.CurrentTime = 0
		p.Paused = true
	}
	p.items = append(p.items[:i], p.items[i+1:]...)
	return nil
}

// Move relocates uid to directly after the entry with uid after. It is
// a remove followed by an insert, so moving the current item resets
// playback the same way Remove does.
func (p *Playlist) Move(uid, after int64) error {
	it, err := p.Get(uid)
	if err != nil {
		return err
	}
	if uid == after {
		return nil
	}
	if _, err := p.index(after); err != nil {
		return err
	}
	if err := p.Remove(uid); err != nil {
		return err
	}
	return p.InsertAfter(after, it)
}

// SetCurrent marks the entry with the given uid as playing.
func (p *Playlist) SetCurrent(uid int64) error {
	it, err := p.Get(uid)
	if err != nil {
		return err
	}
	p.current = it
	return nil
}

// Clear empties the queue and resets playback. The lock flag is channel
// policy, not queue content, so it survives.
func (p *Playlist) Clear() {
	p.items = nil
	p.current = nil
	p.Time = 0
	p.CurrentTime = 0
	p.Paused = true
}
