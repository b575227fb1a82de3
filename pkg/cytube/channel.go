package cytube

import (
	"encoding/json"
	"errors"
	"fmt"
)

// RankPrecision is the slack applied to rank comparisons. Server ranks
// are floats and permission thresholds like 1.5 sit between integer
// ranks, so comparisons tolerate float noise below this epsilon.
const RankPrecision = 1e-4

// Emote is one channel emote definition.
type Emote struct {
	Name  string `json:"name"`
	Image string `json:"image"`
	// Source is the escaped regex the server matches in chat.
	Source string `json:"source"`
}

// Channel aggregates everything the server pushes about one room. It
// is not safe for concurrent use; the session serializes access.
type Channel struct {
	Name     string
	Password string

	MOTD string
	CSS  string
	JS   string

	DrinkCount    int
	VoteskipCount int
	VoteskipNeed  int

	// Permissions maps action names to the minimum rank allowed to
	// perform them.
	Permissions map[string]float64
	Options     map[string]json.RawMessage
	Emotes      []Emote

	Userlist *UserList
	Playlist *Playlist
}

// NewChannel builds an empty channel shell; state fills in as the
// server replays it after join.
func NewChannel(name, password string) *Channel {
	return &Channel{
		Name:        name,
		Password:    password,
		Permissions: make(map[string]float64),
		Options:     make(map[string]json.RawMessage),
		Userlist:    NewUserList(),
		Playlist:    NewPlaylist(),
	}
}

// CheckPermission reports whether u may perform the named action. A
// missing action is a hard error; an insufficient rank wraps
// ErrPermission. The comparison fails only when the rank is below the
// threshold by more than RankPrecision.
func (c *Channel) CheckPermission(action string, u *User) error {
	min, ok := c.Permissions[action]
	if !ok {
		return fmt.Errorf("%w: unknown action %q", ErrChannel, action)
	}
	if u.Rank+RankPrecision < min {
		return fmt.Errorf("%w: %s: %s has rank %.2f, needs %.2f",
			ErrPermission, action, u.Name, u.Rank, min)
	}
	return nil
}

// HasPermission is CheckPermission as a boolean; only a permission
// denial maps to false, other failures pass through as errors.
func (c *Channel) HasPermission(action string, u *User) (bool, error) {
	err := c.CheckPermission(action, u)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrPermission):
		return false, nil
	default:
		return false, err
	}
}
