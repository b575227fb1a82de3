package cytube

// UserProfile is the avatar and bio text attached to an account.
type UserProfile struct {
	Image string `json:"image"`
	Text  string `json:"text"`
}

// UserMeta carries the per-user flags the server sends alongside rank.
// IP is only present for moderators and is cloaked unless the viewer
// outranks the cloak level.
type UserMeta struct {
	AFK    bool   `json:"afk"`
	Muted  bool   `json:"muted"`
	SMuted bool   `json:"smuted"`
	IP     string `json:"ip,omitempty"`
}

// User is one channel member. Password is only meaningful for the
// bot's own identity and is never sent to other members.
type User struct {
	Name     string
	Password string
	Rank     float64
	AFK      bool
	Muted    bool
	SMuted   bool
	IP       string
	Profile  UserProfile
}

// NewUser builds a user with the given credentials. Rank and flags are
// filled in once the server announces the user.
func NewUser(name, password string) *User {
	return &User{Name: name, Password: password}
}

func (u *User) applyMeta(m UserMeta) {
	u.AFK = m.AFK
	u.Muted = m.Muted
	u.SMuted = m.SMuted
	if m.IP != "" {
		u.IP = m.IP
	}
}

// UserList tracks the members of a channel plus the current leader.
// It is not safe for concurrent use; the session serializes access.
type UserList struct {
	users  map[string]*User
	leader *User

	// Count is the server-reported connection count, which includes
	// anonymous viewers absent from the list itself.
	Count int
}

// NewUserList returns an empty list.
func NewUserList() *UserList {
	return &UserList{users: make(map[string]*User)}
}

// Add inserts or replaces a member, preserving leadership if the
// replaced entry held it.
func (l *UserList) Add(u *User) {
	if prev, ok := l.users[u.Name]; ok && l.leader == prev {
		l.leader = u
	}
	l.users[u.Name] = u
}

// Get looks up a member by name.
func (l *UserList) Get(name string) (*User, bool) {
	u, ok := l.users[name]
	return u, ok
}

// Remove drops a member. Removing the leader clears leadership.
func (l *UserList) Remove(name string) bool {
	u, ok := l.users[name]
	if !ok {
		return false
	}
	if l.leader == u {
		l.leader = nil
	}
	delete(l.users, name)
	return true
}

// Len reports the number of named members.
func (l *UserList) Len() int {
	return len(l.users)
}

// All returns the members in no particular order.
func (l *UserList) All() []*User {
	out := make([]*User, 0, len(l.users))
	for _, u := range l.users {
		out = append(out, u)
	}
	return out
}

// Leader returns the current leader, or nil when the server holds
// playback control.
func (l *UserList) Leader() *User {
	return l.leader
}

// SetLeader assigns leadership by name. An empty name returns control
// to the server. Unknown names still clear the previous leader so the
// list never points at a stale user.
func (l *UserList) SetLeader(name string) *User {
	if name == "" {
		l.leader = nil
		return nil
	}
	l.leader = l.users[name]
	return l.leader
}

// Clear empties the list, dropping leadership and the viewer count.
func (l *UserList) Clear() {
	l.users = make(map[string]*User)
	l.leader = nil
	l.Count = 0
}
