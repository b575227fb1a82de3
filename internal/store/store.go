// Package store persists channel activity to SQLite. It hangs off the
// bot's event subscriptions like any other consumer; nothing in the
// client depends on it.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"cytube/pkg/cytube"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT NOT NULL,
	message TEXT NOT NULL,
	sent_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chat_log_sent_at ON chat_log(sent_at);

CREATE TABLE IF NOT EXISTS user_visits (
	username TEXT PRIMARY KEY,
	joins INTEGER NOT NULL DEFAULT 0,
	leaves INTEGER NOT NULL DEFAULT 0,
	last_seen INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS high_water (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	chat_users INTEGER NOT NULL,
	connected_users INTEGER NOT NULL,
	recorded_at INTEGER NOT NULL
);
`

type writeOp struct {
	run    func(*sql.DB) error
	result chan error
}

// Store is a SQLite-backed activity log. Writes funnel through a
// single goroutine; SQLite tolerates concurrent reads but not
// concurrent writers.
type Store struct {
	db     *sql.DB
	log    zerolog.Logger
	writes chan writeOp
	done   chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Open creates or opens the database at path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init store schema: %w", err)
	}
	s := &Store{
		db:     db,
		log:    log,
		writes: make(chan writeOp, 100),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.writeLoop()
	return s, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writes:
			op.result <- op.run(s.db)
		case <-s.done:
			// Drain what queued before shutdown.
			for {
				select {
				case op := <-s.writes:
					op.result <- op.run(s.db)
				default:
					return
				}
			}
		}
	}
}

func (s *Store) write(run func(*sql.DB) error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("store: closed")
	}
	s.mu.Unlock()
	op := writeOp{run: run, result: make(chan error, 1)}
	s.writes <- op
	return <-op.result
}

// Close flushes pending writes and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	close(s.done)
	s.wg.Wait()
	return s.db.Close()
}

// RecordChat appends one chat line.
func (s *Store) RecordChat(username, message string, at time.Time) error {
	return s.write(func(db *sql.DB) error {
		_, err := db.Exec(
			`INSERT INTO chat_log (username, message, sent_at) VALUES (?, ?, ?)`,
			username, message, at.Unix())
		return err
	})
}

// UserJoined bumps the join counter for a user.
func (s *Store) UserJoined(username string, at time.Time) error {
	return s.write(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO user_visits (username, joins, leaves, last_seen) VALUES (?, 1, 0, ?)
			ON CONFLICT(username) DO UPDATE SET joins = joins + 1, last_seen = excluded.last_seen`,
			username, at.Unix())
		return err
	})
}

// UserLeft bumps the leave counter for a user.
func (s *Store) UserLeft(username string, at time.Time) error {
	return s.write(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO user_visits (username, joins, leaves, last_seen) VALUES (?, 0, 1, ?)
			ON CONFLICT(username) DO UPDATE SET leaves = leaves + 1, last_seen = excluded.last_seen`,
			username, at.Unix())
		return err
	})
}

// UpdateHighWater records the population peak if it grew.
func (s *Store) UpdateHighWater(chatUsers, connectedUsers int, at time.Time) error {
	return s.write(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO high_water (id, chat_users, connected_users, recorded_at) VALUES (1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				chat_users = MAX(chat_users, excluded.chat_users),
				connected_users = MAX(connected_users, excluded.connected_users),
				recorded_at = excluded.recorded_at`,
			chatUsers, connectedUsers, at.Unix())
		return err
	})
}

// ChatLine is one persisted chat message.
type ChatLine struct {
	Username string
	Message  string
	SentAt   time.Time
}

// RecentChat returns the latest chat lines, newest first.
func (s *Store) RecentChat(limit int) ([]ChatLine, error) {
	rows, err := s.db.Query(
		`SELECT username, message, sent_at FROM chat_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ChatLine
	for rows.Next() {
		var line ChatLine
		var ts int64
		if err := rows.Scan(&line.Username, &line.Message, &ts); err != nil {
			return nil, err
		}
		line.SentAt = time.Unix(ts, 0)
		out = append(out, line)
	}
	return out, rows.Err()
}

// HighWater returns the recorded population peak.
func (s *Store) HighWater() (chatUsers, connectedUsers int, err error) {
	row := s.db.QueryRow(`SELECT chat_users, connected_users FROM high_water WHERE id = 1`)
	err = row.Scan(&chatUsers, &connectedUsers)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	return chatUsers, connectedUsers, err
}

// Attach subscribes the store to the bot's events. The returned
// function unsubscribes.
func (s *Store) Attach(bot *cytube.Bot) func() {
	chatSub := bot.On("chatMsg", func(_ string, data json.RawMessage) error {
		var d struct {
			Username string `json:"username"`
			Msg      string `json:"msg"`
		}
		if err := json.Unmarshal(data, &d); err != nil || d.Username == "" {
			return nil
		}
		if err := s.RecordChat(d.Username, d.Msg, time.Now()); err != nil {
			s.log.Error().Err(err).Msg("record chat")
		}
		return nil
	})
	joinSub := bot.On("addUser", func(_ string, data json.RawMessage) error {
		var d struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &d); err != nil || d.Name == "" {
			return nil
		}
		if err := s.UserJoined(d.Name, time.Now()); err != nil {
			s.log.Error().Err(err).Msg("record join")
		}
		return nil
	})
	leaveSub := bot.On("userLeave", func(_ string, data json.RawMessage) error {
		var d struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &d); err != nil || d.Name == "" {
			return nil
		}
		if err := s.UserLeft(d.Name, time.Now()); err != nil {
			s.log.Error().Err(err).Msg("record leave")
		}
		return nil
	})
	countSub := bot.On("usercount", func(_ string, data json.RawMessage) error {
		var connected int
		if err := json.Unmarshal(data, &connected); err != nil {
			return nil
		}
		var chatUsers int
		bot.State(func(c *cytube.Channel, _ *cytube.User) {
			chatUsers = c.Userlist.Len()
		})
		if err := s.UpdateHighWater(chatUsers, connected, time.Now()); err != nil {
			s.log.Error().Err(err).Msg("record high water")
		}
		return nil
	})
	return func() {
		bot.Off("chatMsg", chatSub)
		bot.Off("addUser", joinSub)
		bot.Off("userLeave", leaveSub)
		bot.Off("usercount", countSub)
	}
}
