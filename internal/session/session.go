// Package session implements the in-memory session table described in
// spec.md §4.7: token → {username, last_accessed}, snapshotted to JSON on
// graceful shutdown and restored on boot.
package session

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session is the record kept for one issued token.
type Session struct {
	Username     string    `json:"username"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Store is a mutex-guarded token → Session map (spec.md §5 "the session
// map: mutex-protected; read + write are both short").
type Store struct {
	mu       sync.Mutex
	sessions map[string]Session
}

// New returns an empty session store.
func New() *Store {
	return &Store{sessions: make(map[string]Session)}
}

// Insert mints a fresh opaque token for username and registers it.
func (s *Store) Insert(username string) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.sessions[token] = Session{Username: username, LastAccessed: time.Now().UTC()}
	s.mu.Unlock()
	return token
}

// Get looks up token, touching its last_accessed time on a hit.
func (s *Store) Get(token string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return Session{}, false
	}
	sess.LastAccessed = time.Now().UTC()
	s.sessions[token] = sess
	return sess, true
}

// Clear empties the session table (spec.md §3's "clear_sessions" on
// client connect).
func (s *Store) Clear() {
	s.mu.Lock()
	s.sessions = make(map[string]Session)
	s.mu.Unlock()
}

// Snapshot returns a copy of the current token → Session map.
func (s *Store) Snapshot() map[string]Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]Session, len(s.sessions))
	for token, sess := range s.sessions {
		out[token] = sess
	}
	return out
}

// Replace swaps in a new token → Session map wholesale, used when
// restoring from a snapshot file at boot.
func (s *Store) Replace(sessions map[string]Session) {
	s.mu.Lock()
	s.sessions = sessions
	s.mu.Unlock()
}

// SaveToFile writes a JSON snapshot of the session table to path, the
// graceful-shutdown persistence path of spec.md §5.
func (s *Store) SaveToFile(path string) error {
	raw, err := json.Marshal(s.Snapshot())
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o600)
}

// LoadFromFile restores a session table from path. A missing or corrupt
// file is logged and an empty table is returned rather than an error,
// per spec.md §7's "corrupt sessions file is logged and an empty session
// map is installed".
func LoadFromFile(path string) *Store {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("no session snapshot found, starting with empty session table", "path", path)
		return New()
	} else if err != nil {
		slog.Warn("reading session snapshot failed, starting with empty session table", "path", path, "error", err)
		return New()
	}

	var sessions map[string]Session
	if err := json.Unmarshal(raw, &sessions); err != nil {
		slog.Warn("session snapshot file is corrupt, starting with empty session table", "path", path, "error", err)
		return New()
	}
	return &Store{sessions: sessions}
}
