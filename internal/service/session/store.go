package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vtrenkov/chatrelay/internal/model/convo"
)

// Store maps conversation keys to AI-mode session state. A session exists
// exactly while its conversation is in AI mode; all methods treat an absent
// key as a valid negative result rather than an error.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*state
	memoryLimit int
	now         func() time.Time
}

type state struct {
	backend      string
	history      []convo.Turn
	lastActivity time.Time
}

// NewStore builds an empty store. memoryLimit is the number of exchange
// pairs retained, so history holds at most 2×memoryLimit turns.
func NewStore(memoryLimit int) *Store {
	return &Store{
		sessions:    make(map[string]*state),
		memoryLimit: memoryLimit,
		now:         time.Now,
	}
}

// Activate creates a session for key. Idempotent: an already-active session
// is returned untouched so activation can never clobber history or the
// backend choice. The second result reports whether a new session was made.
func (s *Store) Activate(key, backend string) (convo.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[key]; ok {
		return s.viewLocked(key, existing), false
	}

	st := &state{
		backend:      backend,
		lastActivity: s.now(),
	}
	s.sessions[key] = st
	return s.viewLocked(key, st), true
}

// Deactivate removes the session for key. No-op when absent.
func (s *Store) Deactivate(key string) {
	s.mu.Lock()
	delete(s.sessions, key)
	s.mu.Unlock()
}

// IsActive reports whether key has a session.
func (s *Store) IsActive(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[key]
	return ok
}

// Backend returns the backend tag chosen at activation.
func (s *Store) Backend(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.sessions[key]
	if !ok {
		return "", false
	}
	return st.backend, true
}

// Touch refreshes the activity timestamp. No-op when absent.
func (s *Store) Touch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.sessions[key]; ok {
		st.lastActivity = s.now()
	}
}

// AppendTurn appends one turn and trims history to the retention cap. No-op
// when the session was removed concurrently.
func (s *Store) AppendTurn(key string, role convo.Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sessions[key]
	if !ok {
		return
	}

	st.history = append(st.history, convo.Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		CreatedAt: s.now(),
	})

	if limit := 2 * s.memoryLimit; len(st.history) > limit {
		st.history = append(st.history[:0:0], st.history[len(st.history)-limit:]...)
	}
}

// Snapshot returns a copy of the session's history.
func (s *Store) Snapshot(key string) ([]convo.Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[key]
	if !ok {
		return nil, false
	}

	copied := make([]convo.Turn, len(st.history))
	copy(copied, st.history)
	return copied, true
}

// Get returns a read-only view of the session.
func (s *Store) Get(key string) (convo.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.sessions[key]
	if !ok {
		return convo.Session{}, false
	}
	return s.viewLocked(key, st), true
}

// ExpiredKeys returns every key idle longer than timeout as of now.
func (s *Store) ExpiredKeys(now time.Time, timeout time.Duration) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key, st := range s.sessions {
		if now.Sub(st.lastActivity) > timeout {
			keys = append(keys, key)
		}
	}
	return keys
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) viewLocked(key string, st *state) convo.Session {
	history := make([]convo.Turn, len(st.history))
	copy(history, st.history)
	return convo.Session{
		Key:          key,
		Backend:      st.backend,
		History:      history,
		LastActivity: st.lastActivity,
	}
}
