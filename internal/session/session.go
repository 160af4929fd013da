package session

import (
	"sync"

	"github.com/wtchat/wtchat/internal/bus"
)

// Session holds the current identity: the logged-in user id and the opaque
// token the server issued at login. It is the single source the API client
// reads credentials from, and the single place they are torn down when the
// server answers 401 or the user logs out.
type Session struct {
	name string
	bus  *bus.Bus

	mu     sync.RWMutex
	userID int64
	token  string
}

// New creates an unauthenticated session. Events are published on b, which
// may be nil.
func New(name string, b *bus.Bus) *Session {
	return &Session{name: name, bus: b}
}

// Name returns the session name.
func (s *Session) Name() string {
	return s.name
}

// Establish stores the identity returned by a successful login.
func (s *Session) Establish(userID int64, token string) {
	s.mu.Lock()
	s.userID = userID
	s.token = token
	s.mu.Unlock()
	if s.bus != nil {
		s.bus.Publish(bus.KindSessionEstablished, map[string]int64{"user_id": userID})
	}
}

// Token returns the current auth token, and whether one is held.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// UserID returns the logged-in user id, or zero when unauthenticated.
func (s *Session) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Active reports whether the session holds credentials.
func (s *Session) Active() bool {
	_, ok := s.Token()
	return ok
}

// Invalidate drops the held credentials, removes the persisted copy, and
// publishes a session.invalidated event. Repeated calls after the first are
// no-ops, so a burst of 401 responses produces a single event.
func (s *Session) Invalidate(reason string) {
	s.mu.Lock()
	wasActive := s.token != ""
	s.userID = 0
	s.token = ""
	s.mu.Unlock()
	if !wasActive {
		return
	}
	// The server rejected or retired this token; a later invocation must not
	// reload it from disk and fail the same way.
	_ = s.ClearCredentials()
	if s.bus != nil {
		s.bus.Publish(bus.KindSessionInvalidated, map[string]string{"reason": reason})
	}
}
