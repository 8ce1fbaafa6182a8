// internal/game/session_store.go
package game

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionStore holds every live MatchSession in memory, keyed by session id.
// Lock order is store before session; sessions never call back into the store
// while holding their own lock.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*MatchSession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[uuid.UUID]*MatchSession),
	}
}

// Add registers a session. A taken id yields ErrPairingConflict.
func (s *SessionStore) Add(session *MatchSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return ErrPairingConflict
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *SessionStore) Get(id uuid.UUID) (*MatchSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, exists := s.sessions[id]
	return session, exists
}

func (s *SessionStore) Delete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// ActiveSessionFor returns the Active session playerID participates in, if any.
func (s *SessionStore) ActiveSessionFor(playerID uuid.UUID) (*MatchSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range s.sessions {
		if session.HasPlayer(playerID) && session.IsActive() {
			return session, true
		}
	}
	return nil, false
}

// Completed returns every session in the store that has completed.
func (s *SessionStore) Completed() []*MatchSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	var completed []*MatchSession
	for _, session := range s.sessions {
		if _, done := session.CompletedAt(); done {
			completed = append(completed, session)
		}
	}
	return completed
}

// ReapCompleted removes and returns sessions that completed before cutoff.
// Sessions for which keep reports true stay in the store; keep may be nil.
func (s *SessionStore) ReapCompleted(cutoff time.Time, keep func(*MatchSession) bool) []*MatchSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reaped []*MatchSession
	for id, session := range s.sessions {
		if at, done := session.CompletedAt(); done && at.Before(cutoff) {
			if keep != nil && keep(session) {
				continue
			}
			delete(s.sessions, id)
			reaped = append(reaped, session)
		}
	}
	return reaped
}

// ReapIdle removes and returns Active sessions with no mutation since cutoff.
func (s *SessionStore) ReapIdle(cutoff time.Time) []*MatchSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reaped []*MatchSession
	for id, session := range s.sessions {
		if session.IsActive() && session.LastActivity().Before(cutoff) {
			delete(s.sessions, id)
			reaped = append(reaped, session)
		}
	}
	return reaped
}
