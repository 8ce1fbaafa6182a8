// internal/matchmaking/queue.go
package matchmaking

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/memory-match/internal/game"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyQueued is returned when the player already has a waiting entry.
	ErrAlreadyQueued = errors.New("player already in queue")

	// ErrAlreadyInSession is returned when the player is in an Active session.
	ErrAlreadyInSession = errors.New("player already in a game")
)

// maxPairingAttempts bounds retries when the factory reports a taken session id.
const maxPairingAttempts = 3

// SessionFactory creates and registers a session for two players. players[0] is
// the resident entry and takes the first turn. It must return an error wrapping
// game.ErrPairingConflict when sessionID is already in use.
type SessionFactory func(sessionID uuid.UUID, players [2]uuid.UUID) (*game.MatchSession, error)

// SessionLookup reports the Active session a player participates in.
type SessionLookup interface {
	ActiveSessionFor(playerID uuid.UUID) (*game.MatchSession, bool)
}

// Match tells a waiting player which session they were paired into.
type Match struct {
	SessionID uuid.UUID `json:"sessionId"`
	Opponent  uuid.UUID `json:"opponent"`
}

// JoinResult is the outcome of Join. When Matched is false the caller is
// waiting; Wait delivers the Match once an opponent arrives, or is closed
// without a value if the entry is cancelled.
type JoinResult struct {
	Matched   bool
	SessionID uuid.UUID
	Opponent  uuid.UUID
	Wait      <-chan Match
}

type entry struct {
	playerID uuid.UUID
	joinedAt time.Time
	ready    chan Match
}

// QueueManager pairs waiting players two at a time, first come first served.
// Removal of the resident entry and creation of the session happen under one
// lock, so a player is never paired twice and Cancel never races a pairing.
type QueueManager struct {
	mu      sync.Mutex
	entries []*entry
	index   map[uuid.UUID]*entry

	sessions   SessionLookup
	newSession SessionFactory
	newID      func() uuid.UUID
	clock      clockwork.Clock
	logger     logrus.FieldLogger
}

// NewQueueManager returns an empty queue. sessions may be nil, in which case
// players are never rejected for being in a session.
func NewQueueManager(sessions SessionLookup, factory SessionFactory, logger logrus.FieldLogger) *QueueManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &QueueManager{
		index:      make(map[uuid.UUID]*entry),
		sessions:   sessions,
		newSession: factory,
		newID:      uuid.New,
		clock:      clockwork.NewRealClock(),
		logger:     logger,
	}
}

// Join enqueues playerID, or pairs it with the longest-waiting player.
func (q *QueueManager) Join(playerID uuid.UUID) (JoinResult, error) {
	if playerID == uuid.Nil {
		return JoinResult{}, fmt.Errorf("join queue: empty player id")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, queued := q.index[playerID]; queued {
		return JoinResult{}, ErrAlreadyQueued
	}
	if q.sessions != nil {
		if s, busy := q.sessions.ActiveSessionFor(playerID); busy {
			return JoinResult{SessionID: s.ID}, ErrAlreadyInSession
		}
	}

	if len(q.entries) == 0 {
		e := &entry{
			playerID: playerID,
			joinedAt: q.clock.Now(),
			ready:    make(chan Match, 1),
		}
		q.entries = append(q.entries, e)
		q.index[playerID] = e
		q.logger.WithField("player", playerID).Debug("player queued")
		return JoinResult{Wait: e.ready}, nil
	}

	resident := q.entries[0]
	q.entries = q.entries[1:]
	delete(q.index, resident.playerID)

	session, err := q.pairLocked([2]uuid.UUID{resident.playerID, playerID})
	if err != nil {
		// Put the resident back at the head so it keeps its place.
		q.entries = append([]*entry{resident}, q.entries...)
		q.index[resident.playerID] = resident
		return JoinResult{}, fmt.Errorf("pair %s with %s: %w", resident.playerID, playerID, err)
	}

	resident.ready <- Match{SessionID: session.ID, Opponent: playerID}
	close(resident.ready)

	q.logger.WithFields(logrus.Fields{
		"session": session.ID,
		"p1":      resident.playerID,
		"p2":      playerID,
		"waited":  q.clock.Since(resident.joinedAt).String(),
	}).Info("players paired")

	return JoinResult{
		Matched:   true,
		SessionID: session.ID,
		Opponent:  resident.playerID,
	}, nil
}

// pairLocked calls the factory, retrying with a fresh id on a conflicting one.
// Assumes mu is held.
func (q *QueueManager) pairLocked(players [2]uuid.UUID) (*game.MatchSession, error) {
	var lastErr error
	for attempt := 1; attempt <= maxPairingAttempts; attempt++ {
		session, err := q.newSession(q.newID(), players)
		if err == nil {
			return session, nil
		}
		lastErr = err
		if !errors.Is(err, game.ErrPairingConflict) {
			return nil, err
		}
		q.logger.WithField("attempt", attempt).Warn("session id conflict while pairing, retrying")
	}
	return nil, fmt.Errorf("no free session id after %d attempts: %v", maxPairingAttempts, lastErr)
}

// Cancel removes playerID's entry and reports whether one was removed.
func (q *QueueManager) Cancel(playerID uuid.UUID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.index[playerID]
	if !ok {
		return false
	}
	delete(q.index, playerID)
	for i, cur := range q.entries {
		if cur == e {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	close(e.ready)
	q.logger.WithField("player", playerID).Debug("queue entry cancelled")
	return true
}

// Status reports whether playerID is waiting, and since when.
func (q *QueueManager) Status(playerID uuid.UUID) (queued bool, joinedAt time.Time) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if e, ok := q.index[playerID]; ok {
		return true, e.joinedAt
	}
	return false, time.Time{}
}

// Len is the number of waiting players.
func (q *QueueManager) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
