// internal/game/session.go
package game

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/memory-match/internal/models"
	"github.com/sirupsen/logrus"
)

// Status is the lifecycle state of a MatchSession.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Reason records why a session completed.
type Reason string

const (
	ReasonAllMatched         Reason = "all_matched"
	ReasonPlayerLeft         Reason = "player_left"
	ReasonPlayerDisconnected Reason = "player_disconnected"
)

// OnCompleteFunc receives the terminal snapshot of a session. It runs exactly once
// per session, after the session lock has been released.
type OnCompleteFunc func(snap Snapshot)

// Journal receives one record per session mutation, e.g. the Redis action queue.
type Journal interface {
	Record(rec models.SessionAction)
}

// subscriberBuffer is how many snapshots a subscriber may lag behind before
// older snapshots are replaced by newer ones.
const subscriberBuffer = 8

// MatchSession is the authoritative state of one two-player match.
// All mutations go through ApplyFlip and ForceComplete, which serialize on mu.
type MatchSession struct {
	ID        uuid.UUID
	Players   [2]uuid.UUID
	CreatedAt time.Time

	// OnComplete is invoked once the session reaches StatusCompleted.
	// Set it before the session is shared.
	OnComplete OnCompleteFunc

	// Journal, if set, receives every mutation. Set it before the session is shared.
	Journal Journal

	// Logger defaults to the logrus standard logger.
	Logger logrus.FieldLogger

	mu sync.Mutex

	board       []string
	flipped     []int
	matched     map[int]bool
	turn        uuid.UUID
	flipCounts  map[uuid.UUID]int
	status      Status
	winner      uuid.UUID
	reason      Reason
	completedAt time.Time
	lastReveal  *Reveal

	// version increments on every mutation so clients can apply latest-wins.
	version      uint64
	lastActivity time.Time

	subscribers map[int]chan Snapshot
	nextSubID   int

	now func() time.Time
}

// NewMatchSession builds an Active session. players[0] holds the first turn.
func NewMatchSession(id uuid.UUID, players [2]uuid.UUID, board []string) (*MatchSession, error) {
	if players[0] == uuid.Nil || players[1] == uuid.Nil {
		return nil, fmt.Errorf("session requires two players, got %v", players)
	}
	if players[0] == players[1] {
		return nil, fmt.Errorf("session requires two distinct players, got %s twice", players[0])
	}
	if err := ValidateBoard(board); err != nil {
		return nil, err
	}

	b := make([]string, len(board))
	copy(b, board)

	now := time.Now()
	return &MatchSession{
		ID:           id,
		Players:      players,
		CreatedAt:    now,
		Logger:       logrus.StandardLogger(),
		board:        b,
		flipped:      make([]int, 0, 2),
		matched:      make(map[int]bool, len(b)),
		turn:         players[0],
		flipCounts:   map[uuid.UUID]int{players[0]: 0, players[1]: 0},
		status:       StatusActive,
		lastActivity: now,
		subscribers:  make(map[int]chan Snapshot),
		now:          time.Now,
	}, nil
}

// ApplyFlip reveals the card at index for playerID. The second flip of a turn
// resolves the pair: a match keeps the turn, a mismatch passes it on.
func (s *MatchSession) ApplyFlip(playerID uuid.UUID, index int) (Snapshot, error) {
	s.mu.Lock()
	snap, completed, err := s.applyFlipLocked(playerID, index)
	s.mu.Unlock()
	if err != nil {
		return Snapshot{}, err
	}
	if completed {
		s.fireComplete(snap)
	}
	return snap, nil
}

// applyFlipLocked assumes mu is held.
func (s *MatchSession) applyFlipLocked(playerID uuid.UUID, index int) (Snapshot, bool, error) {
	if s.status == StatusCompleted {
		return Snapshot{}, false, ErrSessionCompleted
	}
	if !s.hasPlayer(playerID) {
		return Snapshot{}, false, ErrNotParticipant
	}
	if playerID != s.turn {
		return Snapshot{}, false, ErrNotYourTurn
	}
	if index < 0 || index >= len(s.board) {
		return Snapshot{}, false, fmt.Errorf("%w: %d is outside 0..%d", ErrInvalidIndex, index, len(s.board)-1)
	}
	if s.matched[index] {
		return Snapshot{}, false, fmt.Errorf("%w: %d is already matched", ErrInvalidIndex, index)
	}
	for _, f := range s.flipped {
		if f == index {
			return Snapshot{}, false, fmt.Errorf("%w: %d is already face up", ErrInvalidIndex, index)
		}
	}

	s.flipped = append(s.flipped, index)
	s.lastReveal = nil
	action := "flip"
	payload := map[string]interface{}{"index": index}
	completed := false

	if len(s.flipped) == 2 {
		i1, i2 := s.flipped[0], s.flipped[1]
		isMatch := s.board[i1] == s.board[i2]
		s.lastReveal = &Reveal{
			PlayerID: playerID,
			Indices:  [2]int{i1, i2},
			Symbols:  [2]string{s.board[i1], s.board[i2]},
			Matched:  isMatch,
		}
		s.flipped = s.flipped[:0]
		payload["pair"] = []int{i1, i2}

		if isMatch {
			s.matched[i1] = true
			s.matched[i2] = true
			s.flipCounts[playerID]++
			action = "match"
			completed = s.checkCompletionLocked()
		} else {
			s.turn = s.opponentOf(playerID)
			action = "mismatch"
		}
	}

	snap := s.commitLocked(playerID, action, payload)
	return snap, completed, nil
}

// checkCompletionLocked completes the session once every card is matched.
// The player with strictly more matches wins; equal counts are a draw.
// Assumes mu is held.
func (s *MatchSession) checkCompletionLocked() bool {
	if len(s.matched) != len(s.board) {
		return false
	}
	p1, p2 := s.Players[0], s.Players[1]
	switch {
	case s.flipCounts[p1] > s.flipCounts[p2]:
		s.winner = p1
	case s.flipCounts[p2] > s.flipCounts[p1]:
		s.winner = p2
	default:
		s.winner = uuid.Nil
	}
	s.completeLocked(ReasonAllMatched)
	return true
}

// ForceComplete ends an Active session in favour of the player other than loserID.
// On an already completed session it is a no-op and returns the terminal snapshot.
func (s *MatchSession) ForceComplete(reason Reason, loserID uuid.UUID) (Snapshot, error) {
	if reason != ReasonPlayerLeft && reason != ReasonPlayerDisconnected {
		return Snapshot{}, fmt.Errorf("invalid forfeit reason %q", reason)
	}

	s.mu.Lock()
	if s.status == StatusCompleted {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		return snap, nil
	}
	if !s.hasPlayer(loserID) {
		s.mu.Unlock()
		return Snapshot{}, ErrNotParticipant
	}

	s.winner = s.opponentOf(loserID)
	s.flipped = s.flipped[:0]
	s.completeLocked(reason)
	snap := s.commitLocked(loserID, "forfeit", map[string]interface{}{
		"reason": string(reason),
		"winner": s.winner.String(),
	})
	s.mu.Unlock()

	s.Logger.WithFields(logrus.Fields{
		"session": s.ID,
		"loser":   loserID,
		"reason":  reason,
	}).Info("session forfeited")
	s.fireComplete(snap)
	return snap, nil
}

// completeLocked flips the status to Completed. Assumes mu is held.
func (s *MatchSession) completeLocked(reason Reason) {
	s.status = StatusCompleted
	s.reason = reason
	s.completedAt = s.now()
}

// commitLocked bumps the version, journals the mutation and publishes the new
// snapshot to every subscriber. Assumes mu is held.
func (s *MatchSession) commitLocked(actorID uuid.UUID, action string, payload map[string]interface{}) Snapshot {
	s.version++
	s.lastActivity = s.now()
	snap := s.snapshotLocked()

	if s.Journal != nil {
		s.Journal.Record(models.SessionAction{
			SessionID:     s.ID,
			Version:       s.version,
			ActorUserID:   actorID,
			ActionType:    action,
			ActionPayload: payload,
			Timestamp:     s.lastActivity.UnixMilli(),
		})
	}

	for _, ch := range s.subscribers {
		deliver(ch, snap)
	}
	return snap
}

// fireComplete runs the completion hook outside the lock.
func (s *MatchSession) fireComplete(snap Snapshot) {
	s.Logger.WithFields(logrus.Fields{
		"session": s.ID,
		"winner":  snap.Winner,
		"draw":    snap.Draw,
		"reason":  snap.Reason,
	}).Info("session completed")
	if s.OnComplete != nil {
		s.OnComplete(snap)
	}
}

// Subscribe registers a listener for snapshots. The current snapshot is delivered
// first. A subscriber that falls behind has its oldest pending snapshot dropped,
// so the newest version always arrives. Call cancel to unsubscribe.
func (s *MatchSession) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// Close drops every subscriber. Used when the session is evicted from memory.
func (s *MatchSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}

// deliver pushes snap without blocking, replacing the oldest pending snapshot if full.
func deliver(ch chan Snapshot, snap Snapshot) {
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

// Snapshot returns the current state.
func (s *MatchSession) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// IsActive reports whether the session still accepts moves.
func (s *MatchSession) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == StatusActive
}

// HasPlayer reports whether playerID is one of the two participants.
func (s *MatchSession) HasPlayer(playerID uuid.UUID) bool {
	return s.hasPlayer(playerID)
}

// Opponent returns the other participant, or uuid.Nil if playerID is not in the session.
func (s *MatchSession) Opponent(playerID uuid.UUID) uuid.UUID {
	if !s.hasPlayer(playerID) {
		return uuid.Nil
	}
	return s.opponentOf(playerID)
}

// LastActivity is the time of the last mutation, or creation.
func (s *MatchSession) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// CompletedAt returns the completion time and whether the session has completed.
func (s *MatchSession) CompletedAt() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completedAt, s.status == StatusCompleted
}

// Players is immutable after construction, so these helpers need no lock.
func (s *MatchSession) hasPlayer(playerID uuid.UUID) bool {
	return playerID != uuid.Nil && (s.Players[0] == playerID || s.Players[1] == playerID)
}

func (s *MatchSession) opponentOf(playerID uuid.UUID) uuid.UUID {
	if s.Players[0] == playerID {
		return s.Players[1]
	}
	return s.Players[0]
}
