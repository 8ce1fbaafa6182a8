// internal/game/snapshot.go
package game

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// CardState is the visibility of one card on the board.
type CardState string

const (
	CardHidden  CardState = "hidden"
	CardFlipped CardState = "flipped"
	CardMatched CardState = "matched"
)

// CardView is a single board position as clients see it. Symbol is only set
// for face-up or matched cards, or for every card once the session is over.
type CardView struct {
	Index  int       `json:"index"`
	State  CardState `json:"state"`
	Symbol string    `json:"symbol,omitempty"`
}

// Reveal describes the pair resolved by the latest second flip, so clients can
// show both cards before the board settles.
type Reveal struct {
	PlayerID uuid.UUID `json:"playerId"`
	Indices  [2]int    `json:"indices"`
	Symbols  [2]string `json:"symbols"`
	Matched  bool      `json:"matched"`
}

// Snapshot is the full, versioned session state broadcast after every mutation.
// Clients keep the snapshot with the highest Version.
type Snapshot struct {
	SessionID   uuid.UUID         `json:"sessionId"`
	Version     uint64            `json:"version"`
	Players     [2]uuid.UUID      `json:"players"`
	Turn        uuid.UUID         `json:"turn"`
	Status      Status            `json:"status"`
	Winner      uuid.UUID         `json:"winner"`
	Draw        bool              `json:"draw"`
	Reason      Reason            `json:"reason,omitempty"`
	Cards       []CardView        `json:"cards"`
	Flipped     []int             `json:"flipped"`
	Matched     []int             `json:"matched"`
	FlipCounts  map[uuid.UUID]int `json:"flipCounts"`
	LastReveal  *Reveal           `json:"lastReveal,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	CompletedAt *time.Time        `json:"completedAt,omitempty"`
}

// Completed reports whether the snapshot is terminal.
func (s Snapshot) Completed() bool {
	return s.Status == StatusCompleted
}

// HasWinner reports whether a completed session has a winner (not a draw).
func (s Snapshot) HasWinner() bool {
	return s.Completed() && s.Winner != uuid.Nil
}

// Opponent returns the participant other than playerID.
func (s Snapshot) Opponent(playerID uuid.UUID) uuid.UUID {
	switch playerID {
	case s.Players[0]:
		return s.Players[1]
	case s.Players[1]:
		return s.Players[0]
	}
	return uuid.Nil
}

// snapshotLocked copies the current state. Assumes mu is held.
func (s *MatchSession) snapshotLocked() Snapshot {
	completed := s.status == StatusCompleted

	flipped := make([]int, len(s.flipped))
	copy(flipped, s.flipped)
	faceUp := make(map[int]bool, len(flipped))
	for _, i := range flipped {
		faceUp[i] = true
	}

	matched := make([]int, 0, len(s.matched))
	for i := range s.matched {
		matched = append(matched, i)
	}
	sort.Ints(matched)

	cards := make([]CardView, len(s.board))
	for i, sym := range s.board {
		cv := CardView{Index: i, State: CardHidden}
		switch {
		case s.matched[i]:
			cv.State = CardMatched
			cv.Symbol = sym
		case faceUp[i]:
			cv.State = CardFlipped
			cv.Symbol = sym
		case completed:
			cv.Symbol = sym
		}
		cards[i] = cv
	}

	counts := make(map[uuid.UUID]int, len(s.flipCounts))
	for k, v := range s.flipCounts {
		counts[k] = v
	}

	snap := Snapshot{
		SessionID:  s.ID,
		Version:    s.version,
		Players:    s.Players,
		Turn:       s.turn,
		Status:     s.status,
		Winner:     s.winner,
		Draw:       completed && s.winner == uuid.Nil,
		Reason:     s.reason,
		Cards:      cards,
		Flipped:    flipped,
		Matched:    matched,
		FlipCounts: counts,
		CreatedAt:  s.CreatedAt,
	}
	if s.lastReveal != nil {
		r := *s.lastReveal
		snap.LastReveal = &r
	}
	if completed {
		t := s.completedAt
		snap.CompletedAt = &t
	}
	return snap
}
