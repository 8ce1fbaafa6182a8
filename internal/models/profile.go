// internal/models/profile.go
package models

import "github.com/google/uuid"

// Outcome is a single player's result of one completed session.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeWin, OutcomeLoss, OutcomeDraw:
		return true
	}
	return false
}

// ProfileStats is the durable win/loss record of a player.
type ProfileStats struct {
	UserID      uuid.UUID `json:"user_id"`
	Wins        int       `json:"wins"`
	Losses      int       `json:"losses"`
	Draws       int       `json:"draws"`
	GamesPlayed int       `json:"games_played"`
}
