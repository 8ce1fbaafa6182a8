// internal/game/errors.go
package game

import "errors"

var (
	// ErrNotYourTurn is returned when a flip comes from the player not holding the turn.
	ErrNotYourTurn = errors.New("not your turn")

	// ErrInvalidIndex is returned for out-of-bounds indices or cards already face up or matched.
	ErrInvalidIndex = errors.New("invalid card index")

	// ErrSessionNotFound is returned when no session exists for the given id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionCompleted is returned when a flip targets a completed session.
	// Forfeiture calls treat a completed session as a no-op instead.
	ErrSessionCompleted = errors.New("session already completed")

	// ErrNotParticipant is returned when the caller is not one of the two players.
	ErrNotParticipant = errors.New("player is not a participant of this session")

	// ErrPairingConflict is returned by the store when a session id is already taken.
	// The queue retries on it and never surfaces it to clients.
	ErrPairingConflict = errors.New("pairing conflict")

	// ErrInvalidBoard is returned when a board does not hold every symbol exactly twice.
	ErrInvalidBoard = errors.New("invalid board")
)
