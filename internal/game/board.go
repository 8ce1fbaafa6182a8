// internal/game/board.go
package game

import (
	"fmt"
	"math/rand"
	"time"
)

// DefaultPairs is the number of symbol pairs dealt on a new board (16 cards).
const DefaultPairs = 8

// symbols is the pool board symbols are drawn from.
var symbols = []string{
	"🍎", "🍌", "🍇", "🍒", "🥝", "🍋", "🍊", "🍓",
	"🥭", "🍑", "🍐", "🍍", "🍉", "🫐", "🥥", "🍈",
}

// MaxPairs is the largest board NewBoard can deal.
var MaxPairs = len(symbols)

// NewBoard deals pairs*2 cards, each symbol exactly twice, shuffled with r.
// A nil r uses a time-seeded source.
func NewBoard(pairs int, r *rand.Rand) ([]string, error) {
	if pairs <= 0 || pairs > len(symbols) {
		return nil, fmt.Errorf("%w: pairs must be between 1 and %d, got %d", ErrInvalidBoard, len(symbols), pairs)
	}
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	board := make([]string, 0, pairs*2)
	for _, s := range symbols[:pairs] {
		board = append(board, s, s)
	}
	r.Shuffle(len(board), func(i, j int) {
		board[i], board[j] = board[j], board[i]
	})
	return board, nil
}

// ValidateBoard checks that the board is non-empty and holds every symbol exactly twice.
func ValidateBoard(board []string) error {
	if len(board) == 0 || len(board)%2 != 0 {
		return fmt.Errorf("%w: length %d is not a positive even number", ErrInvalidBoard, len(board))
	}
	counts := make(map[string]int, len(board)/2)
	for _, s := range board {
		counts[s]++
	}
	for s, n := range counts {
		if n != 2 {
			return fmt.Errorf("%w: symbol %q appears %d times", ErrInvalidBoard, s, n)
		}
	}
	return nil
}
