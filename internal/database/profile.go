// internal/database/profile.go
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/memory-match/internal/models"
)

// IncrementStats applies one outcome to playerID's stats. The idempotency key is
// recorded in the same transaction as the increment; a key that was already
// applied leaves the stats untouched and reports applied == false.
func (s *Store) IncrementStats(ctx context.Context, playerID uuid.UUID, outcome models.Outcome, idempotencyKey string) (bool, error) {
	if !outcome.Valid() {
		return false, fmt.Errorf("unknown outcome %q", outcome)
	}

	var wins, losses, draws int
	switch outcome {
	case models.OutcomeWin:
		wins = 1
	case models.OutcomeLoss:
		losses = 1
	case models.OutcomeDraw:
		draws = 1
	}

	applied := false
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO stat_applications (idempotency_key, user_id, outcome)
			VALUES ($1, $2, $3)
			ON CONFLICT (idempotency_key) DO NOTHING
		`, idempotencyKey, playerID, string(outcome))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO profile_stats (user_id, wins, losses, draws, games_played)
			VALUES ($1, $2, $3, $4, 1)
			ON CONFLICT (user_id) DO UPDATE SET
				wins = profile_stats.wins + EXCLUDED.wins,
				losses = profile_stats.losses + EXCLUDED.losses,
				draws = profile_stats.draws + EXCLUDED.draws,
				games_played = profile_stats.games_played + 1,
				updated_at = NOW()
		`, playerID, wins, losses, draws)
		if err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("increment stats for %s: %w", playerID, err)
	}
	return applied, nil
}

// GetProfileStats returns playerID's stats; a player with no results has all zeros.
func (s *Store) GetProfileStats(ctx context.Context, playerID uuid.UUID) (models.ProfileStats, error) {
	st := models.ProfileStats{UserID: playerID}
	err := s.pool.QueryRow(ctx, `
		SELECT wins, losses, draws, games_played
		FROM profile_stats
		WHERE user_id = $1
	`, playerID).Scan(&st.Wins, &st.Losses, &st.Draws, &st.GamesPlayed)
	if errors.Is(err, pgx.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("get stats for %s: %w", playerID, err)
	}
	return st, nil
}
