// internal/database/session.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jason-s-yu/memory-match/internal/game"
	"github.com/jason-s-yu/memory-match/internal/models"
)

// ArchiveSession persists the terminal state of a completed session into matches.
// Archiving the same session twice keeps the first row.
func (s *Store) ArchiveSession(ctx context.Context, snap game.Snapshot) error {
	if !snap.Completed() {
		return fmt.Errorf("archive session %s: not completed", snap.SessionID)
	}

	board := make([]string, len(snap.Cards))
	for i, c := range snap.Cards {
		board[i] = c.Symbol
	}
	boardJSON, err := json.Marshal(board)
	if err != nil {
		return err
	}
	countsJSON, err := json.Marshal(snap.FlipCounts)
	if err != nil {
		return err
	}

	var winner interface{}
	if snap.HasWinner() {
		winner = snap.Winner
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO matches (
			id, player1_id, player2_id, winner_id, reason, board, flip_counts, version, created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`,
		snap.SessionID, snap.Players[0], snap.Players[1], winner, string(snap.Reason),
		boardJSON, countsJSON, int64(snap.Version), snap.CreatedAt, snap.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("archive session %s: %w", snap.SessionID, err)
	}
	return nil
}

// InsertSessionActions writes a batch of journaled actions in one transaction.
// Actions already stored (same session and version) are skipped.
func (s *Store) InsertSessionActions(ctx context.Context, actions []models.SessionAction) error {
	if len(actions) == 0 {
		return nil
	}
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, a := range actions {
			payload, err := json.Marshal(a.ActionPayload)
			if err != nil {
				return fmt.Errorf("marshal payload of %s v%d: %w", a.SessionID, a.Version, err)
			}
			batch.Queue(`
				INSERT INTO session_actions (
					session_id, version, actor_user_id, action_type, action_payload, created_at
				) VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (session_id, version) DO NOTHING
			`, a.SessionID, int64(a.Version), a.ActorUserID, a.ActionType, payload, time.UnixMilli(a.Timestamp))
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}
