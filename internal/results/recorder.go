// internal/results/recorder.go
package results

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/memory-match/internal/game"
	"github.com/jason-s-yu/memory-match/internal/models"
	"github.com/sirupsen/logrus"
)

// ProfileStore applies one outcome to a player's stats. The idempotency key is
// unique per (session, player); applying an already seen key is a no-op that
// reports applied == false.
type ProfileStore interface {
	IncrementStats(ctx context.Context, playerID uuid.UUID, outcome models.Outcome, idempotencyKey string) (applied bool, err error)
}

// IdempotencyKey is the durable dedupe key for one player's result in one session.
func IdempotencyKey(sessionID, playerID uuid.UUID) string {
	return sessionID.String() + ":" + playerID.String()
}

type recordState int

const (
	stateInflight recordState = iota + 1
	stateDone
)

// Recorder turns completed sessions into profile stats, once per session.
type Recorder struct {
	store  ProfileStore
	logger logrus.FieldLogger

	mu   sync.Mutex
	seen map[uuid.UUID]recordState
}

func NewRecorder(store ProfileStore, logger logrus.FieldLogger) *Recorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Recorder{
		store:  store,
		logger: logger,
		seen:   make(map[uuid.UUID]recordState),
	}
}

// Outcomes maps a terminal snapshot to each participant's outcome.
func Outcomes(snap game.Snapshot) (map[uuid.UUID]models.Outcome, error) {
	if !snap.Completed() {
		return nil, fmt.Errorf("session %s is not completed", snap.SessionID)
	}
	p1, p2 := snap.Players[0], snap.Players[1]
	if !snap.HasWinner() {
		return map[uuid.UUID]models.Outcome{p1: models.OutcomeDraw, p2: models.OutcomeDraw}, nil
	}
	loser := snap.Opponent(snap.Winner)
	if loser == uuid.Nil {
		return nil, fmt.Errorf("winner %s is not a participant of session %s", snap.Winner, snap.SessionID)
	}
	return map[uuid.UUID]models.Outcome{snap.Winner: models.OutcomeWin, loser: models.OutcomeLoss}, nil
}

// OnSessionCompleted records the outcome of a completed session. Duplicate
// notifications for the same session are dropped. If applying fails the
// session is unmarked and Recorded stays false, so housekeeping resends it;
// the store's idempotency keys keep the retry from double counting.
func (r *Recorder) OnSessionCompleted(ctx context.Context, snap game.Snapshot) error {
	outcomes, err := Outcomes(snap)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, dup := r.seen[snap.SessionID]; dup {
		r.mu.Unlock()
		return nil
	}
	r.seen[snap.SessionID] = stateInflight
	r.mu.Unlock()

	log := r.logger.WithField("session", snap.SessionID)

	var errs []error
	for _, playerID := range snap.Players {
		outcome := outcomes[playerID]
		applied, err := r.store.IncrementStats(ctx, playerID, outcome, IdempotencyKey(snap.SessionID, playerID))
		if err != nil {
			errs = append(errs, fmt.Errorf("record %s for %s: %w", outcome, playerID, err))
			continue
		}
		log.WithFields(logrus.Fields{
			"player":  playerID,
			"outcome": outcome,
			"applied": applied,
		}).Debug("result recorded")
	}

	r.mu.Lock()
	if len(errs) > 0 {
		delete(r.seen, snap.SessionID)
	} else {
		r.seen[snap.SessionID] = stateDone
	}
	r.mu.Unlock()

	if err := errors.Join(errs...); err != nil {
		log.WithError(err).Error("failed to record session result")
		return err
	}
	log.Info("session result recorded")
	return nil
}

// Forget drops the in-process marker once the session is evicted from memory.
// Durable idempotency keys still guard against late duplicates.
func (r *Recorder) Forget(sessionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[sessionID] == stateDone {
		delete(r.seen, sessionID)
	}
}

// Recorded reports whether the session's result has been fully applied.
func (r *Recorder) Recorded(sessionID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seen[sessionID] == stateDone
}
