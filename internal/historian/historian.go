// internal/historian/historian.go
//
// Package historian drains the session action queue from Redis and persists the
// actions to Postgres in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jason-s-yu/memory-match/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Popper is the subset of *redis.Client the historian reads with.
type Popper interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
}

// Sink persists a batch of actions.
type Sink interface {
	InsertSessionActions(ctx context.Context, actions []models.SessionAction) error
}

// Service reads the queue with BLPOP and flushes whenever the batch is full or
// the flush delay has passed.
type Service struct {
	client     Popper
	queue      string
	sink       Sink
	batchSize  int
	flushDelay time.Duration
	logger     logrus.FieldLogger

	batch     []models.SessionAction
	lastFlush time.Time
}

func NewService(client Popper, queue string, sink Sink, batchSize int, flushDelay time.Duration, logger logrus.FieldLogger) *Service {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushDelay <= 0 {
		flushDelay = 500 * time.Millisecond
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		client:     client,
		queue:      queue,
		sink:       sink,
		batchSize:  batchSize,
		flushDelay: flushDelay,
		logger:     logger,
		batch:      make([]models.SessionAction, 0, batchSize),
	}
}

// Run consumes the queue until ctx is cancelled, then flushes what is left.
func (s *Service) Run(ctx context.Context) error {
	s.lastFlush = time.Now()
	s.logger.WithField("queue", s.queue).Info("historian started")

	for {
		if ctx.Err() != nil {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.flush(flushCtx)
			cancel()
			s.logger.Info("historian stopped")
			return nil
		}

		rec, ok, err := s.pop(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.WithError(err).Error("BLPop failed")
				// Back off so a dead Redis does not spin the loop.
				select {
				case <-ctx.Done():
				case <-time.After(s.flushDelay):
				}
			}
			continue
		}
		if ok {
			s.batch = append(s.batch, rec)
		}
		if len(s.batch) >= s.batchSize || time.Since(s.lastFlush) >= s.flushDelay {
			s.flush(ctx)
		}
	}
}

// pop waits up to the flush delay for one record. ok is false on timeout or
// when the payload could not be decoded.
func (s *Service) pop(ctx context.Context) (models.SessionAction, bool, error) {
	var rec models.SessionAction
	res, err := s.client.BLPop(ctx, s.flushDelay, s.queue).Result()
	if errors.Is(err, redis.Nil) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	// res[0] is the queue name and res[1] the payload.
	if len(res) < 2 {
		return rec, false, nil
	}
	if err := json.Unmarshal([]byte(res[1]), &rec); err != nil {
		s.logger.WithError(err).Warn("dropping invalid action record")
		return rec, false, nil
	}
	return rec, true, nil
}

// flush writes the pending batch. On failure the batch is kept for the next
// attempt, capped so a long outage cannot exhaust memory.
func (s *Service) flush(ctx context.Context) {
	s.lastFlush = time.Now()
	if len(s.batch) == 0 {
		return
	}
	if err := s.sink.InsertSessionActions(ctx, s.batch); err != nil {
		s.logger.WithError(err).WithField("pending", len(s.batch)).Error("failed to flush session actions")
		if max := 10 * s.batchSize; len(s.batch) > max {
			dropped := len(s.batch) - max
			s.batch = append(s.batch[:0], s.batch[dropped:]...)
			s.logger.WithField("dropped", dropped).Warn("historian backlog full, dropping oldest actions")
		}
		return
	}
	s.logger.WithField("count", len(s.batch)).Debug("flushed session actions")
	s.batch = s.batch[:0]
}
