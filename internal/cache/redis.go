// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jason-s-yu/memory-match/internal/config"
	"github.com/jason-s-yu/memory-match/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultQueueName is the Redis list (queue) name for session action logs.
const DefaultQueueName = "memory_match_actions"

// publishTimeout bounds a single RPUSH from the journal.
const publishTimeout = 2 * time.Second

// ConnectRedis opens a client for cfg and pings it.
func ConnectRedis(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// Pusher is the subset of *redis.Client the journal needs.
type Pusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Journal pushes session actions onto a Redis list for the historian to persist.
type Journal struct {
	client Pusher
	queue  string
	logger logrus.FieldLogger
}

func NewJournal(client Pusher, queue string, logger logrus.FieldLogger) *Journal {
	if queue == "" {
		queue = DefaultQueueName
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Journal{client: client, queue: queue, logger: logger}
}

// Record publishes rec in the background so the session lock is never held
// across a network round trip. Records carry their version for ordering.
func (j *Journal) Record(rec models.SessionAction) {
	if rec.ActionPayload == nil {
		rec.ActionPayload = make(map[string]interface{})
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := j.Publish(ctx, rec); err != nil {
			j.logger.WithFields(logrus.Fields{
				"session": rec.SessionID,
				"version": rec.Version,
			}).WithError(err).Warn("failed to journal session action")
		}
	}()
}

// Publish serializes rec to JSON and pushes it to the queue.
func (j *Journal) Publish(ctx context.Context, rec models.SessionAction) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal SessionAction: %w", err)
	}
	if err := j.client.RPush(ctx, j.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", j.queue, err)
	}
	return nil
}
