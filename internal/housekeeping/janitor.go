// internal/housekeeping/janitor.go
//
// Package housekeeping runs the periodic maintenance of in-memory sessions:
// archiving and evicting finished sessions, dropping abandoned ones, and
// expiring silent presence leases.
package housekeeping

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jason-s-yu/memory-match/internal/game"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Archiver persists the terminal state of a session before it leaves memory.
type Archiver interface {
	ArchiveSession(ctx context.Context, snap game.Snapshot) error
}

// Presence is the part of the presence tracker the janitor drives.
type Presence interface {
	Sweep(now time.Time) int
	Untrack(sessionID uuid.UUID)
}

// Forgetter drops per-session bookkeeping once the session is evicted.
type Forgetter interface {
	Forget(sessionID uuid.UUID)
}

// Results is the result recorder as seen by housekeeping: completed sessions
// whose result is not recorded yet are resent and kept in memory.
type Results interface {
	OnSessionCompleted(ctx context.Context, snap game.Snapshot) error
	Recorded(sessionID uuid.UUID) bool
}

// Janitor owns the housekeeping jobs. Archiver, Forgetter and Results are optional.
type Janitor struct {
	Sessions  *game.SessionStore
	Presence  Presence
	Archiver  Archiver
	Forgetter Forgetter
	Results   Results

	Retention   time.Duration
	IdleTimeout time.Duration
	Interval    time.Duration

	Clock  clockwork.Clock
	Logger logrus.FieldLogger
}

func (j *Janitor) clock() clockwork.Clock {
	if j.Clock == nil {
		return clockwork.NewRealClock()
	}
	return j.Clock
}

func (j *Janitor) logger() logrus.FieldLogger {
	if j.Logger == nil {
		return logrus.StandardLogger()
	}
	return j.Logger
}

// Start schedules the jobs on a new gocron scheduler. Call Shutdown on the
// returned scheduler to stop them.
func (j *Janitor) Start(ctx context.Context) (gocron.Scheduler, error) {
	interval := j.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	sched, err := gocron.NewScheduler(gocron.WithClock(j.clock()))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	jobs := []struct {
		name string
		fn   func()
	}{
		{"retry-results", func() { j.RetryResults(ctx) }},
		{"reap-completed", func() { j.ReapCompleted(ctx) }},
		{"reap-idle", func() { j.ReapIdle() }},
		{"sweep-presence", func() { j.SweepPresence() }},
	}
	for _, job := range jobs {
		_, err := sched.NewJob(
			gocron.DurationJob(interval),
			gocron.NewTask(job.fn),
			gocron.WithName(job.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = sched.Shutdown()
			return nil, fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}

	sched.Start()
	j.logger().WithField("interval", interval).Info("housekeeping started")
	return sched, nil
}

// RetryResults resends every completed session whose result has not been
// recorded. It returns how many are recorded after the pass.
func (j *Janitor) RetryResults(ctx context.Context) int {
	if j.Results == nil {
		return 0
	}
	recovered := 0
	for _, s := range j.Sessions.Completed() {
		if j.Results.Recorded(s.ID) {
			continue
		}
		log := j.logger().WithField("session", s.ID)
		if err := j.Results.OnSessionCompleted(ctx, s.Snapshot()); err != nil {
			log.WithError(err).Warn("result retry failed")
			continue
		}
		if j.Results.Recorded(s.ID) {
			recovered++
			log.Info("session result recorded on retry")
		}
	}
	return recovered
}

// ReapCompleted archives and evicts sessions that completed more than the
// retention period ago. Sessions with an unrecorded result stay until a retry
// succeeds. It returns how many were evicted.
func (j *Janitor) ReapCompleted(ctx context.Context) int {
	cutoff := j.clock().Now().Add(-j.Retention)
	var keep func(*game.MatchSession) bool
	if j.Results != nil {
		keep = func(s *game.MatchSession) bool { return !j.Results.Recorded(s.ID) }
	}
	reaped := j.Sessions.ReapCompleted(cutoff, keep)
	for _, s := range reaped {
		snap := s.Snapshot()
		log := j.logger().WithField("session", s.ID)
		if j.Archiver != nil {
			if err := j.Archiver.ArchiveSession(ctx, snap); err != nil {
				log.WithError(err).Error("failed to archive session")
			}
		}
		j.evict(s)
		log.Debug("completed session evicted")
	}
	return len(reaped)
}

// ReapIdle drops Active sessions nobody has touched within the idle timeout.
// They end without a result.
func (j *Janitor) ReapIdle() int {
	if j.IdleTimeout <= 0 {
		return 0
	}
	cutoff := j.clock().Now().Add(-j.IdleTimeout)
	reaped := j.Sessions.ReapIdle(cutoff)
	for _, s := range reaped {
		j.evict(s)
		j.logger().WithFields(logrus.Fields{
			"session":      s.ID,
			"lastActivity": s.LastActivity(),
		}).Warn("idle session abandoned")
	}
	return len(reaped)
}

// SweepPresence expires presence leases that stopped pinging.
func (j *Janitor) SweepPresence() int {
	if j.Presence == nil {
		return 0
	}
	return j.Presence.Sweep(j.clock().Now())
}

func (j *Janitor) evict(s *game.MatchSession) {
	s.Close()
	if j.Presence != nil {
		j.Presence.Untrack(s.ID)
	}
	if j.Forgetter != nil {
		j.Forgetter.Forget(s.ID)
	}
}
