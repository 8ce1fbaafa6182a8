// internal/presence/tracker.go
package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/memory-match/internal/game"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultDebounce is how long a participant may stay offline before forfeiting.
	DefaultDebounce = 3 * time.Second

	// DefaultLeaseTTL is how long a lease survives without a Touch before Sweep expires it.
	DefaultLeaseTTL = 30 * time.Second
)

// ErrNotTracked is returned when attaching to a session the tracker does not know.
var ErrNotTracked = errors.New("session not tracked")

// Forfeiter completes a session on behalf of a departed participant. A session
// that already completed must be treated as a no-op.
type Forfeiter interface {
	ForceComplete(ctx context.Context, sessionID uuid.UUID, reason game.Reason, loserID uuid.UUID) error
}

// Record is the presence of one participant in one session.
type Record struct {
	Online   bool      `json:"online"`
	Leases   int       `json:"leases"`
	LastSeen time.Time `json:"lastSeen"`
}

type participant struct {
	leases   int
	lastSeen time.Time

	// epoch invalidates outstanding leases when Sweep expires them.
	epoch uint64

	// gen invalidates confirmation callbacks that already fired but have
	// not yet taken the lock.
	gen   uint64
	timer clockwork.Timer
}

type trackedSession struct {
	players map[uuid.UUID]*participant
}

// Tracker turns connection liveness into forfeits. Losing the last lease of a
// participant starts a debounce timer; a new lease within the window cancels
// it, otherwise the session is force-completed against that participant.
type Tracker struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*trackedSession

	forfeiter Forfeiter
	clock     clockwork.Clock
	debounce  time.Duration
	leaseTTL  time.Duration
	logger    logrus.FieldLogger
}

// NewTracker returns a tracker. Zero durations fall back to the defaults and a
// nil clock to the real one.
func NewTracker(f Forfeiter, clock clockwork.Clock, debounce, leaseTTL time.Duration, logger logrus.FieldLogger) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Tracker{
		sessions:  make(map[uuid.UUID]*trackedSession),
		forfeiter: f,
		clock:     clock,
		debounce:  debounce,
		leaseTTL:  leaseTTL,
		logger:    logger,
	}
}

// Track starts watching both participants of a session. Neither is online until
// it attaches a lease.
func (t *Tracker) Track(sessionID uuid.UUID, players [2]uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sessions[sessionID]; ok {
		return
	}
	now := t.clock.Now()
	t.sessions[sessionID] = &trackedSession{
		players: map[uuid.UUID]*participant{
			players[0]: {lastSeen: now},
			players[1]: {lastSeen: now},
		},
	}
}

// Untrack forgets a session and stops its pending timers.
func (t *Tracker) Untrack(sessionID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.sessions[sessionID]
	if !ok {
		return
	}
	for _, p := range ts.players {
		p.gen++
		stopTimer(p)
	}
	delete(t.sessions, sessionID)
}

// Lease is one live connection of a participant. Release it when the
// connection closes.
type Lease struct {
	tracker   *Tracker
	sessionID uuid.UUID
	playerID  uuid.UUID
	once      sync.Once

	// epoch and released are guarded by tracker.mu.
	epoch    uint64
	released bool
}

// Attach marks playerID online and cancels any pending forfeit for them.
func (t *Tracker) Attach(sessionID, playerID uuid.UUID) (*Lease, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, err := t.participantLocked(sessionID, playerID)
	if err != nil {
		return nil, err
	}
	p.leases++
	p.lastSeen = t.clock.Now()
	if p.timer != nil {
		p.gen++
		stopTimer(p)
		t.logger.WithFields(logrus.Fields{
			"session": sessionID,
			"player":  playerID,
		}).Info("participant reconnected within grace period")
	}
	return &Lease{tracker: t, sessionID: sessionID, playerID: playerID, epoch: p.epoch}, nil
}

// Release drops the lease. Releasing twice, or after the lease expired, does nothing.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.tracker.release(l)
	})
}

// Touch records activity on the connection behind the lease. If Sweep expired
// the lease while the connection was still open, the lease is restored and any
// pending forfeit is cancelled.
func (l *Lease) Touch() {
	t := l.tracker
	t.mu.Lock()
	defer t.mu.Unlock()

	p, err := t.participantLocked(l.sessionID, l.playerID)
	if err != nil || l.released {
		return
	}
	p.lastSeen = t.clock.Now()
	if l.epoch == p.epoch {
		return
	}
	l.epoch = p.epoch
	p.leases++
	p.gen++
	stopTimer(p)
	t.logger.WithFields(logrus.Fields{
		"session": l.sessionID,
		"player":  l.playerID,
	}).Info("expired lease restored by activity on open connection")
}

func (t *Tracker) release(l *Lease) {
	t.mu.Lock()
	defer t.mu.Unlock()

	l.released = true
	p, err := t.participantLocked(l.sessionID, l.playerID)
	if err != nil || p.epoch != l.epoch || p.leases == 0 {
		return
	}
	p.leases--
	if p.leases == 0 {
		t.goOfflineLocked(l.sessionID, l.playerID, p)
	}
}

// Touch records a liveness signal for a participant without a lease, such as
// a flip over HTTP. Connections holding a lease use Lease.Touch.
func (t *Tracker) Touch(sessionID, playerID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, err := t.participantLocked(sessionID, playerID); err == nil {
		p.lastSeen = t.clock.Now()
	}
}

// Sweep expires every lease whose participant has not been seen for the lease
// TTL, as happens when a client vanishes without closing its socket. It returns
// the number of participants that went offline.
func (t *Tracker) Sweep(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	expired := 0
	for sessionID, ts := range t.sessions {
		for playerID, p := range ts.players {
			if p.leases == 0 || now.Sub(p.lastSeen) <= t.leaseTTL {
				continue
			}
			p.leases = 0
			p.epoch++
			expired++
			t.logger.WithFields(logrus.Fields{
				"session":  sessionID,
				"player":   playerID,
				"lastSeen": p.lastSeen,
			}).Warn("presence lease expired")
			t.goOfflineLocked(sessionID, playerID, p)
		}
	}
	return expired
}

// Leave forfeits immediately on behalf of playerID, without waiting for the debounce.
func (t *Tracker) Leave(ctx context.Context, sessionID, playerID uuid.UUID) error {
	t.mu.Lock()
	if p, err := t.participantLocked(sessionID, playerID); err == nil {
		p.gen++
		stopTimer(p)
	}
	t.mu.Unlock()

	return t.forfeiter.ForceComplete(ctx, sessionID, game.ReasonPlayerLeft, playerID)
}

// IsOnline reports whether playerID holds at least one lease in the session.
func (t *Tracker) IsOnline(sessionID, playerID uuid.UUID) bool {
	r, ok := t.Record(sessionID, playerID)
	return ok && r.Online
}

// Record returns the presence of playerID in the session.
func (t *Tracker) Record(sessionID, playerID uuid.UUID) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.participantLocked(sessionID, playerID)
	if err != nil {
		return Record{}, false
	}
	return Record{Online: p.leases > 0, Leases: p.leases, LastSeen: p.lastSeen}, true
}

// participantLocked assumes mu is held.
func (t *Tracker) participantLocked(sessionID, playerID uuid.UUID) (*participant, error) {
	ts, ok := t.sessions[sessionID]
	if !ok {
		return nil, ErrNotTracked
	}
	p, ok := ts.players[playerID]
	if !ok {
		return nil, game.ErrNotParticipant
	}
	return p, nil
}

// goOfflineLocked starts the confirmation timer. Assumes mu is held.
func (t *Tracker) goOfflineLocked(sessionID, playerID uuid.UUID, p *participant) {
	p.gen++
	stopTimer(p)
	gen := p.gen
	p.timer = t.clock.AfterFunc(t.debounce, func() {
		t.confirmOffline(sessionID, playerID, gen)
	})
	t.logger.WithFields(logrus.Fields{
		"session":  sessionID,
		"player":   playerID,
		"debounce": t.debounce,
	}).Info("participant offline, waiting before forfeit")
}

// confirmOffline runs when the debounce elapses. A stale generation means the
// participant came back or the session was untracked in the meantime.
func (t *Tracker) confirmOffline(sessionID, playerID uuid.UUID, gen uint64) {
	t.mu.Lock()
	p, err := t.participantLocked(sessionID, playerID)
	if err != nil || p.gen != gen || p.leases > 0 {
		t.mu.Unlock()
		return
	}
	p.timer = nil
	t.mu.Unlock()

	log := t.logger.WithFields(logrus.Fields{
		"session": sessionID,
		"player":  playerID,
	})
	log.Info("participant did not return, forfeiting")
	if err := t.forfeiter.ForceComplete(context.Background(), sessionID, game.ReasonPlayerDisconnected, playerID); err != nil {
		log.WithError(err).Error("failed to forfeit disconnected participant")
	}
}

func stopTimer(p *participant) {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
