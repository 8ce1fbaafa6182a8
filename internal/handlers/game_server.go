// internal/handlers/game_server.go
package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/memory-match/internal/game"
	"github.com/jason-s-yu/memory-match/internal/matchmaking"
	"github.com/jason-s-yu/memory-match/internal/models"
	"github.com/jason-s-yu/memory-match/internal/presence"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// resultTimeout bounds how long recording a finished session may take.
const resultTimeout = 10 * time.Second

// ResultSink receives every completed session exactly once.
type ResultSink interface {
	OnSessionCompleted(ctx context.Context, snap game.Snapshot) error
}

// ProfileReader serves a player's durable stats.
type ProfileReader interface {
	GetProfileStats(ctx context.Context, playerID uuid.UUID) (models.ProfileStats, error)
}

// Options configures a GameServer. Zero values fall back to defaults.
type Options struct {
	BoardPairs       int
	PresenceDebounce time.Duration
	PresenceLeaseTTL time.Duration

	// Clock drives presence timers; tests pass a fake one.
	Clock clockwork.Clock

	Results  ResultSink
	Profiles ProfileReader
	Journal  game.Journal
	Logger   logrus.FieldLogger
}

// GameServer wires the queue, live sessions, presence and result recording
// together and serves them over HTTP and WebSocket.
type GameServer struct {
	Sessions *game.SessionStore
	Queue    *matchmaking.QueueManager
	Presence *presence.Tracker

	results    ResultSink
	profiles   ProfileReader
	journal    game.Journal
	boardPairs int
	logger     logrus.FieldLogger

	// Result writes run in the background, bounded by the server lifetime.
	ctx     context.Context
	stop    context.CancelFunc
	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

func NewGameServer(opts Options) *GameServer {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	pairs := opts.BoardPairs
	if pairs <= 0 {
		pairs = game.DefaultPairs
	}

	gs := &GameServer{
		Sessions:   game.NewSessionStore(),
		results:    opts.Results,
		profiles:   opts.Profiles,
		journal:    opts.Journal,
		boardPairs: pairs,
		logger:     logger,
	}
	gs.ctx, gs.stop = context.WithCancel(context.Background())
	gs.Presence = presence.NewTracker(gs, opts.Clock, opts.PresenceDebounce, opts.PresenceLeaseTTL, logger)
	gs.Queue = matchmaking.NewQueueManager(gs.Sessions, gs.createSession, logger)
	return gs
}

// createSession deals a board, registers the session and starts presence
// tracking. It runs under the queue lock.
func (gs *GameServer) createSession(sessionID uuid.UUID, players [2]uuid.UUID) (*game.MatchSession, error) {
	board, err := game.NewBoard(gs.boardPairs, nil)
	if err != nil {
		return nil, err
	}
	s, err := game.NewMatchSession(sessionID, players, board)
	if err != nil {
		return nil, err
	}
	s.Journal = gs.journal
	s.Logger = gs.logger
	s.OnComplete = gs.onSessionComplete

	if err := gs.Sessions.Add(s); err != nil {
		return nil, fmt.Errorf("register session %s: %w", sessionID, err)
	}
	gs.Presence.Track(sessionID, players)
	return s, nil
}

// onSessionComplete is the completion hook of every session. The session lock
// is not held here. The result is written in the background so the request
// that finished the game does not wait on the profile store; a failed write
// is retried by housekeeping.
func (gs *GameServer) onSessionComplete(snap game.Snapshot) {
	gs.Presence.Untrack(snap.SessionID)
	if gs.results == nil {
		return
	}

	gs.mu.Lock()
	if gs.closed {
		gs.mu.Unlock()
		gs.recordResult(context.Background(), snap)
		return
	}
	gs.pending.Add(1)
	gs.mu.Unlock()

	go func() {
		defer gs.pending.Done()
		gs.recordResult(gs.ctx, snap)
	}()
}

func (gs *GameServer) recordResult(parent context.Context, snap game.Snapshot) {
	ctx, cancel := context.WithTimeout(parent, resultTimeout)
	defer cancel()
	if err := gs.results.OnSessionCompleted(ctx, snap); err != nil {
		gs.logger.WithField("session", snap.SessionID).WithError(err).Error("failed to record session result")
	}
}

// Shutdown waits for background result writes to finish, or for ctx to end,
// in which case the writes still running are cancelled.
func (gs *GameServer) Shutdown(ctx context.Context) error {
	gs.mu.Lock()
	gs.closed = true
	gs.mu.Unlock()

	done := make(chan struct{})
	go func() {
		gs.pending.Wait()
		close(done)
	}()
	defer gs.stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceComplete forfeits a session against loserID. It lets the presence
// tracker end sessions without knowing about the store.
func (gs *GameServer) ForceComplete(ctx context.Context, sessionID uuid.UUID, reason game.Reason, loserID uuid.UUID) error {
	s, ok := gs.Sessions.Get(sessionID)
	if !ok {
		return game.ErrSessionNotFound
	}
	_, err := s.ForceComplete(reason, loserID)
	return err
}

// session looks up a live session.
func (gs *GameServer) session(id uuid.UUID) (*game.MatchSession, error) {
	s, ok := gs.Sessions.Get(id)
	if !ok {
		return nil, game.ErrSessionNotFound
	}
	return s, nil
}
