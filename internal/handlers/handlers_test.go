// internal/handlers/handlers_test.go
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/jason-s-yu/memory-match/internal/auth"
	"github.com/jason-s-yu/memory-match/internal/game"
	"github.com/jason-s-yu/memory-match/internal/housekeeping"
	"github.com/jason-s-yu/memory-match/internal/matchmaking"
	"github.com/jason-s-yu/memory-match/internal/models"
	"github.com/jason-s-yu/memory-match/internal/presence"
	"github.com/jason-s-yu/memory-match/internal/results"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockResults counts completion notifications per session.
type mockResults struct {
	mu    sync.Mutex
	calls map[uuid.UUID]int
	last  game.Snapshot
}

func (mr *mockResults) OnSessionCompleted(_ context.Context, snap game.Snapshot) error {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if mr.calls == nil {
		mr.calls = make(map[uuid.UUID]int)
	}
	mr.calls[snap.SessionID]++
	mr.last = snap
	return nil
}

func (mr *mockResults) count(id uuid.UUID) int {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	return mr.calls[id]
}

type testEnv struct {
	gs      *GameServer
	mux     http.Handler
	clock   *clockwork.FakeClock
	results *mockResults
}

// setupTestServer builds a server over single-pair boards, so the first two
// flips of P1 always match and finish the session.
func setupTestServer(t *testing.T, pairs int) *testEnv {
	t.Helper()
	require.NoError(t, auth.Init(0)) // ephemeral keys, no DB needed
	logger, _ := test.NewNullLogger()
	clock := clockwork.NewFakeClock()
	mr := &mockResults{}
	gs := NewGameServer(Options{
		BoardPairs:       pairs,
		PresenceDebounce: 3 * time.Second,
		Clock:            clock,
		Results:          mr,
		Logger:           logger,
	})
	return &testEnv{gs: gs, mux: gs.Routes(logger), clock: clock, results: mr}
}

func tokenFor(t *testing.T, id uuid.UUID) string {
	t.Helper()
	tok, err := auth.CreateJWT(id.String())
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(t *testing.T, method, path string, player uuid.UUID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if player != uuid.Nil {
		req.Header.Set("Cookie", "auth_token="+tokenFor(t, player))
	}
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "body: %s", w.Body.String())
	return v
}

// pair queues a then b and returns the new session id.
func (e *testEnv) pair(t *testing.T, a, b uuid.UUID) uuid.UUID {
	t.Helper()
	w := e.do(t, http.MethodPost, "/queue/join", a, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodPost, "/queue/join", b, "")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[queueResponse](t, w)
	require.True(t, resp.Matched)
	require.NotNil(t, resp.SessionID)
	return *resp.SessionID
}

func TestQueueJoinAndStatus(t *testing.T) {
	e := setupTestServer(t, game.DefaultPairs)
	a, b := uuid.New(), uuid.New()

	w := e.do(t, http.MethodPost, "/queue/join", a, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[queueResponse](t, w).Waiting)

	w = e.do(t, http.MethodPost, "/queue/join", a, "")
	assert.Equal(t, http.StatusConflict, w.Code, "already queued")

	w = e.do(t, http.MethodGet, "/queue/status", a, "")
	assert.True(t, decode[queueResponse](t, w).Queued)

	w = e.do(t, http.MethodPost, "/queue/join", b, "")
	require.Equal(t, http.StatusOK, w.Code)
	matched := decode[queueResponse](t, w)
	require.True(t, matched.Matched)
	assert.Equal(t, a, *matched.Opponent)

	w = e.do(t, http.MethodGet, "/queue/status", a, "")
	status := decode[queueResponse](t, w)
	assert.False(t, status.Queued)
	assert.True(t, status.Matched)
	assert.Equal(t, *matched.SessionID, *status.SessionID)
	assert.Equal(t, b, *status.Opponent)

	w = e.do(t, http.MethodPost, "/queue/join", a, "")
	assert.Equal(t, http.StatusConflict, w.Code, "already in a session")
	assert.Equal(t, *matched.SessionID, *decode[errorResponse](t, w).SessionID)
}

func TestQueueCancel(t *testing.T) {
	e := setupTestServer(t, game.DefaultPairs)
	a := uuid.New()

	w := e.do(t, http.MethodPost, "/queue/cancel", a, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[map[string]bool](t, w)["removed"])

	e.do(t, http.MethodPost, "/queue/join", a, "")
	w = e.do(t, http.MethodPost, "/queue/cancel", a, "")
	assert.True(t, decode[map[string]bool](t, w)["removed"])
	assert.Equal(t, 0, e.gs.Queue.Len())
}

func TestUnauthenticatedRequestsAreRejected(t *testing.T) {
	e := setupTestServer(t, game.DefaultPairs)
	for _, tc := range []struct{ method, path string }{
		{http.MethodPost, "/queue/join"},
		{http.MethodPost, "/queue/cancel"},
		{http.MethodGet, "/queue/status"},
		{http.MethodGet, "/session/" + uuid.NewString()},
		{http.MethodPost, "/session/" + uuid.NewString() + "/flip"},
	} {
		w := e.do(t, tc.method, tc.path, uuid.Nil, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", tc.method, tc.path)
	}
}

func TestFlipStatusCodes(t *testing.T) {
	e := setupTestServer(t, 1)
	p1, p2 := uuid.New(), uuid.New()
	sid := e.pair(t, p1, p2)
	flipPath := "/session/" + sid.String() + "/flip"

	w := e.do(t, http.MethodPost, flipPath, p2, `{"index":0}`)
	assert.Equal(t, http.StatusConflict, w.Code, "not your turn")

	w = e.do(t, http.MethodPost, flipPath, p1, `{"index":5}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = e.do(t, http.MethodPost, flipPath, p1, `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, flipPath, uuid.New(), `{"index":0}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "/session/"+uuid.NewString()+"/flip", p1, `{"index":0}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, flipPath, p1, `{"index":0}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decode[game.Snapshot](t, w).Version)

	w = e.do(t, http.MethodPost, flipPath, p1, `{"index":1}`)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[game.Snapshot](t, w)
	assert.Equal(t, game.StatusCompleted, snap.Status)
	assert.Equal(t, p1, snap.Winner)
	require.Eventually(t, func() bool { return e.results.count(sid) == 1 }, 2*time.Second, 5*time.Millisecond)

	w = e.do(t, http.MethodPost, flipPath, p1, `{"index":0}`)
	assert.Equal(t, http.StatusGone, w.Code)

	w = e.do(t, http.MethodGet, "/session/"+sid.String(), p2, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[game.Snapshot](t, w).Completed(), "completed sessions stay readable")
}

func TestLeaveForfeitsOnce(t *testing.T) {
	e := setupTestServer(t, game.DefaultPairs)
	p1, p2 := uuid.New(), uuid.New()
	sid := e.pair(t, p1, p2)
	leavePath := "/session/" + sid.String() + "/leave"

	w := e.do(t, http.MethodPost, leavePath, uuid.New(), "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, leavePath, p2, "")
	require.Equal(t, http.StatusOK, w.Code)
	w = e.do(t, http.MethodPost, leavePath, p1, "")
	require.Equal(t, http.StatusOK, w.Code, "leaving a finished session is a no-op")

	s, ok := e.gs.Sessions.Get(sid)
	require.True(t, ok)
	snap := s.Snapshot()
	assert.Equal(t, game.ReasonPlayerLeft, snap.Reason)
	assert.Equal(t, p1, snap.Winner)
	require.Eventually(t, func() bool { return e.results.count(sid) == 1 }, 2*time.Second, 5*time.Millisecond)

	w = e.do(t, http.MethodPost, "/queue/join", p1, "")
	assert.Equal(t, http.StatusOK, w.Code, "a finished session does not block the queue")
}

// wsURL turns the test server URL into a WebSocket URL for path.
func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server, path, subprotocol string, player uuid.UUID) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.Dial(ctx, wsURL(srv, path), &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
		HTTPHeader:   http.Header{"Cookie": []string{"auth_token=" + tokenFor(t, player)}},
	})
	require.NoError(t, err)
	return c
}

func readState(t *testing.T, ctx context.Context, c *websocket.Conn) game.Snapshot {
	t.Helper()
	for {
		var ev SessionEvent
		require.NoError(t, wsjson.Read(ctx, c, &ev))
		if ev.Type == "session_state" {
			require.NotNil(t, ev.State)
			return *ev.State
		}
	}
}

func TestSessionSocketStreamsStateAndForfeitsOnDisconnect(t *testing.T) {
	e := setupTestServer(t, game.DefaultPairs)
	srv := httptest.NewServer(e.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p1, p2 := uuid.New(), uuid.New()
	sid := e.pair(t, p1, p2)
	path := "/session/ws/" + sid.String()

	c1 := dial(t, ctx, srv, path, "session", p1)
	defer c1.Close(websocket.StatusNormalClosure, "")
	c2 := dial(t, ctx, srv, path, "session", p2)

	assert.EqualValues(t, 0, readState(t, ctx, c1).Version)
	assert.EqualValues(t, 0, readState(t, ctx, c2).Version)
	require.Eventually(t, func() bool {
		return e.gs.Presence.IsOnline(sid, p1) && e.gs.Presence.IsOnline(sid, p2)
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, wsjson.Write(ctx, c1, SessionMessage{Type: "flip", Index: intPtr(0)}))
	assert.EqualValues(t, 1, readState(t, ctx, c1).Version)
	assert.EqualValues(t, 1, readState(t, ctx, c2).Version)

	require.NoError(t, wsjson.Write(ctx, c2, SessionMessage{Type: "flip", Index: intPtr(1)}))
	var ev SessionEvent
	require.NoError(t, wsjson.Read(ctx, c2, &ev))
	assert.Equal(t, "error", ev.Type)
	assert.Equal(t, http.StatusConflict, ev.Code)

	c2.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return !e.gs.Presence.IsOnline(sid, p2) }, 2*time.Second, 5*time.Millisecond)

	e.clock.Advance(3 * time.Second)
	final := readState(t, ctx, c1)
	assert.Equal(t, game.StatusCompleted, final.Status)
	assert.Equal(t, game.ReasonPlayerDisconnected, final.Reason)
	assert.Equal(t, p1, final.Winner)
	require.Eventually(t, func() bool { return e.results.count(sid) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestSessionSocketReconnectKeepsGameAlive(t *testing.T) {
	e := setupTestServer(t, game.DefaultPairs)
	srv := httptest.NewServer(e.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p1, p2 := uuid.New(), uuid.New()
	sid := e.pair(t, p1, p2)
	path := "/session/ws/" + sid.String()

	c2 := dial(t, ctx, srv, path, "session", p2)
	readState(t, ctx, c2)
	c2.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool {
		rec, ok := e.gs.Presence.Record(sid, p2)
		return ok && !rec.Online && !rec.LastSeen.IsZero()
	}, 2*time.Second, 5*time.Millisecond)

	e.clock.Advance(2 * time.Second)
	c2 = dial(t, ctx, srv, path, "session", p2)
	defer c2.Close(websocket.StatusNormalClosure, "")
	readState(t, ctx, c2)
	require.Eventually(t, func() bool { return e.gs.Presence.IsOnline(sid, p2) }, 2*time.Second, 5*time.Millisecond)

	e.clock.Advance(10 * time.Second)
	assert.Never(t, func() bool { return e.results.count(sid) > 0 }, 100*time.Millisecond, 5*time.Millisecond)

	s, _ := e.gs.Sessions.Get(sid)
	assert.True(t, s.IsActive())

	require.NoError(t, wsjson.Write(ctx, c2, SessionMessage{Type: "ping"}))
	var ev SessionEvent
	require.NoError(t, wsjson.Read(ctx, c2, &ev))
	assert.Equal(t, "pong", ev.Type)
}

func TestSessionSocketRejectsOutsiders(t *testing.T) {
	e := setupTestServer(t, game.DefaultPairs)
	srv := httptest.NewServer(e.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sid := e.pair(t, uuid.New(), uuid.New())

	_, resp, err := websocket.Dial(ctx, wsURL(srv, "/session/ws/"+sid.String()), &websocket.DialOptions{
		Subprotocols: []string{"session"},
		HTTPHeader:   http.Header{"Cookie": []string{"auth_token=" + tokenFor(t, uuid.New())}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = websocket.Dial(ctx, wsURL(srv, "/session/ws/"+uuid.NewString()), &websocket.DialOptions{
		Subprotocols: []string{"session"},
		HTTPHeader:   http.Header{"Cookie": []string{"auth_token=" + tokenFor(t, uuid.New())}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestQueueSocketWaitsForMatch(t *testing.T) {
	e := setupTestServer(t, game.DefaultPairs)
	srv := httptest.NewServer(e.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	a, b := uuid.New(), uuid.New()

	c := dial(t, ctx, srv, "/queue/ws", "queue", a)
	defer c.Close(websocket.StatusNormalClosure, "")

	var msg queueResponse
	require.NoError(t, wsjson.Read(ctx, c, &msg))
	assert.Equal(t, "waiting", msg.Type)

	w := e.do(t, http.MethodPost, "/queue/join", b, "")
	require.Equal(t, http.StatusOK, w.Code)
	joined := decode[queueResponse](t, w)

	require.NoError(t, wsjson.Read(ctx, c, &msg))
	assert.Equal(t, "matched", msg.Type)
	assert.Equal(t, *joined.SessionID, *msg.SessionID)
	assert.Equal(t, b, *msg.Opponent)
}

func TestQueueSocketDisconnectCancelsEntry(t *testing.T) {
	e := setupTestServer(t, game.DefaultPairs)
	srv := httptest.NewServer(e.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := dial(t, ctx, srv, "/queue/ws", "queue", uuid.New())
	var msg queueResponse
	require.NoError(t, wsjson.Read(ctx, c, &msg))
	require.Equal(t, 1, e.gs.Queue.Len())

	c.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return e.gs.Queue.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

type mockProfiles map[uuid.UUID]models.ProfileStats

func (mp mockProfiles) GetProfileStats(_ context.Context, playerID uuid.UUID) (models.ProfileStats, error) {
	st := mp[playerID]
	st.UserID = playerID
	return st, nil
}

func TestProfileStats(t *testing.T) {
	e := setupTestServer(t, game.DefaultPairs)
	w := e.do(t, http.MethodGet, "/profile/stats", uuid.New(), "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	player := uuid.New()
	logger, _ := test.NewNullLogger()
	gs := NewGameServer(Options{
		Profiles: mockProfiles{player: {Wins: 2, Losses: 1, GamesPlayed: 3}},
		Logger:   logger,
	})
	e.mux = gs.Routes(logger)

	w = e.do(t, http.MethodGet, "/profile/stats", player, "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[models.ProfileStats](t, w)
	assert.Equal(t, player, stats.UserID)
	assert.Equal(t, 2, stats.Wins)
	assert.Equal(t, 3, stats.GamesPlayed)
}

func intPtr(i int) *int { return &i }

func TestOpenSocketSurvivesLeaseSweep(t *testing.T) {
	e := setupTestServer(t, game.DefaultPairs)
	srv := httptest.NewServer(e.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p1, p2 := uuid.New(), uuid.New()
	sid := e.pair(t, p1, p2)
	c2 := dial(t, ctx, srv, "/session/ws/"+sid.String(), "session", p2)
	defer c2.Close(websocket.StatusNormalClosure, "")
	readState(t, ctx, c2)
	require.Eventually(t, func() bool { return e.gs.Presence.IsOnline(sid, p2) }, 2*time.Second, 5*time.Millisecond)

	// No traffic for longer than the lease TTL; the sweep expires the lease.
	e.clock.Advance(presence.DefaultLeaseTTL + time.Second)
	require.Equal(t, 1, e.gs.Presence.Sweep(e.clock.Now()))
	require.False(t, e.gs.Presence.IsOnline(sid, p2))

	// Any message on the still-open socket brings the lease back.
	require.NoError(t, wsjson.Write(ctx, c2, SessionMessage{Type: "ping"}))
	var ev SessionEvent
	require.NoError(t, wsjson.Read(ctx, c2, &ev))
	require.Equal(t, "pong", ev.Type)
	assert.True(t, e.gs.Presence.IsOnline(sid, p2))

	e.clock.Advance(presence.DefaultDebounce + time.Second)
	assert.Never(t, func() bool { return e.results.count(sid) > 0 }, 100*time.Millisecond, 5*time.Millisecond)
	s, _ := e.gs.Sessions.Get(sid)
	assert.True(t, s.IsActive())
}

// flakyProfiles is an idempotent profile store whose first writes fail.
type flakyProfiles struct {
	mu       sync.Mutex
	failures int
	keys     map[string]bool
	stats    map[uuid.UUID]models.ProfileStats
}

func (fp *flakyProfiles) IncrementStats(_ context.Context, playerID uuid.UUID, outcome models.Outcome, key string) (bool, error) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if fp.failures > 0 {
		fp.failures--
		return false, errors.New("connection refused")
	}
	if fp.keys[key] {
		return false, nil
	}
	fp.keys[key] = true
	st := fp.stats[playerID]
	switch outcome {
	case models.OutcomeWin:
		st.Wins++
	case models.OutcomeLoss:
		st.Losses++
	case models.OutcomeDraw:
		st.Draws++
	}
	st.GamesPlayed++
	fp.stats[playerID] = st
	return true, nil
}

func (fp *flakyProfiles) get(playerID uuid.UUID) models.ProfileStats {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.stats[playerID]
}

func TestFailedResultWriteIsRecoveredByHousekeeping(t *testing.T) {
	require.NoError(t, auth.Init(0))
	logger, _ := test.NewNullLogger()
	clock := clockwork.NewFakeClock()
	store := &flakyProfiles{failures: 2, keys: map[string]bool{}, stats: map[uuid.UUID]models.ProfileStats{}}
	rec := results.NewRecorder(store, logger)
	gs := NewGameServer(Options{Clock: clock, Results: rec, Logger: logger})

	p1, p2 := uuid.New(), uuid.New()
	_, err := gs.Queue.Join(p1)
	require.NoError(t, err)
	res, err := gs.Queue.Join(p2)
	require.NoError(t, err)
	sid := res.SessionID

	require.NoError(t, gs.ForceComplete(context.Background(), sid, game.ReasonPlayerLeft, p2))
	require.NoError(t, gs.ForceComplete(context.Background(), sid, game.ReasonPlayerDisconnected, p2))
	require.NoError(t, gs.Shutdown(context.Background()))
	require.False(t, rec.Recorded(sid), "the store was down during completion")

	j := &housekeeping.Janitor{
		Sessions:  gs.Sessions,
		Presence:  gs.Presence,
		Forgetter: rec,
		Results:   rec,
		Clock:     clockwork.NewFakeClockAt(time.Now().Add(time.Hour)),
		Logger:    logger,
	}
	assert.Equal(t, 0, j.ReapCompleted(context.Background()), "an unrecorded session must stay in memory")

	assert.Equal(t, 1, j.RetryResults(context.Background()))
	assert.True(t, rec.Recorded(sid))
	assert.Equal(t, 1, store.get(p1).Wins)
	assert.Equal(t, 1, store.get(p2).Losses)

	assert.Equal(t, 0, j.RetryResults(context.Background()))
	assert.Equal(t, 1, store.get(p1).GamesPlayed, "no double counting")
	assert.Equal(t, 1, j.ReapCompleted(context.Background()))
}

// blockingResults holds every result write until released.
type blockingResults struct {
	release chan struct{}
	done    chan struct{}
}

func (br *blockingResults) OnSessionCompleted(ctx context.Context, _ game.Snapshot) error {
	select {
	case <-br.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	close(br.done)
	return nil
}

func TestFinalFlipDoesNotWaitForResultWrite(t *testing.T) {
	require.NoError(t, auth.Init(0))
	logger, _ := test.NewNullLogger()
	br := &blockingResults{release: make(chan struct{}), done: make(chan struct{})}
	gs := NewGameServer(Options{BoardPairs: 1, Clock: clockwork.NewFakeClock(), Results: br, Logger: logger})
	e := &testEnv{gs: gs, mux: gs.Routes(logger)}

	p1, p2 := uuid.New(), uuid.New()
	sid := e.pair(t, p1, p2)
	flipPath := "/session/" + sid.String() + "/flip"
	require.Equal(t, http.StatusOK, e.do(t, http.MethodPost, flipPath, p1, `{"index":0}`).Code)

	w := e.do(t, http.MethodPost, flipPath, p1, `{"index":1}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[game.Snapshot](t, w).Completed())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, gs.Shutdown(shutdownCtx), context.DeadlineExceeded, "the write is still pending")
}

func TestShutdownWaitsForPendingResults(t *testing.T) {
	logger, _ := test.NewNullLogger()
	br := &blockingResults{release: make(chan struct{}), done: make(chan struct{})}
	gs := NewGameServer(Options{Clock: clockwork.NewFakeClock(), Results: br, Logger: logger})

	p1, p2 := uuid.New(), uuid.New()
	_, err := gs.Queue.Join(p1)
	require.NoError(t, err)
	res, err := gs.Queue.Join(p2)
	require.NoError(t, err)
	require.NoError(t, gs.ForceComplete(context.Background(), res.SessionID, game.ReasonPlayerLeft, p1))

	close(br.release)
	require.NoError(t, gs.Shutdown(context.Background()))
	select {
	case <-br.done:
	default:
		t.Fatal("shutdown returned before the result was written")
	}
}

func TestWithdrawAfterPairingReturnsMatch(t *testing.T) {
	e := setupTestServer(t, game.DefaultPairs)
	a, b := uuid.New(), uuid.New()

	waiting, err := e.gs.Queue.Join(a)
	require.NoError(t, err)
	require.False(t, waiting.Matched)
	joined, err := e.gs.Queue.Join(b)
	require.NoError(t, err)

	// a's socket goes away after pairing already took its entry.
	m, ok := e.gs.withdraw(a, waiting.Wait)
	require.True(t, ok)
	assert.Equal(t, matchmaking.Match{SessionID: joined.SessionID, Opponent: b}, m)

	x := uuid.New()
	still, err := e.gs.Queue.Join(x)
	require.NoError(t, err)
	_, ok = e.gs.withdraw(x, still.Wait)
	assert.False(t, ok, "an unpaired entry is simply removed")
	assert.Equal(t, 0, e.gs.Queue.Len())
}
