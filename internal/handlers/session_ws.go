// internal/handlers/session_ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/jason-s-yu/memory-match/internal/auth"
	"github.com/jason-s-yu/memory-match/internal/game"
	"github.com/jason-s-yu/memory-match/internal/middleware"
	"github.com/jason-s-yu/memory-match/internal/presence"
	"github.com/sirupsen/logrus"
)

const (
	// writeTimeout bounds a single frame write to a slow client.
	writeTimeout = 5 * time.Second

	// pingInterval is how often the server pings a session socket. It stays
	// well under the presence lease TTL so an attached client is never swept.
	pingInterval = 10 * time.Second
)

// SessionMessage is an inbound message on the session socket.
//
//	{"type":"flip","index":3}
//	{"type":"leave"}
//	{"type":"ping"}
type SessionMessage struct {
	Type  string `json:"type"`
	Index *int   `json:"index,omitempty"`
}

// SessionEvent is an outbound message on the session socket. session_state
// carries a full snapshot; clients keep the one with the highest version.
type SessionEvent struct {
	Type  string         `json:"type"`
	State *game.Snapshot `json:"state,omitempty"`
	Error string         `json:"error,omitempty"`
	Code  int            `json:"code,omitempty"`
}

// SessionWSHandler streams a session to one of its players and accepts their
// moves. The open socket holds a presence lease; dropping it starts the
// disconnect grace period.
func SessionWSHandler(logger logrus.FieldLogger, gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, err := auth.PlayerFromRequest(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		sessionID, ok := pathSessionID(r)
		if !ok {
			http.Error(w, "invalid session id", http.StatusBadRequest)
			return
		}
		s, err := gs.session(sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		if !s.HasPlayer(playerID) {
			writeError(w, game.ErrNotParticipant)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"session"},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logger.WithError(err).Warn("session websocket accept failed")
			return
		}
		defer c.Close(websocket.StatusInternalError, "Internal server error during handler exit.")

		if c.Subprotocol() != "session" {
			c.Close(BadSubprotocolError, "Client must use the 'session' subprotocol.")
			return
		}
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

		log := logger.WithFields(logrus.Fields{"session": sessionID, "player": playerID})

		// A completed session is no longer tracked; the socket is then read-only.
		touch := func() {}
		lease, err := gs.Presence.Attach(sessionID, playerID)
		switch {
		case err == nil:
			defer lease.Release()
			touch = lease.Touch
		case errors.Is(err, presence.ErrNotTracked):
		default:
			log.WithError(err).Warn("failed to attach presence lease")
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		updates, unsubscribe := s.Subscribe()
		defer unsubscribe()
		go streamSnapshots(ctx, cancel, c, updates, log)
		go keepAlive(ctx, cancel, c, touch, log)

		readErr := readSessionMessages(ctx, c, gs, s, playerID, touch, log)

		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, readErr)
		c.Close(websocket.StatusNormalClosure, "")
	}
}

// streamSnapshots forwards every published snapshot to the client until the
// subscription closes or the connection fails.
func streamSnapshots(ctx context.Context, cancel context.CancelFunc, c *websocket.Conn, updates <-chan game.Snapshot, log logrus.FieldLogger) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := writeEvent(ctx, c, SessionEvent{Type: "session_state", State: &snap}); err != nil {
				log.WithError(err).Debug("failed to push session state")
				return
			}
		}
	}
}

// keepAlive pings the client until ctx ends. Every pong refreshes the presence
// lease; a missed pong tears the connection down, which releases the lease.
func keepAlive(ctx context.Context, cancel context.CancelFunc, c *websocket.Conn, touch func(), log logrus.FieldLogger) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Ping(pingCtx)
			pingCancel()
			if err != nil {
				if ctx.Err() == nil {
					log.WithError(err).Info("session socket stopped answering pings")
				}
				cancel()
				return
			}
			touch()
		}
	}
}

// readSessionMessages handles client messages until the socket closes. It
// returns the read error that ended the loop, nil for a normal closure.
// Every inbound message counts as presence activity.
func readSessionMessages(ctx context.Context, c *websocket.Conn, gs *GameServer, s *game.MatchSession, playerID uuid.UUID, touch func(), log logrus.FieldLogger) error {
	for {
		var msg SessionMessage
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway || ctx.Err() != nil {
				return nil
			}
			return err
		}
		touch()

		switch msg.Type {
		case "flip":
			if msg.Index == nil {
				_ = writeEvent(ctx, c, SessionEvent{Type: "error", Error: "flip requires an index", Code: http.StatusBadRequest})
				continue
			}
			// The new state reaches this client through its subscription.
			if _, err := s.ApplyFlip(playerID, *msg.Index); err != nil {
				_ = writeEvent(ctx, c, SessionEvent{Type: "error", Error: err.Error(), Code: statusFor(err)})
			}
		case "leave":
			if err := gs.Presence.Leave(ctx, s.ID, playerID); err != nil {
				log.WithError(err).Warn("leave failed")
				_ = writeEvent(ctx, c, SessionEvent{Type: "error", Error: err.Error(), Code: statusFor(err)})
			}
		case "ping":
			_ = writeEvent(ctx, c, SessionEvent{Type: "pong"})
		default:
			_ = writeEvent(ctx, c, SessionEvent{Type: "error", Error: "unknown message type " + msg.Type, Code: http.StatusBadRequest})
		}
	}
}

func writeEvent(ctx context.Context, c *websocket.Conn, ev SessionEvent) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, ev)
}
