// internal/handlers/queue.go
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
	"github.com/jason-s-yu/memory-match/internal/matchmaking"
	"github.com/jason-s-yu/memory-match/internal/middleware"
	"github.com/sirupsen/logrus"
)

// queueResponse is the body of the queue endpoints and the payload of queue
// socket messages.
type queueResponse struct {
	Type      string     `json:"type,omitempty"`
	Waiting   bool       `json:"waiting,omitempty"`
	Queued    bool       `json:"queued"`
	Matched   bool       `json:"matched"`
	SessionID *uuid.UUID `json:"sessionId,omitempty"`
	Opponent  *uuid.UUID `json:"opponent,omitempty"`
	JoinedAt  *time.Time `json:"joinedAt,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func matchedResponse(sessionID, opponent uuid.UUID) queueResponse {
	return queueResponse{Type: "matched", Matched: true, SessionID: &sessionID, Opponent: &opponent}
}

// JoinQueueHandler handles POST /queue/join.
func JoinQueueHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, err := auth.PlayerFromRequest(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		res, err := gs.Queue.Join(playerID)
		if err != nil {
			resp := errorResponse{Error: err.Error()}
			if errors.Is(err, matchmaking.ErrAlreadyInSession) {
				resp.SessionID = &res.SessionID
			}
			writeJSON(w, statusFor(err), resp)
			return
		}
		if res.Matched {
			writeJSON(w, http.StatusOK, matchedResponse(res.SessionID, res.Opponent))
			return
		}
		writeJSON(w, http.StatusOK, queueResponse{Waiting: true, Queued: true})
	}
}

// CancelQueueHandler handles POST /queue/cancel. Cancelling without an entry is not an error.
func CancelQueueHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, err := auth.PlayerFromRequest(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		removed := gs.Queue.Cancel(playerID)
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true, "removed": removed})
	}
}

// QueueStatusHandler handles GET /queue/status for polling clients.
func QueueStatusHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, err := auth.PlayerFromRequest(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if queued, since := gs.Queue.Status(playerID); queued {
			writeJSON(w, http.StatusOK, queueResponse{Queued: true, Waiting: true, JoinedAt: &since})
			return
		}
		if s, ok := gs.Sessions.ActiveSessionFor(playerID); ok {
			writeJSON(w, http.StatusOK, matchedResponse(s.ID, s.Opponent(playerID)))
			return
		}
		writeJSON(w, http.StatusOK, queueResponse{})
	}
}

// QueueWSHandler joins the queue over a WebSocket and holds the socket open
// until a match is found. Closing the socket while waiting cancels the entry.
func QueueWSHandler(logger logrus.FieldLogger, gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, err := auth.PlayerFromRequest(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"queue"},
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			logger.WithError(err).Warn("queue websocket accept failed")
			return
		}
		defer c.Close(websocket.StatusInternalError, "Internal server error during handler exit.")

		if c.Subprotocol() != "queue" {
			c.Close(BadSubprotocolError, "Client must use the 'queue' subprotocol.")
			return
		}
		middleware.LogWebSocketConnect(logger, r.RemoteAddr, r.URL.Path)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		res, err := gs.Queue.Join(playerID)
		if err != nil {
			_ = wsjson.Write(ctx, c, queueResponse{Type: "error", Error: err.Error()})
			c.Close(QueueRejectedError, err.Error())
			middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, err)
			return
		}
		if res.Matched {
			_ = wsjson.Write(ctx, c, matchedResponse(res.SessionID, res.Opponent))
			c.Close(websocket.StatusNormalClosure, "matched")
			middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, nil)
			return
		}

		if err := wsjson.Write(ctx, c, queueResponse{Type: "waiting", Waiting: true, Queued: true}); err != nil {
			gs.Queue.Cancel(playerID)
			return
		}

		// The reader ends the wait when the client disconnects or asks to cancel.
		go func() {
			defer cancel()
			for {
				var msg struct {
					Type string `json:"type"`
				}
				if err := wsjson.Read(ctx, c, &msg); err != nil {
					return
				}
				if msg.Type == "cancel" {
					return
				}
			}
		}()

		select {
		case m, ok := <-res.Wait:
			if !ok {
				c.Close(QueueCancelledError, "queue entry cancelled")
				break
			}
			_ = wsjson.Write(ctx, c, matchedResponse(m.SessionID, m.Opponent))
			c.Close(websocket.StatusNormalClosure, "matched")
		case <-ctx.Done():
			m, matched := gs.withdraw(playerID, res.Wait)
			if !matched {
				logger.WithField("player", playerID).Info("queue socket closed, entry removed")
				c.Close(QueueCancelledError, "queue entry cancelled")
				break
			}
			// Paired while the client was leaving; it still has to learn its session.
			writeCtx, writeCancel := context.WithTimeout(context.Background(), writeTimeout)
			_ = wsjson.Write(writeCtx, c, matchedResponse(m.SessionID, m.Opponent))
			writeCancel()
			c.Close(websocket.StatusNormalClosure, "matched")
		}
		middleware.LogWebSocketDisconnect(logger, r.RemoteAddr, r.URL.Path, nil)
	}
}

// withdraw removes playerID from the queue. If pairing already took the entry,
// the match it produced is returned instead.
func (gs *GameServer) withdraw(playerID uuid.UUID, wait <-chan matchmaking.Match) (matchmaking.Match, bool) {
	if gs.Queue.Cancel(playerID) {
		return matchmaking.Match{}, false
	}
	m, ok := <-wait
	return m, ok
}
