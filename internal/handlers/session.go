// internal/handlers/session.go
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/jason-s-yu/memory-match/internal/auth"
	"github.com/jason-s-yu/memory-match/internal/game"
)

type flipRequest struct {
	Index *int `json:"index"`
}

// GetSessionHandler handles GET /session/{id} and returns the current snapshot.
func GetSessionHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := auth.PlayerFromRequest(r); err != nil {
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
		writeJSON(w, http.StatusOK, s.Snapshot())
	}
}

// FlipHandler handles POST /session/{id}/flip with body {"index": n}.
func FlipHandler(gs *GameServer) http.HandlerFunc {
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

		var req flipRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Index == nil {
			http.Error(w, "body must be {\"index\": <card index>}", http.StatusBadRequest)
			return
		}

		s, err := gs.session(sessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		snap, err := s.ApplyFlip(playerID, *req.Index)
		if err != nil {
			writeError(w, err)
			return
		}
		gs.Presence.Touch(sessionID, playerID)
		writeJSON(w, http.StatusOK, snap)
	}
}

// LeaveHandler handles POST /session/{id}/leave. The caller forfeits immediately.
func LeaveHandler(gs *GameServer) http.HandlerFunc {
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
		if err := gs.Presence.Leave(r.Context(), sessionID, playerID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
