// internal/handlers/utils.go
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/memory-match/internal/game"
	"github.com/jason-s-yu/memory-match/internal/matchmaking"
	"github.com/jason-s-yu/memory-match/internal/presence"
)

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error     string     `json:"error"`
	SessionID *uuid.UUID `json:"sessionId,omitempty"`
}

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrSessionNotFound), errors.Is(err, presence.ErrNotTracked):
		return http.StatusNotFound
	case errors.Is(err, game.ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, game.ErrNotYourTurn),
		errors.Is(err, matchmaking.ErrAlreadyQueued),
		errors.Is(err, matchmaking.ErrAlreadyInSession):
		return http.StatusConflict
	case errors.Is(err, game.ErrInvalidIndex):
		return http.StatusUnprocessableEntity
	case errors.Is(err, game.ErrSessionCompleted):
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// pathSessionID parses the {id} wildcard of the route.
func pathSessionID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	return id, err == nil
}
