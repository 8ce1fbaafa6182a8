// internal/handlers/profile.go
package handlers

import (
	"net/http"

	"github.com/jason-s-yu/memory-match/internal/auth"
)

// ProfileStatsHandler handles GET /profile/stats and returns the caller's record.
func ProfileStatsHandler(gs *GameServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID, err := auth.PlayerFromRequest(r)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if gs.profiles == nil {
			http.Error(w, "profiles unavailable", http.StatusServiceUnavailable)
			return
		}
		stats, err := gs.profiles.GetProfileStats(r.Context(), playerID)
		if err != nil {
			gs.logger.WithField("player", playerID).WithError(err).Error("failed to load profile stats")
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}
