// internal/handlers/routes.go
package handlers

import (
	"net/http"

	"github.com/jason-s-yu/memory-match/internal/middleware"
	"github.com/sirupsen/logrus"
)

// Routes registers every queue and session endpoint on a new ServeMux.
func (gs *GameServer) Routes(logger logrus.FieldLogger) *http.ServeMux {
	mux := http.NewServeMux()
	logged := middleware.LogMiddleware(logger)

	// queue endpoints
	mux.Handle("POST /queue/join", logged(JoinQueueHandler(gs)))
	mux.Handle("POST /queue/cancel", logged(CancelQueueHandler(gs)))
	mux.Handle("GET /queue/status", logged(QueueStatusHandler(gs)))
	mux.Handle("GET /queue/ws", logged(QueueWSHandler(logger, gs)))

	// session endpoints
	mux.Handle("GET /session/{id}", logged(GetSessionHandler(gs)))
	mux.Handle("POST /session/{id}/flip", logged(FlipHandler(gs)))
	mux.Handle("POST /session/{id}/leave", logged(LeaveHandler(gs)))
	mux.Handle("GET /session/ws/{id}", logged(SessionWSHandler(logger, gs)))

	// profile endpoints
	mux.Handle("GET /profile/stats", logged(ProfileStatsHandler(gs)))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ok":       true,
			"sessions": gs.Sessions.Len(),
			"queued":   gs.Queue.Len(),
		})
	})
	return mux
}
