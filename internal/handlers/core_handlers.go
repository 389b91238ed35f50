package handlers

import (
	"net/http"
	"time"

	"gig-chat/internal/engine/actors"
	"gig-chat/internal/middleware"
)

type healthResponse struct {
	Status     string                `json:"status"`
	Store      string                `json:"store"`
	Presence   *actors.PresenceStats `json:"presence,omitempty"`
	Uptime     string                `json:"uptime"`
	ServerTime time.Time             `json:"server_time"`
}

// HandleHealth handles health check requests. A failing store ping turns the
// response into a 503.
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := s.requestContext(r)
		defer cancel()

		resp := &healthResponse{
			Status:     "healthy",
			Store:      "ok",
			Uptime:     s.Metrics.Uptime().Round(time.Second).String(),
			ServerTime: time.Now().UTC(),
		}
		status := http.StatusOK

		if err := s.DB.Ping(ctx); err != nil {
			s.Logger.Warn().Err(err).Msg("health check: store unreachable")
			resp.Status = "degraded"
			resp.Store = "unreachable"
			status = http.StatusServiceUnavailable
		}

		stats, err := s.Hub.Stats(ctx)
		if err != nil {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		} else {
			resp.Presence = stats
		}

		middleware.WriteJSON(w, status, resp)
	}
}
