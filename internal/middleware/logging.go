package middleware

import (
	"net/http"
	"time"

	"gig-chat/internal/utils"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Logger returns a request logging middleware using zerolog. It also counts
// requests by route pattern when metrics is set.
func Logger(logger zerolog.Logger, metrics *utils.MetricsCollector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				status := ww.Status()
				if status == 0 {
					status = http.StatusOK
				}
				route := r.URL.Path
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					route = rctx.RoutePattern()
				}
				if metrics != nil {
					metrics.IncrementRequests(r.Method, route, status)
				}

				evt := logger.Info()
				if status >= http.StatusInternalServerError {
					evt = logger.Error()
				}
				evt.Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", status).
					Dur("latency", time.Since(start)).
					Str("request_id", chimw.GetReqID(r.Context())).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
