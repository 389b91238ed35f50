package handlers

import (
	"net/http"
	"time"

	"gig-chat/internal/database"
	"gig-chat/internal/engine"
	"gig-chat/internal/middleware"
	"gig-chat/internal/utils"
	"gig-chat/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	ws "github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server holds all server dependencies
type Server struct {
	Engine         *engine.Engine
	Hub            *websocket.Hub
	DB             database.DBAdapter
	Auth           *middleware.Authenticator
	Metrics        *utils.MetricsCollector
	Gatherer       prometheus.Gatherer
	CORS           *middleware.CORSConfig
	RequestTimeout time.Duration
	Logger         zerolog.Logger

	upgrader ws.Upgrader
}

// NewServer creates a new Server instance with the given components.
// A nil gatherer disables /metrics.
func NewServer(
	chat *engine.Engine,
	hub *websocket.Hub,
	db database.DBAdapter,
	auth *middleware.Authenticator,
	metrics *utils.MetricsCollector,
	gatherer prometheus.Gatherer,
	cors *middleware.CORSConfig,
	requestTimeout time.Duration,
	logger zerolog.Logger,
) *Server {
	if cors == nil {
		cors = middleware.DefaultCORSConfig(nil)
	}
	s := &Server{
		Engine:         chat,
		Hub:            hub,
		DB:             db,
		Auth:           auth,
		Metrics:        metrics,
		Gatherer:       gatherer,
		CORS:           cors,
		RequestTimeout: requestTimeout,
		Logger:         logger.With().Str("component", "http").Logger(),
	}
	s.upgrader = ws.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return s.CORS.OriginAllowed(r.Header.Get("Origin"))
		},
	}
	return s
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(s.Logger, s.Metrics))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORSMiddleware(s.CORS))

	r.Get("/health", s.HandleHealth())
	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	r.Get("/ws", s.HandleWebSocket())

	r.Route("/api/chat", func(r chi.Router) {
		r.Use(s.Auth.RequireAuth)

		r.Get("/conversations", s.HandleConversations())
		r.Get("/messages/{otherUserId}", s.HandleThread())
		r.Post("/send", s.HandleSendMessage())
		r.Post("/start-conversation", s.HandleStartConversation())
		r.Patch("/mark-read/{otherUserId}", s.HandleMarkRead())
		r.Get("/unread-count", s.HandleUnreadCount())
		r.Get("/presence/{userId}", s.HandlePresence())
	})
	return r
}

// respondError writes err and counts it.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	code := utils.ErrInternal
	if appErr, ok := utils.AsAppError(err); ok {
		code = appErr.Code
	}
	s.Metrics.IncrementErrors(code)
	if utils.AppErrorToHTTPStatus(code) >= http.StatusInternalServerError {
		s.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	middleware.WriteError(w, err)
}
