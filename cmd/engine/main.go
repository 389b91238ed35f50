package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gig-chat/internal/cache"
	"gig-chat/internal/config"
	"gig-chat/internal/database"
	"gig-chat/internal/engine"
	"gig-chat/internal/handlers"
	"gig-chat/internal/middleware"
	"gig-chat/internal/utils"
	"gig-chat/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
	logger.Info().Msg("server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.Debug {
		level = zerolog.DebugLevel
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			Level(level).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "gig-chat").
		Logger()
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := db.Close(closeCtx); err != nil {
			logger.Warn().Err(err).Msg("failed to close store")
		}
	}()

	var redisCache *cache.RedisCache
	if cfg.RedisURL != "" {
		redisCache, err = cache.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisCache.Close()
		logger.Info().Msg("connected to Redis")
	} else {
		logger.Info().Msg("REDIS_URL not set, presence mirror and rate limiting disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := utils.NewMetricsCollector(registry)
	var gatherer prometheus.Gatherer
	if cfg.Server.MetricsEnabled {
		gatherer = registry
	}

	system := actor.NewActorSystem()
	var mirror websocket.PresenceMirror
	opts := engine.Options{
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		SendRateLimit:    cfg.Chat.SendRateLimit,
		SendRateWindow:   cfg.Chat.SendRateWindow,
	}
	if redisCache != nil {
		mirror = redisCache
		opts.Limiter = redisCache
	}
	hub := websocket.NewHub(system, mirror, metrics, logger, cfg.Server.RequestTimeout)
	defer hub.Shutdown()

	chat := engine.NewEngine(db, hub, metrics, logger, opts)
	auth := middleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, logger)
	server := handlers.NewServer(
		chat,
		hub,
		db,
		auth,
		metrics,
		gatherer,
		middleware.DefaultCORSConfig(cfg.AllowedOrigins),
		cfg.Server.RequestTimeout,
		logger,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("addr", srv.Addr).
			Str("db_type", cfg.Database.Type).
			Bool("metrics", cfg.Server.MetricsEnabled).
			Msg("starting chat server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openStore connects the configured backend. The memory store is seeded
// from SEED_USERS_FILE when one is given.
func openStore(ctx context.Context, cfg *config.DatabaseConfig, logger zerolog.Logger) (database.DBAdapter, error) {
	switch cfg.Type {
	case config.DBTypeMongo:
		db, err := database.NewMongoDB(ctx, cfg.URI, cfg.MongoDatabase, logger)
		if err != nil {
			return nil, err
		}
		return db, nil

	case config.DBTypePostgres:
		db, err := database.NewPostgresDB(cfg.URI, logger)
		if err != nil {
			return nil, err
		}
		if err := db.InitializeTables(ctx); err != nil {
			db.Close(ctx)
			return nil, fmt.Errorf("postgres schema setup failed: %w", err)
		}
		return db, nil

	case config.DBTypeMemory:
		db := database.NewMemoryDB()
		if cfg.SeedUsersFile == "" {
			logger.Warn().Msg("memory store has no seed file, every receiver will be unknown")
			return db, nil
		}
		seed, err := config.LoadSeedFile(cfg.SeedUsersFile)
		if err != nil {
			return nil, err
		}
		for _, u := range seed.Users {
			db.AddUser(u)
		}
		for _, j := range seed.ModelJobs() {
			db.AddJob(j)
		}
		logger.Info().Int("users", len(seed.Users)).Int("jobs", len(seed.Jobs)).Msg("memory store seeded")
		return db, nil
	}
	return nil, fmt.Errorf("unsupported DB_TYPE %q", cfg.Type)
}
