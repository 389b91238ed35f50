package main

import (
	"context"
	"flag"
	"os"
	"time"

	"gig-chat/internal/config"
	"gig-chat/internal/middleware"
	"gig-chat/simulator"

	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().
		Timestamp().
		Logger()

	seedFile := flag.String("seed", os.Getenv("SEED_USERS_FILE"), "YAML file with the users to simulate")
	engineURL := flag.String("url", "http://localhost:8080", "chat server base URL")
	duration := flag.Duration("duration", 10*time.Minute, "how long to run")
	flag.Parse()

	// Define simulation configuration
	simConfig := simulator.SimConfig{
		SimulationTime:   *duration,
		MessageFrequency: 60.0,
		ChannelSendRatio: 0.5,
		TypingRate:       0.3,
		DisconnectRate:   0.01,
		ReconnectRate:    0.05,
		ZipfS:            1.07,
		EngineURL:        *engineURL,
	}

	if *seedFile == "" {
		logger.Fatal().Msg("a seed file is required (-seed or SEED_USERS_FILE)")
	}
	seed, err := config.LoadSeedFile(*seedFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load seed file")
	}

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		logger.Fatal().Msg("JWT_SECRET must match the server's secret")
	}
	auth := middleware.NewAuthenticator(secret, os.Getenv("JWT_ISSUER"), logger)

	sim, err := simulator.NewChatSimulator(simConfig, seed.Users, auth, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create simulator")
	}

	logger.Info().
		Str("engine_url", simConfig.EngineURL).
		Int("users", len(seed.Users)).
		Dur("duration", simConfig.SimulationTime).
		Float64("message_frequency", simConfig.MessageFrequency).
		Float64("channel_send_ratio", simConfig.ChannelSendRatio).
		Float64("zipf_s", simConfig.ZipfS).
		Msg("starting simulation")

	ctx, cancel := context.WithTimeout(context.Background(), simConfig.SimulationTime)
	defer cancel()

	if err := sim.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("simulation failed")
	}

	m := sim.GetMetrics()
	logger.Info().
		Int("total_users", m.TotalUsers).
		Int("active_users", m.ActiveUsers).
		Int("request_sends", m.RequestSends).
		Int("channel_sends", m.ChannelSends).
		Int("typing_signals", m.TypingSignals).
		Int("events_received", m.EventsReceived).
		Int64("reads_marked", m.ReadsMarked).
		Int("errors", m.ErrorCount).
		Msg("simulation completed")
}
