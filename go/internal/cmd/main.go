package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/relay"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	config, err := loadConfig(getEnv("RELAY_CONFIG", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	clk := clockwork.NewRealClock()
	store := relay.NewStore(clk)

	connConfig := relay.DefaultConnConfig()
	connConfig.PingInterval = time.Duration(getEnvAsInt("RELAY_PING_SECONDS", 30)) * time.Second
	hub := relay.NewHub(connConfig)

	handler := relay.NewHandler(store, hub, clk)
	hub.SetHandler(handler)

	// Optional multi-instance fan-out
	natsURL := getEnv("NATS_URL", config.Relay.NATSURL)
	if natsURL != "" {
		fanout, err := relay.NewFanout(natsURL, hub)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start NATS fan-out")
		}
		defer fanout.Close()
		handler.SetFanout(fanout)
	}

	server := setupServer(config, hub, store)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("nats_url", natsURL).
			Msg("relay listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("relay server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}
