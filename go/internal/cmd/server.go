package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/watchparty/go/internal/relay"
)

func setupServer(config *Config, hub *relay.Hub, store *relay.Store) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	mux.HandleFunc("/ws", handleWebSocket(hub))
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/stats", handleStats(hub, store))

	handler := c.Handler(mux)

	return &http.Server{
		Addr:    getEnv("RELAY_ADDR", config.Relay.Addr),
		Handler: h2c.NewHandler(handler, &http2.Server{}),
	}
}

// handleWebSocket upgrades a client onto the persistent relay channel.
// The user identity comes from a query parameter; in production this
// would come from an authenticated token.
func handleWebSocket(hub *relay.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			userID = "anon-" + uuid.NewString()
		}

		if err := hub.Upgrade(w, r, userID); err != nil {
			log.Error().
				Err(err).
				Str("user_id", userID).
				Msg("failed to upgrade WebSocket connection")
			http.Error(w, "failed to upgrade connection", http.StatusInternalServerError)
		}
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func handleStats(hub *relay.Hub, store *relay.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conns, pools := hub.Stats()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int{
			"total_connections": conns,
			"connection_pools":  pools,
			"live_sessions":     store.Count(),
		})
	}
}
