package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/client"
	"github.com/mcdev12/watchparty/go/internal/engine"
	"github.com/mcdev12/watchparty/go/internal/player/mpv"
	"github.com/mcdev12/watchparty/go/internal/protocol"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("could not load .env file")
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var (
		relayURL    = flag.String("relay", getEnv("RELAY_URL", "ws://localhost:8080/ws"), "relay WebSocket endpoint")
		socketPath  = flag.String("mpv-socket", getEnv("MPV_SOCKET", "/tmp/mpv.sock"), "mpv --input-ipc-server socket path")
		joinID      = flag.String("join", "", "session id to join; a new session is created when empty")
		controlLock = flag.Bool("lock", false, "lock playback control to this client (create only)")
		userID      = flag.String("user", getEnv("WATCH_USER_ID", ""), "stable user identity")
	)
	flag.Parse()

	adapter, err := mpv.Dial(*socketPath)
	if err != nil {
		log.Fatal().Err(err).Str("socket", *socketPath).Msg("failed to connect to mpv")
	}
	defer adapter.Close()

	// mpv reports its properties asynchronously after the observers are
	// registered; give the first round a moment to land so the video
	// identity below is real.
	time.Sleep(500 * time.Millisecond)
	videoID := videoIdentity(adapter)
	if videoID == 0 {
		log.Fatal().Msg("mpv has no file loaded")
	}

	c := client.New(client.Config{
		URL:    *relayURL,
		UserID: *userID,
	})
	eng := engine.New(adapter, c, clockwork.NewRealClock(), engine.DefaultConfig(),
		engine.WithVideoIdentity(func() int64 { return videoIdentity(adapter) }))
	c.Bind(eng)

	adapter.SetInteractionHook(eng.OnUserActivity)
	c.OnMessage(func(m protocol.ChatMessage) {
		if m.UserID == c.UserID() {
			return
		}
		fmt.Printf("[%s] %s\n", shortID(m.UserID), m.Body)
	})
	c.OnPresence(func(anyoneTyping bool) {
		if anyoneTyping {
			fmt.Println("(someone is typing...)")
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := c.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("relay connection loop exited")
		}
	}()
	go func() {
		if err := eng.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("engine exited")
		}
	}()

	// The relay link comes up asynchronously; session calls retry until
	// the first dial completes.
	if err := enterSession(ctx, c, *joinID, *controlLock, videoID); err != nil {
		log.Fatal().Err(err).Msg("could not enter session")
	}

	go chatLoop(ctx, c)

	<-ctx.Done()

	leaveCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.LeaveSession(leaveCtx); err != nil {
		log.Debug().Err(err).Msg("could not leave session on shutdown")
	}
}

func enterSession(ctx context.Context, c *client.Client, joinID string, controlLock bool, videoID int64) error {
	var sessionID uuid.UUID
	if joinID != "" {
		var err error
		if sessionID, err = uuid.Parse(joinID); err != nil {
			return fmt.Errorf("invalid session id %q: %w", joinID, err)
		}
	}

	for {
		var err error
		if joinID == "" {
			var id uuid.UUID
			id, err = c.CreateSession(ctx, controlLock, videoID)
			if err == nil {
				fmt.Printf("session created: %s\n", id)
				return nil
			}
		} else {
			err = c.JoinSession(ctx, sessionID, videoID)
			if err == nil {
				fmt.Printf("joined session %s\n", sessionID)
				return nil
			}
		}
		if err != client.ErrNotConnected {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

// chatLoop turns stdin lines into chat messages.
func chatLoop(ctx context.Context, c *client.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		body := strings.TrimSpace(scanner.Text())
		if body == "" {
			continue
		}
		if err := c.SendChat(ctx, body); err != nil {
			log.Warn().Err(err).Msg("could not send chat message")
		}
	}
}

// videoIdentity derives a stable nonzero identity from the file mpv has
// loaded, so two clients on different files refuse to sync.
func videoIdentity(adapter *mpv.Adapter) int64 {
	path := adapter.Path()
	if path == "" {
		return 0
	}
	h := fnv.New64a()
	h.Write([]byte(path))
	id := int64(h.Sum64())
	if id < 0 {
		id = -id
	}
	if id == 0 {
		id = 1
	}
	return id
}

func shortID(userID string) string {
	if len(userID) > 8 {
		return userID[:8]
	}
	return userID
}
