package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/watchparty/go/internal/engine"
	"github.com/mcdev12/watchparty/go/internal/player/playertest"
	"github.com/mcdev12/watchparty/go/internal/protocol"
	"github.com/mcdev12/watchparty/go/internal/relay"
)

// startRelay runs a full relay on an httptest server and returns its
// WebSocket URL.
func startRelay(t *testing.T) string {
	t.Helper()

	clk := clockwork.NewRealClock()
	store := relay.NewStore(clk)
	hub := relay.NewHub(relay.DefaultConnConfig())
	hub.SetHandler(relay.NewHandler(store, hub, clk))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if err := hub.Upgrade(w, r, userID); err != nil {
			http.Error(w, "upgrade failed", http.StatusInternalServerError)
		}
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

// startClient wires a client to a fresh engine and runs its connection
// loop until the test ends.
func startClient(t *testing.T, ctx context.Context, url, userID string) *Client {
	t.Helper()

	c := New(Config{
		URL:           url + "?user_id=" + userID,
		UserID:        userID,
		ReconnectWait: 100 * time.Millisecond,
	})
	eng := engine.New(playertest.New(clockwork.NewRealClock()), c, clockwork.NewRealClock(), engine.DefaultConfig())
	c.Bind(eng)

	go c.Run(ctx)

	// Wait for the first dial to complete.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := c.ServerTime(ctx); err == nil {
			return c
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("client never connected")
	return nil
}

func TestClientSessionLifecycle(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := startRelay(t)

	alice := startClient(t, ctx, url, "alice")
	bob := startClient(t, ctx, url, "bob")

	sessionID, err := alice.CreateSession(ctx, true, 7)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := bob.JoinSession(ctx, sessionID, 7); err != nil {
		t.Fatalf("join session: %v", err)
	}

	// The session is locked to alice; bob's proposal bounces.
	err = bob.UpdateSession(ctx, protocol.PlaybackState{Position: 1000, PlayState: "playing"})
	var conflict *protocol.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("err = %v, want ConflictError", err)
	}

	if err := alice.UpdateSession(ctx, protocol.PlaybackState{Position: 90000, PlayState: "playing"}); err != nil {
		t.Fatalf("owner update: %v", err)
	}

	if err := bob.LeaveSession(ctx); err != nil {
		t.Fatalf("leave session: %v", err)
	}
}

func TestClientVideoMismatchOnJoin(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := startRelay(t)

	alice := startClient(t, ctx, url, "alice")
	bob := startClient(t, ctx, url, "bob")

	sessionID, err := alice.CreateSession(ctx, false, 7)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	err = bob.JoinSession(ctx, sessionID, 8)
	if !errors.Is(err, ErrVideoMismatch) {
		t.Fatalf("err = %v, want ErrVideoMismatch", err)
	}
	if bob.UserID() != "bob" {
		t.Errorf("UserID = %q", bob.UserID())
	}
}

func TestClientChatRoundTrip(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	url := startRelay(t)

	alice := startClient(t, ctx, url, "alice")
	bob := startClient(t, ctx, url, "bob")

	received := make(chan protocol.ChatMessage, 8)
	bob.OnMessage(func(m protocol.ChatMessage) { received <- m })

	sessionID, err := alice.CreateSession(ctx, false, 7)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := bob.JoinSession(ctx, sessionID, 7); err != nil {
		t.Fatalf("join session: %v", err)
	}

	if err := alice.SendChat(ctx, "hello bob"); err != nil {
		t.Fatalf("send chat: %v", err)
	}

	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-received:
			if msg.UserID == "alice" && msg.Body == "hello bob" {
				if got := bob.Chat().Unread(); got == 0 {
					t.Error("message not counted unread")
				}
				return
			}
		case <-timeout:
			t.Fatal("chat message never arrived")
		}
	}
}

func TestClientRequestsFailWhenDisconnected(t *testing.T) {
	t.Parallel()

	c := New(Config{URL: "ws://localhost:1/ws"})
	eng := engine.New(playertest.New(clockwork.NewRealClock()), c, clockwork.NewRealClock(), engine.DefaultConfig())
	c.Bind(eng)

	_, err := c.ServerTime(context.Background())
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}
