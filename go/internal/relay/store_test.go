package relay

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/watchparty/go/internal/protocol"
	"github.com/mcdev12/watchparty/go/internal/session"
)

func TestStoreCreateStartsPausedAtZero(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	s := NewStore(clk)

	sess := s.Create(42, "")
	if sess.VideoID != 42 {
		t.Errorf("VideoID = %d, want 42", sess.VideoID)
	}
	if sess.Position != 0 || sess.PlayState != session.Paused {
		t.Errorf("fresh session not paused at zero: %+v", sess)
	}
	if !sess.AsOf.Equal(clk.Now()) {
		t.Errorf("AsOf = %s, want %s", sess.AsOf, clk.Now())
	}
	if s.Count() != 1 {
		t.Errorf("Count = %d, want 1", s.Count())
	}

	got, ok := s.Get(sess.ID)
	if !ok {
		t.Fatal("created session not found")
	}
	if got.ID != sess.ID {
		t.Errorf("Get returned wrong session: %+v", got)
	}
}

func TestStoreUpdateLastWriteWins(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	s := NewStore(clk)
	sess := s.Create(1, "")

	asOf := clk.Now().Add(3 * time.Second)
	if err := s.Update(sess.ID, "anyone", 90*time.Second, asOf, session.Playing); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, _ := s.Get(sess.ID)
	if got.Position != 90*time.Second || got.PlayState != session.Playing {
		t.Errorf("update not applied: %+v", got)
	}
	if !got.AsOf.Equal(asOf) {
		t.Errorf("AsOf = %s, want %s", got.AsOf, asOf)
	}
}

func TestStoreUpdateControlLock(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	s := NewStore(clk)
	sess := s.Create(1, "owner")

	err := s.Update(sess.ID, "intruder", time.Second, clk.Now(), session.Playing)
	if !errors.Is(err, ErrControlLocked) {
		t.Fatalf("err = %v, want ErrControlLocked", err)
	}
	got, _ := s.Get(sess.ID)
	if got.Position != 0 {
		t.Errorf("rejected update still applied: %+v", got)
	}

	if err := s.Update(sess.ID, "owner", time.Second, clk.Now(), session.Playing); err != nil {
		t.Fatalf("owner update: %v", err)
	}
}

func TestStoreUpdateUnknownSession(t *testing.T) {
	t.Parallel()

	s := NewStore(clockwork.NewFakeClock())
	err := s.Update(uuid.New(), "u", 0, time.Time{}, session.Paused)
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestStoreRebootRebuildsMissingSession(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	s := NewStore(clk)

	id := uuid.New()
	asOf := clk.Now()
	backlog := []protocol.ChatMessage{{UserID: "u1", Body: "hello"}}
	sess := s.Reboot(id, 7, "u1", time.Minute, asOf, session.Playing, backlog)

	if sess.ID != id || sess.VideoID != 7 || sess.OwnerID != "u1" {
		t.Errorf("rebuilt session = %+v", sess)
	}
	if sess.Position != time.Minute || sess.PlayState != session.Playing {
		t.Errorf("client playback state not adopted: %+v", sess)
	}
	if len(sess.Messages) != 1 || sess.Messages[0].Body != "hello" {
		t.Errorf("backlog not adopted: %+v", sess.Messages)
	}
	if s.Count() != 1 {
		t.Errorf("Count = %d, want 1", s.Count())
	}
}

func TestStoreRebootExistingRecordWins(t *testing.T) {
	t.Parallel()

	clk := clockwork.NewFakeClock()
	s := NewStore(clk)
	sess := s.Create(7, "")
	if err := s.Update(sess.ID, "u1", 2*time.Minute, clk.Now(), session.Playing); err != nil {
		t.Fatalf("update: %v", err)
	}

	// A stale client reboots with old truth; the live record stands.
	got := s.Reboot(sess.ID, 7, "", 10*time.Second, clk.Now(), session.Paused, nil)
	if got.Position != 2*time.Minute || got.PlayState != session.Playing {
		t.Errorf("live record overwritten: %+v", got)
	}
}

func TestStoreAppendMessage(t *testing.T) {
	t.Parallel()

	s := NewStore(clockwork.NewFakeClock())
	sess := s.Create(1, "")

	if err := s.AppendMessage(sess.ID, protocol.ChatMessage{UserID: "u", Body: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, _ := s.Get(sess.ID)
	if len(got.Messages) != 1 || got.Messages[0].Body != "hi" {
		t.Errorf("backlog = %+v", got.Messages)
	}

	err := s.AppendMessage(uuid.New(), protocol.ChatMessage{})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestStoreRemove(t *testing.T) {
	t.Parallel()

	s := NewStore(clockwork.NewFakeClock())
	sess := s.Create(1, "")
	s.Remove(sess.ID)

	if _, ok := s.Get(sess.ID); ok {
		t.Error("removed session still found")
	}
	if s.Count() != 0 {
		t.Errorf("Count = %d, want 0", s.Count())
	}
	// Removing twice is harmless.
	s.Remove(sess.ID)
}
