package chat

import (
	"testing"

	"github.com/mcdev12/watchparty/go/internal/protocol"
)

func TestAppendCountsUnreadWhileUnfocused(t *testing.T) {
	t.Parallel()

	l := New()
	l.Append(protocol.ChatMessage{UserID: "a", Body: "hi"})
	l.Append(protocol.ChatMessage{UserID: "b", Body: "hey"})

	if got := l.Unread(); got != 2 {
		t.Errorf("Unread = %d, want 2", got)
	}
	if got := len(l.Messages()); got != 2 {
		t.Errorf("len(Messages) = %d, want 2", got)
	}
}

func TestFocusClearsUnread(t *testing.T) {
	t.Parallel()

	l := New()
	l.Append(protocol.ChatMessage{UserID: "a", Body: "hi"})
	l.SetFocused(true)
	if got := l.Unread(); got != 0 {
		t.Errorf("Unread after focus = %d, want 0", got)
	}

	// Focused surfaces never accumulate unread.
	l.Append(protocol.ChatMessage{UserID: "b", Body: "hey"})
	if got := l.Unread(); got != 0 {
		t.Errorf("Unread while focused = %d, want 0", got)
	}

	l.SetFocused(false)
	l.Append(protocol.ChatMessage{UserID: "c", Body: "yo"})
	if got := l.Unread(); got != 1 {
		t.Errorf("Unread after blur = %d, want 1", got)
	}
}

func TestResetSeedsBacklog(t *testing.T) {
	t.Parallel()

	l := New()
	l.Append(protocol.ChatMessage{UserID: "a", Body: "stale"})

	backlog := []protocol.ChatMessage{
		{UserID: "b", Body: "one"},
		{UserID: "c", Body: "two"},
	}
	l.Reset(backlog)

	msgs := l.Messages()
	if len(msgs) != 2 {
		t.Fatalf("len(Messages) = %d, want 2", len(msgs))
	}
	if msgs[0].Body != "one" || msgs[1].Body != "two" {
		t.Errorf("backlog not preserved: %+v", msgs)
	}
	if got := l.Unread(); got != 0 {
		t.Errorf("Unread after reset = %d, want 0", got)
	}
}

func TestMessagesReturnsCopy(t *testing.T) {
	t.Parallel()

	l := New()
	l.Append(protocol.ChatMessage{UserID: "a", Body: "hi"})
	msgs := l.Messages()
	msgs[0].Body = "mutated"
	if l.Messages()[0].Body != "hi" {
		t.Error("caller mutation leaked into the log")
	}
}
