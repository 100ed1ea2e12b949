package chat

import (
	"sync"

	"github.com/mcdev12/watchparty/go/internal/protocol"
)

// Log stores the session's chat history and tracks unread messages.
// Rendering is someone else's problem; this is bookkeeping only, and the
// backlog is what a reboot resupplies to the relay.
type Log struct {
	mu       sync.Mutex
	messages []protocol.ChatMessage
	unread   int
	focused  bool
}

// New creates an empty chat log.
func New() *Log {
	return &Log{}
}

// Append records a message. Messages arriving while the surface is not
// focused count as unread.
func (l *Log) Append(msg protocol.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, msg)
	if !l.focused {
		l.unread++
	}
}

// Reset clears the history, typically on joining a new session. An
// optional backlog seeds the fresh log.
func (l *Log) Reset(backlog []protocol.ChatMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append([]protocol.ChatMessage(nil), backlog...)
	l.unread = 0
}

// Messages returns a copy of the history.
func (l *Log) Messages() []protocol.ChatMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.ChatMessage(nil), l.messages...)
}

// Unread returns the unread count.
func (l *Log) Unread() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unread
}

// SetFocused records whether the user is looking at the chat surface.
// Gaining focus clears the unread count.
func (l *Log) SetFocused(focused bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.focused = focused
	if focused {
		l.unread = 0
	}
}
