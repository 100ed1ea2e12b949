// Package mpv drives a local mpv instance over its JSON IPC socket,
// exposing it as a player.Adapter. mpv must be started with
// --input-ipc-server pointing at the same socket.
package mpv

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/watchparty/go/internal/player"
)

// Property observer IDs; mpv echoes these back on every property-change
// event so we know which field to update.
const (
	obsPause = iota + 1
	obsTimePos
	obsDuration
	obsIdle
	obsSeeking
	obsPausedForCache
	obsPath
)

type command struct {
	Command   []interface{} `json:"command"`
	RequestID int64         `json:"request_id,omitempty"`
}

type event struct {
	Event     string          `json:"event,omitempty"`
	ID        int             `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	RequestID int64           `json:"request_id,omitempty"`
}

// Adapter is a player.Adapter backed by an mpv process. Property
// observers keep a continuously fresh view of the player, so reads are
// snapshots of mpv's own most recent report rather than stale caches.
type Adapter struct {
	conn net.Conn

	writeMu sync.Mutex
	writer  *bufio.Writer

	// onInteraction, when set, fires on pause and seek property flips;
	// the engine filters out the ones it caused itself.
	onInteraction func()

	mu       sync.RWMutex
	pause    bool
	timePos  float64
	duration float64
	idle     bool
	seeking  bool
	caching  bool
	path     string
	closed   bool
}

// Dial connects to mpv's IPC socket and subscribes to the properties the
// adapter reports on.
func Dial(socketPath string) (*Adapter, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial mpv socket: %w", err)
	}

	a := &Adapter{
		conn:   conn,
		writer: bufio.NewWriter(conn),
		idle:   true,
	}
	go a.readLoop()

	observed := []struct {
		id   int
		name string
	}{
		{obsPause, "pause"},
		{obsTimePos, "time-pos"},
		{obsDuration, "duration"},
		{obsIdle, "idle-active"},
		{obsSeeking, "seeking"},
		{obsPausedForCache, "paused-for-cache"},
		{obsPath, "path"},
	}
	for _, o := range observed {
		if err := a.send("observe_property", o.id, o.name); err != nil {
			conn.Close()
			return nil, fmt.Errorf("observe %s: %w", o.name, err)
		}
	}
	return a, nil
}

// Close tears down the IPC connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	return a.conn.Close()
}

func (a *Adapter) send(args ...interface{}) error {
	payload, err := json.Marshal(command{Command: args})
	if err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if _, err := a.writer.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("write mpv command: %w", err)
	}
	return a.writer.Flush()
}

func (a *Adapter) readLoop() {
	scanner := bufio.NewScanner(a.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			log.Debug().Err(err).Msg("undecodable mpv event")
			continue
		}
		if ev.Event == "property-change" {
			a.applyProperty(ev)
		}
	}

	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if !closed {
		log.Warn().Err(scanner.Err()).Msg("mpv IPC connection lost")
	}
}

// SetInteractionHook installs a callback fired when the pause or seeking
// state flips, which is the closest IPC proxy for user input.
func (a *Adapter) SetInteractionHook(fn func()) {
	a.mu.Lock()
	a.onInteraction = fn
	a.mu.Unlock()
}

func (a *Adapter) applyProperty(ev event) {
	a.mu.Lock()
	interacted := false
	switch ev.ID {
	case obsPause:
		old := a.pause
		json.Unmarshal(ev.Data, &a.pause)
		interacted = old != a.pause
	case obsTimePos:
		json.Unmarshal(ev.Data, &a.timePos)
	case obsDuration:
		json.Unmarshal(ev.Data, &a.duration)
	case obsIdle:
		json.Unmarshal(ev.Data, &a.idle)
	case obsSeeking:
		old := a.seeking
		json.Unmarshal(ev.Data, &a.seeking)
		interacted = old != a.seeking && a.seeking
	case obsPausedForCache:
		json.Unmarshal(ev.Data, &a.caching)
	case obsPath:
		json.Unmarshal(ev.Data, &a.path)
	}
	hook := a.onInteraction
	a.mu.Unlock()

	if interacted && hook != nil {
		hook()
	}
}

func (a *Adapter) State() player.State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	switch {
	case a.idle:
		return player.StateIdle
	case a.seeking || a.caching:
		return player.StateLoading
	case a.pause:
		return player.StatePaused
	default:
		return player.StatePlaying
	}
}

func (a *Adapter) Position() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return time.Duration(a.timePos * float64(time.Second))
}

func (a *Adapter) Duration() time.Duration {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return time.Duration(a.duration * float64(time.Second))
}

// Path returns the currently loaded file, empty when nothing is loaded.
func (a *Adapter) Path() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.path
}

func (a *Adapter) Play() error {
	return a.send("set_property", "pause", false)
}

func (a *Adapter) Pause() error {
	return a.send("set_property", "pause", true)
}

func (a *Adapter) Seek(target time.Duration) error {
	return a.send("seek", target.Seconds(), "absolute")
}

func (a *Adapter) ShowControls() error {
	return a.send("show-progress")
}

// HideControls is a no-op: mpv's OSD hides itself.
func (a *Adapter) HideControls() error {
	return nil
}
