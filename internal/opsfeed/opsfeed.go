// Package opsfeed broadcasts live tick activity to connected operator
// websocket clients, grounded on the teacher's internal/ws.Broadcaster:
// a client registry with a buffered per-client send channel and a
// writePump goroutine, immediate fan-out of each event, and a one-time
// snapshot sent to each newly-connected client.
package opsfeed

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// MessageType identifies the shape of a Message's Payload.
type MessageType string

const (
	MsgSnapshot    MessageType = "snapshot"
	MsgTransition  MessageType = "transition"
	MsgTickSummary MessageType = "tick_summary"
)

// Message is the envelope sent to every connected operator client.
type Message struct {
	Type    MessageType `json:"type"`
	Seq     uint64      `json:"seq"`
	Payload any         `json:"payload"`
}

// TransitionEvent reports one CRN's outcome for a tick, for the live
// operator feed (spec.md's core has no such surface; this is the
// ambient ops visibility SPEC_FULL.md adds).
type TransitionEvent struct {
	CRN            string    `json:"crn"`
	Kind           string    `json:"kind"`
	IsOpen         bool      `json:"isOpen"`
	SeatsRemaining int       `json:"seatsRemaining"`
	ObservedAt     time.Time `json:"observedAt"`
}

// TickSummary reports one completed tick's aggregate outcome.
type TickSummary struct {
	TickID           string        `json:"tickId"`
	CoursesProcessed int           `json:"coursesProcessed"`
	Duration         time.Duration `json:"durationMs"`
	NextInterval     time.Duration `json:"nextIntervalMs"`
}

// MarshalJSON encodes Duration and NextInterval as whole milliseconds,
// matching their JSON field names.
func (s TickSummary) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TickID           string `json:"tickId"`
		CoursesProcessed int    `json:"coursesProcessed"`
		DurationMS       int64  `json:"durationMs"`
		NextIntervalMS   int64  `json:"nextIntervalMs"`
	}{s.TickID, s.CoursesProcessed, s.Duration.Milliseconds(), s.NextInterval.Milliseconds()})
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, 64)}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Feed fans out tick activity to every connected operator websocket
// client. The scheduler calls Broadcast* methods; internal/opshttp owns
// the HTTP upgrade and registers/unregisters clients.
type Feed struct {
	mu       sync.RWMutex
	clients  map[*client]bool
	maxConns int
	seq      atomic.Uint64
	logger   zerolog.Logger

	snapshot func() TickSummary
}

// New returns an empty Feed. maxConns <= 0 means unlimited.
func New(maxConns int, logger zerolog.Logger) *Feed {
	return &Feed{
		clients:  make(map[*client]bool),
		maxConns: maxConns,
		logger:   logger,
	}
}

// SetSnapshotSource registers a function returning the current tick
// summary, sent to every client immediately after it connects.
func (f *Feed) SetSnapshotSource(fn func() TickSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshot = fn
}

// ErrTooManyConnections is returned by AddClient once maxConns is reached.
var ErrTooManyConnections = feedError("opsfeed: too many connections")

type feedError string

func (e feedError) Error() string { return string(e) }

// AddClient registers conn as a feed subscriber and sends it an initial
// snapshot.
func (f *Feed) AddClient(conn *websocket.Conn) (*client, error) {
	f.mu.Lock()
	if f.maxConns > 0 && len(f.clients) >= f.maxConns {
		f.mu.Unlock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many connections"))
		_ = conn.Close()
		return nil, ErrTooManyConnections
	}
	c := newClient(conn)
	f.clients[c] = true
	f.mu.Unlock()

	if f.snapshot != nil {
		f.send(c, Message{Type: MsgSnapshot, Payload: f.snapshot()})
	}
	return c, nil
}

// RemoveClient unregisters and closes c.
func (f *Feed) RemoveClient(c *client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		c.close()
	}
}

// BroadcastTransition notifies every client of one CRN's tick outcome.
func (f *Feed) BroadcastTransition(ev TransitionEvent) {
	f.broadcast(Message{Type: MsgTransition, Payload: ev})
}

// BroadcastTickSummary notifies every client that a tick completed.
func (f *Feed) BroadcastTickSummary(s TickSummary) {
	f.broadcast(Message{Type: MsgTickSummary, Payload: s})
}

// ClientCount returns the number of currently connected clients.
func (f *Feed) ClientCount() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

func (f *Feed) broadcast(msg Message) {
	msg.Seq = f.seq.Add(1)
	data, err := json.Marshal(msg)
	if err != nil {
		f.logger.Error().Err(err).Msg("opsfeed: marshal broadcast message")
		return
	}

	f.mu.RLock()
	clients := make([]*client, 0, len(f.clients))
	for c := range f.clients {
		clients = append(clients, c)
	}
	f.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- data:
		default:
			f.logger.Warn().Msg("opsfeed: client too slow, disconnecting")
			f.RemoveClient(c)
		}
	}
}

func (f *Feed) send(c *client, msg Message) {
	msg.Seq = f.seq.Add(1)
	data, err := json.Marshal(msg)
	if err != nil {
		f.logger.Error().Err(err).Msg("opsfeed: marshal client message")
		return
	}
	select {
	case c.send <- data:
	default:
	}
}
