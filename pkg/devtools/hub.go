// Package devtools streams the runtime's instrumentation events to
// inspection clients over WebSocket and keeps a ring of recent events
// for late joiners.
package devtools

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"github.com/reflow-dev/reflow/pkg/reactive"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WireEvent is the JSON shape of one instrumentation event.
type WireEvent struct {
	Seq          uint64    `json:"seq"`
	Kind         string    `json:"kind"`
	Time         time.Time `json:"time"`
	CellID       uint64    `json:"cell_id,omitempty"`
	OwnerID      uint64    `json:"owner_id,omitempty"`
	Name         string    `json:"name,omitempty"`
	ValueType    string    `json:"value_type,omitempty"`
	Old          string    `json:"old,omitempty"`
	New          string    `json:"new,omitempty"`
	Participants int       `json:"participants,omitempty"`
	Deps         []uint64  `json:"deps,omitempty"`
}

// Hub implements reactive.Observer. ObserveEvent never blocks: events
// go into a buffered channel and are dropped when the consumer falls
// behind. A background goroutine fans events out to connected
// WebSocket clients and into the ring buffer.
type Hub struct {
	logger   *slog.Logger
	ringSize int

	events chan reactive.Event
	done   chan struct{}

	mu      sync.Mutex
	seq     uint64
	ring    []WireEvent
	ringPos int
	full    bool
	conns   map[string]*client
	dropped uint64
	closed  bool
}

// client is one connected WebSocket consumer.
type client struct {
	id   string
	conn *websocket.Conn

	// writeMu serializes writes; gorilla connections allow only one
	// concurrent writer.
	writeMu sync.Mutex
}

// Option configures a Hub.
type Option func(*Hub)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithRingSize sets how many recent events are kept for late joiners
// (default 1024).
func WithRingSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.ringSize = n
		}
	}
}

// WithBufferSize sets the ObserveEvent channel capacity (default 4096).
// Events beyond the capacity are dropped, never blocked on.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.events = make(chan reactive.Event, n)
		}
	}
}

// NewHub creates a Hub and starts its consumer goroutine. Install it
// with reactive.SetObserver(hub) and shut it down with Close.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		logger:   slog.Default(),
		ringSize: 1024,
		done:     make(chan struct{}),
		conns:    make(map[string]*client),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.events == nil {
		h.events = make(chan reactive.Event, 4096)
	}
	h.logger = h.logger.With("component", "devtools")
	h.ring = make([]WireEvent, h.ringSize)

	go h.run()
	return h
}

// ObserveEvent implements reactive.Observer. Never blocks; events are
// dropped when the hub cannot keep up.
func (h *Hub) ObserveEvent(ev reactive.Event) {
	select {
	case h.events <- ev:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	}
}

// run consumes the event channel until Close.
func (h *Hub) run() {
	for {
		select {
		case ev := <-h.events:
			h.dispatch(ev)
		case <-h.done:
			return
		}
	}
}

// dispatch records one event in the ring and broadcasts it.
func (h *Hub) dispatch(ev reactive.Event) {
	h.mu.Lock()
	h.seq++
	we := toWire(h.seq, ev)
	h.ring[h.ringPos] = we
	h.ringPos = (h.ringPos + 1) % h.ringSize
	if h.ringPos == 0 {
		h.full = true
	}
	conns := make([]*client, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	if len(conns) == 0 {
		return
	}
	payload, err := json.Marshal(we)
	if err != nil {
		h.logger.Error("marshal event", "err", err)
		return
	}
	for _, c := range conns {
		c.writeMu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, payload)
		c.writeMu.Unlock()
		if err != nil {
			h.logger.Debug("drop client", "conn", c.id, "err", err)
			h.removeClient(c.id)
		}
	}
}

// toWire converts a runtime event to its JSON shape. Values are
// rendered as strings: the wire format never carries live references
// into user data.
func toWire(seq uint64, ev reactive.Event) WireEvent {
	we := WireEvent{
		Seq:          seq,
		Kind:         ev.Kind.String(),
		Time:         ev.Time,
		CellID:       ev.CellID,
		OwnerID:      ev.OwnerID,
		Name:         ev.Name,
		ValueType:    ev.ValueType,
		Participants: ev.Participants,
		Deps:         ev.Deps,
	}
	if ev.Old != nil {
		we.Old = fmt.Sprintf("%v", ev.Old)
	}
	if ev.New != nil {
		we.New = fmt.Sprintf("%v", ev.New)
	}
	return we
}

// Recent returns the ring buffer contents, oldest first.
func (h *Hub) Recent() []WireEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.recentLocked()
}

// recentLocked copies the ring oldest first. Caller holds h.mu.
func (h *Hub) recentLocked() []WireEvent {
	if !h.full {
		out := make([]WireEvent, h.ringPos)
		copy(out, h.ring[:h.ringPos])
		return out
	}
	out := make([]WireEvent, 0, h.ringSize)
	out = append(out, h.ring[h.ringPos:]...)
	out = append(out, h.ring[:h.ringPos]...)
	return out
}

// Dropped returns how many events were discarded because the hub could
// not keep up.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// ClientCount returns the number of connected WebSocket clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The devtools endpoint serves local tooling; cross-origin pages
	// are allowed to connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Router returns the HTTP surface of the hub:
//
//	GET /events      WebSocket stream of instrumentation events
//	GET /api/events  JSON dump of the recent-event ring
//	GET /healthz     liveness probe
func (h *Hub) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/events", h.handleWS)
	r.Get("/api/events", h.handleRecent)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return r
}

// handleWS upgrades the connection and registers the client. The ring
// snapshot and the registration happen under one lock, so an event
// dispatched while the replay is in flight is either in the snapshot or
// broadcast to the already-registered client; holding writeMu across
// the replay keeps those broadcasts ordered after it.
func (h *Hub) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade", "err", err)
		return
	}

	c := &client{id: uuid.NewString(), conn: conn}
	c.writeMu.Lock()
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		c.writeMu.Unlock()
		conn.Close()
		return
	}
	recent := h.recentLocked()
	h.conns[c.id] = c
	h.mu.Unlock()

	for _, we := range recent {
		payload, err := json.Marshal(we)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.writeMu.Unlock()
			h.removeClient(c.id)
			return
		}
	}
	c.writeMu.Unlock()
	h.logger.Info("client connected", "conn", c.id)

	// Drain reads to process control frames and detect disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.removeClient(c.id)
				return
			}
		}
	}()
}

// handleRecent serves the ring buffer as a JSON array.
func (h *Hub) handleRecent(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.Recent()); err != nil {
		h.logger.Error("encode events", "err", err)
	}
}

// removeClient unregisters and closes a client connection.
func (h *Hub) removeClient(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if ok {
		delete(h.conns, id)
	}
	h.mu.Unlock()
	if ok {
		c.conn.Close()
		h.logger.Info("client disconnected", "conn", id)
	}
}

// Close stops the consumer goroutine and disconnects every client.
// The hub must be detached via reactive.SetObserver(nil) first;
// ObserveEvent calls after Close silently drop.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	conns := make([]*client, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*client)
	h.mu.Unlock()

	close(h.done)
	for _, c := range conns {
		c.conn.Close()
	}
}
