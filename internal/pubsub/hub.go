package pubsub

import (
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/thrasher-corp/wowlab-fleet/internal/log"
)

// Hub is the coordinator-side end of the bus: it accepts worker
// connections, tracks per-channel subscribers and fans out pushes. FIFO
// per subscription is preserved because each subscriber has its own
// buffered send channel drained by a single writer goroutine; no
// cross-subscription ordering is promised.
type Hub struct {
	upgrader websocket.Upgrader

	mu          sync.RWMutex
	subscribers map[string]map[*subscriber]struct{} // channel -> set
	offset      uint64
}

type subscriber struct {
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	nodeID string
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		upgrader:    websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		subscribers: make(map[string]map[*subscriber]struct{}),
	}
}

// ServeHTTP upgrades an incoming worker connection and serves it until
// disconnect. The connect frame is not verified: its token is recorded
// as the node id, and the /bus route is not behind the signed-request
// middleware; the hub handles only the frame protocol.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Coordinator.Error("pubsub upgrade failed", "error", err)
		return
	}
	sub := &subscriber{conn: conn, send: make(chan []byte, 64), done: make(chan struct{})}
	go h.writePump(sub)
	h.readPump(sub)
}

// writePump is the subscriber's single writer goroutine; draining send
// from exactly one place is what preserves FIFO per subscription. The
// send channel is never closed (Broadcast may still hold a reference to
// the subscriber from a snapshot taken just before teardown) — the done
// channel ends the pump instead.
func (h *Hub) writePump(s *subscriber) {
	for {
		select {
		case <-s.done:
			return
		case b := <-s.send:
			if err := s.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(s *subscriber) {
	defer close(s.done)
	defer h.unsubscribeAll(s)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		method, ok := PeekMethod(raw)
		if !ok {
			continue
		}
		h.handleFrame(s, method, raw)
	}
}

// handleFrame dispatches on the method peeked off the raw bytes; the
// few fields each method needs are extracted the same way, so the hub
// never pays for a full envelope decode on its hot path.
func (h *Hub) handleFrame(s *subscriber, method Method, raw []byte) {
	switch method {
	case MethodConnect:
		if tok, ok := peekParam(raw, "token"); ok {
			s.nodeID = tok
		}
	case MethodSubscribe:
		channel, ok := peekParam(raw, "channel")
		if !ok {
			channel = "chunks-available"
		}
		h.subscribe(channel, s)
	case MethodPresence, MethodPing:
		// liveness only; the coordinator's heartbeat row is updated via
		// the signed HTTP /nodes/heartbeat route, not this frame. Presence
		// itself is reflected passively: a subscriber present in Peers()
		// is, by construction, still connected.
	}
}

// Peers returns the node ids currently subscribed to channel, a
// secondary liveness signal alongside the heartbeat-row check the
// reclamation timer relies on. It is best-effort: a node id is only
// known once its connect frame's token has been observed.
func (h *Hub) Peers(channel string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.subscribers[channel]))
	for s := range h.subscribers[channel] {
		if s.nodeID != "" {
			out = append(out, s.nodeID)
		}
	}
	return out
}

func (h *Hub) subscribe(channel string, s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subscribers[channel]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subscribers[channel] = set
	}
	set[s] = struct{}{}
}

func (h *Hub) unsubscribeAll(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.subscribers {
		delete(set, s)
	}
}

// Broadcast pushes data to every subscriber of channel, in publish
// order; duplicates across a subscriber's reconnects are possible by
// design, so consumers must be idempotent.
func (h *Hub) Broadcast(channel string, data []byte) {
	h.mu.Lock()
	h.offset++
	offset := h.offset
	subs := make([]*subscriber, 0, len(h.subscribers[channel]))
	for s := range h.subscribers[channel] {
		subs = append(subs, s)
	}
	h.mu.Unlock()

	push := PushFrame{Channel: channel, Data: data, Offset: offset}
	raw, err := Encode(Frame{Push: &push})
	if err != nil {
		log.Coordinator.Error("broadcast encode failed", "error", err)
		return
	}
	for _, s := range subs {
		select {
		case s.send <- raw:
		default:
			log.Coordinator.Warn("subscriber send buffer full, dropping push")
		}
	}
}
