// Package gateway pushes order block updates to websocket clients.
package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"smc-engine/internal/model"

	"github.com/gorilla/websocket"
)

const replayPerChannel = 512

// Hub manages websocket clients and fans out block updates to them.
// The latest confirmed update per channel is replayed to new clients.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry
	seq     int64

	// Per-channel sequence numbers for client gap detection
	channelSeqs map[string]int64
	replayBufs  map[string]*ReplayBuffer

	// OnClientCount is called with the client count after a connect or
	// disconnect.
	OnClientCount func(n int)

	now func() time.Time
}

type latestEntry struct {
	Data json.RawMessage
	TS   time.Time
	Seq  int64
}

// NewHub creates an empty hub. Any origin may connect.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:     make(map[*Client]bool),
		latest:      make(map[string]latestEntry),
		channelSeqs: make(map[string]int64),
		replayBufs:  make(map[string]*ReplayBuffer),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Publish broadcasts an update on its channel. Live previews reach connected
// clients only; confirmed updates also become the channel's latest state.
func (h *Hub) Publish(upd model.BlockUpdate) {
	if !upd.Ready {
		return
	}
	h.broadcast(upd.PubSubChannel(), upd.JSON(), !upd.Live)
}

// ServeHTTP upgrades the connection and registers a client. Optional query
// parameters: tf and key restrict the initial subscription, last_ts skips
// replayed state not newer than it (RFC3339Nano).
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade failed: %v", err)
		return
	}

	client := newClient(h, conn)
	q := r.URL.Query()
	if tf, _ := strconv.Atoi(q.Get("tf")); tf > 0 || q.Get("key") != "" {
		client.subscribe(subscription{TF: tf, Key: q.Get("key")})
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}

	client.sendInitialState(q.Get("last_ts"))
	go client.writePump()
	go client.readPump()
}

// RemoveClient unregisters a client and closes its send queue.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	if h.OnClientCount != nil {
		h.OnClientCount(count)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Latest returns the latest confirmed payload of every channel.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// ChannelSeq returns the current sequence number of a channel.
func (h *Hub) ChannelSeq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.channelSeqs[channel]
}

// ReplayRange returns buffered envelopes of a channel with channel_seq in
// [fromSeq, toSeq].
func (h *Hub) ReplayRange(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replayBufs[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	entries := rb.Range(fromSeq, toSeq)
	out := make([][]byte, len(entries))
	for i, e := range entries {
		out[i] = e.Data
	}
	return out
}

// HandleMissed serves GET /missed?channel=&from=&to= as a JSON array of
// envelopes for client gap backfill.
func (h *Hub) HandleMissed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := q.Get("channel")
	from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
	if channel == "" || err1 != nil || err2 != nil || from > to {
		http.Error(w, "channel, from and to are required", http.StatusBadRequest)
		return
	}

	envelopes := h.ReplayRange(channel, from, to)
	raw := make([]json.RawMessage, len(envelopes))
	for i, e := range envelopes {
		raw[i] = e
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(raw)
}
