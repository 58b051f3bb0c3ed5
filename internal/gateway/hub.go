// Package gateway streams decision records to WebSocket clients.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fxsignal/internal/markethours"
	"fxsignal/internal/model"
)

const (
	clientSendBuffer = 512
	replayCapacity   = 500
)

// Hub manages WebSocket clients and fans decisions out to them.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry // by instrument
	seq     int64
	replay  *ReplayBuffer

	upgrader websocket.Upgrader
	logger   *slog.Logger
	now      func() time.Time

	// OnClients is called with the client count after every connect and
	// disconnect (optional, for metrics).
	OnClients func(n int)
}

type latestEntry struct {
	Channel string
	Data    json.RawMessage
	TS      time.Time
	Seq     int64
}

// NewHub creates an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
		replay:  NewReplayBuffer(replayCapacity),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log.With("component", "gateway"),
		now:    time.Now,
	}
}

// Run broadcasts every decision from ch. Blocks until ctx is cancelled or
// ch is closed.
func (h *Hub) Run(ctx context.Context, ch <-chan model.Decision) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			h.Broadcast(d)
		}
	}
}

// HandleWS upgrades the request and registers the client. The client is
// first sent the latest decision per instrument. With ?since_seq=N it is
// sent the buffered envelopes after N instead, and with ?last_ts= only
// latest entries newer than that time.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	conn.EnableWriteCompression(true)

	client := &Client{
		conn: conn,
		send: make(chan []byte, clientSendBuffer),
		hub:  h,
		subs: make(map[string]bool),
	}

	q := r.URL.Query()
	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	if since, err := strconv.ParseInt(q.Get("since_seq"), 10, 64); err == nil {
		client.replaySince(since)
	} else {
		client.sendInitialState(q.Get("last_ts"))
	}
	h.mu.Unlock()

	h.logger.Info("ws client connected", "clients", count, "remote", r.RemoteAddr)
	h.notifyClients(count)

	go client.writePump()
	go client.readPump()
}

// RemoveClient removes a client from the hub.
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

	h.logger.Info("ws client disconnected", "clients", count)
	h.notifyClients(count)
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Latest returns the last broadcast decision payload per instrument.
func (h *Hub) Latest() map[string]json.RawMessage {
	h.mu.RLock()
	defer h.mu.RUnlock()
	cp := make(map[string]json.RawMessage, len(h.latest))
	for k, v := range h.latest {
		cp[k] = v.Data
	}
	return cp
}

// Seq returns the sequence number of the last broadcast.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

// StartStatusBroadcast sends the FX session status to all clients every
// interval.
func (h *Hub) StartStatusBroadcast(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.broadcastStatus()
		}
	}
}

func (h *Hub) broadcastStatus() {
	now := h.now().UTC()
	h.mu.RLock()
	defer h.mu.RUnlock()
	envelope, _ := json.Marshal(map[string]interface{}{
		"type":          "status",
		"market_open":   markethours.IsMarketOpen(now),
		"market_status": markethours.StatusString(now),
		"clients":       len(h.clients),
		"seq":           h.seq,
		"ts":            now.Format(time.RFC3339Nano),
	})
	for client := range h.clients {
		select {
		case client.send <- envelope:
		default:
		}
	}
}

func (h *Hub) notifyClients(n int) {
	if h.OnClients != nil {
		h.OnClients(n)
	}
}
