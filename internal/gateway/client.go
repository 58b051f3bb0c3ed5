package gateway

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fxsignal/internal/model"
)

const (
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
	writeWait  = 10 * time.Second
)

// Client represents a single WebSocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	// Subscribed instruments. Empty means all.
	subMu sync.RWMutex
	subs  map[string]bool
}

// controlMsg is a client → server message.
//
//	{"type":"SUBSCRIBE","instruments":["EURUSD"]}
//	{"type":"UNSUBSCRIBE","instruments":["EURUSD"]}
//	{"ping":1700000000000}
type controlMsg struct {
	Type        string   `json:"type"`
	Instruments []string `json:"instruments"`
	Ping        int64    `json:"ping"`
}

// sendInitialState queues the latest decision per instrument, newer than
// lastTS when given. Caller holds hub.mu.
func (c *Client) sendInitialState(lastTS string) {
	var cutoff time.Time
	if lastTS != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, lastTS); err == nil {
			cutoff = parsed
		}
	}

	insts := make([]string, 0, len(c.hub.latest))
	for inst := range c.hub.latest {
		insts = append(insts, inst)
	}
	sort.Strings(insts)

	for _, inst := range insts {
		entry := c.hub.latest[inst]
		if !cutoff.IsZero() && !entry.TS.After(cutoff) {
			continue
		}
		select {
		case c.send <- buildEnvelope(entry.Channel, entry.Data, entry.TS, entry.Seq, true):
		default:
		}
	}
}

// replaySince queues buffered envelopes after seq. Caller holds hub.mu.
func (c *Client) replaySince(seq int64) {
	for _, e := range c.hub.replay.Since(seq) {
		select {
		case c.send <- e.Data:
		default:
		}
	}
}

func (c *Client) wants(instrument string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subs) == 0 || c.subs[instrument]
}

func (c *Client) subscribe(instruments []string, on bool) []string {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, s := range instruments {
		inst, err := model.ParseInstrument(s)
		if err != nil {
			continue
		}
		if on {
			c.subs[inst.Symbol] = true
		} else {
			delete(c.subs, inst.Symbol)
		}
	}
	out := make([]string, 0, len(c.subs))
	for k := range c.subs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Coalesce queued messages into one frame, newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMsg
		if json.Unmarshal(raw, &msg) != nil {
			c.reply(map[string]interface{}{"type": "error", "error": "invalid message"})
			continue
		}

		switch strings.ToUpper(msg.Type) {
		case "SUBSCRIBE", "UNSUBSCRIBE":
			subs := c.subscribe(msg.Instruments, strings.EqualFold(msg.Type, "SUBSCRIBE"))
			c.reply(map[string]interface{}{"type": "subscriptions", "instruments": subs})
		default:
			if msg.Ping > 0 {
				c.reply(map[string]interface{}{
					"type":      "pong",
					"ping":      msg.Ping,
					"server_ts": time.Now().UnixMilli(),
				})
			}
		}
	}
}

// reply queues a control response. The hub lock guards against sending
// on a channel RemoveClient has closed.
func (c *Client) reply(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- b:
	default:
	}
}
