package gateway

import (
	"strconv"
	"time"

	"fxsignal/internal/model"
)

// Broadcast sends a decision to every client subscribed to its instrument.
// The envelope is
//
//	{"type":"decision","channel":"pub:decision:EURUSD","data":{...},"ts":"...","seq":N}
//
// where seq increases by one per broadcast so clients can detect gaps and
// reconnect with ?since_seq=.
func (h *Hub) Broadcast(d model.Decision) {
	channel := d.PubSubChannel()
	data := d.JSON()
	now := h.now().UTC()

	// The whole fan-out runs under the write lock so a client registering
	// concurrently sees each decision exactly once.
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	seq := h.seq
	buf := buildEnvelope(channel, data, now, seq, false)
	h.latest[d.Instrument] = latestEntry{Channel: channel, Data: data, TS: now, Seq: seq}
	h.replay.Push(seq, d.Instrument, buf)

	for client := range h.clients {
		if !client.wants(d.Instrument) {
			continue
		}
		select {
		case client.send <- buf:
		default:
			h.logger.Debug("ws client send buffer full, dropping", "instrument", d.Instrument, "seq", seq)
		}
	}
}

// buildEnvelope hand-crafts the envelope JSON; data is already encoded.
func buildEnvelope(channel string, data []byte, ts time.Time, seq int64, initial bool) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+128)
	buf = append(buf, `{"type":"decision","channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = ts.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	if initial {
		buf = append(buf, `,"initial":true`...)
	}
	buf = append(buf, '}')
	return buf
}
