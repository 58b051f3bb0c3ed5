package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxsignal/internal/model"
)

type envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
	TS      string          `json:"ts"`
	Seq     int64           `json:"seq"`
	Initial bool            `json:"initial"`
}

var ts0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func decision(inst string, sig model.Action, i int) model.Decision {
	return model.Decision{
		Instrument: inst,
		TS:         ts0.Add(time.Duration(i) * time.Minute),
		Price:      1.08 + float64(i)*0.0001,
		Oscillator: 50,
		Sufficient: true,
		Signal:     sig,
		Reason:     "neutral",
	}
}

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(nil)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEnvelopes reads frames until n envelopes of the given type arrive.
func readEnvelopes(t *testing.T, conn *websocket.Conn, typ string, n int) []envelope {
	t.Helper()
	var out []envelope
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for len(out) < n {
		_, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		for _, line := range bytes.Split(frame, []byte{'\n'}) {
			var env envelope
			require.NoError(t, json.Unmarshal(line, &env), "frame: %s", line)
			if env.Type == typ {
				out = append(out, env)
			}
		}
	}
	return out
}

func TestBuildEnvelope(t *testing.T) {
	d := decision("EURUSD", model.ActionBuy, 1)
	buf := buildEnvelope(d.PubSubChannel(), d.JSON(), ts0, 42, true)

	var env envelope
	require.NoError(t, json.Unmarshal(buf, &env), "raw: %s", buf)
	assert.Equal(t, "decision", env.Type)
	assert.Equal(t, "pub:decision:EURUSD", env.Channel)
	assert.Equal(t, int64(42), env.Seq)
	assert.True(t, env.Initial)

	parsed, err := time.Parse(time.RFC3339Nano, env.TS)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts0))

	var got model.Decision
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, model.ActionBuy, got.Signal)
}

func TestHub_InitialStateThenLive(t *testing.T) {
	hub, srv := startHub(t)
	hub.Broadcast(decision("EURUSD", model.ActionHold, 1))
	hub.Broadcast(decision("EURUSD", model.ActionBuy, 2))
	hub.Broadcast(decision("GBPUSD", model.ActionSell, 3))

	conn := dial(t, srv, "")
	initial := readEnvelopes(t, conn, "decision", 2)
	assert.True(t, initial[0].Initial)
	assert.Equal(t, "pub:decision:EURUSD", initial[0].Channel)
	assert.Equal(t, int64(2), initial[0].Seq, "only the latest EURUSD decision is replayed")
	assert.Equal(t, "pub:decision:GBPUSD", initial[1].Channel)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	hub.Broadcast(decision("EURUSD", model.ActionHold, 4))
	live := readEnvelopes(t, conn, "decision", 1)
	assert.False(t, live[0].Initial)
	assert.Equal(t, int64(4), live[0].Seq)
	assert.Equal(t, int64(4), hub.Seq())
}

func TestHub_SinceSeqReplay(t *testing.T) {
	hub, srv := startHub(t)
	for i := 1; i <= 5; i++ {
		hub.Broadcast(decision("EURUSD", model.ActionHold, i))
	}

	conn := dial(t, srv, "?since_seq=3")
	got := readEnvelopes(t, conn, "decision", 2)
	assert.Equal(t, int64(4), got[0].Seq)
	assert.Equal(t, int64(5), got[1].Seq)
}

func TestHub_SubscribeFilters(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "SUBSCRIBE", "instruments": []string{"gbpusd"}}))
	readEnvelopes(t, conn, "subscriptions", 1)

	hub.Broadcast(decision("EURUSD", model.ActionBuy, 1))
	hub.Broadcast(decision("GBPUSD", model.ActionSell, 2))
	got := readEnvelopes(t, conn, "decision", 1)
	assert.Equal(t, "pub:decision:GBPUSD", got[0].Channel)
	assert.Equal(t, int64(2), got[0].Seq)
}

func TestHub_PingPong(t *testing.T) {
	_, srv := startHub(t)
	conn := dial(t, srv, "")
	require.NoError(t, conn.WriteJSON(map[string]int64{"ping": 123}))
	got := readEnvelopes(t, conn, "pong", 1)
	assert.Equal(t, "pong", got[0].Type)
}

func TestHub_DisconnectUpdatesCount(t *testing.T) {
	hub, srv := startHub(t)
	counts := make(chan int, 4)
	hub.OnClients = func(n int) { counts <- n }

	conn := dial(t, srv, "")
	assert.Equal(t, 1, <-counts)
	conn.Close()

	select {
	case n := <-counts:
		assert.Equal(t, 0, n)
	case <-time.After(3 * time.Second):
		t.Fatal("disconnect not observed")
	}
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_RunStopsOnClose(t *testing.T) {
	hub := NewHub(nil)
	ch := make(chan model.Decision, 2)
	ch <- decision("EURUSD", model.ActionHold, 1)
	close(ch)

	done := make(chan struct{})
	go func() {
		hub.Run(context.Background(), ch)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}
	assert.Contains(t, hub.Latest(), "EURUSD")
}
