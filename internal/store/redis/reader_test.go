package redis

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxsignal/internal/model"
)

func TestKeys(t *testing.T) {
	d := model.Decision{Instrument: "GBPUSD"}
	assert.Equal(t, "decision:latest:GBPUSD", LatestKey(d.Instrument))
	assert.Equal(t, "pub:decision:GBPUSD", d.PubSubChannel())
}

func TestDecodeMessages_SkipsMalformed(t *testing.T) {
	good := model.Decision{Instrument: "EURUSD", Price: 1.0852, Signal: model.ActionBuy, Sufficient: true}
	msgs := []goredis.XMessage{
		{ID: "1-0", Values: map[string]interface{}{"data": string(good.JSON())}},
		{ID: "2-0", Values: map[string]interface{}{"data": "{not json"}},
		{ID: "3-0", Values: map[string]interface{}{"other": "x"}},
	}
	got := decodeMessages(msgs)
	require.Len(t, got, 1)
	assert.Equal(t, "EURUSD", got[0].Instrument)
	assert.Equal(t, model.ActionBuy, got[0].Signal)
	assert.True(t, got[0].Sufficient)
}

// TestRoundTrip runs against a live Redis when FXSIGNAL_TEST_REDIS is set,
// e.g. FXSIGNAL_TEST_REDIS=localhost:6379.
func TestRoundTrip(t *testing.T) {
	addr := os.Getenv("FXSIGNAL_TEST_REDIS")
	if addr == "" {
		t.Skip("FXSIGNAL_TEST_REDIS not set")
	}
	ctx := context.Background()

	w, err := New(WriterConfig{Addr: addr, DB: 15, LatestTTL: time.Minute})
	require.NoError(t, err)
	defer w.Close()
	r, err := NewReader(ReaderConfig{Addr: addr, DB: 15})
	require.NoError(t, err)
	defer r.Close()
	require.NoError(t, w.Client().Del(ctx, DecisionStream, LatestKey("EURUSD")).Err())

	sub := w.Client().Subscribe(ctx, "pub:decision:EURUSD")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	d := model.Decision{Instrument: "EURUSD", TS: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), Price: 1.0852, Signal: model.ActionBuy}
	require.NoError(t, w.PublishDecision(ctx, d))

	latest, err := r.LatestDecision(ctx, "EURUSD")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 1.0852, latest.Price)

	recent, err := r.RecentDecisions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	select {
	case msg := <-sub.Channel():
		assert.Contains(t, msg.Payload, `"instrument":"EURUSD"`)
	case <-time.After(2 * time.Second):
		t.Fatal("no pubsub message")
	}

	missing, err := r.LatestDecision(ctx, "AUDNZD")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
