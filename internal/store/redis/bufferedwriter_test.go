package redis

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxsignal/internal/breaker"
	"fxsignal/internal/model"
)

// fakePublisher records published decisions and fails while down is set.
type fakePublisher struct {
	mu   sync.Mutex
	down bool
	got  []model.Decision
}

func (f *fakePublisher) PublishDecision(ctx context.Context, d model.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return errors.New("connection refused")
	}
	f.got = append(f.got, d)
	return nil
}

func (f *fakePublisher) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func (f *fakePublisher) prices() []float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]float64, len(f.got))
	for i, d := range f.got {
		out[i] = d.Price
	}
	return out
}

func decision(price float64) model.Decision {
	return model.Decision{Instrument: "EURUSD", Price: price, Signal: model.ActionHold}
}

func TestBufferedWriter_PassThrough(t *testing.T) {
	pub := &fakePublisher{}
	bw := NewBufferedWriter(pub, breaker.New("redis", 3, time.Second), 10)

	require.NoError(t, bw.PublishDecision(context.Background(), decision(1.0)))
	require.NoError(t, bw.PublishDecision(context.Background(), decision(1.1)))
	assert.Equal(t, []float64{1.0, 1.1}, pub.prices())
	assert.Equal(t, 0, bw.PendingCount())
}

func TestBufferedWriter_BuffersAndReplaysInOrder(t *testing.T) {
	pub := &fakePublisher{}
	cb := breaker.New("redis", 2, 30*time.Millisecond)
	bw := NewBufferedWriter(pub, cb, 10)
	buffered, flushed := 0, 0
	bw.OnBuffer = func() { buffered++ }
	bw.OnFlush = func(n int) { flushed += n }
	ctx := context.Background()

	pub.setDown(true)
	assert.Error(t, bw.PublishDecision(ctx, decision(1.0)))
	assert.Error(t, bw.PublishDecision(ctx, decision(1.1)))
	require.Equal(t, breaker.StateOpen, cb.CurrentState())

	// open: buffered silently
	assert.NoError(t, bw.PublishDecision(ctx, decision(1.2)))
	assert.Equal(t, 3, bw.PendingCount())
	assert.Equal(t, 3, buffered)

	pub.setDown(false)
	time.Sleep(40 * time.Millisecond)
	require.NoError(t, bw.PublishDecision(ctx, decision(1.3)))

	assert.Equal(t, []float64{1.0, 1.1, 1.2, 1.3}, pub.prices(), "buffer replays ahead of the probe")
	assert.Equal(t, 0, bw.PendingCount())
	assert.Equal(t, 3, flushed)
	assert.Equal(t, breaker.StateClosed, cb.CurrentState())
}

func TestBufferedWriter_DropsOldestWhenFull(t *testing.T) {
	pub := &fakePublisher{down: true}
	bw := NewBufferedWriter(pub, breaker.New("redis", 1, time.Hour), 2)
	drops := 0
	bw.OnDrop = func() { drops++ }
	ctx := context.Background()

	for _, p := range []float64{1.0, 1.1, 1.2, 1.3} {
		bw.PublishDecision(ctx, decision(p))
	}
	assert.Equal(t, 2, bw.PendingCount())
	assert.Equal(t, 2, drops)

	pub.setDown(false)
	require.NoError(t, bw.Close(ctx))
	assert.Equal(t, []float64{1.2, 1.3}, pub.prices())
}

func TestBufferedWriter_PartialFlushKeepsRemainder(t *testing.T) {
	pub := &fakePublisher{down: true}
	bw := NewBufferedWriter(pub, breaker.New("redis", 5, time.Hour), 10)
	ctx := context.Background()
	bw.PublishDecision(ctx, decision(1.0))
	bw.PublishDecision(ctx, decision(1.1))

	assert.Error(t, bw.Close(ctx))
	assert.Equal(t, 2, bw.PendingCount())
}

func TestBufferedWriter_RunDrainsOnClose(t *testing.T) {
	pub := &fakePublisher{}
	bw := NewBufferedWriter(pub, breaker.New("redis", 3, time.Second), 10)

	ch := make(chan model.Decision, 3)
	ch <- decision(1.0)
	ch <- decision(1.1)
	close(ch)
	bw.Run(context.Background(), ch)

	assert.Equal(t, []float64{1.0, 1.1}, pub.prices())
}

func TestBufferedWriter_LogsThroughSlog(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	var buf bytes.Buffer
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)).With("service", "fxsignal"))

	pub := &fakePublisher{down: true}
	bw := NewBufferedWriter(pub, breaker.New("redis", 5, time.Second), 10)
	ch := make(chan model.Decision, 1)
	ch <- decision(1.0)
	close(ch)
	bw.Run(context.Background(), ch)

	out := buf.String()
	assert.Contains(t, out, "service=fxsignal")
	assert.Contains(t, out, "component=buffered-writer")
	assert.Contains(t, out, `msg="publish failed, buffered"`)
	assert.Contains(t, out, `msg="final flush failed"`)
	assert.Contains(t, out, "pending=1")
}
