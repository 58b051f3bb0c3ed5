package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fxsignal/internal/breaker"
	"fxsignal/internal/model"
)

// BufferedWriter wraps a DecisionPublisher with a circuit breaker. Failed
// writes, and writes attempted while the circuit is open, are buffered
// locally. The buffer is replayed ahead of the next write that gets through,
// so per-instrument ordering (and the latest-value key) is preserved.
type BufferedWriter struct {
	pub model.DecisionPublisher
	cb  *breaker.Breaker

	logger *slog.Logger

	sendMu sync.Mutex // serialises publish + flush

	mu     sync.Mutex
	buffer []model.Decision
	maxBuf int // max buffered writes before dropping oldest (default: 10000)

	// Callbacks
	OnBuffer func()          // called when a write is buffered (for metrics)
	OnDrop   func()          // called when the full buffer drops its oldest entry
	OnFlush  func(count int) // called after flushing buffered writes
}

var _ model.DecisionPublisher = (*BufferedWriter)(nil)

// NewBufferedWriter creates a BufferedWriter wrapping pub.
func NewBufferedWriter(pub model.DecisionPublisher, cb *breaker.Breaker, maxBufferSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	return &BufferedWriter{
		pub:    pub,
		cb:     cb,
		buffer: make([]model.Decision, 0, 64),
		maxBuf: maxBufferSize,
		logger: slog.Default().With("component", "buffered-writer"),
	}
}

// PublishDecision writes d through the circuit breaker. While the circuit is
// open the write is buffered and nil is returned. A failed write is buffered
// too, and its error returned.
func (bw *BufferedWriter) PublishDecision(ctx context.Context, d model.Decision) error {
	bw.sendMu.Lock()
	defer bw.sendMu.Unlock()

	err := bw.cb.Execute(func() error {
		if err := bw.flush(ctx); err != nil {
			return err
		}
		return bw.pub.PublishDecision(ctx, d)
	})
	if err == nil {
		return nil
	}
	bw.bufferWrite(d)
	if errors.Is(err, breaker.ErrOpen) {
		return nil // buffered, not lost
	}
	return err
}

// Run publishes every decision from ch until ctx is cancelled or ch closes,
// then makes a final attempt to drain the buffer.
func (bw *BufferedWriter) Run(ctx context.Context, ch <-chan model.Decision) {
	defer func() {
		fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := bw.Close(fctx); err != nil {
			bw.logger.Error("final flush failed", "pending", bw.PendingCount(), "error", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			if err := bw.PublishDecision(ctx, d); err != nil {
				bw.logger.Warn("publish failed, buffered", "instrument", d.Instrument, "error", err)
			}
		}
	}
}

// Close drains the buffer directly through the publisher, bypassing the
// breaker.
func (bw *BufferedWriter) Close(ctx context.Context) error {
	bw.sendMu.Lock()
	defer bw.sendMu.Unlock()
	return bw.flush(ctx)
}

func (bw *BufferedWriter) bufferWrite(d model.Decision) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if len(bw.buffer) >= bw.maxBuf {
		// Buffer full, drop oldest
		bw.buffer = bw.buffer[1:]
		if bw.OnDrop != nil {
			bw.OnDrop()
		}
	}
	bw.buffer = append(bw.buffer, d)

	if bw.OnBuffer != nil {
		bw.OnBuffer()
	}
}

// flush replays buffered writes in order. On the first failure the unsent
// remainder is put back at the head of the buffer. Caller holds sendMu.
func (bw *BufferedWriter) flush(ctx context.Context) error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	// Take ownership of the buffer
	toFlush := bw.buffer
	bw.buffer = make([]model.Decision, 0, 64)
	bw.mu.Unlock()

	for i, d := range toFlush {
		if err := bw.pub.PublishDecision(ctx, d); err != nil {
			bw.mu.Lock()
			bw.buffer = append(toFlush[i:len(toFlush):len(toFlush)], bw.buffer...)
			bw.mu.Unlock()
			if i > 0 && bw.OnFlush != nil {
				bw.OnFlush(i)
			}
			return err
		}
	}

	bw.logger.Info("flushed buffered writes", "count", len(toFlush))
	if bw.OnFlush != nil {
		bw.OnFlush(len(toFlush))
	}
	return nil
}

// PendingCount returns the number of buffered writes waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}
