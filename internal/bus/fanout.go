// Package bus broadcasts a single channel of values to N subscriber
// channels. The poller's samples and the strategy engine's decisions both
// fan out through it.
package bus

import (
	"context"
	"log/slog"
	"sync"
)

// FanOut broadcasts values from a single input channel to N output channels.
// If an output channel is full, the value is dropped for that consumer to
// prevent a slow consumer from blocking the pipeline.
type FanOut[T any] struct {
	mu      sync.RWMutex
	outputs []subscriber[T]
	bufSize int
	name    string

	// OnDrop is called when a value is dropped for a subscriber.
	OnDrop func(subscriber string)
}

type subscriber[T any] struct {
	name string
	ch   chan T
}

// New creates a FanOut with the given buffer size for output channels.
func New[T any](name string, outputBufferSize int) *FanOut[T] {
	return &FanOut[T]{
		name:    name,
		bufSize: outputBufferSize,
	}
}

// Subscribe creates and returns a new named output channel. Subscribe must
// be called before Run.
func (f *FanOut[T]) Subscribe(name string) <-chan T {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	f.outputs = append(f.outputs, subscriber[T]{name: name, ch: ch})
	f.mu.Unlock()
	return ch
}

// Run reads from the input channel and fans out to all subscribers.
// Blocks until ctx is cancelled or input is closed; every output channel is
// closed on return.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	defer func() {
		f.mu.RLock()
		for _, s := range f.outputs {
			close(s.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-input:
			if !ok {
				return
			}
			f.mu.RLock()
			for _, s := range f.outputs {
				select {
				case s.ch <- v:
				default:
					if f.OnDrop != nil {
						f.OnDrop(s.name)
					} else {
						slog.Warn("bus subscriber full, dropping", "bus", f.name, "subscriber", s.name)
					}
				}
			}
			f.mu.RUnlock()
		}
	}
}

// ChannelStat reports the fill level of one subscriber channel.
type ChannelStat struct {
	Name string
	Len  int
	Cap  int
}

// ChannelStats returns the fill level of each subscriber channel.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.outputs))
	for i, s := range f.outputs {
		stats[i] = ChannelStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch)}
	}
	return stats
}
