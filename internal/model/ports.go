package model

import (
	"context"
)

// ── Storage Port Interfaces ──
// These interfaces decouple the engine and its collaborators from concrete
// storage implementations (Redis, SQLite).

// SampleWriter archives price samples.
type SampleWriter interface {
	// Run reads samples from sampleCh and writes them.
	// Blocks until ctx is cancelled or sampleCh is closed.
	Run(ctx context.Context, sampleCh <-chan PriceSample)

	// Close releases underlying resources.
	Close() error
}

// SampleReader reads archived samples for warm-up.
type SampleReader interface {
	// ReadRecentSamples returns up to limit of the newest samples for an
	// instrument, oldest first.
	ReadRecentSamples(instrument string, limit int) ([]PriceSample, error)
}

// SnapshotStore reads and writes oscillator engine snapshots as raw JSON.
// Using []byte avoids a model→indicator→model import cycle.
type SnapshotStore interface {
	// SaveSnapshotJSON persists a JSON-encoded engine snapshot.
	SaveSnapshotJSON(data []byte) error

	// ReadLatestSnapshotJSON loads the most recent snapshot as raw JSON.
	// Returns nil, nil if no snapshot exists.
	ReadLatestSnapshotJSON() ([]byte, error)
}

// DecisionPublisher pushes decision records to downstream consumers.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, d Decision) error
}
