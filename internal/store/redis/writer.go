package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fxsignal/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	// DecisionStream holds every published decision, trimmed to streamMaxLen.
	DecisionStream = "stream:decisions"

	streamMaxLen     = 10000
	defaultLatestTTL = 30 * time.Minute
)

// LatestKey returns the key holding the newest decision for an instrument.
func LatestKey(instrument string) string {
	return "decision:latest:" + instrument
}

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr      string // Redis address, e.g. "localhost:6379"
	Password  string
	DB        int
	LatestTTL time.Duration // TTL on decision:latest:<pair>; 0 uses 30m
}

// Writer publishes decision records to Redis.
type Writer struct {
	client    *goredis.Client
	latestTTL time.Duration
}

var _ model.DecisionPublisher = (*Writer)(nil)

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := newClient(cfg.Addr, cfg.Password, cfg.DB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	ttl := cfg.LatestTTL
	if ttl <= 0 {
		ttl = defaultLatestTTL
	}
	slog.Info("redis writer connected", "component", "redis", "addr", cfg.Addr)
	return &Writer{client: client, latestTTL: ttl}, nil
}

func newClient(addr, password string, db int) *goredis.Client {
	return goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// PublishDecision writes one decision in a single pipeline:
// SET the latest value with TTL, XADD to the decision stream, and PUBLISH
// on the instrument's channel.
func (w *Writer) PublishDecision(ctx context.Context, d model.Decision) error {
	jsonData := string(d.JSON())

	pipe := w.client.Pipeline()
	pipe.Set(ctx, LatestKey(d.Instrument), jsonData, w.latestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: DecisionStream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"instrument": d.Instrument,
			"data":       jsonData,
		},
	})
	pipe.Publish(ctx, d.PubSubChannel(), jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline for %s: %w", d.Instrument, err)
	}
	return nil
}

// Ping checks connectivity.
func (w *Writer) Ping(ctx context.Context) error {
	return w.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
