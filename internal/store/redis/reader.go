package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"fxsignal/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

// ReaderConfig configures the Redis reader.
type ReaderConfig struct {
	Addr     string
	Password string
	DB       int
}

// Reader serves published decisions back to the HTTP API.
type Reader struct {
	client *goredis.Client
}

// NewReader creates a new Redis Reader and pings the server.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	client := newClient(cfg.Addr, cfg.Password, cfg.DB)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis reader connected", "component", "redis", "addr", cfg.Addr)
	return &Reader{client: client}, nil
}

// LatestDecision returns the newest decision for an instrument, or nil, nil
// if none has been published (or it has expired).
func (r *Reader) LatestDecision(ctx context.Context, instrument string) (*model.Decision, error) {
	data, err := r.client.Get(ctx, LatestKey(instrument)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get %s: %w", LatestKey(instrument), err)
	}
	return decodeDecision(data)
}

// RecentDecisions returns up to count of the newest decisions across all
// instruments, newest first.
func (r *Reader) RecentDecisions(ctx context.Context, count int64) ([]model.Decision, error) {
	msgs, err := r.client.XRevRangeN(ctx, DecisionStream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("xrevrange %s: %w", DecisionStream, err)
	}
	return decodeMessages(msgs), nil
}

// Ping checks connectivity.
func (r *Reader) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (r *Reader) Close() error {
	return r.client.Close()
}

func decodeDecision(data string) (*model.Decision, error) {
	var d model.Decision
	if err := json.Unmarshal([]byte(data), &d); err != nil {
		return nil, fmt.Errorf("unmarshal decision: %w", err)
	}
	return &d, nil
}

// decodeMessages parses stream entries, skipping malformed ones.
func decodeMessages(msgs []goredis.XMessage) []model.Decision {
	out := make([]model.Decision, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		d, err := decodeDecision(data)
		if err != nil {
			slog.Warn("skipping undecodable stream entry", "component", "redis", "id", msg.ID, "error", err)
			continue
		}
		out = append(out, *d)
	}
	return out
}
