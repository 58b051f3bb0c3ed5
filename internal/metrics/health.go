package metrics

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Pinger probes one dependency.
type Pinger func(ctx context.Context) error

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	LastSampleTime time.Time
	StaleAfter     time.Duration // feed counts as down when no sample for this long; 0 disables
	MarketOpen     bool
	RedisEnabled   bool
	RedisConnected bool
	SQLiteOK       bool
	Instruments    []string

	// Liveness probe results
	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time

	now func() time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus(instruments []string, staleAfter time.Duration) *HealthStatus {
	return &HealthStatus{
		Instruments: instruments,
		StaleAfter:  staleAfter,
		StartedAt:   time.Now(),
		now:         time.Now,
	}
}

func (h *HealthStatus) SetLastSampleTime(t time.Time) {
	h.mu.Lock()
	h.LastSampleTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetMarketOpen(v bool) {
	h.mu.Lock()
	h.MarketOpen = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisEnabled(v bool) {
	h.mu.Lock()
	h.RedisEnabled = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, ping Pinger) {
	start := time.Now()
	err := ping(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite pings SQLite and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, ping Pinger) {
	start := time.Now()
	err := ping(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs dependency checks now and then every interval.
// Nil pingers are skipped.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, redisPing, sqlitePing Pinger, interval time.Duration) {
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if redisPing != nil {
			h.CheckRedis(probeCtx, redisPing)
		}
		if sqlitePing != nil {
			h.CheckSQLite(probeCtx, sqlitePing)
		}
	}
	go func() {
		check()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				check()
			}
		}
	}()
}

// feedOK reports whether samples are arriving. A closed market or a fresh
// start without samples yet is not a feed failure. Caller holds mu.
func (h *HealthStatus) feedOK() bool {
	if h.StaleAfter <= 0 || !h.MarketOpen {
		return true
	}
	last := h.LastSampleTime
	if last.IsZero() {
		last = h.StartedAt
	}
	return h.now().Sub(last) <= h.StaleAfter
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	feedOK := h.feedOK()
	redisOK := !h.RedisEnabled || h.RedisConnected

	overallStatus := "healthy"
	httpCode := http.StatusOK
	if !feedOK || !redisOK || !h.SQLiteOK {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !feedOK && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	sampleAge := ""
	if !h.LastSampleTime.IsZero() {
		sampleAge = h.now().Sub(h.LastSampleTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string   `json:"status"`
		Uptime          string   `json:"uptime"`
		FeedOK          bool     `json:"feed_ok"`
		MarketOpen      bool     `json:"market_open"`
		LastSampleTime  string   `json:"last_sample_time"`
		SampleAge       string   `json:"sample_age"`
		RedisEnabled    bool     `json:"redis_enabled"`
		RedisConnected  bool     `json:"redis_connected"`
		RedisLatencyMs  float64  `json:"redis_latency_ms"`
		SQLiteOK        bool     `json:"sqlite_ok"`
		SQLiteLatencyMs float64  `json:"sqlite_latency_ms"`
		Instruments     []string `json:"instruments"`
		LastCheckAt     string   `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          h.now().Sub(h.StartedAt).Round(time.Second).String(),
		FeedOK:          feedOK,
		MarketOpen:      h.MarketOpen,
		LastSampleTime:  h.LastSampleTime.Format(time.RFC3339),
		SampleAge:       sampleAge,
		RedisEnabled:    h.RedisEnabled,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Instruments:     h.Instruments,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}
