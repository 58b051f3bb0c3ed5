package metrics

import (
	"time"

	"fxsignal/internal/breaker"
	"fxsignal/internal/feed"
	"fxsignal/internal/model"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the signal engine.
type Metrics struct {
	// Feed
	SamplesTotal  *prometheus.CounterVec // labels: instrument
	FetchErrors   *prometheus.CounterVec // labels: instrument, kind=transient|permanent
	FetchRetries  *prometheus.CounterVec // labels: instrument
	FetchDur      prometheus.Histogram
	PollsSkipped  prometheus.Counter
	MarketState   prometheus.Gauge // 0=closed, 1=open
	LastSampleAge prometheus.Gauge

	// Strategy engine
	DecisionsTotal  *prometheus.CounterVec // labels: instrument, signal
	SignalChanges   *prometheus.CounterVec // labels: instrument
	EvaluateErrors  *prometheus.CounterVec // labels: instrument
	EvaluateDur     prometheus.Histogram
	OscillatorValue *prometheus.GaugeVec // labels: instrument

	// Virtual positions
	PositionsOpened *prometheus.CounterVec // labels: instrument, direction
	PositionsClosed *prometheus.CounterVec // labels: instrument, reason
	OpenPositions   prometheus.Gauge
	RealizedPnL     *prometheus.GaugeVec // labels: instrument

	// Persistence
	SQLiteCommitDur prometheus.Histogram
	SamplesArchived prometheus.Counter
	SnapshotsTotal  *prometheus.CounterVec // labels: result=ok|error
	RedisBuffered   prometheus.Counter
	RedisDropped    prometheus.Counter
	RedisFlushed    prometheus.Counter

	// Circuit breakers
	BreakerState *prometheus.GaugeVec   // labels: name; 0=closed, 1=open, 2=half-open
	BreakerTrips *prometheus.CounterVec // labels: name

	// Backpressure
	FanoutDrops          *prometheus.CounterVec // labels: bus, subscriber
	ChannelSaturationPct *prometheus.GaugeVec   // labels: channel_name

	// Delivery
	NotificationsTotal *prometheus.CounterVec // labels: result=ok|error
	WSClients          prometheus.Gauge
}

// NewMetrics creates all collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	latencyBuckets := []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01}

	m := &Metrics{
		SamplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxsignal_samples_total",
			Help: "Price samples received from the feed",
		}, []string{"instrument"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxsignal_fetch_errors_total",
			Help: "Failed quote fetches after retries",
		}, []string{"instrument", "kind"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxsignal_fetch_retries_total",
			Help: "Quote fetch retry attempts",
		}, []string{"instrument"}),
		FetchDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxsignal_fetch_duration_seconds",
			Help:    "Quote fetch latency including retries",
			Buckets: prometheus.DefBuckets,
		}),
		PollsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxsignal_polls_skipped_total",
			Help: "Poll rounds skipped because the FX market was closed",
		}),
		MarketState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxsignal_market_state",
			Help: "FX market session state (0=closed, 1=open)",
		}),
		LastSampleAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxsignal_last_sample_age_seconds",
			Help: "Seconds since the newest sample was evaluated",
		}),

		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxsignal_decisions_total",
			Help: "Decision records emitted (by signal)",
		}, []string{"instrument", "signal"}),
		SignalChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxsignal_signal_changes_total",
			Help: "Transitions between classified signals",
		}, []string{"instrument"}),
		EvaluateErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxsignal_evaluate_errors_total",
			Help: "Samples rejected by the strategy engine",
		}, []string{"instrument"}),
		EvaluateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxsignal_evaluate_duration_seconds",
			Help:    "Strategy cycle latency per sample",
			Buckets: latencyBuckets,
		}),
		OscillatorValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fxsignal_oscillator_value",
			Help: "Latest RSI reading",
		}, []string{"instrument"}),

		PositionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxsignal_positions_opened_total",
			Help: "Virtual positions opened",
		}, []string{"instrument", "direction"}),
		PositionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxsignal_positions_closed_total",
			Help: "Virtual positions closed (by exit reason)",
		}, []string{"instrument", "reason"}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxsignal_open_positions",
			Help: "Virtual positions currently open",
		}),
		RealizedPnL: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fxsignal_realized_pnl",
			Help: "Cumulative P&L of closed virtual positions",
		}, []string{"instrument"}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fxsignal_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		SamplesArchived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxsignal_samples_archived_total",
			Help: "Samples committed to SQLite",
		}),
		SnapshotsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxsignal_snapshots_total",
			Help: "Oscillator snapshot checkpoints",
		}, []string{"result"}),
		RedisBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxsignal_redis_buffered_writes_total",
			Help: "Decisions buffered locally while Redis was unavailable",
		}),
		RedisDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxsignal_redis_buffer_drops_total",
			Help: "Buffered decisions dropped because the buffer was full",
		}),
		RedisFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fxsignal_redis_flushed_writes_total",
			Help: "Buffered decisions replayed to Redis",
		}),

		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fxsignal_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		BreakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxsignal_circuit_breaker_trips_total",
			Help: "Times a circuit breaker tripped open",
		}, []string{"name"}),

		FanoutDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxsignal_fanout_drops_total",
			Help: "Values dropped by a fan-out bus per subscriber",
		}, []string{"bus", "subscriber"}),
		ChannelSaturationPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fxsignal_channel_saturation_pct",
			Help: "Channel fill percentage (len/cap * 100)",
		}, []string{"channel_name"}),

		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxsignal_notifications_total",
			Help: "Alert delivery attempts",
		}, []string{"result"}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxsignal_ws_clients",
			Help: "Connected websocket clients",
		}),
	}

	reg.MustRegister(
		m.SamplesTotal,
		m.FetchErrors,
		m.FetchRetries,
		m.FetchDur,
		m.PollsSkipped,
		m.MarketState,
		m.LastSampleAge,
		m.DecisionsTotal,
		m.SignalChanges,
		m.EvaluateErrors,
		m.EvaluateDur,
		m.OscillatorValue,
		m.PositionsOpened,
		m.PositionsClosed,
		m.OpenPositions,
		m.RealizedPnL,
		m.SQLiteCommitDur,
		m.SamplesArchived,
		m.SnapshotsTotal,
		m.RedisBuffered,
		m.RedisDropped,
		m.RedisFlushed,
		m.BreakerState,
		m.BreakerTrips,
		m.FanoutDrops,
		m.ChannelSaturationPct,
		m.NotificationsTotal,
		m.WSClients,
	)

	return m
}

// ObserveFetch records one poller fetch attempt.
func (m *Metrics) ObserveFetch(instrument string, elapsed time.Duration, err error) {
	m.FetchDur.Observe(elapsed.Seconds())
	switch {
	case err == nil:
		m.SamplesTotal.WithLabelValues(instrument).Inc()
	case feed.IsTransient(err):
		m.FetchErrors.WithLabelValues(instrument, "transient").Inc()
	default:
		m.FetchErrors.WithLabelValues(instrument, "permanent").Inc()
	}
}

// ObserveDecision records a decision and the position events it carries.
func (m *Metrics) ObserveDecision(d model.Decision) {
	m.DecisionsTotal.WithLabelValues(d.Instrument, string(d.Signal)).Inc()
	m.OscillatorValue.WithLabelValues(d.Instrument).Set(d.Oscillator)
	if d.Changed() {
		m.SignalChanges.WithLabelValues(d.Instrument).Inc()
	}
	if d.Exit != nil {
		m.PositionsClosed.WithLabelValues(d.Instrument, string(d.Exit.Reason)).Inc()
		m.RealizedPnL.WithLabelValues(d.Instrument).Add(d.Exit.PnL)
		m.OpenPositions.Dec()
	}
	if d.Opened && d.Proposal != nil {
		m.PositionsOpened.WithLabelValues(d.Instrument, string(d.Proposal.Direction)).Inc()
		m.OpenPositions.Inc()
	}
}

// ObserveBreaker is a breaker.OnStateChange hook.
func (m *Metrics) ObserveBreaker(name string, from, to breaker.State) {
	m.BreakerState.WithLabelValues(name).Set(float64(to))
	if to == breaker.StateOpen {
		m.BreakerTrips.WithLabelValues(name).Inc()
	}
}

// ObserveNotification records an alert delivery attempt.
func (m *Metrics) ObserveNotification(err error) {
	if err != nil {
		m.NotificationsTotal.WithLabelValues("error").Inc()
		return
	}
	m.NotificationsTotal.WithLabelValues("ok").Inc()
}

// ObserveSnapshot records a checkpoint attempt.
func (m *Metrics) ObserveSnapshot(err error) {
	if err != nil {
		m.SnapshotsTotal.WithLabelValues("error").Inc()
		return
	}
	m.SnapshotsTotal.WithLabelValues("ok").Inc()
}
