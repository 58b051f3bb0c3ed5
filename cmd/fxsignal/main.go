// Command fxsignal polls FX quotes, runs the RSI strategy on every sample
// and publishes the resulting decisions.
//
//	[quote API] → [poller] → samples bus ─┬→ [strategy] → decisions bus ─┬→ Redis
//	                                      └→ SQLite                      ├→ WebSocket gateway
//	                                                                     ├→ notifications
//	                                                                     ├→ report tables
//	                                                                     └→ metrics
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"fxsignal/config"
	"fxsignal/internal/api"
	"fxsignal/internal/breaker"
	"fxsignal/internal/bus"
	"fxsignal/internal/feed"
	"fxsignal/internal/gateway"
	"fxsignal/internal/indicator"
	"fxsignal/internal/logger"
	"fxsignal/internal/markethours"
	"fxsignal/internal/metrics"
	"fxsignal/internal/model"
	"fxsignal/internal/notification"
	"fxsignal/internal/portfolio"
	"fxsignal/internal/report"
	redisstore "fxsignal/internal/store/redis"
	sqlitestore "fxsignal/internal/store/sqlite"
	"fxsignal/internal/strategy"
)

const (
	busBuffer        = 1000
	redisMaxBuffered = 1000
	statusInterval   = 30 * time.Second
	livenessInterval = 10 * time.Second
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	envFile := flag.String("env", ".env", "path to the secrets file")
	simulate := flag.Bool("simulate", false, "use the simulated random-walk feed")
	duration := flag.Duration("duration", 0, "stop after this long (0 runs until interrupted)")
	quiet := flag.Bool("quiet", false, "suppress the per-cycle decision tables")
	flag.Parse()

	var overrides []func(*config.Config)
	if *simulate {
		overrides = append(overrides, (*config.Config).SimulateFeed)
	}
	cfg, err := config.Load(*configPath, *envFile, overrides...)
	if err != nil {
		log.Fatalf("[fxsignal] %v", err)
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("[fxsignal] %v", err)
	}
	lg, logCloser, err := logger.Init("fxsignal", logger.Options{Level: level, Dir: cfg.Logging.Dir, Console: os.Stderr})
	if err != nil {
		log.Fatalf("[fxsignal] logger init failed: %v", err)
	}
	defer logCloser.Close()

	instruments := make([]model.Instrument, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		inst, err := model.ParseInstrument(sym)
		if err != nil {
			log.Fatalf("[fxsignal] %v", err)
		}
		instruments = append(instruments, inst)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ── Metrics ──
	prom := metrics.NewMetrics(prometheus.DefaultRegisterer)
	health := metrics.NewHealthStatus(cfg.Symbols, 3*cfg.Feed.PollInterval)
	metricsSrv := metrics.NewServer(cfg.Server.MetricsAddr, health, prometheus.DefaultGatherer)
	metricsSrv.Start()

	// ── SQLite archive and warm start ──
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.Storage.SQLitePath})
	if err != nil {
		log.Fatalf("[fxsignal] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	sqlWriter.OnCommit = func(n int, elapsed time.Duration, err error) {
		prom.SQLiteCommitDur.Observe(elapsed.Seconds())
		if err == nil {
			prom.SamplesArchived.Add(float64(n))
		}
	}
	health.SetSQLiteOK(true)
	lg.Info("sqlite ready", "path", cfg.Storage.SQLitePath)

	oscCfg := indicator.Config{Period: cfg.Strategy.RSIPeriod, HistorySize: cfg.Strategy.HistorySize}
	restorer := indicator.NewRestorer(oscCfg, sqlWriter, sqlWriter, lg)
	restorer.OnCheckpoint = prom.ObserveSnapshot
	osc, err := restorer.Restore(cfg.Symbols)
	if err != nil {
		log.Fatalf("[fxsignal] oscillator restore failed: %v", err)
	}

	engine, err := strategy.NewEngine(osc, strategy.Config{
		Thresholds: strategy.Thresholds{
			Oversold:   cfg.Strategy.RSIOversold,
			Overbought: cfg.Strategy.RSIOverbought,
		},
		Risk: portfolio.RiskParameters{
			Capital:              cfg.Risk.StartingCapital,
			RiskFraction:         cfg.Risk.RiskPerTrade,
			ProfitTargetFraction: cfg.Risk.ProfitTargetPct,
			StopLossFraction:     cfg.Risk.StopLossPct,
		},
		TrackPositions: cfg.Risk.TrackPositions,
	}, lg)
	if err != nil {
		log.Fatalf("[fxsignal] strategy init failed: %v", err)
	}
	engine.OnError = func(instrument string, err error) {
		prom.EvaluateErrors.WithLabelValues(instrument).Inc()
	}
	engine.OnEvaluate = func(_ string, elapsed time.Duration) {
		prom.EvaluateDur.Observe(elapsed.Seconds())
	}

	// ── Redis (optional) ──
	var (
		redisWriter *redisstore.Writer
		redisReader *redisstore.Reader
		buffered    *redisstore.BufferedWriter
	)
	if cfg.Storage.RedisAddr != "" {
		redisWriter, err = redisstore.New(redisstore.WriterConfig{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
			DB:       cfg.Storage.RedisDB,
		})
		if err != nil {
			lg.Warn("redis init failed, continuing without redis", "addr", cfg.Storage.RedisAddr, "error", err)
		} else {
			defer redisWriter.Close()
			redisReader, err = redisstore.NewReader(redisstore.ReaderConfig{
				Addr:     cfg.Storage.RedisAddr,
				Password: cfg.Storage.RedisPassword,
				DB:       cfg.Storage.RedisDB,
			})
			if err != nil {
				log.Fatalf("[fxsignal] redis reader init failed: %v", err)
			}
			defer redisReader.Close()

			redisBreaker := breaker.New("redis", cfg.ErrorHandling.BreakerFailures, cfg.ErrorHandling.BreakerReset)
			redisBreaker.OnStateChange = prom.ObserveBreaker
			buffered = redisstore.NewBufferedWriter(redisWriter, redisBreaker, redisMaxBuffered)
			buffered.OnBuffer = prom.RedisBuffered.Inc
			buffered.OnDrop = prom.RedisDropped.Inc
			buffered.OnFlush = func(n int) { prom.RedisFlushed.Add(float64(n)) }
			health.SetRedisEnabled(true)
			lg.Info("redis ready", "addr", cfg.Storage.RedisAddr)
		}
	}

	var redisPing metrics.Pinger
	if redisWriter != nil {
		redisPing = redisWriter.Ping
	}
	health.StartLivenessChecker(ctx, redisPing, sqlWriter.DB().PingContext, livenessInterval)

	// ── Feed ──
	fetcher, err := newFetcher(cfg)
	if err != nil {
		log.Fatalf("[fxsignal] feed init failed: %v", err)
	}
	policy := feed.RetryPolicy{
		MaxRetries: cfg.ErrorHandling.MaxRetries,
		Delay:      cfg.ErrorHandling.RetryDelay,
		Multiplier: cfg.ErrorHandling.BackoffMultiplier,
		MaxDelay:   cfg.ErrorHandling.MaxDelay,
	}
	feedBreaker := breaker.New("feed", cfg.ErrorHandling.BreakerFailures, cfg.ErrorHandling.BreakerReset)
	feedBreaker.OnStateChange = prom.ObserveBreaker
	fetcher = feed.WithBreaker(feed.WithRetry(fetcher, policy, lg, feed.OnRetry(func(instrument string) {
		prom.FetchRetries.WithLabelValues(instrument).Inc()
	})), feedBreaker)

	var lastSample atomic.Int64
	poller := feed.NewPoller(fetcher, feed.PollerConfig{
		Instruments:  instruments,
		Interval:     cfg.Feed.PollInterval,
		EnforceHours: cfg.MarketHours.Enforce && cfg.Feed.Source != config.SourceSimulated,
	}, lg)
	poller.OnFetch = func(instrument string, elapsed time.Duration, err error) {
		prom.ObserveFetch(instrument, elapsed, err)
		if err == nil {
			now := time.Now()
			lastSample.Store(now.UnixNano())
			health.SetLastSampleTime(now)
		}
	}
	poller.OnSkip = prom.PollsSkipped.Inc

	// ── Pipeline ──
	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	sampleCh := make(chan model.PriceSample, busBuffer)
	samples := bus.New[model.PriceSample]("samples", busBuffer)
	samples.OnDrop = func(sub string) { prom.FanoutDrops.WithLabelValues("samples", sub).Inc() }
	strategyIn := samples.Subscribe("strategy")
	archiveIn := samples.Subscribe("sqlite")

	decisionCh := make(chan model.Decision, busBuffer)
	decisions := bus.New[model.Decision]("decisions", busBuffer)
	decisions.OnDrop = func(sub string) { prom.FanoutDrops.WithLabelValues("decisions", sub).Inc() }
	var redisIn <-chan model.Decision
	if buffered != nil {
		redisIn = decisions.Subscribe("redis")
	}
	gatewayIn := decisions.Subscribe("gateway")
	notifyIn := decisions.Subscribe("notify")
	reportIn := decisions.Subscribe("report")
	metricsIn := decisions.Subscribe("metrics")

	run(func() {
		if err := poller.Run(ctx, sampleCh); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			lg.Error("poller stopped", "error", err)
		}
	})
	run(func() { samples.Run(ctx, sampleCh) })
	run(func() { sqlWriter.Run(ctx, archiveIn) })
	run(func() { engine.Run(ctx, strategyIn, decisionCh) })
	run(func() { decisions.Run(ctx, decisionCh) })
	run(func() { restorer.RunCheckpoints(ctx, osc, cfg.Storage.SnapshotInterval) })

	if redisIn != nil {
		run(func() { buffered.Run(ctx, redisIn) })
	}

	hub := gateway.NewHub(lg)
	hub.OnClients = func(n int) { prom.WSClients.Set(float64(n)) }
	run(func() { hub.Run(ctx, gatewayIn) })
	run(func() { hub.StartStatusBroadcast(ctx, statusInterval) })

	dispatcher := notification.NewDispatcher(newNotifier(cfg, lg), lg)
	dispatcher.SignalChanges = cfg.Notifications.SignalChanges
	dispatcher.OnSent = func(_ notification.Alert, err error) { prom.ObserveNotification(err) }
	run(func() { dispatcher.Run(ctx, notifyIn) })

	reporter := report.New(os.Stdout, cfg.Risk.StartingCapital, *quiet)
	run(func() { reporter.Run(ctx, reportIn, 2*time.Second) })

	run(func() {
		for d := range metricsIn {
			prom.ObserveDecision(d)
		}
	})
	run(func() {
		watchStatus(ctx, prom, health, &lastSample, samples, decisions)
	})

	// ── HTTP: REST API and WebSocket stream ──
	deps := api.Deps{
		Oscillators:  osc,
		Strategy:     engine,
		TOTPSecret:   cfg.Secrets.AdminTOTPSecret,
		TOTPRequired: cfg.Server.UntrackTOTPRequired,
		Logger:       lg,
	}
	if redisReader != nil {
		deps.Decisions = redisReader
	}
	mux := api.NewRouter(deps)
	mux.HandleFunc("/ws", hub.HandleWS)
	httpSrv := &http.Server{Addr: cfg.Server.HTTPAddr, Handler: mux}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Error("http server failed", "addr", cfg.Server.HTTPAddr, "error", err)
		}
	}()

	lg.Info("fxsignal running",
		"source", cfg.Feed.Source,
		"symbols", cfg.Symbols,
		"poll_interval", cfg.Feed.PollInterval,
		"rsi_period", cfg.Strategy.RSIPeriod,
		"thresholds", fmt.Sprintf("%v/%v", cfg.Strategy.RSIOversold, cfg.Strategy.RSIOverbought),
		"http", cfg.Server.HTTPAddr,
		"metrics", cfg.Server.MetricsAddr,
		"market", markethours.StatusString(time.Now()),
	)

	select {
	case sig := <-sigCh:
		lg.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		lg.Info("run duration elapsed", "duration", *duration)
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
	wg.Wait()
	metricsSrv.Stop(shutdownCtx)

	fmt.Println(reporter.Summary())
	if stats := reporter.Ledger().Stats(); stats.Trades > 0 {
		dispatcher.Notify(context.Background(), notification.SessionSummaryAlert(stats, cfg.Risk.StartingCapital, time.Now()))
	}
	lg.Info("fxsignal stopped")
}

func newFetcher(cfg *config.Config) (feed.Fetcher, error) {
	switch cfg.Feed.Source {
	case config.SourceSimulated:
		return feed.NewSimulated(time.Now().UnixNano(), feed.DefaultVolatility), nil
	case config.SourceAlphaVantage:
		return feed.NewAlphaVantage(cfg.Feed.BaseURL, cfg.Secrets.AlphaVantageAPIKey, cfg.Feed.Timeout)
	case config.SourceExchangeRate:
		return feed.NewExchangeRate(cfg.Feed.BaseURL, cfg.Feed.Timeout), nil
	}
	return nil, fmt.Errorf("unknown feed source %q", cfg.Feed.Source)
}

func newNotifier(cfg *config.Config, lg *slog.Logger) notification.Notifier {
	targets := notification.Multi{notification.NewLogNotifier(lg)}
	if cfg.Secrets.TelegramBotToken != "" && cfg.Secrets.TelegramChatID != "" {
		targets = append(targets, notification.NewTelegramNotifier(cfg.Secrets.TelegramBotToken, cfg.Secrets.TelegramChatID))
		lg.Info("telegram alerts enabled")
	}
	if cfg.Secrets.WebhookURL != "" {
		targets = append(targets, notification.NewWebhookNotifier(cfg.Secrets.WebhookURL))
		lg.Info("webhook alerts enabled")
	}
	if cfg.Secrets.SMTPHost != "" {
		email, err := notification.NewEmailNotifier(notification.EmailConfig{
			Host:     cfg.Secrets.SMTPHost,
			Port:     cfg.Secrets.SMTPPort,
			Username: cfg.Secrets.SMTPUsername,
			Password: cfg.Secrets.SMTPPassword,
			From:     cfg.Secrets.SMTPFrom,
			To:       cfg.Secrets.SMTPTo,
		})
		if err != nil {
			lg.Error("email alerts disabled", "error", err)
		} else {
			targets = append(targets, email)
			lg.Info("email alerts enabled", "host", cfg.Secrets.SMTPHost, "recipients", len(cfg.Secrets.SMTPTo))
		}
	}
	return targets
}

// watchStatus refreshes the market-state, sample-age and bus saturation
// gauges.
func watchStatus(ctx context.Context, prom *metrics.Metrics, health *metrics.HealthStatus, lastSample *atomic.Int64,
	samples *bus.FanOut[model.PriceSample], decisions *bus.FanOut[model.Decision]) {
	update := func() {
		now := time.Now()
		open := markethours.IsMarketOpen(now)
		health.SetMarketOpen(open)
		if open {
			prom.MarketState.Set(1)
		} else {
			prom.MarketState.Set(0)
		}
		if ns := lastSample.Load(); ns > 0 {
			prom.LastSampleAge.Set(now.Sub(time.Unix(0, ns)).Seconds())
		}

		stats := append(samples.ChannelStats(), decisions.ChannelStats()...)
		for _, s := range stats {
			if s.Cap > 0 {
				prom.ChannelSaturationPct.WithLabelValues(s.Name).Set(float64(s.Len) / float64(s.Cap) * 100)
			}
		}
	}

	update()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
