// Package config loads fxsignal settings from a YAML file, secrets from a
// .env file, and a handful of environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Feed sources.
const (
	SourceExchangeRate = "exchangerate"
	SourceAlphaVantage = "alphavantage"
	SourceSimulated    = "simulated"
)

// Strategy holds the oscillator window and classification thresholds.
type Strategy struct {
	RSIPeriod     int     `yaml:"rsi_period"`
	RSIOversold   float64 `yaml:"rsi_oversold"`
	RSIOverbought float64 `yaml:"rsi_overbought"`
	HistorySize   int     `yaml:"history_size"`
}

// Risk holds the sizing parameters. Fractions are expressed as 0.01 = 1%.
type Risk struct {
	StartingCapital float64 `yaml:"starting_capital"`
	RiskPerTrade    float64 `yaml:"risk_per_trade"`
	ProfitTargetPct float64 `yaml:"profit_target_pct"`
	StopLossPct     float64 `yaml:"stop_loss_pct"`
	TrackPositions  bool    `yaml:"track_positions"`
}

type Feed struct {
	Source       string        `yaml:"source"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Timeout      time.Duration `yaml:"timeout"`
	BaseURL      string        `yaml:"base_url"` // empty uses the source's public endpoint
}

type ErrorHandling struct {
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	BreakerFailures   int           `yaml:"breaker_failures"`
	BreakerReset      time.Duration `yaml:"breaker_reset"`
}

type Storage struct {
	SQLitePath       string        `yaml:"sqlite_path"`
	RedisAddr        string        `yaml:"redis_addr"`
	RedisPassword    string        `yaml:"redis_password"`
	RedisDB          int           `yaml:"redis_db"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

type Server struct {
	HTTPAddr            string `yaml:"http_addr"`
	MetricsAddr         string `yaml:"metrics_addr"`
	UntrackTOTPRequired bool   `yaml:"untrack_totp_required"`
}

type Logging struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

type MarketHours struct {
	Enforce bool `yaml:"enforce"`
}

type Notifications struct {
	SignalChanges bool `yaml:"signal_changes"` // alert on every signal transition, not only trades
}

// Secrets are read from the environment (after the .env file is applied)
// and never from YAML.
type Secrets struct {
	AlphaVantageAPIKey string `yaml:"-"`
	TelegramBotToken   string `yaml:"-"`
	TelegramChatID     string `yaml:"-"`
	WebhookURL         string `yaml:"-"`
	AdminTOTPSecret    string `yaml:"-"`

	SMTPHost     string   `yaml:"-"`
	SMTPPort     string   `yaml:"-"`
	SMTPUsername string   `yaml:"-"`
	SMTPPassword string   `yaml:"-"`
	SMTPFrom     string   `yaml:"-"`
	SMTPTo       []string `yaml:"-"`
}

// Config is the full application configuration.
type Config struct {
	Strategy      Strategy      `yaml:"strategy"`
	Risk          Risk          `yaml:"risk"`
	Symbols       []string      `yaml:"symbols"`
	Feed          Feed          `yaml:"feed"`
	ErrorHandling ErrorHandling `yaml:"error_handling"`
	Storage       Storage       `yaml:"storage"`
	Server        Server        `yaml:"server"`
	Logging       Logging       `yaml:"logging"`
	MarketHours   MarketHours   `yaml:"market_hours"`
	Notifications Notifications `yaml:"notifications"`
	Secrets       Secrets       `yaml:"-"`

	missing []string // required keys absent from the parsed file
}

// requiredKeys have no default: a zero value would be in range for some of
// them, so the file must name each one explicitly.
var requiredKeys = [][]string{
	{"strategy", "rsi_period"},
	{"strategy", "rsi_oversold"},
	{"strategy", "rsi_overbought"},
	{"risk", "starting_capital"},
	{"risk", "risk_per_trade"},
	{"risk", "profit_target_pct"},
	{"risk", "stop_loss_pct"},
	{"symbols"},
}

// Defaults returns a Config with every ambient key populated. Strategy,
// risk and symbols are left zero so a file that omits them fails Validate.
func Defaults() Config {
	return Config{
		Feed: Feed{
			Source:       SourceExchangeRate,
			PollInterval: 60 * time.Second,
			Timeout:      10 * time.Second,
		},
		ErrorHandling: ErrorHandling{
			MaxRetries:        3,
			RetryDelay:        5 * time.Second,
			BackoffMultiplier: 2,
			MaxDelay:          30 * time.Second,
			BreakerFailures:   5,
			BreakerReset:      60 * time.Second,
		},
		Storage: Storage{
			SQLitePath:       "data/fxsignal.db",
			RedisAddr:        "localhost:6379",
			SnapshotInterval: 5 * time.Minute,
		},
		Server: Server{
			HTTPAddr:    ":8080",
			MetricsAddr: ":9090",
		},
		Logging: Logging{
			Level: "info",
			Dir:   "logs",
		},
	}
}

// Load reads the YAML file at path, applies the .env file at envFile (a
// missing file is not an error), resolves secrets and environment overrides,
// applies the command-line overrides in order, and validates the result.
func Load(path, envFile string, overrides ...func(*Config)) (*Config, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	cfg, err := Parse(path)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	for _, override := range overrides {
		override(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes the YAML file on top of Defaults without touching the
// environment or validating. Required keys missing from the file are
// recorded and reported by Validate.
func Parse(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}

	cfg := Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	for i, s := range cfg.Symbols {
		cfg.Symbols[i] = strings.ToUpper(strings.TrimSpace(s))
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	for _, key := range requiredKeys {
		if !hasKey(&root, key) {
			cfg.missing = append(cfg.missing, strings.Join(key, "."))
		}
	}
	return &cfg, nil
}

// hasKey reports whether the mapping path exists and is not null.
func hasKey(n *yaml.Node, path []string) bool {
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return false
		}
		n = n.Content[0]
	}
	for _, name := range path {
		if n.Kind != yaml.MappingNode {
			return false
		}
		var next *yaml.Node
		for i := 0; i+1 < len(n.Content); i += 2 {
			if n.Content[i].Value == name {
				next = n.Content[i+1]
				break
			}
		}
		if next == nil {
			return false
		}
		n = next
	}
	return !(n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

func loadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	slog.Info("environment loaded", "component", "config", "path", path)
	return nil
}

func (c *Config) applyEnv() {
	c.Secrets = Secrets{
		AlphaVantageAPIKey: os.Getenv("ALPHAVANTAGE_API_KEY"),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:     os.Getenv("TELEGRAM_CHAT_ID"),
		WebhookURL:         os.Getenv("WEBHOOK_URL"),
		AdminTOTPSecret:    os.Getenv("ADMIN_TOTP_SECRET"),
		SMTPHost:           os.Getenv("SMTP_HOST"),
		SMTPPort:           getEnv("SMTP_PORT", "465"),
		SMTPUsername:       os.Getenv("SMTP_USERNAME"),
		SMTPPassword:       os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:           os.Getenv("SMTP_FROM"),
		SMTPTo:             splitList(os.Getenv("SMTP_TO")),
	}
	c.Storage.RedisPassword = getEnv("REDIS_PASSWORD", c.Storage.RedisPassword)
	c.Storage.RedisAddr = getEnv("FXSIGNAL_REDIS_ADDR", c.Storage.RedisAddr)
	c.Storage.SQLitePath = getEnv("FXSIGNAL_SQLITE_PATH", c.Storage.SQLitePath)
	c.Server.MetricsAddr = getEnv("FXSIGNAL_METRICS_ADDR", c.Server.MetricsAddr)
	c.Server.HTTPAddr = getEnv("FXSIGNAL_HTTP_ADDR", c.Server.HTTPAddr)
	c.Logging.Level = getEnv("FXSIGNAL_LOG_LEVEL", c.Logging.Level)
}

// Validate checks every range and cross-field constraint.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	for _, key := range c.missing {
		fail("%s is required", key)
	}

	s := c.Strategy
	if s.RSIPeriod < 2 || s.RSIPeriod > 500 {
		fail("strategy.rsi_period must be in [2, 500], got %d", s.RSIPeriod)
	}
	if !(s.RSIOversold >= 0 && s.RSIOversold < s.RSIOverbought && s.RSIOverbought <= 100) {
		fail("strategy thresholds must satisfy 0 <= oversold < overbought <= 100, got %v/%v", s.RSIOversold, s.RSIOverbought)
	}
	if s.HistorySize < 0 {
		fail("strategy.history_size must be >= 0, got %d", s.HistorySize)
	}

	r := c.Risk
	if !(r.StartingCapital > 0) {
		fail("risk.starting_capital must be > 0, got %v", r.StartingCapital)
	}
	if !(r.RiskPerTrade > 0 && r.RiskPerTrade <= 1) {
		fail("risk.risk_per_trade must be in (0, 1], got %v", r.RiskPerTrade)
	}
	if !(r.ProfitTargetPct > 0 && r.ProfitTargetPct < 1) {
		fail("risk.profit_target_pct must be in (0, 1), got %v", r.ProfitTargetPct)
	}
	if !(r.StopLossPct > 0 && r.StopLossPct < 1) {
		fail("risk.stop_loss_pct must be in (0, 1), got %v", r.StopLossPct)
	}

	if len(c.Symbols) == 0 {
		fail("symbols must not be empty")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, sym := range c.Symbols {
		if len(sym) != 6 || strings.Trim(sym, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") != "" {
			fail("symbol %q is not a 6-letter pair", sym)
		}
		if seen[sym] {
			fail("symbol %q listed twice", sym)
		}
		seen[sym] = true
	}

	switch c.Feed.Source {
	case SourceExchangeRate, SourceSimulated:
	case SourceAlphaVantage:
		if c.Secrets.AlphaVantageAPIKey == "" {
			fail("feed.source %q requires ALPHAVANTAGE_API_KEY", SourceAlphaVantage)
		}
	default:
		fail("feed.source must be one of %s|%s|%s, got %q", SourceExchangeRate, SourceAlphaVantage, SourceSimulated, c.Feed.Source)
	}
	if c.Feed.PollInterval <= 0 {
		fail("feed.poll_interval must be > 0")
	}
	if c.Feed.Timeout <= 0 {
		fail("feed.timeout must be > 0")
	}

	e := c.ErrorHandling
	if e.MaxRetries < 0 {
		fail("error_handling.max_retries must be >= 0, got %d", e.MaxRetries)
	}
	if e.RetryDelay < 0 || e.MaxDelay < 0 {
		fail("error_handling delays must be >= 0")
	}
	if e.BackoffMultiplier < 1 {
		fail("error_handling.backoff_multiplier must be >= 1, got %v", e.BackoffMultiplier)
	}
	if e.BreakerFailures < 1 {
		fail("error_handling.breaker_failures must be >= 1, got %d", e.BreakerFailures)
	}

	if c.Storage.SnapshotInterval <= 0 {
		fail("storage.snapshot_interval must be > 0")
	}
	if c.Server.UntrackTOTPRequired && c.Secrets.AdminTOTPSecret == "" {
		fail("server.untrack_totp_required needs ADMIN_TOTP_SECRET")
	}

	if sec := c.Secrets; sec.SMTPHost != "" {
		if len(sec.SMTPTo) == 0 {
			fail("SMTP_HOST is set but SMTP_TO is empty")
		}
		if sec.SMTPFrom == "" && sec.SMTPUsername == "" {
			fail("SMTP_HOST is set but neither SMTP_FROM nor SMTP_USERNAME is")
		}
		if port, err := strconv.Atoi(sec.SMTPPort); err != nil || port < 1 || port > 65535 {
			fail("SMTP_PORT must be a TCP port, got %q", sec.SMTPPort)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// SimulateFeed forces the simulated source. Pass it to Load so the
// configured source's requirements are not validated.
func (c *Config) SimulateFeed() {
	c.Feed.Source = SourceSimulated
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
