package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
strategy:
  rsi_period: 14
  rsi_oversold: 30
  rsi_overbought: 70
  history_size: 100
risk:
  starting_capital: 10000
  risk_per_trade: 0.05
  profit_target_pct: 0.10
  stop_loss_pct: 0.03
  track_positions: true
symbols: [eurusd, GBPUSD]
feed:
  source: simulated
  poll_interval: 2s
`

var envKeys = []string{
	"ALPHAVANTAGE_API_KEY", "TELEGRAM_BOT_TOKEN", "TELEGRAM_CHAT_ID", "WEBHOOK_URL",
	"ADMIN_TOTP_SECRET", "REDIS_PASSWORD", "FXSIGNAL_REDIS_ADDR", "FXSIGNAL_SQLITE_PATH",
	"FXSIGNAL_METRICS_ADDR", "FXSIGNAL_HTTP_ADDR", "FXSIGNAL_LOG_LEVEL",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM", "SMTP_TO",
}

// clearEnv unsets every key Load reads and restores them after the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Valid(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", validYAML)

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 14, cfg.Strategy.RSIPeriod)
	assert.Equal(t, 70.0, cfg.Strategy.RSIOverbought)
	assert.Equal(t, []string{"EURUSD", "GBPUSD"}, cfg.Symbols)
	assert.True(t, cfg.Risk.TrackPositions)
	assert.Equal(t, 2*time.Second, cfg.Feed.PollInterval)

	// ambient defaults survive a file that omits them
	assert.Equal(t, 10*time.Second, cfg.Feed.Timeout)
	assert.Equal(t, 3, cfg.ErrorHandling.MaxRetries)
	assert.Equal(t, 5*time.Second, cfg.ErrorHandling.RetryDelay)
	assert.Equal(t, 30*time.Second, cfg.ErrorHandling.MaxDelay)
	assert.Equal(t, "localhost:6379", cfg.Storage.RedisAddr)
	assert.Equal(t, ":9090", cfg.Server.MetricsAddr)
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", strings.Replace(validYAML, "source: simulated", "source: alphavantage", 1))
	envPath := writeFile(t, ".env", "ALPHAVANTAGE_API_KEY=demo-key\nTELEGRAM_BOT_TOKEN=tok\nREDIS_PASSWORD=s3cret\n")
	t.Setenv("FXSIGNAL_REDIS_ADDR", "redis:6380")
	t.Setenv("FXSIGNAL_LOG_LEVEL", "debug")

	cfg, err := Load(path, envPath)
	require.NoError(t, err)

	assert.Equal(t, "demo-key", cfg.Secrets.AlphaVantageAPIKey)
	assert.Equal(t, "tok", cfg.Secrets.TelegramBotToken)
	assert.Equal(t, "s3cret", cfg.Storage.RedisPassword)
	assert.Equal(t, "redis:6380", cfg.Storage.RedisAddr)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_SMTPSecrets(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", validYAML)
	envPath := writeFile(t, ".env", "SMTP_HOST=smtp.example.com\nSMTP_USERNAME=bot@example.com\nSMTP_PASSWORD=app-pass\nSMTP_TO=me@example.com, ops@example.com ,\n")

	cfg, err := Load(path, envPath)
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com", cfg.Secrets.SMTPHost)
	assert.Equal(t, "465", cfg.Secrets.SMTPPort)
	assert.Equal(t, []string{"me@example.com", "ops@example.com"}, cfg.Secrets.SMTPTo)
}

func TestLoad_MissingRequiredSections(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", "feed:\n  source: simulated\n")

	_, err := Load(path, "")
	require.Error(t, err)
	for _, want := range []string{"strategy.rsi_period is required", "risk.starting_capital is required", "symbols is required"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoad_EachRequiredKey(t *testing.T) {
	clearEnv(t)
	for _, key := range []string{
		"rsi_period", "rsi_oversold", "rsi_overbought",
		"starting_capital", "risk_per_trade", "profit_target_pct", "stop_loss_pct",
	} {
		t.Run(key, func(t *testing.T) {
			var kept []string
			for _, line := range strings.Split(validYAML, "\n") {
				if !strings.HasPrefix(strings.TrimSpace(line), key+":") {
					kept = append(kept, line)
				}
			}
			path := writeFile(t, "config.yaml", strings.Join(kept, "\n"))

			_, err := Load(path, "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "."+key+" is required")
		})
	}
}

func TestLoad_MissingOversoldIsNotZero(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", strings.Replace(validYAML, "  rsi_oversold: 30\n", "", 1))

	_, err := Load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy.rsi_oversold is required")
}

func TestLoad_NullRequiredKey(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", strings.Replace(validYAML, "rsi_oversold: 30", "rsi_oversold: ~", 1))

	_, err := Load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy.rsi_oversold is required")
}

func TestLoad_ExplicitZeroOversoldAccepted(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", strings.Replace(validYAML, "rsi_oversold: 30", "rsi_oversold: 0", 1))

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Strategy.RSIOversold)
}

func TestLoad_SimulateOverrideSkipsSourceRequirements(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", strings.Replace(validYAML, "source: simulated", "source: alphavantage", 1))

	_, err := Load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALPHAVANTAGE_API_KEY")

	cfg, err := Load(path, "", (*Config).SimulateFeed)
	require.NoError(t, err)
	assert.Equal(t, SourceSimulated, cfg.Feed.Source)
}

func TestLoad_UnknownKey(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.yaml", validYAML+"bogus: 1\n")
	_, err := Load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode yaml")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open config")
}

func validConfig() Config {
	c := Defaults()
	c.Strategy = Strategy{RSIPeriod: 14, RSIOversold: 30, RSIOverbought: 70}
	c.Risk = Risk{StartingCapital: 10000, RiskPerTrade: 0.05, ProfitTargetPct: 0.1, StopLossPct: 0.03}
	c.Symbols = []string{"EURUSD"}
	return c
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"period too small", func(c *Config) { c.Strategy.RSIPeriod = 1 }, "rsi_period"},
		{"period too large", func(c *Config) { c.Strategy.RSIPeriod = 501 }, "rsi_period"},
		{"thresholds equal", func(c *Config) { c.Strategy.RSIOversold = 70 }, "thresholds"},
		{"overbought above 100", func(c *Config) { c.Strategy.RSIOverbought = 101 }, "thresholds"},
		{"negative history", func(c *Config) { c.Strategy.HistorySize = -1 }, "history_size"},
		{"zero capital", func(c *Config) { c.Risk.StartingCapital = 0 }, "starting_capital"},
		{"risk above one", func(c *Config) { c.Risk.RiskPerTrade = 1.5 }, "risk_per_trade"},
		{"target of one", func(c *Config) { c.Risk.ProfitTargetPct = 1 }, "profit_target_pct"},
		{"zero stop", func(c *Config) { c.Risk.StopLossPct = 0 }, "stop_loss_pct"},
		{"bad symbol", func(c *Config) { c.Symbols = []string{"EUR/USD"} }, "6-letter"},
		{"duplicate symbol", func(c *Config) { c.Symbols = []string{"EURUSD", "EURUSD"} }, "twice"},
		{"unknown source", func(c *Config) { c.Feed.Source = "bloomberg" }, "feed.source"},
		{"alphavantage without key", func(c *Config) { c.Feed.Source = SourceAlphaVantage }, "ALPHAVANTAGE_API_KEY"},
		{"zero poll", func(c *Config) { c.Feed.PollInterval = 0 }, "poll_interval"},
		{"negative retries", func(c *Config) { c.ErrorHandling.MaxRetries = -1 }, "max_retries"},
		{"totp without secret", func(c *Config) { c.Server.UntrackTOTPRequired = true }, "ADMIN_TOTP_SECRET"},
		{"smtp without recipients", func(c *Config) {
			c.Secrets.SMTPHost, c.Secrets.SMTPPort, c.Secrets.SMTPFrom = "smtp.example.com", "465", "bot@example.com"
		}, "SMTP_TO"},
		{"smtp bad port", func(c *Config) {
			c.Secrets = Secrets{SMTPHost: "smtp.example.com", SMTPPort: "smtps", SMTPFrom: "bot@example.com", SMTPTo: []string{"me@example.com"}}
		}, "SMTP_PORT"},
		{"smtp without sender", func(c *Config) {
			c.Secrets = Secrets{SMTPHost: "smtp.example.com", SMTPPort: "587", SMTPTo: []string{"me@example.com"}}
		}, "SMTP_FROM"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(&c)
			err := c.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestExampleConfigParses(t *testing.T) {
	cfg, err := Parse("../config.example.yaml")
	require.NoError(t, err)
	assert.Equal(t, 14, cfg.Strategy.RSIPeriod)
	assert.Equal(t, SourceExchangeRate, cfg.Feed.Source)
	assert.NoError(t, cfg.Validate())
}
