package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fxsignal/internal/model"
)

// DefaultExchangeRateURL is the keyless exchangerate-api.com endpoint.
const DefaultExchangeRateURL = "https://api.exchangerate-api.com"

type exchangeRateResponse struct {
	Base  string             `json:"base"`
	Rates map[string]float64 `json:"rates"`
}

// ExchangeRate fetches quotes from {base}/v4/latest/{BASE}.
type ExchangeRate struct {
	baseURL string
	client  *http.Client
}

// NewExchangeRate creates an exchangerate-api fetcher. An empty baseURL uses
// DefaultExchangeRateURL; timeout <= 0 uses 10s.
func NewExchangeRate(baseURL string, timeout time.Duration) *ExchangeRate {
	if baseURL == "" {
		baseURL = DefaultExchangeRateURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ExchangeRate{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (e *ExchangeRate) Fetch(ctx context.Context, inst model.Instrument) (float64, error) {
	url := fmt.Sprintf("%s/v4/latest/%s", e.baseURL, inst.Base)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "fxsignal/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, Transient(fmt.Errorf("http do: %w", err))
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		return 0, fmt.Errorf("%s: %w", inst.Symbol, err)
	}

	var payload exchangeRateResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	rate, ok := payload.Rates[inst.Quote]
	if !ok {
		return 0, fmt.Errorf("%s: %w", inst.Symbol, ErrNoRate)
	}
	return checkRate(inst, rate)
}

// statusError classifies a non-200 status: 5xx and 429 are transient.
func statusError(code int) error {
	if code == http.StatusOK {
		return nil
	}
	err := fmt.Errorf("unexpected status %d", code)
	if code >= 500 || code == http.StatusTooManyRequests {
		return Transient(err)
	}
	return err
}
