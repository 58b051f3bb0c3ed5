package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"fxsignal/internal/model"
)

// DefaultAlphaVantageURL is the Alpha Vantage query endpoint.
const DefaultAlphaVantageURL = "https://www.alphavantage.co/query"

// ErrAPI is returned when Alpha Vantage answers with an "Error Message".
var ErrAPI = errors.New("alphavantage: api error")

type alphaVantageResponse struct {
	Rate struct {
		From          string `json:"1. From_Currency Code"`
		To            string `json:"3. To_Currency Code"`
		ExchangeRate  string `json:"5. Exchange Rate"`
		LastRefreshed string `json:"6. Last Refreshed"`
		Bid           string `json:"8. Bid Price"`
		Ask           string `json:"9. Ask Price"`
	} `json:"Realtime Currency Exchange Rate"`
	ErrorMessage string `json:"Error Message"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
}

// AlphaVantage fetches quotes with function=CURRENCY_EXCHANGE_RATE.
type AlphaVantage struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewAlphaVantage creates an Alpha Vantage fetcher.
func NewAlphaVantage(baseURL, apiKey string, timeout time.Duration) (*AlphaVantage, error) {
	if apiKey == "" {
		return nil, errors.New("alphavantage: api key required")
	}
	if baseURL == "" {
		baseURL = DefaultAlphaVantageURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AlphaVantage{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (a *AlphaVantage) Fetch(ctx context.Context, inst model.Instrument) (float64, error) {
	q := url.Values{}
	q.Set("function", "CURRENCY_EXCHANGE_RATE")
	q.Set("from_currency", inst.Base)
	q.Set("to_currency", inst.Quote)
	q.Set("apikey", a.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	resp, err := a.client.Do(req)
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

	var payload alphaVantageResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	switch {
	case payload.ErrorMessage != "":
		return 0, fmt.Errorf("%s: %w: %s", inst.Symbol, ErrAPI, payload.ErrorMessage)
	case payload.Note != "":
		return 0, Transient(fmt.Errorf("%s: rate limited: %s", inst.Symbol, payload.Note))
	case payload.Information != "":
		return 0, Transient(fmt.Errorf("%s: rate limited: %s", inst.Symbol, payload.Information))
	case payload.Rate.ExchangeRate == "":
		return 0, fmt.Errorf("%s: %w", inst.Symbol, ErrNoRate)
	}

	rate, err := strconv.ParseFloat(payload.Rate.ExchangeRate, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %q", inst.Symbol, ErrInvalidRate, payload.Rate.ExchangeRate)
	}
	return checkRate(inst, rate)
}
