package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxsignal/internal/indicator"
	"fxsignal/internal/model"
	"fxsignal/internal/portfolio"
)

const testSecret = "JBSWY3DPEHPK3PXP"

type fakeStrategy struct {
	tracked   map[string]bool
	positions []portfolio.Position
}

func (f *fakeStrategy) Untrack(inst string) bool {
	ok := f.tracked[inst]
	delete(f.tracked, inst)
	return ok
}

func (f *fakeStrategy) OpenPositions() []portfolio.Position { return f.positions }

type fakeDecisions struct {
	latest map[string]*model.Decision
	err    error
}

func (f *fakeDecisions) LatestDecision(_ context.Context, inst string) (*model.Decision, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.latest[inst], nil
}

func newOscillators(t *testing.T) *indicator.Engine {
	t.Helper()
	osc, err := indicator.NewEngine(indicator.Config{Period: 2, HistorySize: 10})
	require.NoError(t, err)
	ts := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	for i, p := range []float64{1.0850, 1.0860, 1.0855} {
		_, err := osc.Update(model.PriceSample{Instrument: "EURUSD", TS: ts.Add(time.Duration(i) * time.Minute), Price: p})
		require.NoError(t, err)
	}
	return osc
}

func do(t *testing.T, h http.Handler, method, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	mux := NewRouter(Deps{Oscillators: newOscillators(t), Strategy: &fakeStrategy{}})
	rec := do(t, mux, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestInstruments(t *testing.T) {
	mux := NewRouter(Deps{Oscillators: newOscillators(t), Strategy: &fakeStrategy{}})
	rec := do(t, mux, http.MethodGet, "/api/v1/instruments", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var states []indicator.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &states))
	require.Len(t, states, 1)
	assert.Equal(t, "EURUSD", states[0].Instrument)
	assert.True(t, states[0].Sufficient)
	assert.Equal(t, 3, states[0].Samples)
}

func TestHistory(t *testing.T) {
	mux := NewRouter(Deps{Oscillators: newOscillators(t), Strategy: &fakeStrategy{}})

	rec := do(t, mux, http.MethodGet, "/api/v1/instruments/eurusd/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Instrument string              `json:"instrument"`
		Samples    []model.PriceSample `json:"samples"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "EURUSD", body.Instrument)
	require.Len(t, body.Samples, 3)
	assert.InDelta(t, 1.0850, body.Samples[0].Price, 1e-9)

	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/api/v1/instruments/GBPUSD/history", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/api/v1/instruments/EUR/history", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/api/v1/instruments/EURUSD/ticks", nil).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, mux, http.MethodPost, "/api/v1/instruments/EURUSD/history", nil).Code)
}

func TestPositions_EmptyIsArray(t *testing.T) {
	mux := NewRouter(Deps{Oscillators: newOscillators(t), Strategy: &fakeStrategy{}})
	rec := do(t, mux, http.MethodGet, "/api/v1/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestLatestDecision(t *testing.T) {
	dec := &fakeDecisions{latest: map[string]*model.Decision{
		"EURUSD": {Instrument: "EURUSD", Signal: model.ActionBuy, Oscillator: 27.5},
	}}
	mux := NewRouter(Deps{Oscillators: newOscillators(t), Strategy: &fakeStrategy{}, Decisions: dec})

	rec := do(t, mux, http.MethodGet, "/api/v1/decisions/latest?instrument=EURUSD", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var d model.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, model.ActionBuy, d.Signal)

	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodGet, "/api/v1/decisions/latest?instrument=GBPUSD", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/api/v1/decisions/latest", nil).Code)

	dec.err = errors.New("connection refused")
	assert.Equal(t, http.StatusBadGateway, do(t, mux, http.MethodGet, "/api/v1/decisions/latest?instrument=EURUSD", nil).Code)
}

func TestLatestDecision_StoreDisabled(t *testing.T) {
	mux := NewRouter(Deps{Oscillators: newOscillators(t), Strategy: &fakeStrategy{}})
	rec := do(t, mux, http.MethodGet, "/api/v1/decisions/latest?instrument=EURUSD", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUntrack_RequiresTOTP(t *testing.T) {
	st := &fakeStrategy{tracked: map[string]bool{"EURUSD": true}}
	mux := NewRouter(Deps{Oscillators: newOscillators(t), Strategy: st, TOTPSecret: testSecret})

	rec := do(t, mux, http.MethodPost, "/api/v1/instruments/untrack?instrument=EURUSD", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, mux, http.MethodPost, "/api/v1/instruments/untrack?instrument=EURUSD", map[string]string{TOTPHeader: "000000x"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.True(t, st.tracked["EURUSD"], "rejected request must not untrack")

	code, err := totp.GenerateCode(testSecret, time.Now())
	require.NoError(t, err)
	rec = do(t, mux, http.MethodPost, "/api/v1/instruments/untrack?instrument=EURUSD", map[string]string{TOTPHeader: code})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"untracked":"EURUSD"}`, rec.Body.String())
	assert.False(t, st.tracked["EURUSD"])

	rec = do(t, mux, http.MethodPost, "/api/v1/instruments/untrack?instrument=EURUSD", map[string]string{TOTPHeader: code})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUntrack_NoSecret(t *testing.T) {
	st := &fakeStrategy{tracked: map[string]bool{"EURUSD": true}}
	open := NewRouter(Deps{Oscillators: newOscillators(t), Strategy: st})
	assert.Equal(t, http.StatusOK, do(t, open, http.MethodPost, "/api/v1/instruments/untrack?instrument=EURUSD", nil).Code)

	st.tracked["EURUSD"] = true
	locked := NewRouter(Deps{Oscillators: newOscillators(t), Strategy: st, TOTPRequired: true})
	assert.Equal(t, http.StatusUnauthorized, do(t, locked, http.MethodPost, "/api/v1/instruments/untrack?instrument=EURUSD", nil).Code)
}

func TestUntrack_MethodAndPreflight(t *testing.T) {
	mux := NewRouter(Deps{Oscillators: newOscillators(t), Strategy: &fakeStrategy{}})
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, mux, http.MethodGet, "/api/v1/instruments/untrack?instrument=EURUSD", nil).Code)

	rec := do(t, mux, http.MethodOptions, "/api/v1/instruments/untrack", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), TOTPHeader)
}
