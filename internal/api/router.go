// Package api serves the read-only REST view of the engine and the
// TOTP-guarded admin endpoint.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"

	"fxsignal/internal/indicator"
	"fxsignal/internal/model"
	"fxsignal/internal/portfolio"
)

// TOTPHeader carries the one-time code for admin requests.
const TOTPHeader = "X-TOTP"

// Oscillators exposes the per-instrument oscillator state.
type Oscillators interface {
	States() []indicator.State
	History(instrument string) []model.PriceSample
}

// Strategy is the subset of the strategy engine the API drives.
type Strategy interface {
	Untrack(instrument string) bool
	OpenPositions() []portfolio.Position
}

// DecisionReader returns the last published decision for an instrument.
type DecisionReader interface {
	LatestDecision(ctx context.Context, instrument string) (*model.Decision, error)
}

// Deps wires the router to the running engine.
type Deps struct {
	Oscillators Oscillators
	Strategy    Strategy
	Decisions   DecisionReader // nil when Redis is disabled

	// TOTPSecret guards untrack. With TOTPRequired and no secret the
	// endpoint is disabled.
	TOTPSecret   string
	TOTPRequired bool

	Logger *slog.Logger
}

type router struct {
	Deps
}

// NewRouter sets up HTTP routes for the API server.
func NewRouter(deps Deps) *http.ServeMux {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	rt := &router{Deps: deps}
	rt.Logger = rt.Logger.With("component", "api")

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", rt.health)
	mux.HandleFunc("/api/v1/instruments", rt.instruments)
	mux.HandleFunc("/api/v1/instruments/untrack", rt.untrack)
	mux.HandleFunc("/api/v1/instruments/", rt.history)
	mux.HandleFunc("/api/v1/positions", rt.positions)
	mux.HandleFunc("/api/v1/decisions/latest", rt.latestDecision)
	return mux
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+TOTPHeader)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// preflight handles CORS and method checks. Returns false when the
// request has been answered.
func preflight(w http.ResponseWriter, r *http.Request, method string) bool {
	setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return false
	}
	if r.Method != method {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func (rt *router) health(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *router) instruments(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, rt.Oscillators.States())
}

// history serves /api/v1/instruments/{pair}/history.
func (rt *router) history(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodGet) {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/instruments/")
	pair, suffix, ok := strings.Cut(rest, "/")
	if !ok || suffix != "history" || pair == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	inst, err := model.ParseInstrument(pair)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	samples := rt.Oscillators.History(inst.Symbol)
	if samples == nil {
		writeError(w, http.StatusNotFound, "instrument not tracked")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"instrument": inst.Symbol,
		"samples":    samples,
	})
}

func (rt *router) positions(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodGet) {
		return
	}
	positions := rt.Strategy.OpenPositions()
	if positions == nil {
		positions = []portfolio.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func (rt *router) latestDecision(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodGet) {
		return
	}
	if rt.Decisions == nil {
		writeError(w, http.StatusServiceUnavailable, "decision store disabled")
		return
	}
	inst, err := model.ParseInstrument(r.URL.Query().Get("instrument"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	d, err := rt.Decisions.LatestDecision(ctx, inst.Symbol)
	if err != nil {
		rt.Logger.Warn("latest decision lookup failed", "instrument", inst.Symbol, "error", err)
		writeError(w, http.StatusBadGateway, "decision store unavailable")
		return
	}
	if d == nil {
		writeError(w, http.StatusNotFound, "no decision for instrument")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (rt *router) untrack(w http.ResponseWriter, r *http.Request) {
	if !preflight(w, r, http.MethodPost) {
		return
	}
	if !rt.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid or missing "+TOTPHeader)
		return
	}
	inst, err := model.ParseInstrument(r.URL.Query().Get("instrument"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !rt.Strategy.Untrack(inst.Symbol) {
		writeError(w, http.StatusNotFound, "instrument not tracked")
		return
	}
	rt.Logger.Info("untrack requested", "instrument", inst.Symbol, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]string{"untracked": inst.Symbol})
}

func (rt *router) authorized(r *http.Request) bool {
	if rt.TOTPSecret == "" {
		return !rt.TOTPRequired
	}
	code := strings.TrimSpace(r.Header.Get(TOTPHeader))
	return code != "" && totp.Validate(code, rt.TOTPSecret)
}
