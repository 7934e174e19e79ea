package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"tokengate.org/internal/auth"
	"tokengate.org/internal/obs"
)

const serviceName = "tokengate"

type readinessChecker interface {
	Check(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe reports ready when the token store answers a ping.
type ReadyProbe struct {
	Store pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.Store == nil {
		return nil
	}
	return rp.Store.Ping(ctx)
}

// Route is one entry of the routing table. Public routes skip credential
// checks entirely; every other route goes through the guard.
type Route struct {
	Method  string
	Pattern string
	Public  bool
	Handler http.HandlerFunc
}

func (rt Route) meta() auth.RouteMeta {
	return auth.RouteMeta{Public: rt.Public, Name: rt.Method + " " + rt.Pattern}
}

// Options tunes the HTTP layer.
type Options struct {
	Version       string
	Gatherer      prometheus.Gatherer
	RateBurst     int
	RatePerSecond int
	MaxBodyBytes  int64
	// TrustedProxies are the peers whose X-Forwarded-For is believed.
	TrustedProxies []netip.Prefix
	// Routes are mounted next to the built-in routes.
	Routes []Route
}

// API is the HTTP layer.
type API struct {
	guard      *auth.Guard
	readyProbe readinessChecker
	version    string
	metrics    http.Handler
	routes     []Route

	rateBurst  int
	ratePerSec int
	maxBody    int64
	trusted    []netip.Prefix
}

func New(guard *auth.Guard, rp readinessChecker, opts Options) *API {
	a := &API{
		guard:      guard,
		readyProbe: rp,
		version:    opts.Version,
		rateBurst:  opts.RateBurst,
		ratePerSec: opts.RatePerSecond,
		maxBody:    opts.MaxBodyBytes,
		trusted:    opts.TrustedProxies,
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	a.metrics = obs.Handler(gatherer)
	if a.rateBurst <= 0 {
		a.rateBurst = 20
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 10
	}
	if a.maxBody <= 0 {
		a.maxBody = 1 << 20
	}

	a.routes = []Route{
		{Method: http.MethodGet, Pattern: "/healthz", Public: true, Handler: a.Healthz},
		{Method: http.MethodGet, Pattern: "/readyz", Public: true, Handler: a.Ready},
		{Method: http.MethodGet, Pattern: "/metrics", Public: true, Handler: a.metrics.ServeHTTP},
		{Method: http.MethodGet, Pattern: "/v1/info", Public: true, Handler: a.Info},
		{Method: http.MethodGet, Pattern: "/v1/me", Handler: a.Me},
	}
	a.routes = append(a.routes, opts.Routes...)
	return a
}

// Handler builds the router with the full middleware chain.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, LoggingJSON, obs.Instrument, chimw.Recoverer, SecurityHeaders)
	r.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec, a.trusted...) })
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBody) })

	for _, rt := range a.routes {
		r.With(a.withAuth(rt.meta())).Method(rt.Method, rt.Pattern, rt.Handler)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if a.readyProbe != nil {
		if err := a.readyProbe.Check(r.Context()); err != nil {
			obs.Log(r.Context(), obs.LevelWarn, "readiness_failed", map[string]any{"error": err.Error()})
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    serviceName,
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

type meResponse struct {
	Subject        string     `json:"subject"`
	Role           string     `json:"role,omitempty"`
	TokenID        string     `json:"token_id,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
}

// Me echoes the authenticated principal.
func (a *API) Me(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok || !p.Authenticated() {
		unauthorized(w, r)
		return
	}
	resp := meResponse{Subject: p.Subject}
	if p.Claims != nil {
		resp.Role = p.Claims.Role
	}
	if p.Token != nil {
		resp.TokenID = p.Token.ID
		exp := p.Token.ExpiresAt.UTC()
		resp.TokenExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := obs.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}
