package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"tokengate.org/internal/auth"
)

const testSecret = "httpapi-test-secret"

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *auth.MemoryStore
	t       *testing.T
}

func newTestAPI(t *testing.T, rp readinessChecker, opts Options) *apiClient {
	t.Helper()

	store := auth.NewMemoryStore()
	verifier, err := auth.NewJWTVerifier(auth.WithHMACSecret(testSecret))
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}
	guard, err := auth.NewGuard(store, verifier)
	if err != nil {
		t.Fatalf("NewGuard: %v", err)
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.NewRegistry()
	}
	if opts.RateBurst == 0 {
		opts.RateBurst = 100
		opts.RatePerSecond = 100
	}
	if opts.Version == "" {
		opts.Version = "test"
	}

	srv := httptest.NewServer(New(guard, rp, opts).Handler())
	t.Cleanup(srv.Close)

	return &apiClient{baseURL: srv.URL, client: srv.Client(), store: store, t: t}
}

func (c *apiClient) get(path string, headers map[string]string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// issue signs a token for subject and registers it as live in the store.
func (c *apiClient) issue(subject string, userID int64) string {
	c.t.Helper()
	now := time.Now().UTC()
	claims := auth.Claims{
		Role: string(auth.RoleManager),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "tokengate",
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		c.t.Fatalf("sign: %v", err)
	}
	if err := c.store.Create(context.Background(), signed, &auth.Token{UserID: userID, ExpiresAt: now.Add(time.Hour)}); err != nil {
		c.t.Fatalf("create token: %v", err)
	}
	return signed
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return out
}

func TestHealthzIsPublic(t *testing.T) {
	c := newTestAPI(t, nil, Options{Version: "1.2.3"})

	resp := c.get("/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeBody(t, resp)
	if body["status"] != "ok" || body["version"] != "1.2.3" {
		t.Fatalf("unexpected body: %v", body)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatal("expected X-Request-ID header")
	}
	if resp.Header.Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("expected security headers")
	}
}

func TestPublicRouteIgnoresGarbageCredential(t *testing.T) {
	c := newTestAPI(t, nil, Options{})

	resp := c.get("/v1/info", map[string]string{"Authorization": "Basic Zm9vOmJhcg=="})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestProtectedRouteDenials(t *testing.T) {
	c := newTestAPI(t, nil, Options{})
	live := c.issue("7", 7)
	revoked := c.issue("8", 8)
	if err := c.store.Revoke(context.Background(), revoked); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	cases := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"empty bearer", "Bearer "},
		{"wrong scheme", "Basic " + live},
		{"extra segment", "Bearer " + live + " extra"},
		{"garbage", "Bearer not-a-jwt"},
		{"revoked", "Bearer " + revoked},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			headers := map[string]string{}
			if tc.header != "" {
				headers["Authorization"] = tc.header
			}
			resp := c.get("/v1/me", headers)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", resp.StatusCode)
			}
			if got := resp.Header.Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
				t.Fatalf("unexpected WWW-Authenticate: %q", got)
			}
			body := decodeBody(t, resp)
			if body["error"] != "unauthorized" {
				t.Fatalf("denial must not leak its kind: %v", body)
			}
			if body["request_id"] == "" || body["request_id"] == nil {
				t.Fatalf("expected request_id in body: %v", body)
			}
		})
	}
}

func TestMeEchoesPrincipal(t *testing.T) {
	c := newTestAPI(t, nil, Options{})
	token := c.issue("42", 42)

	resp := c.get("/v1/me", map[string]string{"Authorization": "Bearer " + token})
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, raw)
	}
	body := decodeBody(t, resp)
	if body["subject"] != "42" {
		t.Fatalf("unexpected subject: %v", body["subject"])
	}
	if body["role"] != string(auth.RoleManager) {
		t.Fatalf("unexpected role: %v", body["role"])
	}
	if body["token_id"] == "" || body["token_id"] == nil {
		t.Fatalf("expected token_id: %v", body)
	}
}

func TestExtraRoutesAreGuarded(t *testing.T) {
	extra := Route{
		Method:  http.MethodGet,
		Pattern: "/v1/widgets/{id}",
		Handler: func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
		},
	}
	c := newTestAPI(t, nil, Options{Routes: []Route{extra}})

	if resp := c.get("/v1/widgets/1", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without credential, got %d", resp.StatusCode)
	}
	token := c.issue("3", 3)
	if resp := c.get("/v1/widgets/1", map[string]string{"Authorization": "Bearer " + token}); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with credential, got %d", resp.StatusCode)
	}
}

type failingReadiness struct{}

func (failingReadiness) Check(context.Context) error { return errors.New("boom") }

func TestReadyReflectsProbe(t *testing.T) {
	ok := newTestAPI(t, ReadyProbe{Store: auth.NewMemoryStore()}, Options{})
	if resp := ok.get("/readyz", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	bad := newTestAPI(t, failingReadiness{}, Options{})
	resp := bad.get("/readyz", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	if body := decodeBody(t, resp); body["status"] != "not_ready" {
		t.Fatalf("unexpected body: %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "tokengate_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	c := newTestAPI(t, nil, Options{Gatherer: reg})
	resp := c.get("/metrics", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "tokengate_test_total 1") {
		t.Fatalf("metric missing from output:\n%s", raw)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	c := newTestAPI(t, nil, Options{})
	if resp := c.get("/nope", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, c.baseURL+"/healthz", nil)
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
