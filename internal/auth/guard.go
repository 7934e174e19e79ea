package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tokengate.org/internal/obs"
)

const (
	defaultStoreTimeout  = 2 * time.Second
	defaultVerifyTimeout = time.Second
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 25 * time.Millisecond
	maxRetryBackoff      = 500 * time.Millisecond

	authorizationHeader = "Authorization"
	bearerScheme        = "Bearer"
)

// RevocationMode decides whether the token store result can deny a request.
type RevocationMode int

const (
	// RevocationAuthoritative denies unknown, expired or revoked tokens.
	RevocationAuthoritative RevocationMode = iota
	// RevocationAdvisory only records store findings; the verifier alone decides.
	RevocationAdvisory
)

// ParseRevocationMode parses "authoritative" or "advisory".
func ParseRevocationMode(s string) (RevocationMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "authoritative":
		return RevocationAuthoritative, nil
	case "advisory":
		return RevocationAdvisory, nil
	default:
		return 0, fmt.Errorf("%w: unknown revocation mode %q", ErrInvalidInput, s)
	}
}

func (m RevocationMode) String() string {
	if m == RevocationAdvisory {
		return "advisory"
	}
	return "authoritative"
}

// StoreFailurePolicy decides what happens when the token store cannot answer.
type StoreFailurePolicy int

const (
	FailClosed StoreFailurePolicy = iota
	FailOpen
)

// ParseStoreFailurePolicy parses "closed" or "open".
func ParseStoreFailurePolicy(s string) (StoreFailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "closed", "fail-closed":
		return FailClosed, nil
	case "open", "fail-open":
		return FailOpen, nil
	default:
		return 0, fmt.Errorf("%w: unknown store failure policy %q", ErrInvalidInput, s)
	}
}

func (p StoreFailurePolicy) String() string {
	if p == FailOpen {
		return "open"
	}
	return "closed"
}

// Recorder receives guard metrics. obs.GuardMetrics implements it.
type Recorder interface {
	ObserveDecision(outcome, kind string)
	ObserveLookup(d time.Duration, result string)
	ObserveRetry()
}

type nopRecorder struct{}

func (nopRecorder) ObserveDecision(string, string)      {}
func (nopRecorder) ObserveLookup(time.Duration, string) {}
func (nopRecorder) ObserveRetry()                       {}

// RouteMeta is what the routing layer knows about the matched route.
type RouteMeta struct {
	Public bool
	Name   string
}

// Guard makes the per-request authorization decision. A Guard holds only
// configuration and is safe for concurrent use.
type Guard struct {
	store    TokenStore
	verifier Verifier
	recorder Recorder

	revocation    RevocationMode
	storeFailure  StoreFailurePolicy
	storeTimeout  time.Duration
	verifyTimeout time.Duration
	retryAttempts int
	retryBackoff  time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// GuardOption configures Guard behavior.
type GuardOption func(*Guard)

// WithRevocationMode selects authoritative or advisory revocation checks.
func WithRevocationMode(m RevocationMode) GuardOption {
	return func(g *Guard) { g.revocation = m }
}

// WithStoreFailurePolicy selects fail-closed or fail-open on store outages.
func WithStoreFailurePolicy(p StoreFailurePolicy) GuardOption {
	return func(g *Guard) { g.storeFailure = p }
}

// WithStoreTimeout bounds each token store lookup attempt.
func WithStoreTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.storeTimeout = d
		}
	}
}

// WithVerifyTimeout bounds stateless verification.
func WithVerifyTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.verifyTimeout = d
		}
	}
}

// WithStoreRetry sets the number of lookup attempts and the initial backoff.
func WithStoreRetry(attempts int, backoff time.Duration) GuardOption {
	return func(g *Guard) {
		if attempts > 0 {
			g.retryAttempts = attempts
		}
		if backoff > 0 {
			g.retryBackoff = backoff
		}
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) GuardOption {
	return func(g *Guard) {
		if r != nil {
			g.recorder = r
		}
	}
}

// WithGuardClock overrides the time source used for token liveness.
func WithGuardClock(fn func() time.Time) GuardOption {
	return func(g *Guard) {
		if fn != nil {
			g.now = fn
		}
	}
}

// NewGuard builds a Guard over a token store and a stateless verifier.
func NewGuard(store TokenStore, verifier Verifier, opts ...GuardOption) (*Guard, error) {
	if store == nil {
		return nil, errors.New("auth: guard requires a token store")
	}
	if verifier == nil {
		return nil, errors.New("auth: guard requires a verifier")
	}
	g := &Guard{
		store:         store,
		verifier:      verifier,
		recorder:      nopRecorder{},
		storeTimeout:  defaultStoreTimeout,
		verifyTimeout: defaultVerifyTimeout,
		retryAttempts: defaultRetryAttempts,
		retryBackoff:  defaultRetryBackoff,
		now:           time.Now,
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type lookupResult int

const (
	lookupLive lookupResult = iota
	lookupDead
	lookupUnknown
	lookupUnavailable
)

func (r lookupResult) String() string {
	switch r {
	case lookupLive:
		return "live"
	case lookupDead:
		return "dead"
	case lookupUnknown:
		return "not_found"
	default:
		return "unavailable"
	}
}

// decision collects everything observed while authorizing one request.
type decision struct {
	route    RouteMeta
	start    time.Time
	kind     Kind
	cause    error
	lookup   string
	attempts int
	subject  string
	override string
}

// Authorize decides whether a request on route carrying header may proceed.
// On success it returns the authenticated principal. Every denial is a
// *DenyError; its Kind is meant for logs and metrics only.
func (g *Guard) Authorize(ctx context.Context, route RouteMeta, header http.Header) (Principal, error) {
	d := &decision{route: route, start: g.now()}
	p, err := g.authorize(ctx, route, header, d)
	g.observe(ctx, d, err)
	return p, err
}

func (g *Guard) authorize(ctx context.Context, route RouteMeta, header http.Header, d *decision) (Principal, error) {
	if route.Public {
		return Principal{Public: true}, nil
	}

	credential, err := ExtractBearer(header)
	if err != nil {
		d.kind = KindOf(err)
		d.cause = err
		return Principal{}, err
	}

	tok, result, attempts, lookupErr := g.lookup(ctx, credential)
	d.lookup = result.String()
	d.attempts = attempts

	claims, verifyErr := g.verify(ctx, credential)
	if verifyErr != nil {
		e := deny(KindInvalidCredential, verifyErr)
		d.kind, d.cause = e.Kind, e
		return Principal{}, e
	}
	d.subject = claims.Subject
	principal := Principal{Subject: claims.Subject, Claims: claims, Token: tok}

	switch result {
	case lookupUnavailable:
		if g.storeFailure == FailOpen {
			d.override = "store_fail_open"
			d.cause = lookupErr
			return principal, nil
		}
		e := deny(KindStoreUnavailable, lookupErr)
		d.kind, d.cause = e.Kind, e
		return Principal{}, e
	case lookupDead, lookupUnknown:
		if g.revocation == RevocationAdvisory {
			d.override = "revocation_advisory"
			d.cause = lookupErr
			return principal, nil
		}
		e := deny(KindRevokedOrUnknownCredential, lookupErr)
		d.kind, d.cause = e.Kind, e
		return Principal{}, e
	}
	return principal, nil
}

// ExtractBearer returns the credential from an "Authorization: Bearer <token>"
// header, or a *DenyError of kind MissingCredential or MalformedCredential.
func ExtractBearer(header http.Header) (string, error) {
	raw := strings.TrimSpace(header.Get(authorizationHeader))
	if raw == "" {
		return "", deny(KindMissingCredential, errors.New("authorization header absent"))
	}
	fields := strings.Fields(raw)
	if !strings.EqualFold(fields[0], bearerScheme) {
		return "", deny(KindMalformedCredential, errors.New("unsupported authorization scheme"))
	}
	switch {
	case len(fields) < 2:
		return "", deny(KindMissingCredential, errors.New("bearer token absent"))
	case len(fields) > 2:
		return "", deny(KindMalformedCredential, errors.New("unexpected authorization segments"))
	}
	return fields[1], nil
}

func (g *Guard) lookup(ctx context.Context, credential string) (*Token, lookupResult, int, error) {
	backoff := g.retryBackoff
	for attempt := 1; ; attempt++ {
		tok, err := g.lookupOnce(ctx, credential)
		switch {
		case err == nil:
			if tok.Live(g.now()) {
				return tok, lookupLive, attempt, nil
			}
			return tok, lookupDead, attempt, errors.New("token expired or revoked")
		case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrInvalidInput):
			return nil, lookupUnknown, attempt, err
		}
		if attempt >= g.retryAttempts || ctx.Err() != nil {
			return nil, lookupUnavailable, attempt, err
		}
		g.recorder.ObserveRetry()
		if serr := g.sleep(ctx, backoff); serr != nil {
			return nil, lookupUnavailable, attempt, err
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

func (g *Guard) lookupOnce(ctx context.Context, credential string) (*Token, error) {
	lctx, cancel := context.WithTimeout(ctx, g.storeTimeout)
	defer cancel()

	start := time.Now()
	tok, err := g.store.Lookup(lctx, credential)
	switch {
	case err == nil && tok == nil:
		err = ErrTokenNotFound
	case err != nil && !errors.Is(err, ErrTokenNotFound) && !errors.Is(err, ErrInvalidInput) && !errors.Is(err, ErrStoreUnavailable):
		err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	result := lookupLive
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		result = lookupUnavailable
	case err != nil:
		result = lookupUnknown
	case !tok.Live(g.now()):
		result = lookupDead
	}
	g.recorder.ObserveLookup(time.Since(start), result.String())
	return tok, err
}

type verifyResult struct {
	claims *Claims
	err    error
}

// verify runs the verifier under verifyTimeout. A verifier that ignores its
// context is abandoned when the deadline passes.
func (g *Guard) verify(ctx context.Context, credential string) (*Claims, error) {
	vctx, cancel := context.WithTimeout(ctx, g.verifyTimeout)
	defer cancel()

	ch := make(chan verifyResult, 1)
	go func() {
		claims, err := g.verifier.Verify(vctx, credential)
		ch <- verifyResult{claims: claims, err: err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if res.claims == nil {
			return nil, errors.New("verifier returned no claims")
		}
		return res.claims, nil
	case <-vctx.Done():
		return nil, fmt.Errorf("verification: %w", vctx.Err())
	}
}

func (g *Guard) observe(ctx context.Context, d *decision, err error) {
	// Public routes carry probes and scrapes; count them, never log them.
	if d.route.Public {
		g.recorder.ObserveDecision("public", "")
		return
	}
	outcome := "allow"
	level := obs.LevelInfo
	if err != nil {
		outcome = "deny"
		level = obs.LevelWarn
	} else if d.override != "" {
		level = obs.LevelWarn
	}
	g.recorder.ObserveDecision(outcome, d.kind.String())

	fields := map[string]any{
		"outcome":     outcome,
		"route":       d.route.Name,
		"public":      d.route.Public,
		"duration_ms": float64(g.now().Sub(d.start).Microseconds()) / 1000,
	}
	if d.kind != KindNone {
		fields["kind"] = d.kind.String()
	}
	if d.cause != nil {
		fields["reason"] = d.cause.Error()
	}
	if d.lookup != "" {
		fields["token_store"] = d.lookup
		fields["lookup_attempts"] = d.attempts
	}
	if d.subject != "" {
		fields["subject"] = d.subject
	}
	if d.override != "" {
		fields["override"] = d.override
	}
	obs.Log(ctx, level, "auth_decision", fields)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
