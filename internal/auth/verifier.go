package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultIssuer = "tokengate"

// Verifier performs stateless verification of a bearer credential.
type Verifier interface {
	Verify(ctx context.Context, credential string) (*Claims, error)
}

// Claims are the decoded JWT claims of a verified credential.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 or RS256 signed JWTs.
type JWTVerifier struct {
	secret    []byte
	publicKey *rsa.PublicKey
	issuer    string
	now       func() time.Time
	skew      time.Duration
}

// VerifierOption configures JWTVerifier.
type VerifierOption func(*JWTVerifier) error

// WithHMACSecret enables HS256 verification with a shared secret.
func WithHMACSecret(secret string) VerifierOption {
	return func(v *JWTVerifier) error {
		secret = strings.TrimSpace(secret)
		if secret == "" {
			return nil
		}
		v.secret = []byte(secret)
		return nil
	}
}

// WithRS256PublicKey enables RS256 verification with a PEM encoded public key.
func WithRS256PublicKey(publicPEM string) VerifierOption {
	return func(v *JWTVerifier) error {
		publicPEM = strings.TrimSpace(publicPEM)
		if publicPEM == "" {
			return nil
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(publicPEM))
		if err != nil {
			return fmt.Errorf("auth: parse public key: %w", err)
		}
		v.publicKey = key
		return nil
	}
}

// WithIssuer overrides the expected issuer claim.
func WithIssuer(issuer string) VerifierOption {
	return func(v *JWTVerifier) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			v.issuer = issuer
		}
		return nil
	}
}

// WithVerifierClock overrides the time source (useful for tests).
func WithVerifierClock(fn func() time.Time) VerifierOption {
	return func(v *JWTVerifier) error {
		if fn != nil {
			v.now = fn
		}
		return nil
	}
}

// NewJWTVerifier builds a verifier. At least one key must be configured.
func NewJWTVerifier(opts ...VerifierOption) (*JWTVerifier, error) {
	v := &JWTVerifier{
		issuer: defaultIssuer,
		now:    time.Now,
		skew:   5 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}
	if len(v.secret) == 0 && v.publicKey == nil {
		return nil, errors.New("auth: verifier requires an HMAC secret or an RSA public key")
	}
	return v, nil
}

// Verify checks signature, structure and time claims of credential.
func (v *JWTVerifier) Verify(ctx context.Context, credential string) (*Claims, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrInvalidCredential
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parsed, err := jwt.ParseWithClaims(credential, &Claims{}, v.keyFunc,
		jwt.WithTimeFunc(v.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodRS256.Alg()}),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidCredential
	}
	if err := v.validateClaims(claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	return claims, nil
}

func (v *JWTVerifier) keyFunc(t *jwt.Token) (any, error) {
	switch t.Method {
	case jwt.SigningMethodHS256:
		if len(v.secret) == 0 {
			return nil, errors.New("hs256 not configured")
		}
		return v.secret, nil
	case jwt.SigningMethodRS256:
		if v.publicKey == nil {
			return nil, errors.New("rs256 not configured")
		}
		return v.publicKey, nil
	default:
		return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
	}
}

func (v *JWTVerifier) validateClaims(claims *Claims) error {
	if claims.Issuer != v.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := v.now().UTC()
	if !now.Before(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	if claims.IssuedAt.Time.After(now.Add(v.skew)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
