// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"tokengate.org/internal/auth"
)

// Config is read once at startup and treated as immutable.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	// Empty DSN selects the in-memory token store.
	DatabaseDSN string

	AuthSecret    string
	AuthPublicKey string
	AuthIssuer    string

	RevocationMode     auth.RevocationMode
	StoreFailurePolicy auth.StoreFailurePolicy
	StoreTimeout       time.Duration
	VerifyTimeout      time.Duration
	StoreRetryAttempts int
	StoreRetryBackoff  time.Duration

	RateBurst      int
	RatePerSecond  int
	MaxBodyBytes   int64
	TrustedProxies []netip.Prefix

	// DevTokensFile seeds the in-memory store; rejected together with a DSN.
	DevTokensFile string
}

// Load reads Config from TOKENGATE_* environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:      getEnvString("TOKENGATE_HTTP_ADDR", ":8080"),
		GRPCAddr:      getEnvString("TOKENGATE_GRPC_ADDR", ":9090"),
		DatabaseDSN:   os.Getenv("TOKENGATE_PG_DSN"),
		AuthSecret:    strings.TrimSpace(os.Getenv("TOKENGATE_AUTH_SECRET")),
		AuthPublicKey: strings.TrimSpace(os.Getenv("TOKENGATE_AUTH_PUBLIC_KEY")),
		AuthIssuer:    getEnvString("TOKENGATE_AUTH_ISSUER", "tokengate"),

		StoreTimeout:       getEnvDuration("TOKENGATE_STORE_TIMEOUT", 2*time.Second),
		VerifyTimeout:      getEnvDuration("TOKENGATE_VERIFY_TIMEOUT", time.Second),
		StoreRetryAttempts: getEnvInt("TOKENGATE_STORE_RETRY_ATTEMPTS", 3),
		StoreRetryBackoff:  getEnvDuration("TOKENGATE_STORE_RETRY_BACKOFF", 25*time.Millisecond),

		RateBurst:     getEnvInt("TOKENGATE_RATE_BURST", 20),
		RatePerSecond: getEnvInt("TOKENGATE_RATE_PER_SEC", 10),
		MaxBodyBytes:  getEnvInt64("TOKENGATE_MAX_BODY_BYTES", 1<<20),
		DevTokensFile: strings.TrimSpace(os.Getenv("TOKENGATE_DEV_TOKENS")),
	}

	if cfg.AuthSecret == "" && cfg.AuthPublicKey == "" {
		return nil, errors.New("config: TOKENGATE_AUTH_SECRET or TOKENGATE_AUTH_PUBLIC_KEY is required")
	}

	if cfg.DevTokensFile != "" && cfg.DatabaseDSN != "" {
		return nil, errors.New("config: TOKENGATE_DEV_TOKENS only applies without TOKENGATE_PG_DSN")
	}

	var err error
	if cfg.TrustedProxies, err = parsePrefixes(os.Getenv("TOKENGATE_TRUSTED_PROXIES")); err != nil {
		return nil, fmt.Errorf("config: TOKENGATE_TRUSTED_PROXIES: %w", err)
	}
	if cfg.RevocationMode, err = auth.ParseRevocationMode(os.Getenv("TOKENGATE_REVOCATION_MODE")); err != nil {
		return nil, fmt.Errorf("config: TOKENGATE_REVOCATION_MODE: %w", err)
	}
	if cfg.StoreFailurePolicy, err = auth.ParseStoreFailurePolicy(os.Getenv("TOKENGATE_STORE_FAILURE_POLICY")); err != nil {
		return nil, fmt.Errorf("config: TOKENGATE_STORE_FAILURE_POLICY: %w", err)
	}
	return cfg, nil
}

// GuardOptions translates the configuration into guard options.
func (c *Config) GuardOptions() []auth.GuardOption {
	return []auth.GuardOption{
		auth.WithRevocationMode(c.RevocationMode),
		auth.WithStoreFailurePolicy(c.StoreFailurePolicy),
		auth.WithStoreTimeout(c.StoreTimeout),
		auth.WithVerifyTimeout(c.VerifyTimeout),
		auth.WithStoreRetry(c.StoreRetryAttempts, c.StoreRetryBackoff),
	}
}

// VerifierOptions translates the configuration into verifier options.
func (c *Config) VerifierOptions() []auth.VerifierOption {
	return []auth.VerifierOption{
		auth.WithHMACSecret(c.AuthSecret),
		auth.WithRS256PublicKey(c.AuthPublicKey),
		auth.WithIssuer(c.AuthIssuer),
	}
}

// parsePrefixes reads a comma separated list of CIDRs or bare addresses.
func parsePrefixes(raw string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.Contains(item, "/") {
			p, err := netip.ParsePrefix(item)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(item)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

func getEnvString(key, defaultVal string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
