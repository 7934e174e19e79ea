package config

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"tokengate.org/internal/auth"
)

// DevToken is one line of a TOKENGATE_DEV_TOKENS file:
//
//	credential,user_id,ttl
//
// Blank lines and lines starting with '#' are skipped. ttl is a Go duration.
type DevToken struct {
	Credential string
	UserID     int64
	TTL        time.Duration
}

// ParseDevTokens reads dev token lines from r.
func ParseDevTokens(r io.Reader) ([]DevToken, error) {
	var out []DevToken
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("line %d: want credential,user_id,ttl", n)
		}
		credential := strings.TrimSpace(parts[0])
		if credential == "" {
			return nil, fmt.Errorf("line %d: empty credential", n)
		}
		userID, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil || userID <= 0 {
			return nil, fmt.Errorf("line %d: invalid user id %q", n, strings.TrimSpace(parts[1]))
		}
		ttl, err := time.ParseDuration(strings.TrimSpace(parts[2]))
		if err != nil || ttl <= 0 {
			return nil, fmt.Errorf("line %d: invalid ttl %q", n, strings.TrimSpace(parts[2]))
		}
		out = append(out, DevToken{Credential: credential, UserID: userID, TTL: ttl})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// SeedDevTokens loads DevTokensFile into store. It is a no-op when no file is
// configured.
func (c *Config) SeedDevTokens(ctx context.Context, store auth.TokenAdmin, now time.Time) (int, error) {
	if c.DevTokensFile == "" {
		return 0, nil
	}
	f, err := os.Open(c.DevTokensFile)
	if err != nil {
		return 0, fmt.Errorf("config: dev tokens: %w", err)
	}
	defer f.Close()

	tokens, err := ParseDevTokens(f)
	if err != nil {
		return 0, fmt.Errorf("config: dev tokens %s: %w", c.DevTokensFile, err)
	}
	for _, dt := range tokens {
		tok := &auth.Token{UserID: dt.UserID, ExpiresAt: now.Add(dt.TTL)}
		if err := store.Create(ctx, dt.Credential, tok); err != nil {
			return 0, fmt.Errorf("config: seed dev token for user %d: %w", dt.UserID, err)
		}
	}
	return len(tokens), nil
}
