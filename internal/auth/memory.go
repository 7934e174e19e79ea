package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"tokengate.org/internal/ids"
)

var _ TokenAdmin = (*MemoryStore)(nil)

// MemoryStore is an in-process TokenAdmin used when no database is configured
// and in tests.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]Token
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]Token), now: time.Now}
}

func (s *MemoryStore) Lookup(ctx context.Context, credential string) (*Token, error) {
	if strings.TrimSpace(credential) == "" {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	tok, ok := s.tokens[HashCredential(credential)]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrTokenNotFound
	}
	return &tok, nil
}

func (s *MemoryStore) Create(_ context.Context, credential string, tok *Token) error {
	if strings.TrimSpace(credential) == "" || tok == nil || tok.UserID == 0 {
		return ErrInvalidInput
	}
	if tok.ID == "" {
		tok.ID = ids.New()
	}
	tok.TokenHash = HashCredential(credential)
	if tok.CreatedAt.IsZero() {
		tok.CreatedAt = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tok.TokenHash] = *tok
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, credential string) error {
	if strings.TrimSpace(credential) == "" {
		return ErrInvalidInput
	}
	key := HashCredential(credential)
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[key]
	if !ok {
		return ErrTokenNotFound
	}
	if !tok.Revoked {
		now := s.now().UTC()
		tok.Revoked = true
		tok.RevokedAt = &now
		s.tokens[key] = tok
	}
	return nil
}

func (s *MemoryStore) RevokeByUser(_ context.Context, userID int64) (int64, error) {
	if userID == 0 {
		return 0, ErrInvalidInput
	}
	now := s.now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, tok := range s.tokens {
		if tok.UserID != userID || tok.Revoked {
			continue
		}
		tok.Revoked = true
		tok.RevokedAt = &now
		s.tokens[k] = tok
		n++
	}
	return n, nil
}

func (s *MemoryStore) PurgeDead(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, tok := range s.tokens {
		expired := tok.ExpiresAt.Before(before)
		revoked := tok.Revoked && tok.RevokedAt != nil && tok.RevokedAt.Before(before)
		if expired || revoked {
			delete(s.tokens, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }
