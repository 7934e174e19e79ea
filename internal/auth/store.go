package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// TokenStore answers whether a credential maps to a persisted token.
// Implementations must be safe for concurrent use and must not mutate state.
type TokenStore interface {
	// Lookup returns the token issued for credential. It returns
	// ErrTokenNotFound when no such token exists and an error wrapping
	// ErrStoreUnavailable when the backing store cannot be reached.
	Lookup(ctx context.Context, credential string) (*Token, error)
}

// TokenAdmin manages token lifecycle outside the request path.
type TokenAdmin interface {
	TokenStore
	Create(ctx context.Context, credential string, tok *Token) error
	Revoke(ctx context.Context, credential string) error
	RevokeByUser(ctx context.Context, userID int64) (int64, error)
	PurgeDead(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// HashCredential returns the storage key for a bearer credential.
func HashCredential(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])
}
