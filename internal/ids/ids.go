package ids

import (
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier for token records.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// RequestID returns a random identifier for correlating a request across log lines.
func RequestID() string {
	return uuid.NewString()
}

// MaxRequestIDLength bounds request identifiers accepted from callers.
const MaxRequestIDLength = 128

// RequestIDOrNew keeps a caller supplied identifier when it is non-empty and
// within MaxRequestIDLength, and mints a fresh one otherwise.
func RequestIDOrNew(inbound string) string {
	rid := strings.TrimSpace(inbound)
	if rid == "" || len(rid) > MaxRequestIDLength {
		return RequestID()
	}
	return rid
}
