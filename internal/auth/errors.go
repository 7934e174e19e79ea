package auth

import (
	"errors"
	"fmt"
)

var (
	ErrTokenNotFound    = errors.New("auth: token not found")
	ErrInvalidInput     = errors.New("auth: invalid input")
	ErrStoreUnavailable = errors.New("auth: token store unavailable")
	ErrUnauthorized     = errors.New("auth: unauthorized")
)

// Kind classifies why a request was denied. Kinds are internal detail: callers
// only ever see ErrUnauthorized on the wire.
type Kind int

const (
	KindNone Kind = iota
	KindMissingCredential
	KindMalformedCredential
	KindRevokedOrUnknownCredential
	KindInvalidCredential
	KindStoreUnavailable
)

var (
	ErrMissingCredential          = errors.New("auth: missing credential")
	ErrMalformedCredential        = errors.New("auth: malformed credential")
	ErrRevokedOrUnknownCredential = errors.New("auth: revoked or unknown credential")
	ErrInvalidCredential          = errors.New("auth: invalid credential")
)

func (k Kind) String() string {
	switch k {
	case KindMissingCredential:
		return "missing_credential"
	case KindMalformedCredential:
		return "malformed_credential"
	case KindRevokedOrUnknownCredential:
		return "revoked_or_unknown_credential"
	case KindInvalidCredential:
		return "invalid_credential"
	case KindStoreUnavailable:
		return "store_unavailable"
	default:
		return ""
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindMissingCredential:
		return ErrMissingCredential
	case KindMalformedCredential:
		return ErrMalformedCredential
	case KindRevokedOrUnknownCredential:
		return ErrRevokedOrUnknownCredential
	case KindInvalidCredential:
		return ErrInvalidCredential
	case KindStoreUnavailable:
		return ErrStoreUnavailable
	default:
		return nil
	}
}

// DenyError is returned by Guard.Authorize for every denied request.
// It matches ErrUnauthorized and the sentinel of its Kind under errors.Is.
type DenyError struct {
	Kind Kind
	Err  error
}

func (e *DenyError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth: unauthorized (%s)", e.Kind)
	}
	return fmt.Sprintf("auth: unauthorized (%s): %v", e.Kind, e.Err)
}

func (e *DenyError) Unwrap() error { return e.Err }

func (e *DenyError) Is(target error) bool {
	if target == ErrUnauthorized {
		return true
	}
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// PublicMessage is the only reason string that may be shown to the caller.
func (e *DenyError) PublicMessage() string { return "unauthorized" }

func deny(kind Kind, cause error) *DenyError {
	return &DenyError{Kind: kind, Err: cause}
}

// KindOf extracts the denial kind from err, or KindNone.
func KindOf(err error) Kind {
	var de *DenyError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindNone
}
