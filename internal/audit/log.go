package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"tokengate.org/internal/auth"
	"tokengate.org/internal/obs"
)

// Audit event names.
const (
	EventRequestDenied = "auth.request.denied"
	EventTokenRevoked  = "auth.token.revoked"
	EventTokensPurged  = "auth.tokens.purged"
)

// LogEvent writes an audit log entry enriched with request and principal context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	entry := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "audit",
		"event": event,
	}
	if rid := obs.RequestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok && p.Authenticated() {
		entry["subject"] = p.Subject
	}
	copyFields := make(map[string]any, len(fields))
	for k, v := range fields {
		copyFields[k] = v
	}
	entry["fields"] = copyFields

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// Denied records a rejected request. Only the denial kind is recorded; the
// credential never is.
func Denied(ctx context.Context, route string, err error) error {
	return LogEvent(ctx, EventRequestDenied, map[string]any{
		"route": route,
		"kind":  auth.KindOf(err).String(),
	})
}
