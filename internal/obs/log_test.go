package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogWritesJSONLine(t *testing.T) {
	logger := Logger()
	orig := logger.Writer()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(orig)

	ctx := WithRequestID(context.Background(), "rid-1")
	Log(ctx, LevelWarn, "something_happened", map[string]any{"msg": "ignored", "count": 3})

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	if entry["msg"] != "something_happened" || entry["level"] != LevelWarn {
		t.Fatalf("reserved fields overridden: %v", entry)
	}
	if entry["request_id"] != "rid-1" || entry["count"] != float64(3) {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestWithRequestIDIgnoresBlank(t *testing.T) {
	ctx := WithRequestID(context.Background(), "  ")
	if got := RequestIDFromContext(ctx); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}
