package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestWithContext_AttachesRequestFields(t *testing.T) {
	var buf bytes.Buffer
	old := defaultLogger
	defaultLogger = slog.New(slog.NewJSONHandler(&buf, nil))
	defer func() { defaultLogger = old }()

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, UserIDKey, int64(7))
	InfoContext(ctx, "borrow created")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatal(err)
	}
	if entry["request_id"] != "req-1" {
		t.Fatalf("expected request_id req-1, got %v", entry["request_id"])
	}
	if entry["user_id"] != float64(7) {
		t.Fatalf("expected user_id 7, got %v", entry["user_id"])
	}
	if entry["msg"] != "borrow created" {
		t.Fatalf("unexpected message %v", entry["msg"])
	}
}

func TestWithContext_EmptyContext(t *testing.T) {
	if got := WithContext(context.Background()); got != defaultLogger {
		t.Fatal("expected the default logger when no fields are set")
	}
}
