package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

// captureLog swaps the default logger for a JSON buffer and returns a decode
// helper for the single entry the handler should emit.
func captureLog(t *testing.T) (*bytes.Buffer, func() map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	return &buf, func() map[string]any {
		var entry map[string]any
		if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
			t.Fatalf("failed to parse log output %q: %v", buf.String(), err)
		}
		return entry
	}
}

func TestStructuredLoggerDefaultStatus(t *testing.T) {
	_, entry := captureLog(t)

	handler := StructuredLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	got := entry()
	if got["method"] != "GET" {
		t.Fatalf("method = %v, want GET", got["method"])
	}
	if got["path"] != "/api/v1/health" {
		t.Fatalf("path = %v", got["path"])
	}
	// JSON numbers decode as float64.
	if got["status"] != float64(200) {
		t.Fatalf("status = %v, want 200", got["status"])
	}
	if got["bytes"] != float64(2) {
		t.Fatalf("bytes = %v, want 2", got["bytes"])
	}
	if _, ok := got["duration_ms"]; !ok {
		t.Fatal("expected duration_ms in log output")
	}
}

func TestStructuredLoggerExplicitStatus(t *testing.T) {
	_, entry := captureLog(t)

	handler := StructuredLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/missing", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}

	got := entry()
	if got["method"] != "POST" {
		t.Fatalf("method = %v, want POST", got["method"])
	}
	if got["status"] != float64(404) {
		t.Fatalf("status = %v, want 404", got["status"])
	}
}

func TestStructuredLoggerDoubleWriteHeader(t *testing.T) {
	_, entry := captureLog(t)

	handler := StructuredLogger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.WriteHeader(http.StatusInternalServerError) // Should be ignored.
	}))

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if got := entry(); got["status"] != float64(201) {
		t.Fatalf("status = %v, want first status 201", got["status"])
	}
}

func TestWrapResponseWriterDefaults(t *testing.T) {
	w := newWrapResponseWriter(httptest.NewRecorder())

	if w.status != http.StatusOK {
		t.Fatalf("default status = %d, want 200", w.status)
	}
	if w.bytes != 0 {
		t.Fatalf("default bytes = %d, want 0", w.bytes)
	}
}

func TestWrapResponseWriterCaptures(t *testing.T) {
	w := newWrapResponseWriter(httptest.NewRecorder())

	w.WriteHeader(http.StatusBadRequest)
	w.Write([]byte("bad request"))

	if w.status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.status)
	}
	if w.bytes != len("bad request") {
		t.Fatalf("bytes = %d, want %d", w.bytes, len("bad request"))
	}
}
