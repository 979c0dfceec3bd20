package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return env
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusCreated, map[string]string{"number": "1001"})

	if w.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected content-type application/json, got %q", ct)
	}

	env := decodeEnvelope(t, w)
	if env.Error != "" {
		t.Errorf("expected empty error, got %q", env.Error)
	}
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected data to be map, got %T", env.Data)
	}
	if data["number"] != "1001" {
		t.Errorf("expected number=1001, got %v", data["number"])
	}
	// omitempty keeps the error key out of success responses.
	if strings.Contains(w.Body.String(), `"error"`) {
		t.Errorf("expected error field to be omitted, got %s", w.Body.String())
	}
}

func TestWriteJSONNilData(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, nil)

	env := decodeEnvelope(t, w)
	if env.Data != nil {
		t.Errorf("expected nil data, got %v", env.Data)
	}
	if env.Error != "" {
		t.Errorf("expected empty error, got %q", env.Error)
	}
}

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, http.StatusBadRequest, "invalid input")

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected content-type application/json, got %q", ct)
	}

	env := decodeEnvelope(t, w)
	if env.Error != "invalid input" {
		t.Errorf("expected error 'invalid input', got %q", env.Error)
	}
	if env.Data != nil {
		t.Errorf("expected nil data, got %v", env.Data)
	}
}

func TestReadJSONSuccess(t *testing.T) {
	body := strings.NewReader(`{"number":"1001","name":"Front desk"}`)
	r := httptest.NewRequest(http.MethodPost, "/", body)

	var dst struct {
		Number string `json:"number"`
		Name   string `json:"name"`
	}

	if errMsg := readJSON(r, &dst); errMsg != "" {
		t.Fatalf("expected no error, got %q", errMsg)
	}
	if dst.Number != "1001" {
		t.Errorf("expected number=1001, got %q", dst.Number)
	}
	if dst.Name != "Front desk" {
		t.Errorf("expected name='Front desk', got %q", dst.Name)
	}
}

func TestReadJSONErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", "", "request body must not be empty"},
		{"malformed", "{bad", "malformed json"},
		{"truncated", `{"number":`, "malformed json"},
		{"unknown field", `{"number":"1001","extra":"x"}`, `unknown field "extra"`},
		{"wrong type", `{"number":42}`, `invalid type for field "number"`},
		{"trailing object", `{"number":"1"}{"number":"2"}`, "request body must contain a single json object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var dst struct {
				Number string `json:"number"`
			}
			if got := readJSON(r, &dst); got != tt.want {
				t.Errorf("readJSON(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func TestParsePaginationDefaults(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/calls", nil)

	p, errMsg := parsePagination(r)
	if errMsg != "" {
		t.Fatalf("expected no error, got %q", errMsg)
	}
	if p.Limit != defaultLimit {
		t.Errorf("expected default limit %d, got %d", defaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestParsePaginationCustomValues(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/calls?limit=50&offset=10", nil)

	p, errMsg := parsePagination(r)
	if errMsg != "" {
		t.Fatalf("expected no error, got %q", errMsg)
	}
	if p.Limit != 50 || p.Offset != 10 {
		t.Errorf("got limit=%d offset=%d, want 50/10", p.Limit, p.Offset)
	}
}

func TestParsePaginationLimitClamped(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/calls?limit=500", nil)

	p, errMsg := parsePagination(r)
	if errMsg != "" {
		t.Fatalf("expected no error, got %q", errMsg)
	}
	if p.Limit != maxLimit {
		t.Errorf("expected limit clamped to %d, got %d", maxLimit, p.Limit)
	}
}

func TestParsePaginationInvalid(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"non-numeric limit", "/calls?limit=abc", "limit must be a positive integer"},
		{"zero limit", "/calls?limit=0", "limit must be a positive integer"},
		{"negative limit", "/calls?limit=-5", "limit must be a positive integer"},
		{"non-numeric offset", "/calls?offset=abc", "offset must be a non-negative integer"},
		{"negative offset", "/calls?offset=-1", "offset must be a non-negative integer"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.query, nil)
			if _, got := parsePagination(r); got != tt.want {
				t.Errorf("parsePagination(%q) error = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestPaginatedResponseJSONFormat(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, PaginatedResponse{
		Items:  []string{"1000.1", "1000.2"},
		Total:  10,
		Limit:  20,
		Offset: 0,
	})

	env := decodeEnvelope(t, w)
	data, ok := env.Data.(map[string]any)
	if !ok {
		t.Fatalf("expected data to be map, got %T", env.Data)
	}
	if data["total"] != float64(10) {
		t.Errorf("expected total=10, got %v", data["total"])
	}
	if data["limit"] != float64(20) {
		t.Errorf("expected limit=20, got %v", data["limit"])
	}
	if data["offset"] != float64(0) {
		t.Errorf("expected offset=0, got %v", data["offset"])
	}
	items, ok := data["items"].([]any)
	if !ok || len(items) != 2 {
		t.Errorf("expected 2 items, got %v", data["items"])
	}
}
