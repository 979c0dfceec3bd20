package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/callwatch/callwatch/internal/config"
	"github.com/callwatch/callwatch/internal/database"
	"github.com/callwatch/callwatch/internal/database/models"
	"github.com/callwatch/callwatch/internal/monitor"
)

// fakeMonitor satisfies the Monitor interface for handler tests.
type fakeMonitor struct {
	healthy   bool
	refreshes int
	refreshOK bool
}

func (f *fakeMonitor) Status() monitor.Status {
	state := monitor.ServiceStopped
	if f.healthy {
		state = monitor.ServiceRunning
	}
	return monitor.Status{State: state, Connected: f.healthy}
}

func (f *fakeMonitor) Healthy() bool { return f.healthy }

func (f *fakeMonitor) RefreshExtensions() error {
	f.refreshes++
	if !f.refreshOK {
		return context.DeadlineExceeded
	}
	return nil
}

var testJWTSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestServer(t *testing.T) (*Server, database.Store, *fakeMonitor) {
	t.Helper()
	db, err := database.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	store := database.NewStore(db)
	t.Cleanup(func() { store.Close() })

	mon := &fakeMonitor{healthy: true, refreshOK: true}
	cfg := &config.Config{}
	srv := NewServer(store, mon, cfg, testJWTSecret, nil)
	t.Cleanup(srv.Close)
	return srv, store, mon
}

// doJSON runs one request against the server and decodes the envelope.
func doJSON(t *testing.T, srv *Server, method, path, token string, body any) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)

	var env envelope
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", rr.Body.String(), err)
		}
	}
	return rr.Code, env
}

// login runs the setup+login flow and returns a valid token.
func login(t *testing.T, srv *Server) string {
	t.Helper()
	creds := map[string]string{"username": "operator", "password": "correct-horse-battery"}
	if code, env := doJSON(t, srv, http.MethodPost, "/api/v1/auth/setup", "", creds); code != http.StatusCreated {
		t.Fatalf("setup: code=%d err=%q", code, env.Error)
	}
	code, env := doJSON(t, srv, http.MethodPost, "/api/v1/auth/login", "", creds)
	if code != http.StatusOK {
		t.Fatalf("login: code=%d err=%q", code, env.Error)
	}
	data := env.Data.(map[string]any)
	token, _ := data["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}
	return token
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, mon := newTestServer(t)

	code, env := doJSON(t, srv, http.MethodGet, "/api/v1/health", "", nil)
	if code != http.StatusOK {
		t.Fatalf("health: code=%d", code)
	}
	data := env.Data.(map[string]any)
	if data["connected"] != true {
		t.Errorf("connected = %v, want true", data["connected"])
	}

	mon.healthy = false
	_, env = doJSON(t, srv, http.MethodGet, "/api/v1/health", "", nil)
	if env.Data.(map[string]any)["connected"] != false {
		t.Error("health did not reflect lost connection")
	}
}

func TestSetupOnlyOnce(t *testing.T) {
	srv, _, _ := newTestServer(t)
	creds := map[string]string{"username": "operator", "password": "correct-horse-battery"}

	if code, _ := doJSON(t, srv, http.MethodPost, "/api/v1/auth/setup", "", creds); code != http.StatusCreated {
		t.Fatalf("first setup: code=%d", code)
	}
	if code, _ := doJSON(t, srv, http.MethodPost, "/api/v1/auth/setup", "", creds); code != http.StatusForbidden {
		t.Fatalf("second setup: code=%d, want 403", code)
	}
}

func TestSetupRejectsWeakCredentials(t *testing.T) {
	srv, _, _ := newTestServer(t)

	tests := []map[string]string{
		{"username": "", "password": "correct-horse-battery"},
		{"username": "operator", "password": "short"},
		{"username": "bad user!", "password": "correct-horse-battery"},
	}
	for _, creds := range tests {
		if code, _ := doJSON(t, srv, http.MethodPost, "/api/v1/auth/setup", "", creds); code != http.StatusBadRequest {
			t.Errorf("setup with %v: code=%d, want 400", creds, code)
		}
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv, _, _ := newTestServer(t)
	login(t, srv)

	bad := map[string]string{"username": "operator", "password": "wrong-password-here"}
	if code, _ := doJSON(t, srv, http.MethodPost, "/api/v1/auth/login", "", bad); code != http.StatusUnauthorized {
		t.Fatalf("bad password: code=%d, want 401", code)
	}
	unknown := map[string]string{"username": "ghost", "password": "wrong-password-here"}
	if code, _ := doJSON(t, srv, http.MethodPost, "/api/v1/auth/login", "", unknown); code != http.StatusUnauthorized {
		t.Fatalf("unknown user: code=%d, want 401", code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, path := range []string{"/api/v1/status", "/api/v1/calls", "/api/v1/extensions"} {
		if code, _ := doJSON(t, srv, http.MethodGet, path, "", nil); code != http.StatusUnauthorized {
			t.Errorf("GET %s without token: code=%d, want 401", path, code)
		}
	}
}

func seedCall(t *testing.T, store database.Store, linkedID, direction string, state models.CallState) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	call := &models.Call{
		LinkedID:   linkedID,
		State:      state,
		Direction:  direction,
		OtherParty: "+35929876543",
		StartedAt:  now,
	}
	if err := store.Calls().Upsert(ctx, call); err != nil {
		t.Fatalf("seed call: %v", err)
	}
	if err := store.CallLegs().Upsert(ctx, &models.CallLeg{
		UniqueID:  linkedID,
		LinkedID:  linkedID,
		Channel:   "PJSIP/trunk-00000001",
		StartedAt: now,
	}); err != nil {
		t.Fatalf("seed leg: %v", err)
	}
}

func TestListAndGetCalls(t *testing.T) {
	srv, store, _ := newTestServer(t)
	token := login(t, srv)

	seedCall(t, store, "1000.1", models.DirectionIncoming, models.CallEnded)
	seedCall(t, store, "1000.2", models.DirectionOutgoing, models.CallAnswered)

	code, env := doJSON(t, srv, http.MethodGet, "/api/v1/calls", token, nil)
	if code != http.StatusOK {
		t.Fatalf("list calls: code=%d err=%q", code, env.Error)
	}
	data := env.Data.(map[string]any)
	if data["total"] != float64(2) {
		t.Errorf("total = %v, want 2", data["total"])
	}

	code, env = doJSON(t, srv, http.MethodGet, "/api/v1/calls?direction=incoming", token, nil)
	if code != http.StatusOK {
		t.Fatalf("filtered list: code=%d", code)
	}
	if got := env.Data.(map[string]any)["total"]; got != float64(1) {
		t.Errorf("filtered total = %v, want 1", got)
	}

	if code, _ := doJSON(t, srv, http.MethodGet, "/api/v1/calls?direction=sideways", token, nil); code != http.StatusBadRequest {
		t.Errorf("bad direction filter: code=%d, want 400", code)
	}

	code, env = doJSON(t, srv, http.MethodGet, "/api/v1/calls/1000.1", token, nil)
	if code != http.StatusOK {
		t.Fatalf("get call: code=%d err=%q", code, env.Error)
	}
	detail := env.Data.(map[string]any)
	if detail["linkedid"] != "1000.1" {
		t.Errorf("linkedid = %v", detail["linkedid"])
	}
	legs, ok := detail["legs"].([]any)
	if !ok || len(legs) != 1 {
		t.Errorf("legs = %v, want 1 entry", detail["legs"])
	}

	if code, _ := doJSON(t, srv, http.MethodGet, "/api/v1/calls/9999.9", token, nil); code != http.StatusNotFound {
		t.Errorf("missing call: code=%d, want 404", code)
	}
}

func TestExtensionLifecycle(t *testing.T) {
	srv, store, mon := newTestServer(t)
	token := login(t, srv)

	body := map[string]string{"number": "1001", "name": "Front desk"}
	code, env := doJSON(t, srv, http.MethodPost, "/api/v1/extensions", token, body)
	if code != http.StatusCreated {
		t.Fatalf("create: code=%d err=%q", code, env.Error)
	}
	if mon.refreshes != 1 {
		t.Errorf("refreshes after create = %d, want 1", mon.refreshes)
	}

	if code, _ = doJSON(t, srv, http.MethodPost, "/api/v1/extensions", token, body); code != http.StatusConflict {
		t.Errorf("duplicate create: code=%d, want 409", code)
	}

	for _, number := range []string{"*47*1001*600", "12", "123456", "abc"} {
		bad := map[string]string{"number": number}
		if code, _ = doJSON(t, srv, http.MethodPost, "/api/v1/extensions", token, bad); code != http.StatusBadRequest {
			t.Errorf("create %q: code=%d, want 400", number, code)
		}
	}

	code, env = doJSON(t, srv, http.MethodGet, "/api/v1/extensions", token, nil)
	if code != http.StatusOK {
		t.Fatalf("list: code=%d", code)
	}
	if items := env.Data.([]any); len(items) != 1 {
		t.Errorf("list returned %d items, want 1", len(items))
	}

	code, env = doJSON(t, srv, http.MethodGet, "/api/v1/extensions/1001", token, nil)
	if code != http.StatusOK {
		t.Fatalf("get: code=%d", code)
	}
	if got := env.Data.(map[string]any)["name"]; got != "Front desk" {
		t.Errorf("name = %v", got)
	}

	if code, _ = doJSON(t, srv, http.MethodDelete, "/api/v1/extensions/1001", token, nil); code != http.StatusOK {
		t.Fatalf("delete: code=%d", code)
	}
	if n, _ := store.Extensions().Count(context.Background()); n != 0 {
		t.Errorf("extensions after delete = %d, want 0", n)
	}
	if code, _ = doJSON(t, srv, http.MethodDelete, "/api/v1/extensions/1001", token, nil); code != http.StatusNotFound {
		t.Errorf("delete missing: code=%d, want 404", code)
	}
}

func TestRefreshEndpoint(t *testing.T) {
	srv, _, mon := newTestServer(t)
	token := login(t, srv)

	if code, _ := doJSON(t, srv, http.MethodPost, "/api/v1/extensions/refresh", token, nil); code != http.StatusAccepted {
		t.Fatalf("refresh: code=%d, want 202", code)
	}

	mon.refreshOK = false
	if code, _ := doJSON(t, srv, http.MethodPost, "/api/v1/extensions/refresh", token, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("refresh while disconnected: code=%d, want 503", code)
	}
}

func TestStatusEndpoint(t *testing.T) {
	srv, store, _ := newTestServer(t)
	token := login(t, srv)
	seedCall(t, store, "2000.1", models.DirectionIncoming, models.CallRinging)

	code, env := doJSON(t, srv, http.MethodGet, "/api/v1/status", token, nil)
	if code != http.StatusOK {
		t.Fatalf("status: code=%d err=%q", code, env.Error)
	}
	data := env.Data.(map[string]any)
	if data["active_calls"] != float64(1) {
		t.Errorf("active_calls = %v, want 1", data["active_calls"])
	}
	conn := data["connection"].(map[string]any)
	if conn["state"] != string(monitor.ServiceRunning) {
		t.Errorf("connection state = %v, want running", conn["state"])
	}
}
