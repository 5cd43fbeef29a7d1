package controlplane

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fentz26/streaks/internal/models"
	"github.com/fentz26/streaks/internal/replica"
	"github.com/fentz26/streaks/internal/store"
	"github.com/fentz26/streaks/internal/timers"
)

type fakeSync struct{}

func (fakeSync) Status() replica.Status {
	return replica.Status{ReplicaID: "phone", State: "active", Reachable: true}
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthEndpoint_OK(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if !health.OK {
		t.Error("Expected health.OK to be true")
	}
	if health.DB != "ok" {
		t.Errorf("Expected DB status 'ok', got '%s'", health.DB)
	}
	if health.Version == "" {
		t.Error("Expected version to be set")
	}
	if health.Time == "" {
		t.Error("Expected time to be set")
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	req := httptest.NewRequest(http.MethodPost, "/health", nil)
	w := httptest.NewRecorder()

	s.handleHealth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", resp.StatusCode)
	}
}

func TestHealthEndpoint_DBError(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	service := NewService(timers.New(nil, timers.WithLogger(quiet())), nil, quiet())
	server := NewServer(service, st, "127.0.0.1:0", quiet())

	// Close the store to simulate DB error
	st.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	server.handleHealth(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if health.OK {
		t.Error("Expected health.OK to be false when DB is down")
	}
	if health.DB == "ok" {
		t.Error("Expected DB status to indicate error")
	}
}

func TestTimerLifecycle(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()
	h := s.Handler()

	start := time.Now().Add(-2 * time.Hour).UTC()
	body := `{"title":"Reading","start":"` + start.Format(time.RFC3339Nano) + `"}`
	w := do(h, http.MethodPost, "/timers", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}

	// Duplicate titles are rejected.
	if w := do(h, http.MethodPost, "/timers", body); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate title, got %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/timers", `{"title":""}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty title, got %d", w.Code)
	}

	w = do(h, http.MethodPost, "/timers/Reading/reset", `{"reason":"got busy","pause":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	v := decodeView(t, w)
	if v.State != models.StatePaused {
		t.Errorf("Expected paused after reset with pause, got %s", v.State)
	}
	if len(v.History) != 1 || v.History[0].ResetReason != "got busy" {
		t.Fatalf("Expected one history entry, got %+v", v.History)
	}
	if v.History[0].Elapsed < 2*time.Hour-time.Minute {
		t.Errorf("Expected about 2h elapsed, got %v", v.History[0].Elapsed)
	}

	w = do(h, http.MethodPost, "/timers/Reading/resume", "")
	if v := decodeView(t, w); v.State != models.StateRunning {
		t.Errorf("Expected running after resume, got %s", v.State)
	}

	w = do(h, http.MethodPut, "/timers/Reading/rules", `{"rules":"one chapter"}`)
	if v := decodeView(t, w); v.Rules != "one chapter" {
		t.Errorf("Expected rules to be set, got %q", v.Rules)
	}

	w = do(h, http.MethodPut, "/timers/Reading/history/0/reason", `{"reason":"travel"}`)
	if v := decodeView(t, w); v.History[0].ResetReason != "travel" {
		t.Errorf("Expected reason to be updated, got %q", v.History[0].ResetReason)
	}
	if w := do(h, http.MethodPut, "/timers/Reading/history/5/reason", `{"reason":"x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad index, got %d", w.Code)
	}

	w = do(h, http.MethodPost, "/timers/Reading/rename", `{"title":"Books"}`)
	if v := decodeView(t, w); v.Title != "Books" || v.Rules != "one chapter" {
		t.Errorf("Expected renamed timer to keep rules, got %+v", v)
	}
	if w := do(h, http.MethodGet, "/timers/Reading", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for old title, got %d", w.Code)
	}

	w = do(h, http.MethodGet, "/timers", "")
	var list []models.TimerView
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("Failed to decode list: %v", err)
	}
	if len(list) != 1 || list[0].Title != "Books" {
		t.Errorf("Expected only Books, got %+v", list)
	}

	if w := do(h, http.MethodDelete, "/timers/Books", ""); w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 on delete, got %d", w.Code)
	}
	if w := do(h, http.MethodDelete, "/timers/Books", ""); w.Code != http.StatusNoContent {
		t.Errorf("Expected delete of missing timer to succeed, got %d", w.Code)
	}
}

func TestMissingTimerIs404(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()
	h := s.Handler()

	for _, tc := range []struct{ method, path, body string }{
		{http.MethodGet, "/timers/Nope", ""},
		{http.MethodPost, "/timers/Nope/reset", `{}`},
		{http.MethodPost, "/timers/Nope/resume", ""},
		{http.MethodPut, "/timers/Nope/rules", `{"rules":"x"}`},
		{http.MethodPost, "/timers/Nope/rename", `{"title":"Other"}`},
	} {
		if w := do(h, tc.method, tc.path, tc.body); w.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", tc.method, tc.path, w.Code)
		}
	}
}

func TestEscapedTitle(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()
	h := s.Handler()

	if w := do(h, http.MethodPost, "/timers", `{"title":"No sugar / no soda"}`); w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", w.Code)
	}
	w := do(h, http.MethodGet, "/timers/"+url.PathEscape("No sugar / no soda"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 for escaped title, got %d", w.Code)
	}
	if v := decodeView(t, w); v.Title != "No sugar / no soda" {
		t.Errorf("Unexpected title %q", v.Title)
	}
}

func TestDotTitlesRejected(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()
	h := s.Handler()

	for _, title := range []string{".", ".."} {
		body := `{"title":"` + title + `"}`
		if w := do(h, http.MethodPost, "/timers", body); w.Code != http.StatusBadRequest {
			t.Errorf("create %q: expected 400, got %d", title, w.Code)
		}
	}

	if w := do(h, http.MethodPost, "/timers", `{"title":"Gym"}`); w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", w.Code)
	}
	if w := do(h, http.MethodPost, "/timers/Gym/rename", `{"title":".."}`); w.Code != http.StatusBadRequest {
		t.Errorf("rename to ..: expected 400, got %d", w.Code)
	}
	if w := do(h, http.MethodGet, "/timers/Gym", ""); w.Code != http.StatusOK {
		t.Errorf("Expected Gym to keep its title, got %d", w.Code)
	}
}

func TestSyncStatus(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()

	w := do(s.Handler(), http.MethodGet, "/sync/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var st replica.Status
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if st.ReplicaID != "phone" || !st.Reachable {
		t.Errorf("Unexpected status %+v", st)
	}

	noSync := NewServer(NewService(timers.New(nil), nil, quiet()), nil, "127.0.0.1:0", quiet())
	if w := do(noSync.Handler(), http.MethodGet, "/sync/status", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without sync, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, cleanup := newTestServer(t)
	defer cleanup()
	h := s.Handler()

	do(h, http.MethodPost, "/timers", `{"title":"Reading"}`)
	w := do(h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "streaks_store_mutations_total") {
		t.Error("Expected store mutation counter in metrics output")
	}
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) models.TimerView {
	t.Helper()
	if w.Code != http.StatusOK && w.Code != http.StatusCreated {
		t.Fatalf("Unexpected status %d: %s", w.Code, w.Body.String())
	}
	var v models.TimerView
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode timer: %v", err)
	}
	return v
}

func newTestServer(t *testing.T) (*Server, func()) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	st, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	service := NewService(timers.New(nil, timers.WithLogger(quiet())), fakeSync{}, quiet())
	server := NewServer(service, st, "127.0.0.1:0", quiet())

	cleanup := func() {
		st.Close()
	}

	return server, cleanup
}
