package audit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/llmeval/qa-registry/pkg/authz"
	"github.com/llmeval/qa-registry/pkg/versioning"
)

func serveThrough(t *testing.T, store *versioning.AuditStore, cfg *AuditConfig, method, path string, status int, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	handler := authz.IdentityMiddleware(nil)(AuditMiddleware(store, cfg, nil)(inner))

	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func listAll(t *testing.T, store *versioning.AuditStore) []versioning.AuditEventRecord {
	t.Helper()
	events, _, _, err := store.ListFiltered(versioning.AuditListFilter{}, 100, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return events
}

func TestAuditMiddleware_MutationCreatesEvent(t *testing.T) {
	store := newTestStore(t)
	cfg := &AuditConfig{Enabled: true, LogDenied: true}

	rec := serveThrough(t, store, cfg, http.MethodPost, "/api/v1/questions/7/versions", http.StatusCreated, map[string]string{
		"X-Remote-User":    "alice",
		"X-Remote-Group":   "qa-editors",
		"X-Correlation-ID": "corr-1",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}

	events := listAll(t, store)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.EventType != EventTypeRequest {
		t.Errorf("expected event type %q, got %q", EventTypeRequest, e.EventType)
	}
	if e.Actor != "alice" {
		t.Errorf("expected actor alice, got %q", e.Actor)
	}
	if e.ResourceType != "version" || e.ResourceID != "7" {
		t.Errorf("unexpected resource %s/%s", e.ResourceType, e.ResourceID)
	}
	if e.Action != "create" || e.Outcome != "success" || e.StatusCode != http.StatusCreated {
		t.Errorf("unexpected action/outcome/status %s/%s/%d", e.Action, e.Outcome, e.StatusCode)
	}
	if e.CorrelationID != "corr-1" {
		t.Errorf("expected correlation id corr-1, got %q", e.CorrelationID)
	}
}

func TestAuditMiddleware_PropagatesCorrelationID(t *testing.T) {
	store := newTestStore(t)
	cfg := &AuditConfig{Enabled: true}

	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = versioning.CorrelationIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/dataset-versions/1/publish", nil)
	req.Header.Set("X-Correlation-ID", "corr-42")
	AuditMiddleware(store, cfg, nil)(inner).ServeHTTP(httptest.NewRecorder(), req)

	if seen != "corr-42" {
		t.Errorf("handler saw correlation id %q, want corr-42", seen)
	}
}

func TestAuditMiddleware_ReadsSkipped(t *testing.T) {
	store := newTestStore(t)
	cfg := &AuditConfig{Enabled: true, LogDenied: true}

	for _, path := range []string{"/api/v1/questions/1", "/healthz", "/readyz"} {
		rec := serveThrough(t, store, cfg, http.MethodGet, path, http.StatusOK, nil)
		if rec.Code != http.StatusOK {
			t.Errorf("expected status 200 for %s, got %d", path, rec.Code)
		}
	}
	if n := len(listAll(t, store)); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
}

func TestAuditMiddleware_DeniedRespectsConfig(t *testing.T) {
	store := newTestStore(t)

	serveThrough(t, store, &AuditConfig{Enabled: true, LogDenied: false}, http.MethodDelete, "/api/v1/versions/3", http.StatusForbidden, nil)
	if n := len(listAll(t, store)); n != 0 {
		t.Fatalf("expected denied request to be skipped, got %d events", n)
	}

	serveThrough(t, store, &AuditConfig{Enabled: true, LogDenied: true}, http.MethodDelete, "/api/v1/versions/3", http.StatusForbidden, nil)
	events := listAll(t, store)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Outcome != "denied" {
		t.Errorf("expected outcome denied, got %q", events[0].Outcome)
	}
	if events[0].Actor != authz.Anonymous {
		t.Errorf("expected anonymous actor, got %q", events[0].Actor)
	}
}

func TestAuditMiddleware_DisabledSkips(t *testing.T) {
	store := newTestStore(t)

	rec := serveThrough(t, store, &AuditConfig{Enabled: false}, http.MethodPost, "/api/v1/questions", http.StatusCreated, nil)
	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
	if n := len(listAll(t, store)); n != 0 {
		t.Errorf("expected no events, got %d", n)
	}

	rec = serveThrough(t, nil, DefaultAuditConfig(), http.MethodPost, "/api/v1/questions", http.StatusCreated, nil)
	if rec.Code != http.StatusCreated {
		t.Errorf("expected pass-through without a store, got %d", rec.Code)
	}
}
