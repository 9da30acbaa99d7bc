package authz

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequirePermission_Allowed(t *testing.T) {
	handler := RequirePermission(&NoopAuthorizer{}, ResourceVersions, VerbGet)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(WithIdentity(req.Context(), Identity{User: "alice"}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}
}

func TestRequirePermission_Denied(t *testing.T) {
	handler := RequirePermission(&denyAuthorizer{}, ResourceVersions, VerbDelete)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Error("handler should not be called when denied")
		}),
	)

	req := httptest.NewRequest(http.MethodDelete, "/test", nil)
	req = req.WithContext(WithIdentity(req.Context(), Identity{User: "bob"}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusForbidden)
	}

	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body["error"] != "forbidden" {
		t.Errorf("error = %q, want %q", body["error"], "forbidden")
	}
	if body["message"] == "" {
		t.Error("expected non-empty message in response")
	}
}

func TestRequirePermission_AuthorizerError(t *testing.T) {
	handler := RequirePermission(&failingAuthorizer{}, ResourceVersions, VerbGet)(okHandler())

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/test", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestAuthzMiddleware_GroupPolicy(t *testing.T) {
	handler := IdentityMiddleware(nil)(
		AuthzMiddleware(NewGroupAuthorizer([]string{"qa-editors"}, []string{"qa-admins"}))(okHandler()),
	)

	tests := []struct {
		name   string
		method string
		path   string
		groups string
		want   int
	}{
		{"anyone reads", http.MethodGet, "/api/v1/versions/1", "", http.StatusOK},
		{"viewer cannot append", http.MethodPost, "/api/v1/questions/1/versions", "", http.StatusForbidden},
		{"editor appends", http.MethodPost, "/api/v1/questions/1/versions", "qa-editors", http.StatusOK},
		{"editor cannot delete", http.MethodDelete, "/api/v1/versions/1", "qa-editors", http.StatusForbidden},
		{"admin deletes", http.MethodDelete, "/api/v1/versions/1", "qa-admins", http.StatusOK},
		{"unknown endpoint", http.MethodGet, "/unknown/path", "qa-admins", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("X-Remote-User", "alice")
			if tt.groups != "" {
				req.Header.Set("X-Remote-Group", tt.groups)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

// denyAuthorizer always denies requests.
type denyAuthorizer struct{}

func (d *denyAuthorizer) Authorize(_ context.Context, _ AuthzRequest) (bool, error) {
	return false, nil
}

type failingAuthorizer struct{}

func (f *failingAuthorizer) Authorize(_ context.Context, _ AuthzRequest) (bool, error) {
	return false, errors.New("backend unavailable")
}
