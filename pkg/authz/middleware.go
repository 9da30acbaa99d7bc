package authz

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// RequirePermission returns middleware that enforces a specific resource/verb
// permission check against the identity stored by IdentityMiddleware.
func RequirePermission(authorizer Authorizer, resource, verb string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authorize(w, r, authorizer, ResourceMapping{Resource: resource, Verb: verb}) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// AuthzMiddleware returns middleware that auto-maps the HTTP method and URL path
// to a (resource, verb) pair and performs the authorization check. This can be
// mounted as global middleware on the API routes.
func AuthzMiddleware(authorizer Authorizer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mapping := MapRequest(r.Method, r.URL.Path)

			// If we cannot map the request, deny by default.
			if mapping == UnknownMapping {
				writeAuthzError(w, http.StatusForbidden, "forbidden", "unknown endpoint, access denied")
				return
			}
			if authorize(w, r, authorizer, mapping) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// authorize runs the check and writes the error response on failure.
func authorize(w http.ResponseWriter, r *http.Request, authorizer Authorizer, m ResourceMapping) bool {
	id, _ := IdentityFromContext(r.Context())
	req := AuthzRequest{
		User:     id.User,
		Groups:   id.Groups,
		Resource: m.Resource,
		Verb:     m.Verb,
	}

	allowed, err := authorizer.Authorize(r.Context(), req)
	if err != nil {
		writeAuthzError(w, http.StatusInternalServerError, "internal_error", "authorization check failed")
		return false
	}
	if !allowed {
		writeAuthzError(w, http.StatusForbidden, "forbidden",
			fmt.Sprintf("user %s lacks permission for %s/%s", id.User, m.Resource, m.Verb))
		return false
	}
	return true
}

func writeAuthzError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": msg,
	})
}
