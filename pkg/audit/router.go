package audit

import (
	"github.com/go-chi/chi/v5"

	"github.com/llmeval/qa-registry/pkg/authz"
	"github.com/llmeval/qa-registry/pkg/versioning"
)

// Router creates a chi.Router for the audit API. Mount it under /api/audit/v1.
// When authorizer is non-nil, endpoints require audit:list and audit:get permissions.
func Router(store *versioning.AuditStore, authorizer authz.Authorizer) chi.Router {
	r := chi.NewRouter()

	listHandler := ListEventsHandler(store)
	getHandler := GetEventHandler(store)

	if authorizer != nil {
		r.With(authz.RequirePermission(authorizer, authz.ResourceAudit, authz.VerbList)).Get("/events", listHandler)
		r.With(authz.RequirePermission(authorizer, authz.ResourceAudit, authz.VerbGet)).Get("/events/{eventId}", getHandler)
	} else {
		r.Get("/events", listHandler)
		r.Get("/events/{eventId}", getHandler)
	}

	return r
}
