// Package authz provides request identity and authorization primitives for
// the registry server. Identity comes from trusted proxy headers or a JWT
// bearer token; authorization is group based, with a no-op mode for
// development.
package authz

import "context"

// Resource names used in authorization checks.
const (
	ResourceQuestions = "questions"
	ResourceVersions  = "versions"
	ResourceDatasets  = "datasets"
	ResourceAudit     = "audit"
)

// Verb names used in authorization checks.
const (
	VerbGet     = "get"
	VerbList    = "list"
	VerbCreate  = "create"
	VerbUpdate  = "update"
	VerbDelete  = "delete"
	VerbPublish = "publish"
)

// AuthzRequest represents an authorization check.
type AuthzRequest struct {
	User     string
	Groups   []string
	Resource string
	Verb     string
}

// Authorizer checks whether a user is authorized to perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, req AuthzRequest) (bool, error)
}
