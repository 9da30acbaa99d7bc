package authz

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"
)

// GroupAuthorizer grants access by group membership. Reads are open to every
// caller. Creates, updates and publishes need an editor or admin group.
// Deletes and audit reads need an admin group.
type GroupAuthorizer struct {
	editors mapset.Set[string]
	admins  mapset.Set[string]
}

// NewGroupAuthorizer creates a GroupAuthorizer from the configured group names.
func NewGroupAuthorizer(editorGroups, adminGroups []string) *GroupAuthorizer {
	return &GroupAuthorizer{
		editors: mapset.NewThreadUnsafeSet(editorGroups...),
		admins:  mapset.NewThreadUnsafeSet(adminGroups...),
	}
}

// Authorize implements Authorizer.
func (g *GroupAuthorizer) Authorize(_ context.Context, req AuthzRequest) (bool, error) {
	groups := mapset.NewThreadUnsafeSet(req.Groups...)
	isAdmin := groups.Intersect(g.admins).Cardinality() > 0
	isEditor := isAdmin || groups.Intersect(g.editors).Cardinality() > 0

	if req.Resource == ResourceAudit {
		return isAdmin, nil
	}

	switch req.Verb {
	case VerbGet, VerbList:
		return true, nil
	case VerbCreate, VerbUpdate, VerbPublish:
		return isEditor, nil
	case VerbDelete:
		return isAdmin, nil
	default:
		return false, nil
	}
}
