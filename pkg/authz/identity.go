package authz

import (
	"context"
	"net/http"
	"strings"
)

// Anonymous is the user recorded when a request carries no identity.
const Anonymous = "anonymous"

// identityCtxKey is an unexported type used as the context key for Identity.
type identityCtxKey struct{}

// Identity represents the authenticated user making a request.
type Identity struct {
	User   string
	Groups []string
}

// IsAnonymous reports whether the identity carries no user.
func (i Identity) IsAnonymous() bool {
	return i.User == "" || i.User == Anonymous
}

// WithIdentity returns a new context with the given Identity attached.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext retrieves the Identity from the context.
// Returns the zero value and false if no identity is set.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

// IdentityMiddleware returns HTTP middleware that stores the caller's identity
// in the request context.
//
// When jwtx is non-nil and the request carries a bearer token it accepts, the
// token's subject and groups are used. Otherwise identity is read from the
// X-Remote-User and X-Remote-Group headers set by a trusted proxy. If no user
// is found, the user defaults to "anonymous". X-Remote-Group is comma-separated.
func IdentityMiddleware(jwtx *JWTExtractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := jwtx.Extract(r)
			if !ok {
				id = identityFromHeaders(r)
			}
			ctx := WithIdentity(r.Context(), id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func identityFromHeaders(r *http.Request) Identity {
	user := strings.TrimSpace(r.Header.Get("X-Remote-User"))
	if user == "" {
		user = Anonymous
	}
	return Identity{User: user, Groups: splitGroups(r.Header.Get("X-Remote-Group"))}
}

func splitGroups(header string) []string {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil
	}
	var groups []string
	for _, g := range strings.Split(header, ",") {
		g = strings.TrimSpace(g)
		if g != "" {
			groups = append(groups, g)
		}
	}
	return groups
}
