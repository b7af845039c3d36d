package entitlement

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/megagig/pharmacare/pkg/subscription"
)

// Principal is the authenticated caller an access decision is made for.
type Principal struct {
	UserID      string
	WorkspaceID string
	// SuperAdmin skips every entitlement check.
	SuperAdmin bool
	// Overrides are features granted to this user regardless of plan.
	Overrides subscription.FeatureSet
}

type principalKey struct{}

// WithPrincipal adds p to ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal set by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// Header names read by HeaderIdentity.
const (
	HeaderUserID      = "X-User-ID"
	HeaderWorkspaceID = "X-Workspace-ID"
	HeaderSuperAdmin  = "X-Super-Admin"
	HeaderOverrides   = "X-Feature-Overrides"
)

// HeaderIdentity builds the principal from headers set by the authenticating
// proxy in front of the service. Requests without a user ID pass through
// without a principal.
func HeaderIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		p := Principal{
			UserID:      userID,
			WorkspaceID: strings.TrimSpace(r.Header.Get(HeaderWorkspaceID)),
		}
		p.SuperAdmin, _ = strconv.ParseBool(r.Header.Get(HeaderSuperAdmin))
		if raw := r.Header.Get(HeaderOverrides); raw != "" {
			p.Overrides = subscription.NewFeatureSet(splitList(raw)...)
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
