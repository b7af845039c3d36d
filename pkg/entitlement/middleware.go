package entitlement

import (
	"context"
	"encoding/json"
	"net/http"
)

type decisionKey struct{}

// WithDecision adds d to ctx.
func WithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}

// DecisionFromContext returns the decision stored by Middleware.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(Decision)
	return d, ok
}

// WarningHeader carries the reason of an allowed but degraded decision.
const WarningHeader = "X-Subscription-Warning"

// ErrorBody is the response of a denied request.
type ErrorBody struct {
	Error           ErrorDetail `json:"error"`
	UpgradeRequired bool        `json:"upgradeRequired"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Middleware gates requests on the principal's entitlement. feature may be
// empty to check subscription standing only.
//
// Blocked subscriptions get Reason.HTTPStatus and missing features 403, both
// with an ErrorBody naming the reason. Requests without a principal get 401 and a
// failed lookup 503. Allowed requests carry the decision in their context.
func Middleware(r *Resolver, feature string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			p, ok := PrincipalFromContext(req.Context())
			if !ok {
				WriteError(w, http.StatusUnauthorized, "unauthenticated", ErrNoPrincipal.Error(), false)
				return
			}

			d, err := r.Resolve(req.Context(), p, feature)
			if err != nil {
				WriteError(w, http.StatusServiceUnavailable, string(ReasonEntitlementFailed), ReasonEntitlementFailed.Message(), false)
				return
			}

			switch {
			case d.BlockAccess:
				WriteError(w, d.Reason.HTTPStatus(), string(d.Reason), d.Reason.Message(), d.UpgradeRequired)
				return
			case !d.Allowed:
				WriteError(w, http.StatusForbidden, string(d.Reason), d.Reason.Message(), d.UpgradeRequired)
				return
			}

			if d.Warning || !d.Valid {
				if d.Reason != ReasonNone && d.Reason != ReasonBypass {
					w.Header().Set(WarningHeader, string(d.Reason))
				}
			}
			next.ServeHTTP(w, req.WithContext(WithDecision(req.Context(), d)))
		})
	}
}

// WriteError writes an ErrorBody with status.
func WriteError(w http.ResponseWriter, status int, code, message string, upgrade bool) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{
		Error:           ErrorDetail{Code: code, Message: message},
		UpgradeRequired: upgrade,
	})
}
