package billing

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/megagig/pharmacare/binder"
	"github.com/megagig/pharmacare/handler"
	"github.com/megagig/pharmacare/pkg/compat"
	"github.com/megagig/pharmacare/pkg/entitlement"
	"github.com/megagig/pharmacare/pkg/httpserver"
)

// Handle returns the HTTP surface of the service:
//
//	GET  /health/live, /health/ready, /metrics
//	POST /webhooks/{provider}
//	GET  /entitlements            POST /subscriptions/cancel
//	GET  /plans                   POST /checkout
//	GET  /checkout/{id}
//	     /admin/...               super admin only
func (s *Service) Handle() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	r.Get("/health/live", httpserver.LivenessHandler())
	r.Get("/health/ready", httpserver.ReadinessHandler(s.log, s.cfg.HTTP.HealthTimeout, s.checks...))
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))

	r.Post("/webhooks/{provider}", s.receiver.ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(entitlement.HeaderIdentity)
		if s.cfg.LegacyAliases {
			r.Use(compat.LegacyAliases(nil))
		}

		r.Get("/entitlements", handler.Wrap(s.entitlements,
			handler.WithBinders[entitlementRequest](binder.Query()),
			handler.WithErrorHandler[entitlementRequest](s.errorFunc),
		))
		r.Post("/subscriptions/cancel", handler.Wrap(s.cancel,
			handler.WithErrorHandler[struct{}](s.errorFunc),
		))
		r.Get("/plans", handler.Wrap(s.plans,
			handler.WithErrorHandler[struct{}](s.errorFunc),
		))
		r.Post("/checkout", handler.Wrap(s.checkout,
			handler.WithBinders[checkoutRequest](binder.JSON()),
			handler.WithErrorHandler[checkoutRequest](s.errorFunc),
		))
		r.Get("/checkout/{id}", handler.Wrap(s.checkoutSession,
			handler.WithBinders[sessionRequest](binder.Path(chi.URLParam), binder.Query()),
			handler.WithErrorHandler[sessionRequest](s.errorFunc),
		))

		r.Route("/admin", s.adminRoutes)
	})

	return r
}

// requireSuperAdmin rejects requests whose principal is not a super admin.
func requireSuperAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := entitlement.PrincipalFromContext(r.Context())
		if !ok {
			entitlement.WriteError(w, http.StatusUnauthorized, "unauthenticated", entitlement.ErrNoPrincipal.Error(), false)
			return
		}
		if !p.SuperAdmin {
			entitlement.WriteError(w, http.StatusForbidden, "forbidden", "super admin access required", false)
			return
		}
		next.ServeHTTP(w, r)
	})
}
