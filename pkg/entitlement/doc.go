// Package entitlement decides whether a caller may use the application and a
// given feature, based on the billing state of their workspace or, for
// accounts not yet migrated, their legacy per-user subscription.
//
// A Resolver reads a Snapshot through a Loader and never takes the
// subscription lock. Middleware turns decisions into HTTP responses:
//
//	r := chi.NewRouter()
//	r.Use(entitlement.HeaderIdentity)
//	r.With(entitlement.Middleware(resolver, "clinical_notes")).Get("/notes", listNotes)
//
// Payment-related blocks answer 402 with upgradeRequired set; cancellation
// and missing features answer 403. Decisions made without a recognizable subscription are
// allowed with Valid=false and an X-Subscription-Warning header.
package entitlement
