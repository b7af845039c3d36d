// Package billing assembles the subscription engine into the billingd HTTP
// service: the webhook receiver, the entitlement and checkout endpoints used
// by the pharmacy app, and the super-admin operator API.
//
// Open builds the production dependencies from Config (MongoDB store and
// audit trail, optional Redis lock, configured gateways, Postmark
// notifications). Tests pass Deps directly and get in-memory defaults:
//
//	svc, err := billing.New(cfg, billing.Deps{Repo: subscription.NewMemoryStore(plans...)})
//	if err != nil {
//		return err
//	}
//	http.ListenAndServe(":8080", svc.Handle())
//
// Callers are identified by entitlement.HeaderIdentity. Errors are written as
// {"error":{"code","message"}}, with operator failures carrying the
// rejection reason.
package billing
