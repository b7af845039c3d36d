// Package audit records who changed a subscription, when, and with what
// result. The lifecycle engine writes an event for every status transition,
// suspension, recorded payment and administrative operation.
//
//	log := audit.NewLogger(audit.NewMongoStorage(db),
//		audit.WithRequestIDExtractor(requestID),
//	)
//	_ = log.Log(ctx, audit.ActionSubscriptionSuspended,
//		audit.WithResource(audit.ResourceSubscription, sub.ID),
//		audit.WithMetadata(audit.MetadataFailures, 3),
//	)
//
// Storage has an in-memory and a MongoDB implementation. Queries return
// events newest first.
package audit
