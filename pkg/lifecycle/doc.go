// Package lifecycle applies gateway events and administrative operations to
// subscriptions.
//
// Engine.Apply is the single entry point for verified webhook events. Each
// write runs under a per-subscription lock (keylock.Locker) and is committed
// with a version compare-and-swap, retried a bounded number of times on
// conflict. An event whose ID is already in the subscription's webhook log is
// acknowledged as a duplicate without side effects, so gateway redelivery is
// safe.
//
//	engine := lifecycle.NewEngine(repo,
//		lifecycle.WithLocker(keylock.NewRedis(client)),
//		lifecycle.WithNotifier(notifier),
//		lifecycle.WithAudit(auditLog),
//		lifecycle.WithGateways(registry),
//		lifecycle.WithLogger(log),
//	)
//	res, err := engine.Apply(ctx, evt)
//
// Failed renewals are counted by subscription.SuspensionPolicy; reaching the
// threshold suspends the subscription and a later successful payment
// reactivates it. Engine.Cancel moves an active subscription into a grace
// period and asks the gateway to stop billing.
//
// Operator exposes the administrative operations (trial extension, credits,
// plan changes with proration, pause and resume, manual payments, plan
// activation and reactivation). Inputs are validated before anything is
// written; rejected operations return *OperationError and leave the record
// unchanged.
//
// Notifications and audit entries are emitted after the write commits.
// Their failures are logged and never roll back a transition.
package lifecycle
