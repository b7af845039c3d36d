// Package subscription defines the subscription record of the pharmacy-care
// billing engine together with its persistence contracts.
//
// A Subscription belongs either to a workspace (the current model) or, for
// records created before the workspace migration, to a single user. The Owner
// tagged union makes that distinction explicit so lookups never have to guess
// from which ID happens to be set.
//
// # Append-only history
//
// Webhook events, renewal attempts, plan changes and credits are kept in Log
// values. A Log only grows through Append, which rejects a second entry with
// the same key, so re-delivered gateway events and replayed operations cannot
// produce duplicate history:
//
//	if err := sub.WebhookEvents.Append(subscription.WebhookEvent{EventID: id}); err != nil {
//		// errors.Is(err, subscription.ErrDuplicateEntry)
//	}
//
// # Persistence
//
// Store.Update is a compare-and-swap on Subscription.Version. Two writers that
// read the same version cannot both succeed; the loser receives
// ErrVersionConflict and must re-read. Two implementations are provided:
//
//   - MemoryStore: in-process maps, used in tests and single-node setups
//   - MongoStore: MongoDB collections with unique indexes on gateway IDs,
//     payment event IDs and (provider, external reference)
//
// # Suspension
//
// SuspensionPolicy turns the renewal history into a suspension decision.
// Failures are counted all-time by default; CountSinceLastSuccess resets the
// count after every successful renewal.
//
// # Error Handling
//
// All failures are reported through sentinel errors:
//
//	sub, err := store.Get(ctx, id)
//	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
//		// ...
//	}
package subscription
