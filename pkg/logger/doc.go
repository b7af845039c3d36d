// Package logger builds the process *slog.Logger and holds the attribute
// helpers used across the billing engine so keys stay consistent
// (subscription_id, event_id, provider, ...).
//
// New wraps a text or JSON handler in LogHandlerDecorator, which injects
// request-scoped attributes from context on every record. RequestIDExtractor
// reads the ID set by chi's middleware.RequestID.
//
//	log, err := logger.FromConfig(cfg.Log)
//	if err != nil {
//		return err
//	}
//	log.InfoContext(ctx, "payment recorded",
//		logger.SubscriptionID(sub.ID),
//		logger.EventID(evt.ID),
//	)
//
// Identifier helpers return an empty slog.Attr for empty values, and Error
// returns one for a nil error, so call sites need no nil checks.
package logger
