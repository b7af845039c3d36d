// Package webhook receives payment gateway notifications.
//
// A Receiver is mounted at POST /webhooks/{provider}. For each request it
// reads the raw body, authenticates it with the provider's Verifier, parses
// it into a lifecycle.Event and hands it to the engine. The gateway gets a 2xx
// only after the event has been applied (or recognized as a replay), so a
// crash mid-request leads to redelivery rather than a lost event.
//
// Two signature schemes are supported per provider:
//
//   - hmac: hex HMAC-SHA256 of the raw body in the <provider>-signature
//     header, compared in constant time. The body is the normalized
//     {id, type, data} envelope; event_id and event_type are also accepted.
//   - native: Stripe-Signature checked with stripe-go, or Paddle-Signature
//     checked with the Paddle SDK, and the provider's own event payloads
//     translated by ParseStripe and ParsePaddle.
//
// A provider without a configured secret rejects every request.
//
//	providers, err := webhook.ProvidersFromConfig(cfg)
//	if err != nil {
//		return err
//	}
//	rc := webhook.NewReceiver(engine, providers,
//		webhook.WithLogger(log),
//		webhook.WithMetrics(webhook.NewMetrics(prometheus.DefaultRegisterer)),
//	)
//	r.Method(http.MethodPost, "/webhooks/{provider}", rc)
package webhook
