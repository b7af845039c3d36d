// Package gateway wraps the outbound APIs of the payment providers:
// customer creation, hosted checkout, checkout lookup and subscription
// cancellation.
//
// Stripe uses the stripe-go package-level API with stripe.Key set once by
// NewStripe. Paddle uses the paddle-go-sdk client; its checkout is a
// transaction built from a catalog price.
//
// A Registry resolves a gateway by the provider name stored on a
// subscription:
//
//	reg, err := gateway.NewRegistryFromConfig(cfg.Gateway)
//	g, err := reg.Get(sub.Provider)
//	err = g.CancelSubscription(ctx, sub.GatewaySubscriptionID)
//
// Inbound webhooks are handled by package webhook, not here.
package gateway
