package gateway

import "errors"

var (
	ErrUnknownProvider     = errors.New("unknown payment provider")
	ErrNotConfigured       = errors.New("payment provider is not configured")
	ErrInvalidCheckout     = errors.New("invalid checkout parameters")
	ErrCheckoutFailed      = errors.New("failed to create checkout session")
	ErrSessionNotFound     = errors.New("checkout session not found")
	ErrCustomerFailed      = errors.New("failed to create customer")
	ErrCancellationFailed  = errors.New("failed to cancel gateway subscription")
	ErrMissingSubscription = errors.New("gateway subscription id is required")
)
