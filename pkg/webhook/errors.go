package webhook

import "errors"

// Verification errors are returned before any payload is parsed and never
// reach the lifecycle engine.
var (
	ErrNotConfigured      = errors.New("webhook secret not configured")
	ErrMissingSignature   = errors.New("missing signature")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrInvalidSignature   = errors.New("invalid signature")
)

var (
	ErrInvalidPayload  = errors.New("invalid webhook payload")
	ErrUnknownProvider = errors.New("unknown webhook provider")
)
