package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
	stripewebhook "github.com/stripe/stripe-go/v82/webhook"
)

// Verifier authenticates an inbound webhook request. body is the raw request
// body; implementations must not read r.Body.
type Verifier interface {
	Verify(r *http.Request, body []byte) error
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(r *http.Request, body []byte) error

func (f VerifierFunc) Verify(r *http.Request, body []byte) error { return f(r, body) }

// SignatureHeader returns the header carrying a provider's signature,
// e.g. "Stripe-Signature".
func SignatureHeader(provider string) string {
	return http.CanonicalHeaderKey(provider + "-signature")
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(secret string, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// HMACVerifier checks a hex HMAC-SHA256 of the raw body sent in Header.
// A "sha256=" prefix on the header value is accepted.
type HMACVerifier struct {
	Secret string
	Header string
}

// NewHMACVerifier returns a verifier reading the <provider>-signature header.
func NewHMACVerifier(provider, secret string) *HMACVerifier {
	return &HMACVerifier{Secret: secret, Header: SignatureHeader(provider)}
}

func (v *HMACVerifier) Verify(r *http.Request, body []byte) error {
	if v.Secret == "" {
		return ErrNotConfigured
	}
	sig := strings.TrimSpace(r.Header.Get(v.Header))
	if sig == "" {
		return ErrMissingSignature
	}
	sig = strings.TrimPrefix(sig, "sha256=")

	got, err := hex.DecodeString(sig)
	if err != nil || len(got) != sha256.Size {
		return ErrMalformedSignature
	}
	mac := hmac.New(sha256.New, []byte(v.Secret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), got) {
		return ErrInvalidSignature
	}
	return nil
}

// StripeVerifier checks the Stripe-Signature header (t=...,v1=...) with
// stripe-go, including its timestamp tolerance.
type StripeVerifier struct {
	Secret    string
	Tolerance time.Duration
}

func NewStripeVerifier(secret string) *StripeVerifier {
	return &StripeVerifier{Secret: secret, Tolerance: stripewebhook.DefaultTolerance}
}

func (v *StripeVerifier) Verify(r *http.Request, body []byte) error {
	if v.Secret == "" {
		return ErrNotConfigured
	}
	header := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(header) == "" {
		return ErrMissingSignature
	}

	err := stripewebhook.ValidatePayloadWithTolerance(body, header, v.Secret, v.Tolerance)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stripewebhook.ErrNotSigned):
		return ErrMissingSignature
	case errors.Is(err, stripewebhook.ErrInvalidHeader):
		return fmt.Errorf("%w: %w", ErrMalformedSignature, err)
	default:
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
}

// PaddleVerifier checks the Paddle-Signature header (ts=...;h1=...) with the
// Paddle SDK.
type PaddleVerifier struct {
	secret   string
	verifier *paddle.WebhookVerifier
}

func NewPaddleVerifier(secret string) *PaddleVerifier {
	return &PaddleVerifier{secret: secret, verifier: paddle.NewWebhookVerifier(secret)}
}

func (v *PaddleVerifier) Verify(r *http.Request, body []byte) error {
	if v.secret == "" {
		return ErrNotConfigured
	}
	if strings.TrimSpace(r.Header.Get("Paddle-Signature")) == "" {
		return ErrMissingSignature
	}

	// The SDK reads the body from the request, so hand it a copy.
	req := r.Clone(r.Context())
	req.Body = io.NopCloser(bytes.NewReader(body))

	ok, err := v.verifier.Verify(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}
