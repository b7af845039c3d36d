package webhook

import (
	"fmt"

	"github.com/megagig/pharmacare/pkg/gateway"
)

// Signature schemes. SchemeHMAC is a hex HMAC-SHA256 of the raw body in the
// <provider>-signature header with the normalized envelope as payload.
// SchemeNative uses the provider's own signature format and event payloads.
const (
	SchemeHMAC   = "hmac"
	SchemeNative = "native"
)

type Config struct {
	StripeSecret string `env:"WEBHOOK_SECRET_STRIPE"`
	StripeScheme string `env:"WEBHOOK_SCHEME_STRIPE" envDefault:"hmac"`
	PaddleSecret string `env:"WEBHOOK_SECRET_PADDLE"`
	PaddleScheme string `env:"WEBHOOK_SCHEME_PADDLE" envDefault:"hmac"`
	MaxBodySize  int64  `env:"WEBHOOK_MAX_BODY_SIZE" envDefault:"1048576"`
}

// ProvidersFromConfig builds the stripe and paddle endpoints. Both are
// always registered; one without a secret fails closed.
func ProvidersFromConfig(cfg Config) ([]Provider, error) {
	stripe, err := provider(gateway.ProviderStripe, cfg.StripeSecret, cfg.StripeScheme)
	if err != nil {
		return nil, err
	}
	paddle, err := provider(gateway.ProviderPaddle, cfg.PaddleSecret, cfg.PaddleScheme)
	if err != nil {
		return nil, err
	}
	return []Provider{stripe, paddle}, nil
}

func provider(name, secret, scheme string) (Provider, error) {
	switch scheme {
	case SchemeHMAC, "":
		return Provider{Name: name, Verifier: NewHMACVerifier(name, secret), Parse: ParseEnvelope}, nil
	case SchemeNative:
		if name == gateway.ProviderStripe {
			return Provider{Name: name, Verifier: NewStripeVerifier(secret), Parse: ParseStripe}, nil
		}
		return Provider{Name: name, Verifier: NewPaddleVerifier(secret), Parse: ParsePaddle}, nil
	default:
		return Provider{}, fmt.Errorf("webhook: unknown signature scheme %q for %s", scheme, name)
	}
}
