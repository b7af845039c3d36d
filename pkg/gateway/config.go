package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds the outbound gateway credentials.
// A provider is registered only when its API key is set.
type Config struct {
	DefaultProvider   string        `env:"BILLING_PROVIDER" envDefault:"stripe"`
	StripeAPIKey      string        `env:"STRIPE_API_KEY"`
	PaddleAPIKey      string        `env:"PADDLE_API_KEY"`
	PaddleEnvironment string        `env:"PADDLE_ENVIRONMENT" envDefault:"production"`
	Timeout           time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`
}

// NewRegistryFromConfig builds a Registry with every configured provider.
func NewRegistryFromConfig(cfg Config) (*Registry, error) {
	r := NewRegistry()

	if key := strings.TrimSpace(cfg.StripeAPIKey); key != "" {
		r.Register(NewStripe(key))
	}
	if key := strings.TrimSpace(cfg.PaddleAPIKey); key != "" {
		p, err := NewPaddle(key, cfg.PaddleEnvironment)
		if err != nil {
			return nil, err
		}
		r.Register(p)
	}

	if cfg.DefaultProvider != "" && len(r.Providers()) > 0 {
		if _, err := r.Get(cfg.DefaultProvider); err != nil {
			return nil, fmt.Errorf("%w: default provider %q has no credentials", ErrNotConfigured, cfg.DefaultProvider)
		}
	}
	return r, nil
}
