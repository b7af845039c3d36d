package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/megagig/pharmacare/pkg/email"
	"github.com/megagig/pharmacare/pkg/gateway"
	"github.com/megagig/pharmacare/pkg/httpserver"
	"github.com/megagig/pharmacare/pkg/logger"
	"github.com/megagig/pharmacare/pkg/subscription"
	"github.com/megagig/pharmacare/pkg/webhook"
)

// Storage and lock backends.
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendRedis  = "redis"
)

// Config is the process configuration of billingd. Mongo and Redis settings
// are loaded separately, only when their backend is selected.
type Config struct {
	Log     logger.Config
	HTTP    httpserver.Config
	Gateway gateway.Config
	Email   email.Config
	Webhook webhook.Config
	Policy  PolicyConfig

	StoreBackend    string        `env:"STORE_BACKEND" envDefault:"mongo"`
	LockBackend     string        `env:"LOCK_BACKEND" envDefault:"memory"`
	LockTTL         time.Duration `env:"LOCK_TTL" envDefault:"30s"`
	NotifierTimeout time.Duration `env:"NOTIFIER_TIMEOUT" envDefault:"5s"`
	PlanCacheTTL    time.Duration `env:"PLAN_CACHE_TTL" envDefault:"1m"`
	LegacyAliases   bool          `env:"LEGACY_ALIASES" envDefault:"true"`
}

// PolicyConfig tunes suspension and cancellation.
type PolicyConfig struct {
	SuspensionThreshold int           `env:"SUSPENSION_THRESHOLD" envDefault:"3"`
	SuspensionCountMode string        `env:"SUSPENSION_COUNT_MODE" envDefault:"all_time"`
	GracePeriod         time.Duration `env:"GRACE_PERIOD" envDefault:"168h"`
}

func (p PolicyConfig) Suspension() subscription.SuspensionPolicy {
	return subscription.SuspensionPolicy{
		Threshold: p.SuspensionThreshold,
		Mode:      subscription.CountMode(p.SuspensionCountMode),
	}
}

var ErrInvalidConfig = errors.New("invalid billing configuration")

// Validate is called by config.Load.
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendMemory, BackendMongo:
	default:
		return fmt.Errorf("%w: STORE_BACKEND must be %q or %q", ErrInvalidConfig, BackendMemory, BackendMongo)
	}
	switch c.LockBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("%w: LOCK_BACKEND must be %q or %q", ErrInvalidConfig, BackendMemory, BackendRedis)
	}
	if err := c.Policy.Suspension().Validate(); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	if c.Policy.GracePeriod <= 0 {
		return fmt.Errorf("%w: GRACE_PERIOD must be positive", ErrInvalidConfig)
	}
	return nil
}
