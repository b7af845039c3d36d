package lifecycle

import (
	"log/slog"
	"time"

	"github.com/megagig/pharmacare/pkg/audit"
	"github.com/megagig/pharmacare/pkg/gateway"
	"github.com/megagig/pharmacare/pkg/keylock"
	"github.com/megagig/pharmacare/pkg/notify"
	"github.com/megagig/pharmacare/pkg/subscription"
)

// DefaultGracePeriod is how long access survives a user-initiated cancellation.
const DefaultGracePeriod = 7 * 24 * time.Hour

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocker sets the per-subscription lock. Default: in-process keylock.Memory.
func WithLocker(l keylock.Locker) Option {
	return func(e *Engine) {
		if l != nil {
			e.locker = l
		}
	}
}

// WithNotifier sets the notifier. It is wrapped with notify.NewSafe using the
// notifier timeout, so it never fails a transition.
func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.rawNotifier = n }
}

// WithNotifierTimeout bounds each notifier call. Default: 5s.
func WithNotifierTimeout(d time.Duration) Option {
	return func(e *Engine) { e.notifierTimeout = d }
}

// WithAudit sets the audit recorder. Default: audit.Nop.
func WithAudit(r audit.Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.audit = r
		}
	}
}

// WithGateways sets the registry used for remote cancellation.
func WithGateways(r *gateway.Registry) Option {
	return func(e *Engine) { e.gateways = r }
}

// WithGatewayTimeout bounds each gateway call. Default: 10s.
func WithGatewayTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.gatewayTimeout = d
		}
	}
}

// WithSuspensionPolicy sets the renewal failure policy.
func WithSuspensionPolicy(p subscription.SuspensionPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithGracePeriod sets the cancellation grace window. Default: 7 days.
func WithGracePeriod(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.gracePeriod = d
		}
	}
}

// WithMaxRetries sets how often a write is retried after a version conflict. Default: 3.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}
