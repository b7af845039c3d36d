package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/megagig/pharmacare/pkg/logger"
)

// Safe wraps a Notifier so every call is bounded by a timeout and never
// fails: errors are logged and swallowed.
type Safe struct {
	next    Notifier
	timeout time.Duration
	log     *slog.Logger
}

// NewSafe wraps next. A non-positive timeout defaults to 5s.
func NewSafe(next Notifier, timeout time.Duration, log *slog.Logger) *Safe {
	if next == nil {
		next = Nop{}
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Safe{next: next, timeout: timeout, log: log.With(logger.Component("notifier"))}
}

var _ Notifier = (*Safe)(nil)

func (s *Safe) PaymentReceived(ctx context.Context, to string, c Context) error {
	return s.call(ctx, KindPaymentReceived, to, c, s.next.PaymentReceived)
}

func (s *Safe) PaymentFailed(ctx context.Context, to string, c Context) error {
	return s.call(ctx, KindPaymentFailed, to, c, s.next.PaymentFailed)
}

func (s *Safe) SubscriptionActivatedOrRenewed(ctx context.Context, to string, c Context) error {
	return s.call(ctx, KindSubscriptionActivated, to, c, s.next.SubscriptionActivatedOrRenewed)
}

func (s *Safe) SubscriptionCancelled(ctx context.Context, to string, c Context) error {
	return s.call(ctx, KindSubscriptionCancelled, to, c, s.next.SubscriptionCancelled)
}

func (s *Safe) ExpiringSoon(ctx context.Context, to string, c Context) error {
	return s.call(ctx, KindSubscriptionExpiring, to, c, s.next.ExpiringSoon)
}

func (s *Safe) call(ctx context.Context, kind Kind, to string, c Context, fn func(context.Context, string, Context) error) error {
	// Detached from the caller's cancellation so a finished request does not
	// abort delivery, but still bounded.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	if err := fn(ctx, to, c); err != nil {
		s.log.WarnContext(ctx, "notification failed",
			slog.String("kind", string(kind)),
			logger.SubscriptionID(c.SubscriptionID),
			logger.Error(err),
		)
	}
	return nil
}
