package lifecycle

import (
	"context"
	"errors"

	"github.com/megagig/pharmacare/pkg/audit"
	"github.com/megagig/pharmacare/pkg/subscription"
)

// Cancel is the user-initiated cancellation of owner's active subscription.
//
// Renewal is stopped at the gateway on a best-effort basis; a gateway failure
// does not abort the cancellation. The record moves to grace_period with
// access kept until now plus the grace period.
func (e *Engine) Cancel(ctx context.Context, owner subscription.Owner, actorID string) (*subscription.Subscription, error) {
	if owner.IsZero() {
		return nil, ErrNoActiveSubscription
	}

	sub, err := e.repo.FindByOwner(ctx, owner, subscription.StatusActive)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return nil, ErrNoActiveSubscription
	}
	if err != nil {
		return nil, err
	}

	e.cancelRemote(ctx, sub)

	sub, err = e.mutate(ctx, sub.ID, func(s *subscription.Subscription) error {
		if s.Status != subscription.StatusActive {
			return ErrNoActiveSubscription
		}
		now := e.now().UTC()
		end := now.Add(e.gracePeriod)

		s.Status = subscription.StatusGracePeriod
		s.GracePeriodEnd = &end
		s.AutoRenew = false
		s.CancelledAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.recordTransition(ctx, sub, subscription.StatusActive, audit.WithActor(actorID))
	_ = e.notifier.SubscriptionCancelled(ctx, e.recipient(ctx, sub), notifyContext(sub))
	return sub, nil
}
