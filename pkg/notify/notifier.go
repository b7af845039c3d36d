package notify

import (
	"context"
	"time"
)

// Kind names a notification.
type Kind string

const (
	KindPaymentReceived       Kind = "payment_received"
	KindPaymentFailed         Kind = "payment_failed"
	KindSubscriptionActivated Kind = "subscription_activated"
	KindSubscriptionCancelled Kind = "subscription_cancelled"
	KindSubscriptionExpiring  Kind = "subscription_expiring"
)

// Context carries what a notification needs to render.
type Context struct {
	SubscriptionID string
	WorkspaceID    string
	PlanID         string
	Tier           string
	Status         string
	Amount         int64
	Currency       string
	FailureReason  string
	FailedAttempts int
	Suspended      bool
	EndDate        time.Time
	GracePeriodEnd *time.Time
}

// Notifier informs subscription owners about billing events.
// Implementations may fail; callers treat every call as best-effort.
type Notifier interface {
	PaymentReceived(ctx context.Context, to string, c Context) error
	PaymentFailed(ctx context.Context, to string, c Context) error
	SubscriptionActivatedOrRenewed(ctx context.Context, to string, c Context) error
	SubscriptionCancelled(ctx context.Context, to string, c Context) error
	ExpiringSoon(ctx context.Context, to string, c Context) error
}

// Nop discards every notification.
type Nop struct{}

func (Nop) PaymentReceived(context.Context, string, Context) error                { return nil }
func (Nop) PaymentFailed(context.Context, string, Context) error                  { return nil }
func (Nop) SubscriptionActivatedOrRenewed(context.Context, string, Context) error { return nil }
func (Nop) SubscriptionCancelled(context.Context, string, Context) error          { return nil }
func (Nop) ExpiringSoon(context.Context, string, Context) error                   { return nil }
