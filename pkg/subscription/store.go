package subscription

import "context"

// Store defines subscription persistence.
// Update is a compare-and-swap on Version: it fails with ErrVersionConflict
// when the stored record changed since it was read, and bumps Version on success.
type Store interface {
	// Get retrieves a subscription by ID.
	// Returns ErrSubscriptionNotFound if no subscription exists.
	Get(ctx context.Context, id string) (*Subscription, error)

	// FindByGatewayID looks a subscription up by the gateway's subscription ID.
	FindByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*Subscription, error)

	// FindByOwner returns the most recently created subscription of owner,
	// optionally restricted to the given statuses.
	FindByOwner(ctx context.Context, owner Owner, statuses ...Status) (*Subscription, error)

	// Create inserts a new subscription.
	// Returns ErrSubscriptionAlreadyExists on ID or gateway ID collision.
	Create(ctx context.Context, sub *Subscription) error

	// Update persists sub if its Version still matches the stored record.
	Update(ctx context.Context, sub *Subscription) error
}

// PaymentStore persists payments. InsertPayment rejects a second payment with
// the same ID, the same EventID or the same (Provider, ExternalReference,
// Status) with ErrDuplicatePayment.
type PaymentStore interface {
	InsertPayment(ctx context.Context, p *Payment) error
	ListPayments(ctx context.Context, subscriptionID string) ([]Payment, error)
}

// PlanStore loads plans.
type PlanStore interface {
	// GetPlan returns ErrPlanNotFound if the plan does not exist.
	GetPlan(ctx context.Context, id string) (*Plan, error)
	ListPlans(ctx context.Context) ([]Plan, error)
	SavePlan(ctx context.Context, plan *Plan) error
}

// Directory persists the workspace and legacy user entitlement pointers.
type Directory interface {
	GetWorkspace(ctx context.Context, id string) (*Workspace, error)
	SaveWorkspace(ctx context.Context, ws *Workspace) error
	GetUser(ctx context.Context, id string) (*User, error)
	SaveUser(ctx context.Context, u *User) error
}

// Repository bundles every persistence capability of the engine.
type Repository interface {
	Store
	PaymentStore
	PlanStore
	Directory
}
