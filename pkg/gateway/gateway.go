package gateway

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Provider names as they appear in webhook routes and stored subscriptions.
const (
	ProviderStripe = "stripe"
	ProviderPaddle = "paddle"
)

// Gateway is the outbound side of a payment provider.
// Implementations wrap the provider's official SDK; none of them touch the
// subscription store.
type Gateway interface {
	Name() string
	CreateCustomer(ctx context.Context, c Customer) (string, error)
	CreateCheckout(ctx context.Context, p CheckoutParams) (*CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error)
	// CancelSubscription stops renewal of a gateway subscription.
	CancelSubscription(ctx context.Context, gatewaySubscriptionID string) error
}

// Customer identifies the billing contact of a workspace.
type Customer struct {
	WorkspaceID string
	Email       string
	Name        string
}

// CheckoutParams describes a hosted checkout for one plan price.
type CheckoutParams struct {
	PriceID     string `validate:"required"`
	PlanID      string // local plan, echoed back in webhook metadata
	WorkspaceID string `validate:"required"`
	CustomerID  string
	Email       string `validate:"omitempty,email"`
	SuccessURL  string `validate:"required,url"`
	CancelURL   string `validate:"omitempty,url"`
	TrialDays   int    `validate:"gte=0"`
}

// Validate checks the fields every provider needs.
func (p CheckoutParams) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCheckout, err)
	}
	return nil
}

func (p CheckoutParams) metadata() map[string]string {
	m := map[string]string{"workspace_id": p.WorkspaceID}
	if p.PlanID != "" {
		m["plan_id"] = p.PlanID
	}
	if p.Email != "" {
		m["email"] = p.Email
	}
	return m
}

// SessionStatus is the normalized state of a checkout session.
type SessionStatus string

const (
	SessionOpen     SessionStatus = "open"
	SessionComplete SessionStatus = "complete"
	SessionExpired  SessionStatus = "expired"
)

// CheckoutSession is a provider checkout normalized across gateways.
type CheckoutSession struct {
	ID             string            `json:"id"`
	Provider       string            `json:"provider"`
	URL            string            `json:"url,omitempty"`
	Status         SessionStatus     `json:"status"`
	CustomerID     string            `json:"customerId,omitempty"`
	SubscriptionID string            `json:"subscriptionId,omitempty"`
	WorkspaceID    string            `json:"workspaceId,omitempty"`
	ExpiresAt      time.Time         `json:"expiresAt,omitzero"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Registry resolves gateways by provider name.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

// NewRegistry registers the given gateways under their Name.
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		r.Register(g)
	}
	return r
}

// Register adds g, replacing any gateway with the same name. Nil is ignored.
func (r *Registry) Register(g Gateway) {
	if g == nil {
		return
	}
	r.mu.Lock()
	r.gateways[strings.ToLower(g.Name())] = g
	r.mu.Unlock()
}

// Get returns the gateway for provider.
func (r *Registry) Get(provider string) (Gateway, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	r.mu.RLock()
	g, ok := r.gateways[strings.ToLower(provider)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return g, nil
}

// Providers lists registered provider names in sorted order.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
