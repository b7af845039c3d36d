package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	stripesession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/subscription"
)

// Stripe implements Gateway with the stripe-go package-level API.
type Stripe struct {
	apiKey string
}

// NewStripe sets the process-wide Stripe key and returns the gateway.
func NewStripe(apiKey string) *Stripe {
	stripe.Key = apiKey
	return &Stripe{apiKey: apiKey}
}

var _ Gateway = (*Stripe)(nil)

func (s *Stripe) Name() string { return ProviderStripe }

func (s *Stripe) CreateCustomer(ctx context.Context, c Customer) (string, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(c.Email),
		Metadata: map[string]string{
			"workspace_id": c.WorkspaceID,
		},
	}
	if c.Name != "" {
		params.Name = stripe.String(c.Name)
	}

	cus, err := customer.New(params)
	if err != nil {
		return "", errors.Join(ErrCustomerFailed, err)
	}
	return cus.ID, nil
}

func (s *Stripe) CreateCheckout(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: ctx},
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		SuccessURL:        stripe.String(p.SuccessURL),
		ClientReferenceID: stripe.String(p.WorkspaceID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(strings.TrimSpace(p.PriceID)),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: p.metadata(),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: p.metadata(),
		},
	}
	if p.CancelURL != "" {
		params.CancelURL = stripe.String(p.CancelURL)
	}
	switch {
	case p.CustomerID != "":
		params.Customer = stripe.String(p.CustomerID)
	case p.Email != "":
		params.CustomerEmail = stripe.String(p.Email)
	}
	if p.TrialDays > 0 {
		params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(p.TrialDays))
	}

	sess, err := stripesession.New(params)
	if err != nil {
		return nil, errors.Join(ErrCheckoutFailed, err)
	}
	if sess == nil || strings.TrimSpace(sess.URL) == "" {
		return nil, fmt.Errorf("%w: stripe returned no checkout url", ErrCheckoutFailed)
	}
	return stripeSession(sess), nil
}

func (s *Stripe) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrSessionNotFound
	}

	sess, err := stripesession.Get(id, &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, err
	}
	return stripeSession(sess), nil
}

func (s *Stripe) CancelSubscription(ctx context.Context, gatewaySubscriptionID string) error {
	if gatewaySubscriptionID == "" {
		return ErrMissingSubscription
	}
	params := &stripe.SubscriptionCancelParams{
		Params: stripe.Params{Context: ctx},
	}
	if _, err := subscription.Cancel(gatewaySubscriptionID, params); err != nil {
		return errors.Join(ErrCancellationFailed, err)
	}
	return nil
}

func stripeSession(sess *stripe.CheckoutSession) *CheckoutSession {
	out := &CheckoutSession{
		ID:          sess.ID,
		Provider:    ProviderStripe,
		URL:         sess.URL,
		WorkspaceID: sess.ClientReferenceID,
		Metadata:    sess.Metadata,
	}
	switch sess.Status {
	case stripe.CheckoutSessionStatusComplete:
		out.Status = SessionComplete
	case stripe.CheckoutSessionStatusExpired:
		out.Status = SessionExpired
	default:
		out.Status = SessionOpen
	}
	if sess.Customer != nil {
		out.CustomerID = sess.Customer.ID
	}
	if sess.Subscription != nil {
		out.SubscriptionID = sess.Subscription.ID
	}
	if sess.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(sess.ExpiresAt, 0).UTC()
	}
	if out.WorkspaceID == "" {
		out.WorkspaceID = sess.Metadata["workspace_id"]
	}
	return out
}
