package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	paddle "github.com/PaddleHQ/paddle-go-sdk/v4"
)

// Paddle implements Gateway on Paddle Billing. Paddle has no checkout session
// object: a checkout is a transaction created from catalog prices.
type Paddle struct {
	client *paddle.SDK
}

// NewPaddle creates a Paddle gateway for environment "production" or "sandbox".
// Extra SDK options are passed through, e.g. paddle.WithBaseURL in tests.
func NewPaddle(apiKey, environment string, opts ...paddle.Option) (*Paddle, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: paddle api key is required", ErrNotConfigured)
	}

	var (
		client *paddle.SDK
		err    error
	)
	switch strings.ToLower(environment) {
	case "sandbox":
		client, err = paddle.NewSandbox(apiKey, opts...)
	case "production", "":
		client, err = paddle.New(apiKey, opts...)
	default:
		return nil, fmt.Errorf("%w: invalid paddle environment %q", ErrNotConfigured, environment)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create paddle client: %w", err)
	}
	return &Paddle{client: client}, nil
}

var _ Gateway = (*Paddle)(nil)

func (p *Paddle) Name() string { return ProviderPaddle }

func (p *Paddle) CreateCustomer(ctx context.Context, c Customer) (string, error) {
	req := &paddle.CreateCustomerRequest{
		Email: c.Email,
		CustomData: paddle.CustomData{
			"workspace_id": c.WorkspaceID,
		},
	}
	if c.Name != "" {
		req.Name = paddle.PtrTo(c.Name)
	}

	cus, err := p.client.CustomersClient.CreateCustomer(ctx, req)
	if err != nil {
		return "", errors.Join(ErrCustomerFailed, err)
	}
	return cus.ID, nil
}

func (p *Paddle) CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	item := paddle.NewCreateTransactionItemsTransactionItemFromCatalog(&paddle.TransactionItemFromCatalog{
		PriceID:  params.PriceID,
		Quantity: 1,
	})

	custom := paddle.CustomData{}
	for k, v := range params.metadata() {
		custom[k] = v
	}
	req := &paddle.CreateTransactionRequest{
		Items:      []paddle.CreateTransactionItems{*item},
		CustomData: custom,
		Checkout: &paddle.TransactionCheckout{
			URL: paddle.PtrTo(params.SuccessURL),
		},
	}
	if params.CustomerID != "" {
		req.CustomerID = paddle.PtrTo(params.CustomerID)
	}

	txn, err := p.client.TransactionsClient.CreateTransaction(ctx, req)
	if err != nil {
		return nil, errors.Join(ErrCheckoutFailed, err)
	}
	sess := paddleSession(txn)
	if sess.URL == "" {
		return nil, fmt.Errorf("%w: paddle returned no checkout url", ErrCheckoutFailed)
	}
	return sess, nil
}

func (p *Paddle) GetCheckoutSession(ctx context.Context, id string) (*CheckoutSession, error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrSessionNotFound
	}
	txn, err := p.client.TransactionsClient.GetTransaction(ctx, &paddle.GetTransactionRequest{
		TransactionID: id,
	})
	if err != nil {
		return nil, err
	}
	return paddleSession(txn), nil
}

func (p *Paddle) CancelSubscription(ctx context.Context, gatewaySubscriptionID string) error {
	if gatewaySubscriptionID == "" {
		return ErrMissingSubscription
	}
	_, err := p.client.SubscriptionsClient.CancelSubscription(ctx, &paddle.CancelSubscriptionRequest{
		SubscriptionID: gatewaySubscriptionID,
	})
	if err != nil {
		return errors.Join(ErrCancellationFailed, err)
	}
	return nil
}

func paddleSession(txn *paddle.Transaction) *CheckoutSession {
	out := &CheckoutSession{
		ID:       txn.ID,
		Provider: ProviderPaddle,
		Metadata: map[string]string{},
	}
	switch txn.Status {
	case paddle.TransactionStatusCompleted, paddle.TransactionStatusPaid, paddle.TransactionStatusBilled:
		out.Status = SessionComplete
	case paddle.TransactionStatusCanceled:
		out.Status = SessionExpired
	default:
		out.Status = SessionOpen
	}
	if txn.Checkout != nil && txn.Checkout.URL != nil {
		out.URL = *txn.Checkout.URL
	}
	if txn.CustomerID != nil {
		out.CustomerID = *txn.CustomerID
	}
	if txn.SubscriptionID != nil {
		out.SubscriptionID = *txn.SubscriptionID
	}
	for k, v := range txn.CustomData {
		if s, ok := v.(string); ok {
			out.Metadata[k] = s
		}
	}
	out.WorkspaceID = out.Metadata["workspace_id"]
	return out
}
