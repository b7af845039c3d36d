package lifecycle_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/megagig/pharmacare/pkg/audit"
	"github.com/megagig/pharmacare/pkg/gateway"
	"github.com/megagig/pharmacare/pkg/lifecycle"
	"github.com/megagig/pharmacare/pkg/notify"
	"github.com/megagig/pharmacare/pkg/subscription"
)

var t0 = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sent struct {
	kind notify.Kind
	to   string
	ctx  notify.Context
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sent
}

func (n *recordingNotifier) add(kind notify.Kind, to string, c notify.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sent{kind: kind, to: to, ctx: c})
	return nil
}

func (n *recordingNotifier) PaymentReceived(_ context.Context, to string, c notify.Context) error {
	return n.add(notify.KindPaymentReceived, to, c)
}

func (n *recordingNotifier) PaymentFailed(_ context.Context, to string, c notify.Context) error {
	return n.add(notify.KindPaymentFailed, to, c)
}

func (n *recordingNotifier) SubscriptionActivatedOrRenewed(_ context.Context, to string, c notify.Context) error {
	return n.add(notify.KindSubscriptionActivated, to, c)
}

func (n *recordingNotifier) SubscriptionCancelled(_ context.Context, to string, c notify.Context) error {
	return n.add(notify.KindSubscriptionCancelled, to, c)
}

func (n *recordingNotifier) ExpiringSoon(_ context.Context, to string, c notify.Context) error {
	return n.add(notify.KindSubscriptionExpiring, to, c)
}

func (n *recordingNotifier) count(kind notify.Kind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.kind == kind {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) last() sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[len(n.sent)-1]
}

// failingUpdates rejects every subscription update with err.
type failingUpdates struct {
	*subscription.MemoryStore
	err error
}

func (f failingUpdates) Update(context.Context, *subscription.Subscription) error {
	return f.err
}

type stubGateway struct {
	mu        sync.Mutex
	cancelled []string
	err       error
}

func (g *stubGateway) Name() string { return gateway.ProviderStripe }

func (g *stubGateway) CreateCustomer(context.Context, gateway.Customer) (string, error) {
	return "", errors.New("not implemented")
}

func (g *stubGateway) CreateCheckout(context.Context, gateway.CheckoutParams) (*gateway.CheckoutSession, error) {
	return nil, errors.New("not implemented")
}

func (g *stubGateway) GetCheckoutSession(context.Context, string) (*gateway.CheckoutSession, error) {
	return nil, errors.New("not implemented")
}

func (g *stubGateway) CancelSubscription(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelled = append(g.cancelled, id)
	return g.err
}

var (
	basicPlan = subscription.Plan{
		ID:        "basic-monthly",
		Name:      "Basic",
		Tier:      subscription.TierBasic,
		Price:     subscription.Money{Amount: 3000, Currency: "USD"},
		Interval:  subscription.BillingIntervalMonthly,
		Features:  subscription.NewFeatureSet("patient_records", "clinical_notes"),
		Limits:    subscription.Limits{Patients: subscription.Limit(500), Users: subscription.Limit(3)},
		TrialDays: 14,
		Active:    true,
	}
	proPlan = subscription.Plan{
		ID:       "pro-monthly",
		Name:     "Pro",
		Tier:     subscription.TierPro,
		Price:    subscription.Money{Amount: 9000, Currency: "USD"},
		Interval: subscription.BillingIntervalMonthly,
		Features: subscription.NewFeatureSet("patient_records", "clinical_notes", "reports"),
		Active:   true,
	}
	retiredPlan = subscription.Plan{
		ID:     "legacy-starter",
		Tier:   subscription.TierBasic,
		Price:  subscription.Money{Amount: 1000, Currency: "USD"},
		Active: false,
	}
)

type harness struct {
	store    *subscription.MemoryStore
	engine   *lifecycle.Engine
	operator *lifecycle.Operator
	clock    *clock
	notes    *recordingNotifier
	audit    *audit.MemoryStorage
	gw       *stubGateway
}

func newHarness(t *testing.T, opts ...lifecycle.Option) *harness {
	t.Helper()

	h := &harness{
		store: subscription.NewMemoryStore(basicPlan, proPlan, retiredPlan),
		clock: &clock{now: t0},
		notes: &recordingNotifier{},
		audit: audit.NewMemoryStorage(),
		gw:    &stubGateway{},
	}
	base := []lifecycle.Option{
		lifecycle.WithClock(h.clock.Now),
		lifecycle.WithNotifier(h.notes),
		lifecycle.WithAudit(audit.NewLogger(h.audit, audit.WithClock(h.clock.Now))),
		lifecycle.WithGateways(gateway.NewRegistry(h.gw)),
		lifecycle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	h.engine = lifecycle.NewEngine(h.store, append(base, opts...)...)
	h.operator = lifecycle.NewOperator(h.engine)

	ctx := context.Background()
	require.NoError(t, h.store.SaveUser(ctx, &subscription.User{ID: "user-1", Email: "owner@pharmacy.test", WorkspaceID: "ws-1"}))
	require.NoError(t, h.store.SaveWorkspace(ctx, &subscription.Workspace{ID: "ws-1", Name: "Main Street Pharmacy", OwnerID: "user-1"}))
	return h
}

// seed stores an active monthly basic subscription for ws-1 and applies mutate first.
func (h *harness) seed(t *testing.T, mutate func(s *subscription.Subscription)) *subscription.Subscription {
	t.Helper()

	sub := &subscription.Subscription{
		ID:                    "sub-1",
		WorkspaceID:           "ws-1",
		PlanID:                basicPlan.ID,
		Tier:                  basicPlan.Tier,
		Status:                subscription.StatusActive,
		Provider:              gateway.ProviderStripe,
		GatewaySubscriptionID: "sub_gw_1",
		StartDate:             t0.AddDate(0, 0, -10),
		EndDate:               t0.AddDate(0, 0, 20),
		AutoRenew:             true,
		Interval:              subscription.BillingIntervalMonthly,
		PriceAtPurchase:       basicPlan.Price,
		Features:              basicPlan.Features,
		CreatedAt:             t0.AddDate(0, 0, -10),
	}
	if mutate != nil {
		mutate(sub)
	}
	require.NoError(t, h.store.Create(context.Background(), sub))
	return h.get(t, sub.ID)
}

func (h *harness) get(t *testing.T, id string) *subscription.Subscription {
	t.Helper()
	sub, err := h.store.Get(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func (h *harness) payments(t *testing.T, subID string) []subscription.Payment {
	t.Helper()
	ps, err := h.store.ListPayments(context.Background(), subID)
	require.NoError(t, err)
	return ps
}

func (h *harness) auditActions(t *testing.T, action string) []audit.Event {
	t.Helper()
	events, err := h.audit.Query(context.Background(), audit.Criteria{Action: action})
	require.NoError(t, err)
	return events
}

func paymentEvent(id string, typ lifecycle.EventType) lifecycle.Event {
	return lifecycle.Event{
		ID:       id,
		Type:     typ,
		Provider: gateway.ProviderStripe,
		Data: lifecycle.EventData{
			GatewaySubscriptionID: "sub_gw_1",
			TransactionID:         "txn_" + id,
			Amount:                3000,
			Currency:              "USD",
			FailureReason:         "card_declined",
		},
		Raw: []byte(`{"id":"` + id + `"}`),
	}
}

func failedAttempts(n int) subscription.Log[subscription.RenewalAttempt] {
	attempts := make([]subscription.RenewalAttempt, 0, n)
	for i := range n {
		attempts = append(attempts, subscription.RenewalAttempt{
			ID:          "prior-" + string(rune('a'+i)),
			AttemptedAt: t0.AddDate(0, 0, -n+i),
			Error:       "card_declined",
		})
	}
	return subscription.NewLog(attempts...)
}
