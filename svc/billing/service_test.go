package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megagig/pharmacare/pkg/entitlement"
	"github.com/megagig/pharmacare/pkg/gateway"
	"github.com/megagig/pharmacare/pkg/subscription"
	"github.com/megagig/pharmacare/pkg/webhook"
	"github.com/megagig/pharmacare/svc/billing"
)

const secret = "whsec_test"

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

var proPlan = subscription.Plan{
	ID:       "pro-monthly",
	Name:     "Pro",
	Tier:     subscription.TierPro,
	Price:    subscription.Money{Amount: 3000, Currency: "USD"},
	Interval: subscription.BillingIntervalMonthly,
	Features: subscription.NewFeatureSet("clinical_notes", "reports"),
	Active:   true,
}

type fakeGateway struct {
	mu        sync.Mutex
	checkouts []gateway.CheckoutParams
	customers []gateway.Customer
}

func (g *fakeGateway) Name() string { return gateway.ProviderStripe }

func (g *fakeGateway) CreateCustomer(_ context.Context, c gateway.Customer) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.customers = append(g.customers, c)
	return "cus_1", nil
}

func (g *fakeGateway) CreateCheckout(_ context.Context, p gateway.CheckoutParams) (*gateway.CheckoutSession, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkouts = append(g.checkouts, p)
	return &gateway.CheckoutSession{
		ID:          "cs_1",
		Provider:    gateway.ProviderStripe,
		URL:         "https://checkout.test/cs_1",
		Status:      gateway.SessionOpen,
		CustomerID:  p.CustomerID,
		WorkspaceID: p.WorkspaceID,
	}, nil
}

func (g *fakeGateway) GetCheckoutSession(_ context.Context, id string) (*gateway.CheckoutSession, error) {
	if id != "cs_1" {
		return nil, gateway.ErrSessionNotFound
	}
	return &gateway.CheckoutSession{ID: id, Provider: gateway.ProviderStripe, Status: gateway.SessionComplete}, nil
}

func (g *fakeGateway) CancelSubscription(context.Context, string) error { return nil }

type harness struct {
	srv   *httptest.Server
	store *subscription.MemoryStore
	gw    *fakeGateway
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := subscription.NewMemoryStore(proPlan)
	ctx := context.Background()
	require.NoError(t, store.SaveWorkspace(ctx, &subscription.Workspace{ID: "ws-1", Name: "Main St Pharmacy", OwnerID: "u-1"}))
	require.NoError(t, store.SaveUser(ctx, &subscription.User{ID: "u-1", WorkspaceID: "ws-1"}))

	cfg := billing.Config{
		StoreBackend:  billing.BackendMemory,
		LockBackend:   billing.BackendMemory,
		LegacyAliases: true,
		Policy: billing.PolicyConfig{
			SuspensionThreshold: 3,
			SuspensionCountMode: string(subscription.CountAllTime),
			GracePeriod:         7 * 24 * time.Hour,
		},
		Webhook: webhook.Config{StripeSecret: secret, StripeScheme: webhook.SchemeHMAC},
		Gateway: gateway.Config{DefaultProvider: gateway.ProviderStripe, Timeout: time.Second},
	}
	cfg.HTTP.HealthTimeout = time.Second
	require.NoError(t, cfg.Validate())

	gw := &fakeGateway{}
	svc, err := billing.New(cfg, billing.Deps{
		Repo:     store,
		Gateways: gateway.NewRegistry(gw),
		Clock:    func() time.Time { return now },
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(svc.Handle())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, store: store, gw: gw}
}

type caller struct {
	userID, workspaceID string
	superAdmin          bool
}

var (
	member    = caller{userID: "u-1", workspaceID: "ws-1"}
	admin     = caller{userID: "admin-1", superAdmin: true}
	anonymous = caller{}
)

func (h *harness) do(t *testing.T, c caller, method, path string, body any) (int, map[string]any) {
	t.Helper()

	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		req.Header.Set(entitlement.HeaderUserID, c.userID)
	}
	if c.workspaceID != "" {
		req.Header.Set(entitlement.HeaderWorkspaceID, c.workspaceID)
	}
	if c.superAdmin {
		req.Header.Set(entitlement.HeaderSuperAdmin, "true")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func (h *harness) webhook(t *testing.T, provider, signature string, payload map[string]any) int {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	if signature == "" {
		signature = webhook.Sign(secret, body)
	}
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/webhooks/"+provider, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set(webhook.SignatureHeader(provider), signature)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func activated(id string) map[string]any {
	return map[string]any{
		"id":   id,
		"type": "subscription.created",
		"data": map[string]any{
			"workspaceId": "ws-1",
			"planId":      proPlan.ID,
			"email":       "owner@mainst.test",
		},
	}
}

func data(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	d, ok := body["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", body)
	return d
}

func errorCode(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

func (h *harness) activate(t *testing.T) string {
	t.Helper()
	require.Equal(t, http.StatusOK, h.webhook(t, "stripe", "", activated("evt_created")))
	sub, err := h.store.FindByOwner(context.Background(), subscription.CurrentOwner("ws-1"))
	require.NoError(t, err)
	return sub.ID
}

func TestWebhookToEntitlement(t *testing.T) {
	t.Parallel()

	t.Run("signed event activates workspace", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		subID := h.activate(t)

		status, body := h.do(t, member, http.MethodGet, "/entitlements?feature=reports", nil)
		require.Equal(t, http.StatusOK, status)
		d := data(t, body)
		assert.Equal(t, true, d["allowed"])
		assert.Equal(t, "active", d["status"])
		assert.Equal(t, "active", d["subscriptionStatus"])
		assert.Equal(t, subID, d["subscriptionId"])
		assert.Equal(t, "subscription", d["source"])
		assert.ElementsMatch(t, []any{"clinical_notes", "reports"}, d["features"])
	})

	t.Run("replayed event is a no-op", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		subID := h.activate(t)

		assert.Equal(t, http.StatusOK, h.webhook(t, "stripe", "", activated("evt_created")))
		sub, err := h.store.Get(context.Background(), subID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), sub.Version)
	})

	t.Run("bad signature does not mutate", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		assert.Equal(t, http.StatusUnauthorized, h.webhook(t, "stripe", "deadbeef", activated("evt_forged")))
		_, err := h.store.FindByOwner(context.Background(), subscription.CurrentOwner("ws-1"))
		assert.ErrorIs(t, err, subscription.ErrSubscriptionNotFound)
	})

	t.Run("unconfigured provider fails closed", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		assert.Equal(t, http.StatusInternalServerError, h.webhook(t, "paddle", "00", activated("evt_paddle")))
	})

	t.Run("feature outside plan is denied", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.activate(t)

		status, body := h.do(t, member, http.MethodGet, "/entitlements?feature=inventory_sync", nil)
		require.Equal(t, http.StatusOK, status)
		d := data(t, body)
		assert.Equal(t, false, d["allowed"])
		assert.Equal(t, "feature_not_available", d["reason"])
		assert.Equal(t, true, d["upgradeRequired"])
	})

	t.Run("anonymous caller", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		status, body := h.do(t, anonymous, http.MethodGet, "/entitlements", nil)
		assert.Equal(t, http.StatusUnauthorized, status)
		assert.Equal(t, "unauthorized", errorCode(body))
	})
}

func TestCancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.activate(t)

	status, body := h.do(t, member, http.MethodPost, "/subscriptions/cancel", nil)
	require.Equal(t, http.StatusOK, status)
	d := data(t, body)
	assert.Equal(t, "grace_period", d["status"])
	assert.Equal(t, now.Add(7*24*time.Hour).Format(time.RFC3339), d["gracePeriodEnd"])

	status, body = h.do(t, member, http.MethodGet, "/entitlements", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, data(t, body)["allowed"])

	status, body = h.do(t, member, http.MethodPost, "/subscriptions/cancel", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "no_active_subscription", errorCode(body))
}

func TestAdmin(t *testing.T) {
	t.Parallel()

	t.Run("requires super admin", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		status, _ := h.do(t, member, http.MethodGet, "/admin/subscriptions/sub-1", nil)
		assert.Equal(t, http.StatusForbidden, status)
		status, _ = h.do(t, anonymous, http.MethodGet, "/admin/subscriptions/sub-1", nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	})

	t.Run("unknown subscription", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		status, body := h.do(t, admin, http.MethodGet, "/admin/subscriptions/missing", nil)
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "not_found", errorCode(body))
	})

	t.Run("credit", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		subID := h.activate(t)

		status, body := h.do(t, admin, http.MethodPost, "/admin/subscriptions/"+subID+"/credits",
			map[string]any{"amount": 500, "reason": "delivery delay"})
		require.Equal(t, http.StatusOK, status)
		assert.EqualValues(t, 500, data(t, body)["totalCredits"])

		status, body = h.do(t, admin, http.MethodPost, "/admin/subscriptions/"+subID+"/credits",
			map[string]any{"amount": 0, "reason": "zero"})
		assert.Equal(t, http.StatusUnprocessableEntity, status)
		assert.Equal(t, "invalid_input", errorCode(body))
	})

	t.Run("pause and resume", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		subID := h.activate(t)

		status, body := h.do(t, admin, http.MethodPost, "/admin/subscriptions/"+subID+"/pause", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "paused", data(t, body)["status"])

		status, body = h.do(t, admin, http.MethodPost, "/admin/subscriptions/"+subID+"/pause", nil)
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, "invalid_transition", errorCode(body))

		status, body = h.do(t, admin, http.MethodPost, "/admin/subscriptions/"+subID+"/resume", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "active", data(t, body)["status"])
	})

	t.Run("manual payment is listed", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		subID := h.activate(t)

		status, _ := h.do(t, admin, http.MethodPost, "/admin/subscriptions/"+subID+"/payments",
			map[string]any{"amount": 3000, "currency": "USD", "reference": "cash-0042"})
		require.Equal(t, http.StatusOK, status)

		status, body := h.do(t, admin, http.MethodGet, "/admin/subscriptions/"+subID+"/payments", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Len(t, body["data"], 1)
		assert.EqualValues(t, 1, body["meta"].(map[string]any)["total"])
		assert.NotContains(t, body["data"].([]any)[0], "subscriptionStatus")

		status, body = h.do(t, admin, http.MethodGet, "/admin/subscriptions/"+subID, nil)
		require.Equal(t, http.StatusOK, status)
		sub := data(t, body)
		assert.Equal(t, "active", sub["subscriptionStatus"])
		history := sub["paymentHistory"].([]any)
		require.Len(t, history, 1)
		assert.NotContains(t, history[0], "subscriptionStatus")
	})

	t.Run("activate plan", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		status, body := h.do(t, admin, http.MethodPost, "/admin/subscriptions",
			map[string]any{"workspaceId": "ws-1", "planId": proPlan.ID})
		require.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "active", data(t, body)["status"])

		status, body = h.do(t, admin, http.MethodPost, "/admin/subscriptions",
			map[string]any{"workspaceId": "ws-1", "planId": "missing"})
		assert.Equal(t, http.StatusNotFound, status)
		assert.Equal(t, "plan not found", body["error"].(map[string]any)["message"])
	})

	t.Run("unknown body field", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		status, body := h.do(t, admin, http.MethodPost, "/admin/subscriptions/sub-1/credits",
			map[string]any{"amount": 1, "reason": "x", "bogus": true})
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "bad_request", errorCode(body))
	})
}

func TestCheckout(t *testing.T) {
	t.Parallel()

	t.Run("creates session for workspace", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		status, body := h.do(t, member, http.MethodPost, "/checkout", map[string]any{
			"planId":     proPlan.ID,
			"email":      "owner@mainst.test",
			"successUrl": "https://app.test/billing/done",
		})
		require.Equal(t, http.StatusCreated, status)
		assert.Equal(t, "https://checkout.test/cs_1", data(t, body)["url"])

		require.Len(t, h.gw.checkouts, 1)
		params := h.gw.checkouts[0]
		assert.Equal(t, "ws-1", params.WorkspaceID)
		assert.Equal(t, proPlan.ID, params.PriceID)
		assert.Equal(t, "cus_1", params.CustomerID)
	})

	tests := []struct {
		name   string
		caller caller
		body   map[string]any
		status int
		code   string
	}{
		{
			name:   "unknown plan",
			caller: member,
			body:   map[string]any{"planId": "missing", "successUrl": "https://app.test/done"},
			status: http.StatusNotFound,
			code:   "not_found",
		},
		{
			name:   "no workspace",
			caller: caller{userID: "u-2"},
			body:   map[string]any{"planId": proPlan.ID, "successUrl": "https://app.test/done"},
			status: http.StatusUnprocessableEntity,
			code:   "unprocessable_entity",
		},
		{
			name:   "invalid success url",
			caller: member,
			body:   map[string]any{"planId": proPlan.ID, "successUrl": "not a url"},
			status: http.StatusUnprocessableEntity,
			code:   "unprocessable_entity",
		},
		{
			name:   "unknown provider",
			caller: member,
			body:   map[string]any{"planId": proPlan.ID, "provider": "paddle", "successUrl": "https://app.test/done"},
			status: http.StatusBadRequest,
			code:   "bad_request",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			status, body := h.do(t, tt.caller, http.MethodPost, "/checkout", tt.body)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, errorCode(body))
		})
	}

	t.Run("get session", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		status, body := h.do(t, member, http.MethodGet, "/checkout/cs_1?provider=stripe", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Equal(t, "complete", data(t, body)["status"])

		status, _ = h.do(t, member, http.MethodGet, "/checkout/cs_missing", nil)
		assert.Equal(t, http.StatusNotFound, status)
	})
}

func TestOperationalEndpoints(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		resp, err := http.Get(h.srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	h.activate(t)
	resp, err := http.Get(h.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), fmt.Sprintf("provider=%q", "stripe"))
}
