package webhook_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megagig/pharmacare/pkg/lifecycle"
	"github.com/megagig/pharmacare/pkg/webhook"
)

type fakeHandler struct {
	mu     sync.Mutex
	events []lifecycle.Event
	result lifecycle.Result
	err    error
	panics bool
}

func (h *fakeHandler) Apply(_ context.Context, evt lifecycle.Event) (lifecycle.Result, error) {
	if h.panics {
		panic("boom")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, evt)
	return h.result, h.err
}

func (h *fakeHandler) applied() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func newRouter(t *testing.T, h webhook.Handler, m *webhook.Metrics, providers ...webhook.Provider) http.Handler {
	t.Helper()
	if len(providers) == 0 {
		providers = []webhook.Provider{{Name: "stripe", Verifier: webhook.NewHMACVerifier("stripe", secret)}}
	}
	rc := webhook.NewReceiver(h, providers,
		webhook.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		webhook.WithMetrics(m),
		webhook.WithMaxBodySize(4096),
	)
	r := chi.NewRouter()
	r.Method(http.MethodPost, "/webhooks/{provider}", rc)
	return r
}

func post(t *testing.T, h http.Handler, provider string, body []byte, sig string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+provider, bytes.NewReader(body))
	if sig != "" {
		req.Header.Set(webhook.SignatureHeader(provider), sig)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return rec.Code, out
}

var paymentBody = []byte(`{"id":"evt_1","type":"payment.successful","data":{"gatewaySubscriptionId":"sub_gw_1","amount":3000,"currency":"USD"}}`)

func TestReceiver(t *testing.T) {
	t.Parallel()

	t.Run("accepts signed event", func(t *testing.T) {
		t.Parallel()
		h := &fakeHandler{result: lifecycle.Result{Outcome: lifecycle.OutcomeApplied}}
		m := webhook.NewMetrics(prometheus.NewRegistry())
		router := newRouter(t, h, m)

		code, out := post(t, router, "stripe", paymentBody, webhook.Sign(secret, paymentBody))
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, true, out["success"])

		require.Equal(t, 1, h.applied())
		evt := h.events[0]
		assert.Equal(t, "evt_1", evt.ID)
		assert.Equal(t, "stripe", evt.Provider)
		assert.Equal(t, "sub_gw_1", evt.Data.GatewaySubscriptionID)
	})

	t.Run("acknowledges replays and unresolved events", func(t *testing.T) {
		t.Parallel()
		for _, outcome := range []lifecycle.Outcome{lifecycle.OutcomeDuplicate, lifecycle.OutcomeUnresolved, lifecycle.OutcomeIgnored} {
			h := &fakeHandler{result: lifecycle.Result{Outcome: outcome}}
			code, _ := post(t, newRouter(t, h, nil), "stripe", paymentBody, webhook.Sign(secret, paymentBody))
			assert.Equal(t, http.StatusOK, code, outcome)
		}
	})

	t.Run("signature failures never reach the engine", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name   string
			sig    string
			status int
			msg    string
		}{
			{name: "missing", status: http.StatusBadRequest, msg: "missing signature"},
			{name: "malformed", sig: "nothex", status: http.StatusBadRequest, msg: "malformed signature"},
			{name: "other secret", sig: webhook.Sign("whsec_other", paymentBody), status: http.StatusUnauthorized, msg: "invalid signature"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()
				h := &fakeHandler{}
				code, out := post(t, newRouter(t, h, nil), "stripe", paymentBody, tt.sig)
				assert.Equal(t, tt.status, code)
				assert.Equal(t, false, out["success"])
				assert.Equal(t, tt.msg, out["error"])
				assert.Zero(t, h.applied())
			})
		}
	})

	t.Run("unconfigured secret fails closed", func(t *testing.T) {
		t.Parallel()
		h := &fakeHandler{}
		router := newRouter(t, h, nil, webhook.Provider{Name: "stripe", Verifier: webhook.NewHMACVerifier("stripe", "")})

		code, _ := post(t, router, "stripe", paymentBody, webhook.Sign("", paymentBody))
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Zero(t, h.applied())
	})

	t.Run("malformed payload", func(t *testing.T) {
		t.Parallel()
		h := &fakeHandler{}
		body := []byte(`{"type":"payment.successful"}`)
		code, _ := post(t, newRouter(t, h, nil), "stripe", body, webhook.Sign(secret, body))
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Zero(t, h.applied())
	})

	t.Run("oversized body", func(t *testing.T) {
		t.Parallel()
		h := &fakeHandler{}
		body := []byte(`{"id":"evt_big","type":"payment.failed","data":{"failureReason":"` + strings.Repeat("x", 5000) + `"}}`)
		code, _ := post(t, newRouter(t, h, nil), "stripe", body, webhook.Sign(secret, body))
		assert.Equal(t, http.StatusBadRequest, code)
		assert.Zero(t, h.applied())
	})

	t.Run("engine failure is retried by the gateway", func(t *testing.T) {
		t.Parallel()
		h := &fakeHandler{err: errors.New("store unavailable")}
		m := webhook.NewMetrics(prometheus.NewRegistry())

		code, out := post(t, newRouter(t, h, m), "stripe", paymentBody, webhook.Sign(secret, paymentBody))
		assert.Equal(t, http.StatusInternalServerError, code)
		assert.Equal(t, false, out["success"])
	})

	t.Run("panic is recovered", func(t *testing.T) {
		t.Parallel()
		h := &fakeHandler{panics: true}
		code, _ := post(t, newRouter(t, h, nil), "stripe", paymentBody, webhook.Sign(secret, paymentBody))
		assert.Equal(t, http.StatusInternalServerError, code)
	})

	t.Run("unknown provider", func(t *testing.T) {
		t.Parallel()
		code, _ := post(t, newRouter(t, &fakeHandler{}, nil), "braintree", paymentBody, "x")
		assert.Equal(t, http.StatusNotFound, code)
	})
}

func TestReceiverMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := webhook.NewMetrics(reg)
	h := &fakeHandler{result: lifecycle.Result{Outcome: lifecycle.OutcomeApplied}}
	router := newRouter(t, h, m)

	post(t, router, "stripe", paymentBody, webhook.Sign(secret, paymentBody))
	post(t, router, "stripe", paymentBody, webhook.Sign("whsec_other", paymentBody))

	expected := `
# HELP billing_webhook_requests_total Webhook requests by provider, event type and outcome.
# TYPE billing_webhook_requests_total counter
billing_webhook_requests_total{event_type="payment.successful",outcome="applied",provider="stripe"} 1
billing_webhook_requests_total{event_type="unknown",outcome="rejected",provider="stripe"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "billing_webhook_requests_total"))
	n, err := testutil.GatherAndCount(reg, "billing_webhook_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProvidersFromConfig(t *testing.T) {
	t.Parallel()

	providers, err := webhook.ProvidersFromConfig(webhook.Config{
		StripeSecret: secret,
		StripeScheme: webhook.SchemeNative,
		PaddleScheme: webhook.SchemeHMAC,
	})
	require.NoError(t, err)
	require.Len(t, providers, 2)
	assert.IsType(t, &webhook.StripeVerifier{}, providers[0].Verifier)
	assert.IsType(t, &webhook.HMACVerifier{}, providers[1].Verifier)

	_, err = webhook.ProvidersFromConfig(webhook.Config{StripeScheme: "rot13"})
	assert.Error(t, err)
}
