package entitlement_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megagig/pharmacare/pkg/entitlement"
	"github.com/megagig/pharmacare/pkg/subscription"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

type staticLoader struct {
	snap *entitlement.Snapshot
	err  error
}

func (l staticLoader) Load(context.Context, entitlement.Principal) (*entitlement.Snapshot, error) {
	return l.snap, l.err
}

func newResolver(l entitlement.Loader, opts ...entitlement.Option) *entitlement.Resolver {
	base := []entitlement.Option{
		entitlement.WithClock(func() time.Time { return now }),
		entitlement.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return entitlement.NewResolver(l, append(base, opts...)...)
}

func ptr(t time.Time) *time.Time { return &t }

func snapshot(status subscription.Status, mutate func(*subscription.Subscription)) *entitlement.Snapshot {
	sub := &subscription.Subscription{
		ID:          "sub-1",
		WorkspaceID: "ws-1",
		PlanID:      "basic-monthly",
		Status:      status,
		EndDate:     now.AddDate(0, 0, 20),
		Features:    subscription.NewFeatureSet("patient_records"),
	}
	if mutate != nil {
		mutate(sub)
	}
	return &entitlement.Snapshot{
		Owner:        subscription.CurrentOwner("ws-1"),
		Subscription: sub,
		Plan: &subscription.Plan{
			ID:       "basic-monthly",
			Features: subscription.NewFeatureSet("patient_records", "clinical_notes"),
		},
		Status:       sub.Status,
		TrialEndDate: sub.TrialEndDate,
	}
}

func TestResolve_Status(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		snap    *entitlement.Snapshot
		allowed bool
		valid   bool
		block   bool
		warning bool
		reason  entitlement.Reason
	}{
		{name: "active", snap: snapshot(subscription.StatusActive, nil), allowed: true, valid: true},
		{name: "trial within window", snap: snapshot(subscription.StatusTrial, func(s *subscription.Subscription) {
			s.TrialEndDate = ptr(now.AddDate(0, 0, 1))
		}), allowed: true, valid: true},
		{name: "past due warns", snap: snapshot(subscription.StatusPastDue, nil), allowed: true, valid: true, warning: true, reason: entitlement.ReasonPastDue},
		{name: "suspended", snap: snapshot(subscription.StatusSuspended, nil), valid: true, block: true, reason: entitlement.ReasonSuspended},
		{name: "expired", snap: snapshot(subscription.StatusExpired, nil), valid: true, block: true, reason: entitlement.ReasonExpired},
		{name: "cancelled", snap: snapshot(subscription.StatusCancelled, nil), valid: true, block: true, reason: entitlement.ReasonCancelled},
		{name: "grace period running", snap: snapshot(subscription.StatusGracePeriod, func(s *subscription.Subscription) {
			s.GracePeriodEnd = ptr(now.Add(time.Hour))
		}), allowed: true, valid: true},
		{name: "grace period over", snap: snapshot(subscription.StatusGracePeriod, func(s *subscription.Subscription) {
			s.GracePeriodEnd = ptr(now)
		}), valid: true, block: true, reason: entitlement.ReasonGracePeriodEnded},
		{name: "paused fails open", snap: snapshot(subscription.StatusPaused, nil), allowed: true, reason: entitlement.ReasonPaused},
		{name: "unknown status fails open", snap: snapshot("legacy_free", nil), allowed: true, reason: entitlement.ReasonUnknownStatus},
		{name: "no context soft fails", snap: nil, allowed: true, reason: entitlement.ReasonNoSubscription},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := newResolver(staticLoader{snap: tt.snap}).Resolve(context.Background(), entitlement.Principal{UserID: "user-1"}, "")
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed, "allowed")
			assert.Equal(t, tt.valid, d.Valid, "valid")
			assert.Equal(t, tt.block, d.BlockAccess, "block")
			assert.Equal(t, tt.warning, d.Warning, "warning")
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.block, d.UpgradeRequired)
		})
	}
}

func TestResolve_TrialBlock(t *testing.T) {
	t.Parallel()

	t.Run("stale trial status is blocked by dates", func(t *testing.T) {
		t.Parallel()
		snap := snapshot(subscription.StatusTrial, func(s *subscription.Subscription) {
			s.TrialEndDate = ptr(now.Add(-time.Minute))
		})
		d, err := newResolver(staticLoader{snap: snap}).Resolve(context.Background(), entitlement.Principal{UserID: "user-1"}, "")
		require.NoError(t, err)
		assert.True(t, d.BlockAccess)
		assert.False(t, d.Allowed)
		assert.Equal(t, entitlement.ReasonTrialExpired, d.Reason)
		assert.True(t, d.UpgradeRequired)
	})

	t.Run("active subscription outlives the trial", func(t *testing.T) {
		t.Parallel()
		snap := snapshot(subscription.StatusActive, func(s *subscription.Subscription) {
			s.TrialEndDate = ptr(now.AddDate(0, 0, -30))
		})
		d, err := newResolver(staticLoader{snap: snap}).Resolve(context.Background(), entitlement.Principal{UserID: "user-1"}, "")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("converted subscription keeps status rules after the trial", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name    string
			status  subscription.Status
			mutate  func(*subscription.Subscription)
			allowed bool
			reason  entitlement.Reason
		}{
			{name: "past due", status: subscription.StatusPastDue, allowed: true, reason: entitlement.ReasonPastDue},
			{name: "grace period day zero", status: subscription.StatusGracePeriod, mutate: func(s *subscription.Subscription) {
				s.GracePeriodEnd = ptr(now.AddDate(0, 0, 7))
			}, allowed: true},
			{name: "grace period over", status: subscription.StatusGracePeriod, mutate: func(s *subscription.Subscription) {
				s.GracePeriodEnd = ptr(now.Add(-time.Hour))
			}, reason: entitlement.ReasonGracePeriodEnded},
			{name: "cancelled", status: subscription.StatusCancelled, reason: entitlement.ReasonCancelled},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()
				snap := snapshot(tt.status, func(s *subscription.Subscription) {
					s.TrialEndDate = ptr(now.AddDate(0, 0, -20))
					if tt.mutate != nil {
						tt.mutate(s)
					}
				})
				d, err := newResolver(staticLoader{snap: snap}).Resolve(context.Background(), entitlement.Principal{UserID: "user-1"}, "")
				require.NoError(t, err)
				assert.Equal(t, tt.allowed, d.Allowed)
				assert.Equal(t, tt.reason, d.Reason)
				assert.NotEqual(t, entitlement.ReasonTrialExpired, d.Reason)
			})
		}
	})

	t.Run("workspace trial without subscription", func(t *testing.T) {
		t.Parallel()
		snap := &entitlement.Snapshot{
			Owner:        subscription.CurrentOwner("ws-1"),
			Status:       subscription.StatusTrial,
			TrialEndDate: ptr(now.AddDate(0, 0, -1)),
		}
		d, err := newResolver(staticLoader{snap: snap}).Resolve(context.Background(), entitlement.Principal{UserID: "user-1"}, "")
		require.NoError(t, err)
		assert.True(t, d.BlockAccess)
	})
}

func TestResolve_Features(t *testing.T) {
	t.Parallel()

	snap := snapshot(subscription.StatusActive, func(s *subscription.Subscription) {
		s.Features = subscription.NewFeatureSet("patient_records", "reports")
		s.CustomFeatures = subscription.NewFeatureSet("reports", "inventory_sync")
	})
	snap.Overrides = subscription.NewFeatureSet("beta_dashboard")
	r := newResolver(staticLoader{snap: snap})
	p := entitlement.Principal{UserID: "user-1", Overrides: subscription.NewFeatureSet("api_access")}

	tests := []struct {
		feature string
		allowed bool
		source  entitlement.Source
	}{
		{feature: "reports", allowed: true, source: entitlement.SourceSubscription},
		{feature: "inventory_sync", allowed: true, source: entitlement.SourceCustom},
		{feature: "api_access", allowed: true, source: entitlement.SourceOverride},
		{feature: "beta_dashboard", allowed: true, source: entitlement.SourceOverride},
		{feature: "clinical_notes", allowed: true, source: entitlement.SourcePlan},
		{feature: "telepharmacy", allowed: false, source: entitlement.SourceNone},
	}
	for _, tt := range tests {
		t.Run(tt.feature, func(t *testing.T) {
			t.Parallel()
			d, err := r.Resolve(context.Background(), p, tt.feature)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			assert.Equal(t, tt.source, d.Source)
			assert.False(t, d.BlockAccess)
			if !tt.allowed {
				assert.Equal(t, entitlement.ReasonFeatureNotInPlan, d.Reason)
				assert.True(t, d.UpgradeRequired)
			}
		})
	}

	t.Run("feature set merges every source", func(t *testing.T) {
		t.Parallel()
		d, err := r.Resolve(context.Background(), p, "")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"patient_records", "reports", "inventory_sync", "api_access", "beta_dashboard", "clinical_notes"}, []string(d.FeatureSet))
		assert.Equal(t, subscription.GenerationCurrent, d.Generation)
		assert.Equal(t, "sub-1", d.SubscriptionID)
	})

	t.Run("blocked subscription skips feature check", func(t *testing.T) {
		t.Parallel()
		d, err := newResolver(staticLoader{snap: snapshot(subscription.StatusSuspended, nil)}).
			Resolve(context.Background(), p, "patient_records")
		require.NoError(t, err)
		assert.True(t, d.BlockAccess)
		assert.Equal(t, entitlement.SourceNone, d.Source)
	})
}

func TestHasFeatureAccess_Precedence(t *testing.T) {
	t.Parallel()

	sub := &subscription.Subscription{
		Features:       subscription.NewFeatureSet("shared"),
		CustomFeatures: subscription.NewFeatureSet("shared", "custom_only"),
	}
	src, ok := entitlement.HasFeatureAccess(sub, nil, nil, "shared")
	assert.True(t, ok)
	assert.Equal(t, entitlement.SourceSubscription, src)

	src, ok = entitlement.HasFeatureAccess(sub, nil, nil, "custom_only")
	assert.True(t, ok)
	assert.Equal(t, entitlement.SourceCustom, src)

	_, ok = entitlement.HasFeatureAccess(nil, nil, nil, "shared")
	assert.False(t, ok)
}

func TestResolve_SuperAdminBypass(t *testing.T) {
	t.Parallel()

	loader := staticLoader{err: errors.New("must not be called")}
	d, err := newResolver(loader).Resolve(context.Background(), entitlement.Principal{UserID: "root", SuperAdmin: true}, "anything")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, entitlement.SourceBypass, d.Source)
}

func TestResolve_LoaderError(t *testing.T) {
	t.Parallel()

	_, err := newResolver(staticLoader{err: errors.New("mongo down")}).
		Resolve(context.Background(), entitlement.Principal{UserID: "user-1"}, "")
	assert.ErrorIs(t, err, entitlement.ErrUnavailable)
}

func TestResolve_Metrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := entitlement.NewMetrics(reg)
	ctx := context.Background()
	p := entitlement.Principal{UserID: "user-1"}

	_, _ = newResolver(staticLoader{snap: snapshot(subscription.StatusActive, nil)}, entitlement.WithMetrics(m)).Resolve(ctx, p, "")
	_, _ = newResolver(staticLoader{snap: snapshot(subscription.StatusSuspended, nil)}, entitlement.WithMetrics(m)).Resolve(ctx, p, "")
	_, _ = newResolver(staticLoader{snap: snapshot(subscription.StatusSuspended, nil)}, entitlement.WithMetrics(m)).Resolve(ctx, p, "")

	n, err := testutil.GatherAndCount(reg, "billing_entitlement_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
