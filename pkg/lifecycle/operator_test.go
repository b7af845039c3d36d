package lifecycle_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megagig/pharmacare/pkg/audit"
	"github.com/megagig/pharmacare/pkg/lifecycle"
	"github.com/megagig/pharmacare/pkg/subscription"
)

func requireOpError(t *testing.T, err error, op string, target error) *lifecycle.OperationError {
	t.Helper()
	var opErr *lifecycle.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, op, opErr.Op)
	assert.NotEmpty(t, opErr.Reason)
	if target != nil {
		assert.ErrorIs(t, err, target)
	}
	return opErr
}

func TestOperator_PauseResume(t *testing.T) {
	t.Parallel()

	t.Run("round trip extends term by paused interval", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		before := h.seed(t, nil)
		ctx := context.Background()

		paused, err := h.operator.Pause(ctx, lifecycle.PauseInput{SubscriptionID: "sub-1", Actor: "admin", Reason: "clinic renovation"})
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPaused, paused.Status)
		require.NotNil(t, paused.PausedStatus)
		assert.Equal(t, subscription.StatusActive, paused.PausedStatus.OriginalStatus)
		assert.Equal(t, before.EndDate, paused.PausedStatus.OriginalEndDate)

		gap := 5*24*time.Hour + 3*time.Hour
		h.clock.Advance(gap)

		resumed, err := h.operator.Resume(ctx, lifecycle.ResumeInput{SubscriptionID: "sub-1", Actor: "admin"})
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, resumed.Status)
		assert.Equal(t, before.EndDate.Add(gap), resumed.EndDate)
		assert.Nil(t, resumed.PausedStatus)
	})

	t.Run("restores past due status", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.seed(t, func(s *subscription.Subscription) { s.Status = subscription.StatusPastDue })
		ctx := context.Background()

		_, err := h.operator.Pause(ctx, lifecycle.PauseInput{SubscriptionID: "sub-1", Actor: "admin"})
		require.NoError(t, err)
		resumed, err := h.operator.Resume(ctx, lifecycle.ResumeInput{SubscriptionID: "sub-1", Actor: "admin"})
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPastDue, resumed.Status)
	})

	t.Run("rejects invalid transitions without writing", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.seed(t, nil)
		ctx := context.Background()

		_, err := h.operator.Resume(ctx, lifecycle.ResumeInput{SubscriptionID: "sub-1", Actor: "admin"})
		requireOpError(t, err, lifecycle.OpResume, lifecycle.ErrSubscriptionNotPaused)

		past := t0.Add(-time.Hour)
		_, err = h.operator.Pause(ctx, lifecycle.PauseInput{SubscriptionID: "sub-1", Until: &past, Actor: "admin"})
		requireOpError(t, err, lifecycle.OpPause, lifecycle.ErrInvalidInput)

		_, err = h.operator.Pause(ctx, lifecycle.PauseInput{SubscriptionID: "sub-1", Actor: "admin"})
		require.NoError(t, err)
		_, err = h.operator.Pause(ctx, lifecycle.PauseInput{SubscriptionID: "sub-1", Actor: "admin"})
		requireOpError(t, err, lifecycle.OpPause, lifecycle.ErrSubscriptionPaused)

		assert.Equal(t, int64(2), h.get(t, "sub-1").Version)
	})
}

func TestOperator_ChangePlan(t *testing.T) {
	t.Parallel()

	t.Run("prorates remaining days", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.seed(t, func(s *subscription.Subscription) { s.EndDate = t0.Add(10*24*time.Hour + time.Hour) })

		change, err := h.operator.ChangePlan(context.Background(), lifecycle.ChangePlanInput{
			SubscriptionID: "sub-1",
			PlanID:         proPlan.ID,
			Prorate:        true,
			Actor:          "admin",
		})
		require.NoError(t, err)
		assert.Equal(t, 11, change.RemainingDays)
		require.NotNil(t, change.ProratedAmount)
		assert.Equal(t, int64(2200), *change.ProratedAmount)

		sub := h.get(t, "sub-1")
		assert.Equal(t, proPlan.ID, sub.PlanID)
		assert.Equal(t, subscription.TierPro, sub.Tier)
		assert.Equal(t, proPlan.Price, sub.PriceAtPurchase)
		assert.True(t, sub.Features.Has("reports"))
		assert.Nil(t, sub.Limits.Patients)
		assert.Equal(t, 1, sub.PlanChanges.Len())
	})

	t.Run("without proration", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.seed(t, nil)

		change, err := h.operator.ChangePlan(context.Background(), lifecycle.ChangePlanInput{
			SubscriptionID: "sub-1",
			PlanID:         proPlan.ID,
			Actor:          "admin",
		})
		require.NoError(t, err)
		assert.Nil(t, change.ProratedAmount)
	})

	t.Run("unknown plan", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.seed(t, nil)

		_, err := h.operator.ChangePlan(context.Background(), lifecycle.ChangePlanInput{
			SubscriptionID: "sub-1",
			PlanID:         "enterprise",
			Actor:          "admin",
		})
		opErr := requireOpError(t, err, lifecycle.OpChangePlan, subscription.ErrPlanNotFound)
		assert.Equal(t, "plan not found", opErr.Reason)
		assert.Equal(t, basicPlan.ID, h.get(t, "sub-1").PlanID)

		failures, qerr := h.audit.Query(context.Background(), audit.Criteria{Action: audit.ActionAdminOperation})
		require.NoError(t, qerr)
		require.Len(t, failures, 1)
		assert.Equal(t, audit.ResultFailure, failures[0].Result)
	})

	t.Run("missing subscription", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		_, err := h.operator.ChangePlan(context.Background(), lifecycle.ChangePlanInput{
			SubscriptionID: "nope",
			PlanID:         proPlan.ID,
			Actor:          "admin",
		})
		requireOpError(t, err, lifecycle.OpChangePlan, subscription.ErrSubscriptionNotFound)
	})
}

func TestProrate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, lifecycle.RemainingDays(t0.Add(-time.Hour), t0))
	assert.Equal(t, 1, lifecycle.RemainingDays(t0.Add(time.Minute), t0))
	assert.Equal(t, 30, lifecycle.RemainingDays(t0.AddDate(0, 0, 30), t0))

	assert.Equal(t, int64(-1400), lifecycle.Prorate(300, 100, 7))
	assert.Equal(t, int64(0), lifecycle.Prorate(100, 300, 0))
	assert.Equal(t, int64(333), lifecycle.Prorate(0, 33.3333, 10))
}

func TestOperator_ApplyCredit(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.seed(t, nil)
	ctx := context.Background()

	_, err := h.operator.ApplyCredit(ctx, lifecycle.CreditInput{SubscriptionID: "sub-1", Amount: 500, Reason: "outage", Actor: "admin"})
	require.NoError(t, err)
	sub, err := h.operator.ApplyCredit(ctx, lifecycle.CreditInput{SubscriptionID: "sub-1", Amount: 250, Reason: "goodwill", Actor: "admin"})
	require.NoError(t, err)

	assert.Equal(t, int64(750), sub.TotalCredits)
	assert.Equal(t, 2, sub.Credits.Len())

	_, err = h.operator.ApplyCredit(ctx, lifecycle.CreditInput{SubscriptionID: "sub-1", Amount: 0, Reason: "x", Actor: "admin"})
	requireOpError(t, err, lifecycle.OpApplyCredit, lifecycle.ErrInvalidInput)
}

func TestOperator_ExtendTrial(t *testing.T) {
	t.Parallel()

	t.Run("extends workspace and linked trial subscription", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		trialEnd := t0.AddDate(0, 0, 3)
		h.seed(t, func(s *subscription.Subscription) {
			s.Status = subscription.StatusTrial
			s.TrialEndDate = &trialEnd
			s.EndDate = trialEnd
		})
		require.NoError(t, h.store.SaveWorkspace(context.Background(), &subscription.Workspace{
			ID:             "ws-1",
			OwnerID:        "user-1",
			SubscriptionID: "sub-1",
			Status:         subscription.StatusTrial,
			TrialEndDate:   &trialEnd,
		}))

		ws, err := h.operator.ExtendTrial(context.Background(), lifecycle.ExtendTrialInput{WorkspaceID: "ws-1", Days: 7, Actor: "admin"})
		require.NoError(t, err)

		want := t0.AddDate(0, 0, 10)
		require.NotNil(t, ws.TrialEndDate)
		assert.Equal(t, want, *ws.TrialEndDate)

		sub := h.get(t, "sub-1")
		assert.Equal(t, want, sub.EndDate)
		require.NotNil(t, sub.TrialEndDate)
		assert.Equal(t, want, *sub.TrialEndDate)
	})

	t.Run("failed subscription write leaves workspace untouched", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		trialEnd := t0.AddDate(0, 0, 3)
		h.seed(t, func(s *subscription.Subscription) {
			s.Status = subscription.StatusTrial
			s.TrialEndDate = &trialEnd
			s.EndDate = trialEnd
		})
		require.NoError(t, h.store.SaveWorkspace(context.Background(), &subscription.Workspace{
			ID:             "ws-1",
			OwnerID:        "user-1",
			SubscriptionID: "sub-1",
			Status:         subscription.StatusTrial,
			TrialEndDate:   &trialEnd,
		}))

		engine := lifecycle.NewEngine(
			failingUpdates{MemoryStore: h.store, err: errors.New("store offline")},
			lifecycle.WithClock(h.clock.Now),
			lifecycle.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		)
		_, err := lifecycle.NewOperator(engine).ExtendTrial(context.Background(),
			lifecycle.ExtendTrialInput{WorkspaceID: "ws-1", Days: 7, Actor: "admin"})
		require.Error(t, err)

		ws, err := h.store.GetWorkspace(context.Background(), "ws-1")
		require.NoError(t, err)
		require.NotNil(t, ws.TrialEndDate)
		assert.Equal(t, trialEnd, *ws.TrialEndDate)

		sub := h.get(t, "sub-1")
		assert.Equal(t, trialEnd, sub.EndDate)
	})

	t.Run("starts from now when no trial end is set", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		require.NoError(t, h.store.SaveWorkspace(context.Background(), &subscription.Workspace{
			ID:      "ws-2",
			OwnerID: "user-1",
			Status:  subscription.StatusTrial,
		}))

		ws, err := h.operator.ExtendTrial(context.Background(), lifecycle.ExtendTrialInput{WorkspaceID: "ws-2", Days: 5, Actor: "admin"})
		require.NoError(t, err)
		assert.Equal(t, t0.AddDate(0, 0, 5), *ws.TrialEndDate)
	})

	t.Run("requires trial", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		_, err := h.operator.ExtendTrial(context.Background(), lifecycle.ExtendTrialInput{WorkspaceID: "ws-1", Days: 7, Actor: "admin"})
		requireOpError(t, err, lifecycle.OpExtendTrial, lifecycle.ErrInvalidTransition)

		_, err = h.operator.ExtendTrial(context.Background(), lifecycle.ExtendTrialInput{WorkspaceID: "ws-404", Days: 7, Actor: "admin"})
		requireOpError(t, err, lifecycle.OpExtendTrial, subscription.ErrWorkspaceNotFound)
	})
}

func TestOperator_RecordManualPayment(t *testing.T) {
	t.Parallel()

	t.Run("reactivates past due and extends one period", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		before := h.seed(t, func(s *subscription.Subscription) { s.Status = subscription.StatusPastDue })

		sub, err := h.operator.RecordManualPayment(context.Background(), lifecycle.ManualPaymentInput{
			SubscriptionID: "sub-1",
			Amount:         3000,
			Currency:       "USD",
			Reference:      "bank-transfer-881",
			Actor:          "admin",
		})
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Equal(t, before.EndDate.AddDate(0, 0, 30), sub.EndDate)

		ps := h.payments(t, "sub-1")
		require.Len(t, ps, 1)
		assert.True(t, ps[0].Manual)
		assert.Equal(t, lifecycle.ProviderManual, ps[0].Provider)
	})

	t.Run("annual interval extends a year", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		before := h.seed(t, func(s *subscription.Subscription) {
			s.Status = subscription.StatusSuspended
			s.Interval = subscription.BillingIntervalAnnual
		})

		sub, err := h.operator.RecordManualPayment(context.Background(), lifecycle.ManualPaymentInput{
			SubscriptionID: "sub-1", Amount: 30000, Currency: "USD", Actor: "admin",
		})
		require.NoError(t, err)
		assert.Equal(t, before.EndDate.AddDate(0, 0, 365), sub.EndDate)
	})

	t.Run("active subscription keeps its term", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		before := h.seed(t, nil)

		sub, err := h.operator.RecordManualPayment(context.Background(), lifecycle.ManualPaymentInput{
			SubscriptionID: "sub-1", Amount: 3000, Currency: "USD", Actor: "admin",
		})
		require.NoError(t, err)
		assert.Equal(t, before.EndDate, sub.EndDate)
		assert.Len(t, sub.PaymentHistory, 1)
	})

	t.Run("duplicate reference is rejected", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.seed(t, nil)
		in := lifecycle.ManualPaymentInput{SubscriptionID: "sub-1", Amount: 3000, Currency: "USD", Reference: "chq-1", Actor: "admin"}

		_, err := h.operator.RecordManualPayment(context.Background(), in)
		require.NoError(t, err)
		version := h.get(t, "sub-1").Version

		_, err = h.operator.RecordManualPayment(context.Background(), in)
		requireOpError(t, err, lifecycle.OpManualPayment, subscription.ErrDuplicatePayment)
		assert.Equal(t, version, h.get(t, "sub-1").Version)
		assert.Len(t, h.payments(t, "sub-1"), 1)
	})

	t.Run("bad currency", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.operator.RecordManualPayment(context.Background(), lifecycle.ManualPaymentInput{
			SubscriptionID: "sub-1", Amount: 3000, Currency: "dollars", Actor: "admin",
		})
		requireOpError(t, err, lifecycle.OpManualPayment, lifecycle.ErrInvalidInput)
	})
}

func TestOperator_ActivatePlan(t *testing.T) {
	t.Parallel()

	t.Run("creates workspace subscription", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		sub, err := h.operator.ActivatePlan(context.Background(), lifecycle.ActivatePlanInput{
			WorkspaceID: "ws-1",
			PlanID:      basicPlan.ID,
			Actor:       "admin",
		})
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Equal(t, t0.AddDate(0, 0, 30), sub.EndDate)
		assert.Equal(t, basicPlan.Features, sub.Features)

		ws, err := h.store.GetWorkspace(context.Background(), "ws-1")
		require.NoError(t, err)
		assert.Equal(t, sub.ID, ws.SubscriptionID)

		_, err = h.operator.ActivatePlan(context.Background(), lifecycle.ActivatePlanInput{
			WorkspaceID: "ws-1",
			PlanID:      proPlan.ID,
			Actor:       "admin",
		})
		requireOpError(t, err, lifecycle.OpActivatePlan, subscription.ErrSubscriptionAlreadyExists)
	})

	t.Run("starts trial", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		sub, err := h.operator.ActivatePlan(context.Background(), lifecycle.ActivatePlanInput{
			WorkspaceID: "ws-1",
			PlanID:      basicPlan.ID,
			StartTrial:  true,
			Actor:       "admin",
		})
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusTrial, sub.Status)
		require.NotNil(t, sub.TrialEndDate)
		assert.Equal(t, t0.AddDate(0, 0, 14), *sub.TrialEndDate)
	})

	t.Run("legacy user owner", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)

		sub, err := h.operator.ActivatePlan(context.Background(), lifecycle.ActivatePlanInput{
			UserID: "user-1",
			PlanID: basicPlan.ID,
			Actor:  "admin",
		})
		require.NoError(t, err)
		assert.Equal(t, "user-1", sub.UserID)
		assert.Empty(t, sub.WorkspaceID)
		assert.True(t, sub.Owner().IsLegacy())

		u, err := h.store.GetUser(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, sub.ID, u.SubscriptionID)
	})

	t.Run("rejects inactive plan and unknown workspace", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		ctx := context.Background()

		_, err := h.operator.ActivatePlan(ctx, lifecycle.ActivatePlanInput{WorkspaceID: "ws-1", PlanID: retiredPlan.ID, Actor: "admin"})
		requireOpError(t, err, lifecycle.OpActivatePlan, subscription.ErrInvalidPlanConfiguration)

		_, err = h.operator.ActivatePlan(ctx, lifecycle.ActivatePlanInput{WorkspaceID: "ws-404", PlanID: basicPlan.ID, Actor: "admin"})
		requireOpError(t, err, lifecycle.OpActivatePlan, subscription.ErrWorkspaceNotFound)

		_, err = h.operator.ActivatePlan(ctx, lifecycle.ActivatePlanInput{PlanID: basicPlan.ID, Actor: "admin"})
		requireOpError(t, err, lifecycle.OpActivatePlan, lifecycle.ErrInvalidInput)
	})
}

func TestOperator_Reactivate(t *testing.T) {
	t.Parallel()

	t.Run("lifts suspension", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.seed(t, func(s *subscription.Subscription) {
			s.Status = subscription.StatusSuspended
			s.EndDate = t0.AddDate(0, 0, -2)
		})

		sub, err := h.operator.Reactivate(context.Background(), lifecycle.ReactivateInput{SubscriptionID: "sub-1", Actor: "admin"})
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusActive, sub.Status)
		assert.Equal(t, t0.AddDate(0, 0, 30), sub.EndDate)

		last, ok := sub.RenewalAttempts.Last()
		require.True(t, ok)
		assert.True(t, last.Successful)
	})

	t.Run("requires suspension", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		h.seed(t, nil)

		_, err := h.operator.Reactivate(context.Background(), lifecycle.ReactivateInput{SubscriptionID: "sub-1", Actor: "admin"})
		requireOpError(t, err, lifecycle.OpReactivate, lifecycle.ErrInvalidTransition)
	})
}
