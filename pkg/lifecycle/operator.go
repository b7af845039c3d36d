package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/megagig/pharmacare/pkg/audit"
	"github.com/megagig/pharmacare/pkg/keylock"
	"github.com/megagig/pharmacare/pkg/logger"
	"github.com/megagig/pharmacare/pkg/subscription"
)

// Operation names, as reported in OperationError.Op and the audit trail.
const (
	OpExtendTrial   = "extend_trial"
	OpApplyCredit   = "apply_credit"
	OpChangePlan    = "change_plan"
	OpPause         = "pause"
	OpResume        = "resume"
	OpManualPayment = "record_manual_payment"
	OpActivatePlan  = "activate_plan"
	OpReactivate    = "reactivate"
)

// ProviderManual marks payments recorded by an operator.
const ProviderManual = "manual"

var openStatuses = []subscription.Status{
	subscription.StatusTrial,
	subscription.StatusActive,
	subscription.StatusPastDue,
	subscription.StatusGracePeriod,
	subscription.StatusSuspended,
	subscription.StatusPaused,
}

// Operator runs administrative lifecycle operations. It shares the engine's
// store, lock and clock, so operator writes serialize with webhook writes.
//
// Every operation validates before it commits: a returned *OperationError
// means nothing was persisted.
type Operator struct {
	e        *Engine
	validate *validator.Validate
}

// NewOperator returns an Operator backed by e.
func NewOperator(e *Engine) *Operator {
	return &Operator{
		e:        e,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type ExtendTrialInput struct {
	WorkspaceID string `json:"workspaceId" validate:"required"`
	Days        int    `json:"days" validate:"gte=1,lte=365"`
	Actor       string `json:"actor" validate:"required"`
	Reason      string `json:"reason"`
}

// ExtendTrial pushes a trialing workspace's trial end out by Days. A linked
// subscription that is itself in trial gets its end date moved by the same
// amount.
func (o *Operator) ExtendTrial(ctx context.Context, in ExtendTrialInput) (*subscription.Workspace, error) {
	const op = OpExtendTrial
	if err := o.check(op, in); err != nil {
		return nil, err
	}

	ws, err := o.e.repo.GetWorkspace(ctx, in.WorkspaceID)
	if err != nil {
		return nil, o.fail(ctx, op, in.Actor, "", classify(op, err))
	}
	if ws.Status != subscription.StatusTrial {
		return nil, o.fail(ctx, op, in.Actor, ws.SubscriptionID,
			opError(op, fmt.Sprintf("workspace is %s, not in trial", statusOrNone(ws.Status)), ErrInvalidTransition))
	}

	now := o.e.now().UTC()
	base := now
	if ws.TrialEndDate != nil {
		base = *ws.TrialEndDate
	}
	trialEnd := base.AddDate(0, 0, in.Days)

	prevTrialEnd, prevUpdatedAt := ws.TrialEndDate, ws.UpdatedAt
	ws.TrialEndDate = &trialEnd
	ws.UpdatedAt = now
	if err := o.e.repo.SaveWorkspace(ctx, ws); err != nil {
		return nil, o.fail(ctx, op, in.Actor, ws.SubscriptionID, classify(op, err))
	}

	if ws.SubscriptionID != "" {
		_, err := o.e.mutate(ctx, ws.SubscriptionID, func(s *subscription.Subscription) error {
			if s.Status != subscription.StatusTrial {
				return errNoChange
			}
			s.EndDate = s.EndDate.AddDate(0, 0, in.Days)
			t := trialEnd
			s.TrialEndDate = &t
			return nil
		})
		if err != nil && !errors.Is(err, errNoChange) && !errors.Is(err, subscription.ErrSubscriptionNotFound) {
			ws.TrialEndDate, ws.UpdatedAt = prevTrialEnd, prevUpdatedAt
			if rerr := o.e.repo.SaveWorkspace(ctx, ws); rerr != nil {
				o.e.log.ErrorContext(ctx, "failed to restore workspace trial end",
					logger.WorkspaceID(ws.ID),
					logger.Error(rerr),
				)
			}
			return nil, o.fail(ctx, op, in.Actor, ws.SubscriptionID, classify(op, err))
		}
		// The subscription write may have refreshed the workspace pointers.
		if ws, err = o.e.repo.GetWorkspace(ctx, in.WorkspaceID); err != nil {
			return nil, o.fail(ctx, op, in.Actor, "", classify(op, err))
		}
	}

	o.done(ctx, op, in.Actor, ws.SubscriptionID, ws.ID,
		audit.WithMetadata("days", in.Days),
		audit.WithMetadata("trial_end_date", trialEnd),
	)
	return ws, nil
}

type CreditInput struct {
	SubscriptionID string `json:"subscriptionId" validate:"required"`
	Amount         int64  `json:"amount" validate:"gt=0"`
	Reason         string `json:"reason" validate:"required"`
	Actor          string `json:"actor" validate:"required"`
}

// ApplyCredit appends a credit and recomputes the credit total.
func (o *Operator) ApplyCredit(ctx context.Context, in CreditInput) (*subscription.Subscription, error) {
	const op = OpApplyCredit
	if err := o.check(op, in); err != nil {
		return nil, err
	}

	sub, err := o.e.mutate(ctx, in.SubscriptionID, func(s *subscription.Subscription) error {
		if err := s.Credits.Append(subscription.Credit{
			ID:        uuid.NewString(),
			Amount:    in.Amount,
			Reason:    in.Reason,
			GrantedBy: in.Actor,
			CreatedAt: o.e.now().UTC(),
		}); err != nil {
			return err
		}
		s.RecalculateCredits()
		return nil
	})
	if err != nil {
		return nil, o.fail(ctx, op, in.Actor, in.SubscriptionID, classify(op, err))
	}

	o.done(ctx, op, in.Actor, sub.ID, sub.WorkspaceID,
		audit.WithMetadata("amount", in.Amount),
		audit.WithMetadata("total_credits", sub.TotalCredits),
	)
	return sub, nil
}

type ChangePlanInput struct {
	SubscriptionID string `json:"subscriptionId" validate:"required"`
	PlanID         string `json:"planId" validate:"required"`
	Prorate        bool   `json:"prorate"`
	Actor          string `json:"actor" validate:"required"`
	Reason         string `json:"reason"`
}

// ChangePlan moves a subscription to another plan, copying the plan's tier,
// features, limits and price. With Prorate set, the price difference for the
// rest of the term is computed from 30-day daily rates and recorded on the
// plan change entry.
func (o *Operator) ChangePlan(ctx context.Context, in ChangePlanInput) (*subscription.PlanChange, error) {
	const op = OpChangePlan
	if err := o.check(op, in); err != nil {
		return nil, err
	}

	plan, err := o.e.repo.GetPlan(ctx, in.PlanID)
	if err != nil {
		return nil, o.fail(ctx, op, in.Actor, in.SubscriptionID, classify(op, err))
	}

	var change subscription.PlanChange
	sub, err := o.e.mutate(ctx, in.SubscriptionID, func(s *subscription.Subscription) error {
		if s.PlanID == plan.ID {
			return opError(op, "subscription is already on plan "+plan.ID, ErrInvalidInput)
		}
		if s.Status.IsTerminal() {
			return opError(op, "subscription is "+string(s.Status), ErrInvalidTransition)
		}
		now := o.e.now().UTC()

		change = subscription.PlanChange{
			ID:         uuid.NewString(),
			FromPlanID: s.PlanID,
			ToPlanID:   plan.ID,
			FromTier:   s.Tier,
			ToTier:     plan.Tier,
			ChangedBy:  in.Actor,
			Reason:     in.Reason,
			ChangedAt:  now,
		}
		if in.Prorate {
			oldRate := float64(s.PriceAtPurchase.Amount) / 30
			if current, err := o.e.repo.GetPlan(ctx, s.PlanID); err == nil {
				oldRate = current.DailyRate()
			}
			days := RemainingDays(s.EndDate, now)
			amount := Prorate(oldRate, plan.DailyRate(), days)
			change.RemainingDays = days
			change.ProratedAmount = &amount
		}

		s.PlanID = plan.ID
		s.Tier = plan.Tier
		s.Features = subscription.NewFeatureSet(plan.Features...)
		s.Limits = plan.Limits
		s.PriceAtPurchase = plan.Price
		if plan.Interval != "" {
			s.Interval = plan.Interval
		}
		return s.PlanChanges.Append(change)
	})
	if err != nil {
		return nil, o.fail(ctx, op, in.Actor, in.SubscriptionID, classify(op, err))
	}

	opts := []audit.EventOption{
		audit.WithMetadata("from_plan_id", change.FromPlanID),
		audit.WithMetadata("to_plan_id", change.ToPlanID),
	}
	if change.ProratedAmount != nil {
		opts = append(opts, audit.WithMetadata("prorated_amount", *change.ProratedAmount))
	}
	o.done(ctx, op, in.Actor, sub.ID, sub.WorkspaceID, opts...)
	return &change, nil
}

// RemainingDays is the number of started days between now and end, never negative.
func RemainingDays(end, now time.Time) int {
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}

// Prorate returns (newRate - oldRate) * days rounded to the nearest minor unit.
// Negative amounts are refunds owed to the customer.
func Prorate(oldRate, newRate float64, days int) int64 {
	return int64(math.Round((newRate - oldRate) * float64(days)))
}

type PauseInput struct {
	SubscriptionID string     `json:"subscriptionId" validate:"required"`
	Until          *time.Time `json:"until"`
	Reason         string     `json:"reason"`
	Actor          string     `json:"actor" validate:"required"`
}

// Pause snapshots the current status and end date and sets status paused.
func (o *Operator) Pause(ctx context.Context, in PauseInput) (*subscription.Subscription, error) {
	const op = OpPause
	if err := o.check(op, in); err != nil {
		return nil, err
	}

	sub, err := o.e.mutate(ctx, in.SubscriptionID, func(s *subscription.Subscription) error {
		now := o.e.now().UTC()
		switch {
		case s.Status == subscription.StatusPaused:
			return opError(op, "subscription is already paused", ErrSubscriptionPaused)
		case s.Status.IsTerminal():
			return opError(op, "subscription is "+string(s.Status), ErrInvalidTransition)
		case in.Until != nil && !in.Until.After(now):
			return opError(op, "pause end must be in the future", ErrInvalidInput)
		}

		snap := &subscription.PauseSnapshot{
			OriginalStatus:  s.Status,
			OriginalEndDate: s.EndDate,
			PausedAt:        now,
			Reason:          in.Reason,
		}
		if in.Until != nil {
			u := in.Until.UTC()
			snap.PauseUntil = &u
		}
		s.PausedStatus = snap
		s.Status = subscription.StatusPaused
		return nil
	})
	if err != nil {
		return nil, o.fail(ctx, op, in.Actor, in.SubscriptionID, classify(op, err))
	}

	o.e.recordTransition(ctx, sub, sub.PausedStatus.OriginalStatus, audit.WithActor(in.Actor))
	o.done(ctx, op, in.Actor, sub.ID, sub.WorkspaceID)
	return sub, nil
}

type ResumeInput struct {
	SubscriptionID string `json:"subscriptionId" validate:"required"`
	Actor          string `json:"actor" validate:"required"`
}

// Resume restores the pre-pause status and extends the end date by exactly
// the time spent paused.
func (o *Operator) Resume(ctx context.Context, in ResumeInput) (*subscription.Subscription, error) {
	const op = OpResume
	if err := o.check(op, in); err != nil {
		return nil, err
	}

	var paused time.Duration
	sub, err := o.e.mutate(ctx, in.SubscriptionID, func(s *subscription.Subscription) error {
		if s.Status != subscription.StatusPaused || s.PausedStatus == nil {
			return opError(op, "subscription is not paused", ErrSubscriptionNotPaused)
		}
		snap := s.PausedStatus

		paused = max(o.e.now().UTC().Sub(snap.PausedAt), 0)
		s.EndDate = snap.OriginalEndDate.Add(paused)
		s.Status = snap.OriginalStatus
		s.PausedStatus = nil
		return nil
	})
	if err != nil {
		return nil, o.fail(ctx, op, in.Actor, in.SubscriptionID, classify(op, err))
	}

	o.e.recordTransition(ctx, sub, subscription.StatusPaused, audit.WithActor(in.Actor))
	o.done(ctx, op, in.Actor, sub.ID, sub.WorkspaceID, audit.WithMetadata("paused_seconds", int64(paused.Seconds())))
	return sub, nil
}

type ManualPaymentInput struct {
	SubscriptionID string `json:"subscriptionId" validate:"required"`
	Amount         int64  `json:"amount" validate:"gt=0"`
	Currency       string `json:"currency" validate:"required,len=3"`
	Reference      string `json:"reference"`
	Actor          string `json:"actor" validate:"required"`
}

// RecordManualPayment stores an out-of-band completed payment. A past_due or
// suspended subscription is reactivated and its end date moves forward by one
// billing period.
func (o *Operator) RecordManualPayment(ctx context.Context, in ManualPaymentInput) (*subscription.Subscription, error) {
	const op = OpManualPayment
	if err := o.check(op, in); err != nil {
		return nil, err
	}

	paymentID := uuid.NewString()
	if in.Reference != "" {
		paymentID = derivedID("payment", ProviderManual, in.SubscriptionID, in.Reference)
	}

	var (
		from     subscription.Status
		payment  *subscription.Payment
		inserted bool
	)
	sub, err := o.e.mutate(ctx, in.SubscriptionID, func(s *subscription.Subscription) error {
		if s.Status.IsTerminal() {
			return opError(op, "subscription is "+string(s.Status), ErrInvalidTransition)
		}
		now := o.e.now().UTC()

		if !inserted {
			payment = &subscription.Payment{
				ID:                paymentID,
				SubscriptionID:    s.ID,
				Amount:            in.Amount,
				Currency:          in.Currency,
				Status:            subscription.PaymentCompleted,
				Provider:          ProviderManual,
				ExternalReference: in.Reference,
				Manual:            true,
				CreatedAt:         now,
			}
			if err := o.e.repo.InsertPayment(ctx, payment); err != nil {
				if errors.Is(err, subscription.ErrDuplicatePayment) {
					return opError(op, "payment reference already recorded", err)
				}
				return err
			}
			inserted = true
		}

		from = s.Status
		pushPayment(s, payment)
		_ = s.RenewalAttempts.Append(subscription.RenewalAttempt{
			ID:          derivedID("renewal", payment.ID),
			AttemptedAt: now,
			Successful:  true,
		})
		if s.Status == subscription.StatusPastDue || s.Status == subscription.StatusSuspended {
			s.Status = subscription.StatusActive
			s.EndDate = s.EndDate.Add(s.Interval.Period())
		}
		return nil
	})
	if err != nil {
		return nil, o.fail(ctx, op, in.Actor, in.SubscriptionID, classify(op, err))
	}

	o.e.recordPayment(ctx, sub, payment, "")
	o.e.recordTransition(ctx, sub, from, audit.WithActor(in.Actor))
	o.done(ctx, op, in.Actor, sub.ID, sub.WorkspaceID, audit.WithMetadata("payment_id", payment.ID))

	nc := notifyContext(sub)
	nc.Amount, nc.Currency = payment.Amount, payment.Currency
	_ = o.e.notifier.PaymentReceived(ctx, o.e.recipient(ctx, sub), nc)
	return sub, nil
}

type ActivatePlanInput struct {
	WorkspaceID string `json:"workspaceId" validate:"required_without=UserID"`
	UserID      string `json:"userId"`
	PlanID      string `json:"planId" validate:"required"`
	Interval    string `json:"billingInterval" validate:"omitempty,oneof=monthly annual"`
	StartTrial  bool   `json:"startTrial"`
	Email       string `json:"email" validate:"omitempty,email"`
	Actor       string `json:"actor" validate:"required"`
}

// ActivatePlan creates a subscription for a workspace (or legacy user) that
// has none open. With StartTrial and a plan offering trial days the record
// starts in trial.
func (o *Operator) ActivatePlan(ctx context.Context, in ActivatePlanInput) (*subscription.Subscription, error) {
	const op = OpActivatePlan
	if err := o.check(op, in); err != nil {
		return nil, err
	}

	owner := subscription.CurrentOwner(in.WorkspaceID)
	if owner.IsZero() {
		owner = subscription.LegacyOwner(in.UserID)
	}

	plan, err := o.e.repo.GetPlan(ctx, in.PlanID)
	if err != nil {
		return nil, o.fail(ctx, op, in.Actor, "", classify(op, err))
	}
	if !plan.Active {
		return nil, o.fail(ctx, op, in.Actor, "", opError(op, "plan "+plan.ID+" is not active", subscription.ErrInvalidPlanConfiguration))
	}
	if owner.IsLegacy() {
		_, err = o.e.repo.GetUser(ctx, owner.ID())
	} else {
		_, err = o.e.repo.GetWorkspace(ctx, owner.ID())
	}
	if err != nil {
		return nil, o.fail(ctx, op, in.Actor, "", classify(op, err))
	}

	unlock, err := o.e.lockOwner(ctx, owner)
	if err != nil {
		return nil, o.fail(ctx, op, in.Actor, "", classify(op, err))
	}
	defer unlock()

	if existing, err := o.e.repo.FindByOwner(ctx, owner, openStatuses...); err == nil {
		return nil, o.fail(ctx, op, in.Actor, existing.ID,
			opError(op, "owner already has subscription "+existing.ID, subscription.ErrSubscriptionAlreadyExists))
	} else if !errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return nil, o.fail(ctx, op, in.Actor, "", classify(op, err))
	}

	now := o.e.now().UTC()
	sub := newSubscription(owner, plan, subscription.BillingInterval(in.Interval), now)
	sub.Provider = ProviderManual
	sub.BillingEmail = in.Email
	if in.StartTrial && plan.TrialDays > 0 {
		trialEnd := plan.TrialEndsAt(now)
		sub.Status = subscription.StatusTrial
		sub.TrialEndDate = &trialEnd
		sub.EndDate = trialEnd
	}

	if err := o.e.create(ctx, sub); err != nil {
		return nil, o.fail(ctx, op, in.Actor, "", classify(op, err))
	}

	o.done(ctx, op, in.Actor, sub.ID, sub.WorkspaceID, audit.WithMetadata("plan_id", plan.ID))
	_ = o.e.notifier.SubscriptionActivatedOrRenewed(ctx, o.e.recipient(ctx, sub), notifyContext(sub))
	return sub, nil
}

type ReactivateInput struct {
	SubscriptionID string `json:"subscriptionId" validate:"required"`
	Actor          string `json:"actor" validate:"required"`
	Reason         string `json:"reason"`
}

// Reactivate lifts a suspension. A successful renewal marker is appended so
// the since_last_success policy starts counting afresh; a term that ended
// while suspended restarts at now.
func (o *Operator) Reactivate(ctx context.Context, in ReactivateInput) (*subscription.Subscription, error) {
	const op = OpReactivate
	if err := o.check(op, in); err != nil {
		return nil, err
	}

	sub, err := o.e.mutate(ctx, in.SubscriptionID, func(s *subscription.Subscription) error {
		if s.Status != subscription.StatusSuspended {
			return opError(op, "subscription is "+string(s.Status)+", not suspended", ErrInvalidTransition)
		}
		now := o.e.now().UTC()

		s.Status = subscription.StatusActive
		s.PausedStatus = nil
		if !s.EndDate.After(now) {
			s.EndDate = now.Add(s.Interval.Period())
		}
		return s.RenewalAttempts.Append(subscription.RenewalAttempt{
			ID:          uuid.NewString(),
			AttemptedAt: now,
			Successful:  true,
			Error:       in.Reason,
		})
	})
	if err != nil {
		return nil, o.fail(ctx, op, in.Actor, in.SubscriptionID, classify(op, err))
	}

	o.e.recordTransition(ctx, sub, subscription.StatusSuspended, audit.WithActor(in.Actor))
	o.done(ctx, op, in.Actor, sub.ID, sub.WorkspaceID)
	return sub, nil
}

func (o *Operator) check(op string, in any) error {
	if err := o.validate.Struct(in); err != nil {
		return opError(op, "invalid input: "+err.Error(), ErrInvalidInput)
	}
	return nil
}

func (o *Operator) done(ctx context.Context, op, actor, subscriptionID, workspaceID string, opts ...audit.EventOption) {
	opts = append([]audit.EventOption{
		audit.WithResource(audit.ResourceSubscription, subscriptionID),
		audit.WithWorkspace(workspaceID),
		audit.WithActor(actor),
		audit.WithMetadata(audit.MetadataOperation, op),
	}, opts...)
	if err := o.e.audit.Log(ctx, audit.ActionAdminOperation, opts...); err != nil {
		o.e.log.WarnContext(ctx, "failed to write audit event", logger.Operation(op), logger.Error(err))
	}
	o.e.log.InfoContext(ctx, "admin operation applied",
		logger.Operation(op),
		logger.SubscriptionID(subscriptionID),
		slog.String("actor", actor),
	)
}

func (o *Operator) fail(ctx context.Context, op, actor, subscriptionID string, err *OperationError) error {
	if aerr := o.e.audit.LogError(ctx, audit.ActionAdminOperation, err,
		audit.WithResource(audit.ResourceSubscription, subscriptionID),
		audit.WithActor(actor),
		audit.WithResult(audit.ResultFailure),
		audit.WithMetadata(audit.MetadataOperation, op),
	); aerr != nil {
		o.e.log.WarnContext(ctx, "failed to write audit event", logger.Operation(op), logger.Error(aerr))
	}
	o.e.log.WarnContext(ctx, "admin operation rejected",
		logger.Operation(op),
		logger.SubscriptionID(subscriptionID),
		slog.String("reason", err.Reason),
	)
	return err
}

// classify turns a store or lock error into an OperationError.
func classify(op string, err error) *OperationError {
	var opErr *OperationError
	switch {
	case errors.As(err, &opErr):
		return opErr
	case errors.Is(err, subscription.ErrSubscriptionNotFound):
		return opError(op, "subscription not found", err)
	case errors.Is(err, subscription.ErrWorkspaceNotFound):
		return opError(op, "workspace not found", err)
	case errors.Is(err, subscription.ErrUserNotFound):
		return opError(op, "user not found", err)
	case errors.Is(err, subscription.ErrPlanNotFound):
		return opError(op, "plan not found", err)
	case errors.Is(err, keylock.ErrLockNotAcquired):
		return opError(op, "subscription is busy, try again", err)
	default:
		return opError(op, "internal error", err)
	}
}

func statusOrNone(s subscription.Status) string {
	if s == "" {
		return "without subscription"
	}
	return string(s)
}
