package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/megagig/pharmacare/pkg/audit"
	"github.com/megagig/pharmacare/pkg/logger"
	"github.com/megagig/pharmacare/pkg/subscription"
)

// Apply dispatches a verified gateway event.
//
// Replays of an already applied event ID return OutcomeDuplicate without
// touching the record. Events that do not resolve to a local subscription or
// plan, and unknown event types, are logged and reported without error so the
// gateway stops redelivering them. A returned error means the event was not
// applied and should be retried.
func (e *Engine) Apply(ctx context.Context, evt Event) (Result, error) {
	if evt.ID == "" {
		return Result{}, ErrMissingEventID
	}

	log := e.log.With(
		logger.EventID(evt.ID),
		logger.EventType(string(evt.Type)),
		logger.Provider(evt.Provider),
	)

	var (
		res Result
		err error
	)
	switch evt.Type {
	case EventPaymentSuccessful:
		res, err = e.paymentSucceeded(ctx, evt)
	case EventPaymentFailed:
		res, err = e.paymentFailed(ctx, evt)
	case EventSubscriptionCreated, EventSubscriptionRenewed:
		res, err = e.subscriptionActivated(ctx, evt)
	case EventSubscriptionCanceled:
		res, err = e.subscriptionCanceled(ctx, evt)
	case EventSubscriptionExpiringSoon:
		res, err = e.expiringSoon(ctx, evt)
	default:
		log.InfoContext(ctx, "ignoring unhandled event type")
		return Result{Outcome: OutcomeIgnored}, nil
	}

	if errors.Is(err, subscription.ErrSubscriptionNotFound) || errors.Is(err, subscription.ErrPlanNotFound) {
		log.WarnContext(ctx, "event does not resolve to a local subscription", logger.Error(err))
		return Result{Outcome: OutcomeUnresolved}, nil
	}
	if err != nil {
		log.ErrorContext(ctx, "failed to apply event", logger.Error(err))
		return res, err
	}

	log.InfoContext(ctx, "event processed",
		slog.String("outcome", string(res.Outcome)),
		logger.SubscriptionID(res.SubscriptionID),
		logger.Status(string(res.Status)),
	)
	return res, nil
}

// resolve finds the subscription an event refers to: by local ID from the
// gateway metadata, then by gateway subscription ID, then (payments only) by
// owner.
func (e *Engine) resolve(ctx context.Context, evt Event, byOwner bool) (*subscription.Subscription, error) {
	d := evt.Data
	if d.SubscriptionID != "" {
		sub, err := e.repo.Get(ctx, d.SubscriptionID)
		if !errors.Is(err, subscription.ErrSubscriptionNotFound) {
			return sub, err
		}
	}
	if d.GatewaySubscriptionID != "" {
		sub, err := e.repo.FindByGatewayID(ctx, d.GatewaySubscriptionID)
		if !errors.Is(err, subscription.ErrSubscriptionNotFound) {
			return sub, err
		}
	}
	if owner := d.owner(); byOwner && !owner.IsZero() {
		return e.repo.FindByOwner(ctx, owner)
	}
	return nil, subscription.ErrSubscriptionNotFound
}

// createFromEvent creates the subscription described by a gateway event.
// It returns the existing record instead when one with the same gateway ID
// appeared in the meantime; created reports which happened.
func (e *Engine) createFromEvent(ctx context.Context, evt Event, status subscription.Status, recordEvent bool) (sub *subscription.Subscription, created bool, err error) {
	d := evt.Data
	owner := d.owner()
	if owner.IsZero() || d.PlanID == "" {
		return nil, false, subscription.ErrSubscriptionNotFound
	}
	plan, err := e.repo.GetPlan(ctx, d.PlanID)
	if err != nil {
		return nil, false, err
	}

	unlock, err := e.lockOwner(ctx, owner)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	if existing, err := e.resolve(ctx, evt, false); err == nil {
		return existing, false, nil
	}

	now := e.now().UTC()
	sub = newSubscription(owner, plan, subscription.BillingInterval(d.Interval), now)
	sub.Status = status
	sub.Provider = evt.Provider
	sub.GatewaySubscriptionID = d.GatewaySubscriptionID
	sub.BillingEmail = d.Email
	applyEventTerms(sub, d)
	if tier := subscription.Tier(d.Tier); tier.Valid() {
		sub.Tier = tier
	}
	if len(d.Features) > 0 {
		sub.Features = subscription.NewFeatureSet(d.Features...)
	}
	if recordEvent {
		_ = sub.WebhookEvents.Append(webhookEntry(evt, now))
	}

	err = e.create(ctx, sub)
	if errors.Is(err, subscription.ErrSubscriptionAlreadyExists) {
		if existing, rerr := e.resolve(ctx, evt, false); rerr == nil {
			return existing, false, nil
		}
	}
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

func (e *Engine) paymentSucceeded(ctx context.Context, evt Event) (Result, error) {
	sub, err := e.resolve(ctx, evt, true)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		sub, _, err = e.createFromEvent(ctx, evt, subscription.StatusActive, false)
	}
	if err != nil {
		return Result{}, err
	}

	var (
		from    subscription.Status
		payment *subscription.Payment
	)
	sub, err = e.mutate(ctx, sub.ID, func(s *subscription.Subscription) error {
		if s.HasEvent(evt.ID) {
			return errNoChange
		}
		now := e.now().UTC()

		stored, err := e.insertPayment(ctx, e.eventPayment(s, evt, subscription.PaymentCompleted, now))
		if err != nil {
			return err
		}
		payment = stored

		from = s.Status
		s.Status = subscription.StatusActive
		s.GracePeriodEnd = nil
		s.PausedStatus = nil
		if evt.Data.EndDate != nil {
			s.EndDate = evt.Data.EndDate.UTC()
		}
		pushPayment(s, payment)
		_ = s.RenewalAttempts.Append(subscription.RenewalAttempt{
			ID:          derivedID("renewal", evt.ID),
			EventID:     evt.ID,
			AttemptedAt: now,
			Successful:  true,
		})
		return s.WebhookEvents.Append(webhookEntry(evt, now))
	})
	if errors.Is(err, errNoChange) {
		return duplicate(sub), nil
	}
	if err != nil {
		return Result{}, err
	}

	e.recordPayment(ctx, sub, payment, evt.ID)
	e.recordTransition(ctx, sub, from, audit.WithMetadata(audit.MetadataEventID, evt.ID))

	nc := notifyContext(sub)
	nc.Amount, nc.Currency = payment.Amount, payment.Currency
	_ = e.notifier.PaymentReceived(ctx, e.recipient(ctx, sub), nc)

	return applied(sub), nil
}

func (e *Engine) paymentFailed(ctx context.Context, evt Event) (Result, error) {
	sub, err := e.resolve(ctx, evt, true)
	if err != nil {
		return Result{}, err
	}

	var (
		from     subscription.Status
		payment  *subscription.Payment
		decision subscription.SuspensionDecision
	)
	sub, err = e.mutate(ctx, sub.ID, func(s *subscription.Subscription) error {
		if s.HasEvent(evt.ID) {
			return errNoChange
		}
		now := e.now().UTC()

		stored, err := e.insertPayment(ctx, e.eventPayment(s, evt, subscription.PaymentFailed, now))
		if err != nil {
			return err
		}
		payment = stored

		from = s.Status
		pushPayment(s, payment)
		_ = s.RenewalAttempts.Append(subscription.RenewalAttempt{
			ID:          derivedID("renewal", evt.ID),
			EventID:     evt.ID,
			AttemptedAt: now,
			Successful:  false,
			Error:       evt.Data.FailureReason,
		})

		decision = e.policy.Evaluate(s)
		if decision.Suspend {
			s.Status = subscription.StatusSuspended
			s.PausedStatus = nil
		}
		return s.WebhookEvents.Append(webhookEntry(evt, now))
	})
	if errors.Is(err, errNoChange) {
		return duplicate(sub), nil
	}
	if err != nil {
		return Result{}, err
	}

	e.recordPayment(ctx, sub, payment, evt.ID)
	e.recordTransition(ctx, sub, from,
		audit.WithMetadata(audit.MetadataEventID, evt.ID),
		audit.WithMetadata(audit.MetadataFailures, decision.Failures),
		audit.WithMetadata(audit.MetadataThreshold, decision.Threshold),
	)

	nc := notifyContext(sub)
	nc.Amount, nc.Currency = payment.Amount, payment.Currency
	nc.FailureReason = payment.FailureReason
	nc.FailedAttempts = decision.Failures
	nc.Suspended = sub.Status == subscription.StatusSuspended
	_ = e.notifier.PaymentFailed(ctx, e.recipient(ctx, sub), nc)

	return applied(sub), nil
}

func (e *Engine) subscriptionActivated(ctx context.Context, evt Event) (Result, error) {
	status := subscription.StatusActive
	if s, err := subscription.ParseStatus(evt.Data.Status); err == nil && (s == subscription.StatusTrial || s == subscription.StatusActive) {
		status = s
	}

	sub, err := e.resolve(ctx, evt, false)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		var created bool
		sub, created, err = e.createFromEvent(ctx, evt, status, true)
		if err == nil && created {
			_ = e.notifier.SubscriptionActivatedOrRenewed(ctx, e.recipient(ctx, sub), notifyContext(sub))
			res := applied(sub)
			res.Created = true
			return res, nil
		}
	}
	if err != nil {
		return Result{}, err
	}

	var from subscription.Status
	sub, err = e.mutate(ctx, sub.ID, func(s *subscription.Subscription) error {
		if s.HasEvent(evt.ID) {
			return errNoChange
		}
		now := e.now().UTC()

		from = s.Status
		s.Status = status
		s.AutoRenew = true
		s.GracePeriodEnd = nil
		s.CancelledAt = nil
		s.PausedStatus = nil
		if s.GatewaySubscriptionID == "" {
			s.GatewaySubscriptionID = evt.Data.GatewaySubscriptionID
		}
		if s.Provider == "" {
			s.Provider = evt.Provider
		}
		applyEventTerms(s, evt.Data)
		return s.WebhookEvents.Append(webhookEntry(evt, now))
	})
	if errors.Is(err, errNoChange) {
		return duplicate(sub), nil
	}
	if err != nil {
		return Result{}, err
	}

	e.recordTransition(ctx, sub, from, audit.WithMetadata(audit.MetadataEventID, evt.ID))
	_ = e.notifier.SubscriptionActivatedOrRenewed(ctx, e.recipient(ctx, sub), notifyContext(sub))
	return applied(sub), nil
}

// subscriptionCanceled handles a gateway-side cancellation. A record still
// inside a user-initiated grace period keeps it; the gateway cancel that
// Cancel triggered must not cut the grace window short.
func (e *Engine) subscriptionCanceled(ctx context.Context, evt Event) (Result, error) {
	sub, err := e.resolve(ctx, evt, false)
	if err != nil {
		return Result{}, err
	}

	var from subscription.Status
	sub, err = e.mutate(ctx, sub.ID, func(s *subscription.Subscription) error {
		if s.HasEvent(evt.ID) {
			return errNoChange
		}
		now := e.now().UTC()

		from = s.Status
		s.AutoRenew = false
		if !inGracePeriod(s, now) {
			s.Status = subscription.StatusCancelled
		}
		if s.CancelledAt == nil {
			s.CancelledAt = &now
		}
		return s.WebhookEvents.Append(webhookEntry(evt, now))
	})
	if errors.Is(err, errNoChange) {
		return duplicate(sub), nil
	}
	if err != nil {
		return Result{}, err
	}

	e.recordTransition(ctx, sub, from, audit.WithMetadata(audit.MetadataEventID, evt.ID))
	if from != sub.Status {
		_ = e.notifier.SubscriptionCancelled(ctx, e.recipient(ctx, sub), notifyContext(sub))
	}
	return applied(sub), nil
}

func (e *Engine) expiringSoon(ctx context.Context, evt Event) (Result, error) {
	sub, err := e.resolve(ctx, evt, false)
	if err != nil {
		return Result{}, err
	}

	sub, err = e.mutate(ctx, sub.ID, func(s *subscription.Subscription) error {
		if s.HasEvent(evt.ID) {
			return errNoChange
		}
		return s.WebhookEvents.Append(webhookEntry(evt, e.now().UTC()))
	})
	if errors.Is(err, errNoChange) {
		return duplicate(sub), nil
	}
	if err != nil {
		return Result{}, err
	}

	_ = e.notifier.ExpiringSoon(ctx, e.recipient(ctx, sub), notifyContext(sub))
	return applied(sub), nil
}

// eventPayment builds the payment carried by a gateway event. The ID is
// derived from the event so a retried insert collides with the first one.
func (e *Engine) eventPayment(s *subscription.Subscription, evt Event, status subscription.PaymentStatus, now time.Time) *subscription.Payment {
	d := evt.Data
	amount, currency := d.Amount, d.Currency
	if amount == 0 {
		amount = s.PriceAtPurchase.Amount
	}
	if currency == "" {
		currency = s.PriceAtPurchase.Currency
	}
	p := &subscription.Payment{
		ID:                derivedID("payment", evt.Provider, evt.ID),
		SubscriptionID:    s.ID,
		Amount:            amount,
		Currency:          currency,
		Status:            status,
		Provider:          evt.Provider,
		ExternalReference: d.TransactionID,
		EventID:           evt.ID,
		CreatedAt:         now,
	}
	if status == subscription.PaymentFailed {
		p.FailureReason = d.FailureReason
		if p.FailureReason == "" {
			p.FailureReason = "payment failed"
		}
	}
	return p
}

// insertPayment stores p and returns the stored row. A duplicate means an
// earlier attempt already stored the same settlement; the existing row is
// returned so the history points at a payment that exists.
func (e *Engine) insertPayment(ctx context.Context, p *subscription.Payment) (*subscription.Payment, error) {
	err := e.repo.InsertPayment(ctx, p)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, subscription.ErrDuplicatePayment) {
		return nil, err
	}

	payments, err := e.repo.ListPayments(ctx, p.SubscriptionID)
	if err != nil {
		return nil, err
	}
	for i := range payments {
		if p.Duplicates(&payments[i]) {
			e.log.DebugContext(ctx, "payment already recorded",
				logger.PaymentID(payments[i].ID),
				logger.EventID(p.EventID),
			)
			return &payments[i], nil
		}
	}
	return nil, fmt.Errorf("payment %s collides with a payment of another subscription: %w", p.ID, subscription.ErrDuplicatePayment)
}

func (e *Engine) recordPayment(ctx context.Context, sub *subscription.Subscription, p *subscription.Payment, eventID string) {
	opts := []audit.EventOption{
		audit.WithResource(audit.ResourcePayment, p.ID),
		audit.WithWorkspace(sub.WorkspaceID),
		audit.WithMetadata("subscription_id", sub.ID),
		audit.WithMetadata("status", string(p.Status)),
		audit.WithMetadata("amount", p.Amount),
	}
	if eventID != "" {
		opts = append(opts, audit.WithMetadata(audit.MetadataEventID, eventID))
	}
	if err := e.audit.Log(ctx, audit.ActionPaymentRecorded, opts...); err != nil {
		e.log.WarnContext(ctx, "failed to write audit event", logger.PaymentID(p.ID), logger.Error(err))
	}
}

// pushPayment adds a reference to p unless the history already has it.
func pushPayment(s *subscription.Subscription, p *subscription.Payment) {
	for _, ref := range s.PaymentHistory {
		if ref.PaymentID == p.ID {
			return
		}
	}
	s.PaymentHistory = append(s.PaymentHistory, p.Ref())
}

func applyEventTerms(s *subscription.Subscription, d EventData) {
	if d.StartDate != nil {
		s.StartDate = d.StartDate.UTC()
	}
	if d.EndDate != nil {
		s.EndDate = d.EndDate.UTC()
	}
	if d.TrialEndDate != nil {
		t := d.TrialEndDate.UTC()
		s.TrialEndDate = &t
	}
	if d.Email != "" {
		s.BillingEmail = d.Email
	}
}

func inGracePeriod(s *subscription.Subscription, now time.Time) bool {
	return s.Status == subscription.StatusGracePeriod && s.GracePeriodEnd != nil && now.Before(*s.GracePeriodEnd)
}

func webhookEntry(evt Event, now time.Time) subscription.WebhookEvent {
	return subscription.WebhookEvent{
		EventID:     evt.ID,
		EventType:   string(evt.Type),
		ProcessedAt: now,
		RawPayload:  string(evt.Raw),
	}
}

func applied(sub *subscription.Subscription) Result {
	return Result{Outcome: OutcomeApplied, SubscriptionID: sub.ID, Status: sub.Status}
}

func duplicate(sub *subscription.Subscription) Result {
	res := Result{Outcome: OutcomeDuplicate}
	if sub != nil {
		res.SubscriptionID = sub.ID
		res.Status = sub.Status
	}
	return res
}
