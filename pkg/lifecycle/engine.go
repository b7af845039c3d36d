package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/megagig/pharmacare/pkg/audit"
	"github.com/megagig/pharmacare/pkg/gateway"
	"github.com/megagig/pharmacare/pkg/keylock"
	"github.com/megagig/pharmacare/pkg/logger"
	"github.com/megagig/pharmacare/pkg/notify"
	"github.com/megagig/pharmacare/pkg/subscription"
)

// errNoChange aborts a mutation without writing. Returned by apply functions
// when the change is already in place, e.g. on event replay.
var errNoChange = errors.New("no change")

// Engine applies gateway events and user cancellations to subscriptions.
// Every write goes through mutate, which holds the per-subscription lock and
// persists with a version compare-and-swap.
type Engine struct {
	repo            subscription.Repository
	locker          keylock.Locker
	notifier        notify.Notifier
	rawNotifier     notify.Notifier
	notifierTimeout time.Duration
	audit           audit.Recorder
	gateways        *gateway.Registry
	gatewayTimeout  time.Duration
	policy          subscription.SuspensionPolicy
	gracePeriod     time.Duration
	maxRetries      int
	now             func() time.Time
	log             *slog.Logger
}

// NewEngine creates an Engine. Panics if repo is nil.
func NewEngine(repo subscription.Repository, opts ...Option) *Engine {
	if repo == nil {
		panic("lifecycle: repository is required")
	}

	e := &Engine{
		repo:           repo,
		locker:         keylock.NewMemory(),
		audit:          audit.Nop{},
		gatewayTimeout: 10 * time.Second,
		policy:         subscription.DefaultSuspensionPolicy(),
		gracePeriod:    DefaultGracePeriod,
		maxRetries:     3,
		now:            time.Now,
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.log = e.log.With(logger.Component("lifecycle"))
	e.notifier = notify.NewSafe(e.rawNotifier, e.notifierTimeout, e.log)
	return e
}

// Policy returns the suspension policy in use.
func (e *Engine) Policy() subscription.SuspensionPolicy {
	return e.policy
}

// mutate serializes read-apply-write on one subscription. apply receives a
// private copy; returning errNoChange (or any error) skips the write.
// Version conflicts are retried up to maxRetries times.
func (e *Engine) mutate(ctx context.Context, id string, apply func(sub *subscription.Subscription) error) (*subscription.Subscription, error) {
	unlock, err := e.locker.Lock(ctx, "subscription:"+id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 0; ; attempt++ {
		sub, err := e.repo.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := apply(sub); err != nil {
			return sub, err
		}

		sub.UpdatedAt = e.now().UTC()
		err = e.repo.Update(ctx, sub)
		if err == nil {
			e.syncOwner(ctx, sub)
			return sub, nil
		}
		if !errors.Is(err, subscription.ErrVersionConflict) {
			return nil, err
		}
		if attempt >= e.maxRetries {
			return nil, errors.Join(ErrTooManyConflicts, err)
		}
		e.log.DebugContext(ctx, "retrying after version conflict",
			logger.SubscriptionID(id),
			slog.Int("attempt", attempt+1),
		)
	}
}

// create inserts a new subscription while holding the owner's creation lock.
func (e *Engine) create(ctx context.Context, sub *subscription.Subscription) error {
	if err := e.repo.Create(ctx, sub); err != nil {
		return err
	}
	e.syncOwner(ctx, sub)
	e.record(ctx, audit.ActionSubscriptionCreated, sub,
		audit.WithMetadata(audit.MetadataToStatus, string(sub.Status)),
	)
	e.log.InfoContext(ctx, "subscription created",
		logger.SubscriptionID(sub.ID),
		logger.Owner(sub.Owner().String()),
		logger.PlanID(sub.PlanID),
		logger.Status(string(sub.Status)),
	)
	return nil
}

func (e *Engine) lockOwner(ctx context.Context, owner subscription.Owner) (func(), error) {
	return e.locker.Lock(ctx, "owner:"+owner.String())
}

// newSubscription builds an active record for owner on plan starting at now.
func newSubscription(owner subscription.Owner, plan *subscription.Plan, interval subscription.BillingInterval, now time.Time) *subscription.Subscription {
	if interval == "" {
		interval = plan.Interval
	}
	if interval == "" {
		interval = subscription.BillingIntervalMonthly
	}

	sub := &subscription.Subscription{
		ID:              uuid.NewString(),
		PlanID:          plan.ID,
		Tier:            plan.Tier,
		Status:          subscription.StatusActive,
		StartDate:       now,
		EndDate:         now.Add(interval.Period()),
		AutoRenew:       true,
		Interval:        interval,
		PriceAtPurchase: plan.Price,
		Features:        subscription.NewFeatureSet(plan.Features...),
		Limits:          plan.Limits,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if owner.IsLegacy() {
		sub.UserID = owner.ID()
	} else {
		sub.WorkspaceID = owner.ID()
	}
	return sub
}

// syncOwner points the owning workspace (or legacy user) at sub.
// Failures are logged; the subscription record is the source of truth.
func (e *Engine) syncOwner(ctx context.Context, sub *subscription.Subscription) {
	owner := sub.Owner()
	if owner.IsZero() {
		return
	}

	var err error
	if owner.IsLegacy() {
		err = e.syncUser(ctx, owner.ID(), sub)
	} else {
		err = e.syncWorkspace(ctx, owner.ID(), sub)
	}
	if err != nil && !errors.Is(err, subscription.ErrWorkspaceNotFound) && !errors.Is(err, subscription.ErrUserNotFound) {
		e.log.WarnContext(ctx, "failed to update owner pointers",
			logger.SubscriptionID(sub.ID),
			logger.Owner(owner.String()),
			logger.Error(err),
		)
	}
}

func (e *Engine) syncWorkspace(ctx context.Context, id string, sub *subscription.Subscription) error {
	ws, err := e.repo.GetWorkspace(ctx, id)
	if err != nil {
		return err
	}
	ws.SubscriptionID = sub.ID
	ws.PlanID = sub.PlanID
	ws.Status = sub.Status
	if sub.TrialEndDate != nil {
		t := *sub.TrialEndDate
		ws.TrialEndDate = &t
	}
	ws.UpdatedAt = e.now().UTC()
	return e.repo.SaveWorkspace(ctx, ws)
}

func (e *Engine) syncUser(ctx context.Context, id string, sub *subscription.Subscription) error {
	u, err := e.repo.GetUser(ctx, id)
	if err != nil {
		return err
	}
	u.SubscriptionID = sub.ID
	u.PlanID = sub.PlanID
	if sub.TrialEndDate != nil {
		t := *sub.TrialEndDate
		u.TrialEndDate = &t
	}
	return e.repo.SaveUser(ctx, u)
}

// recipient finds the address billing notifications go to.
func (e *Engine) recipient(ctx context.Context, sub *subscription.Subscription) string {
	if sub.BillingEmail != "" {
		return sub.BillingEmail
	}

	userID := sub.UserID
	if sub.WorkspaceID != "" {
		ws, err := e.repo.GetWorkspace(ctx, sub.WorkspaceID)
		if err != nil {
			return ""
		}
		userID = ws.OwnerID
	}
	if userID == "" {
		return ""
	}
	u, err := e.repo.GetUser(ctx, userID)
	if err != nil {
		return ""
	}
	return u.Email
}

func notifyContext(sub *subscription.Subscription) notify.Context {
	return notify.Context{
		SubscriptionID: sub.ID,
		WorkspaceID:    sub.WorkspaceID,
		PlanID:         sub.PlanID,
		Tier:           string(sub.Tier),
		Status:         string(sub.Status),
		Amount:         sub.PriceAtPurchase.Amount,
		Currency:       sub.PriceAtPurchase.Currency,
		EndDate:        sub.EndDate,
		GracePeriodEnd: sub.GracePeriodEnd,
	}
}

// record writes an audit event about sub. Audit failures are logged only.
func (e *Engine) record(ctx context.Context, action string, sub *subscription.Subscription, opts ...audit.EventOption) {
	opts = append([]audit.EventOption{
		audit.WithResource(audit.ResourceSubscription, sub.ID),
		audit.WithWorkspace(sub.WorkspaceID),
	}, opts...)
	if err := e.audit.Log(ctx, action, opts...); err != nil {
		e.log.WarnContext(ctx, "failed to write audit event",
			slog.String("action", action),
			logger.SubscriptionID(sub.ID),
			logger.Error(err),
		)
	}
}

// recordTransition audits a status change, if there was one.
func (e *Engine) recordTransition(ctx context.Context, sub *subscription.Subscription, from subscription.Status, opts ...audit.EventOption) {
	if from == sub.Status {
		return
	}

	action := audit.ActionSubscriptionTransition
	switch sub.Status {
	case subscription.StatusSuspended:
		action = audit.ActionSubscriptionSuspended
	case subscription.StatusCancelled, subscription.StatusGracePeriod:
		action = audit.ActionSubscriptionCancelled
	}

	e.record(ctx, action, sub, append(opts,
		audit.WithMetadata(audit.MetadataFromStatus, string(from)),
		audit.WithMetadata(audit.MetadataToStatus, string(sub.Status)),
	)...)
	e.log.InfoContext(ctx, "subscription status changed",
		logger.SubscriptionID(sub.ID),
		logger.Transition(string(from), string(sub.Status)),
	)
}

// cancelRemote stops renewal at the gateway. Best-effort and bounded.
func (e *Engine) cancelRemote(ctx context.Context, sub *subscription.Subscription) {
	if sub.GatewaySubscriptionID == "" || e.gateways == nil {
		return
	}

	log := e.log.With(
		logger.SubscriptionID(sub.ID),
		logger.Provider(sub.Provider),
	)
	g, err := e.gateways.Get(sub.Provider)
	if err != nil {
		log.WarnContext(ctx, "no gateway for subscription provider", logger.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, e.gatewayTimeout)
	defer cancel()

	start := time.Now()
	if err := g.CancelSubscription(ctx, sub.GatewaySubscriptionID); err != nil {
		log.WarnContext(ctx, "gateway cancellation failed", logger.Error(err), logger.Duration(time.Since(start)))
		return
	}
	log.InfoContext(ctx, "gateway subscription cancelled", logger.Duration(time.Since(start)))
}

var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:pharmacare:billing"))

// derivedID returns a stable ID for parts, so a retried write produces the
// same payment or log entry instead of a second one.
func derivedID(parts ...string) string {
	return uuid.NewSHA1(idNamespace, []byte(strings.Join(parts, "\x00"))).String()
}
