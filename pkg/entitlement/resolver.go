package entitlement

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/megagig/pharmacare/pkg/logger"
	"github.com/megagig/pharmacare/pkg/subscription"
)

// Snapshot is everything the resolver needs about a principal's billing
// state, loaded from whichever data model generation holds it.
type Snapshot struct {
	Owner        subscription.Owner
	Subscription *subscription.Subscription // nil for a workspace trialing without a record
	Plan         *subscription.Plan         // nil when the plan no longer exists
	Status       subscription.Status
	TrialEndDate *time.Time
	Overrides    subscription.FeatureSet
}

// Loader loads the snapshot for a principal. A nil snapshot with a nil
// error means the principal has no workspace or subscription context.
type Loader interface {
	Load(ctx context.Context, p Principal) (*Snapshot, error)
}

// Resolver makes the per-request access decision. It only reads, so it never
// waits on a subscription lock held by a webhook in flight.
type Resolver struct {
	loader  Loader
	now     func() time.Time
	log     *slog.Logger
	metrics *Metrics
}

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		if now != nil {
			r.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

func NewResolver(loader Loader, opts ...Option) *Resolver {
	if loader == nil {
		panic("entitlement: nil loader")
	}
	r := &Resolver{loader: loader, now: time.Now, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.With(logger.Component("entitlement"))
	return r
}

// Resolve decides whether p may proceed and, when feature is not empty,
// whether p may use that feature.
//
// Order: super admins bypass; no context soft-fails; an expired trial
// without an independently active subscription blocks; then the stored
// status decides. Unknown statuses fail open with Valid=false.
func (r *Resolver) Resolve(ctx context.Context, p Principal, feature string) (Decision, error) {
	d, err := r.resolve(ctx, p, feature)
	if err != nil {
		r.log.ErrorContext(ctx, "failed to resolve entitlement",
			logger.UserID(p.UserID),
			logger.WorkspaceID(p.WorkspaceID),
			logger.Error(err),
		)
		return Decision{Reason: ReasonEntitlementFailed}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !d.Valid || d.Warning {
		r.log.WarnContext(ctx, "degraded entitlement decision",
			logger.UserID(p.UserID),
			logger.WorkspaceID(p.WorkspaceID),
			logger.Status(string(d.Status)),
			slog.String("reason", string(d.Reason)),
		)
	}
	r.metrics.observe(d)
	return d, nil
}

func (r *Resolver) resolve(ctx context.Context, p Principal, feature string) (Decision, error) {
	if p.SuperAdmin {
		return Decision{Allowed: true, Valid: true, Reason: ReasonBypass, Source: SourceBypass, Feature: feature}, nil
	}

	snap, err := r.loader.Load(ctx, p)
	if err != nil {
		return Decision{}, err
	}
	overrides := p.Overrides

	var d Decision
	if snap == nil {
		d = Decision{Allowed: true, Reason: ReasonNoSubscription}
	} else {
		overrides = overrides.Union(snap.Overrides)
		d = evaluate(snap, r.now())
		d.Status = snap.Status
		d.Generation = snap.Owner.Generation()
		d.FeatureSet = featureSet(snap, overrides)
		if snap.Subscription != nil {
			d.SubscriptionID = snap.Subscription.ID
			d.PlanID = snap.Subscription.PlanID
		}
	}
	if d.FeatureSet == nil {
		d.FeatureSet = subscription.NewFeatureSet(overrides...)
	}

	if feature == "" || d.BlockAccess {
		return d, nil
	}
	d.Feature = feature

	var sub *subscription.Subscription
	var plan *subscription.Plan
	if snap != nil {
		sub, plan = snap.Subscription, snap.Plan
	}
	src, ok := HasFeatureAccess(sub, plan, overrides, feature)
	if !ok {
		d.Allowed = false
		d.UpgradeRequired = true
		if d.Reason == ReasonNone || d.Warning {
			d.Reason = ReasonFeatureNotInPlan
		}
		return d, nil
	}
	d.Source = src
	return d, nil
}

// evaluate applies the trial and status rules to a loaded snapshot.
func evaluate(snap *Snapshot, now time.Time) Decision {
	if snap.TrialEndDate != nil && now.After(*snap.TrialEndDate) && !independentlyActive(snap) {
		return blocked(ReasonTrialExpired)
	}

	switch snap.Status {
	case subscription.StatusTrial, subscription.StatusActive:
		return Decision{Allowed: true, Valid: true}
	case subscription.StatusPastDue:
		return Decision{Allowed: true, Valid: true, Warning: true, Reason: ReasonPastDue}
	case subscription.StatusGracePeriod:
		sub := snap.Subscription
		if sub != nil && sub.GracePeriodEnd != nil && !now.Before(*sub.GracePeriodEnd) {
			return blocked(ReasonGracePeriodEnded)
		}
		return Decision{Allowed: true, Valid: true}
	case subscription.StatusSuspended:
		return blocked(ReasonSuspended)
	case subscription.StatusExpired:
		return blocked(ReasonExpired)
	case subscription.StatusCancelled:
		return blocked(ReasonCancelled)
	case subscription.StatusPaused:
		return Decision{Allowed: true, Reason: ReasonPaused}
	case "":
		return Decision{Allowed: true, Reason: ReasonNoSubscription}
	default:
		return Decision{Allowed: true, Reason: ReasonUnknownStatus}
	}
}

// independentlyActive reports whether the subscription has left its trial.
// Once it has, the trial dates stop governing access and the status rules
// decide alone.
func independentlyActive(snap *Snapshot) bool {
	sub := snap.Subscription
	return sub != nil && sub.Status != "" && sub.Status != subscription.StatusTrial
}

func blocked(reason Reason) Decision {
	return Decision{Valid: true, BlockAccess: true, UpgradeRequired: true, Reason: reason}
}

// HasFeatureAccess reports whether key is granted and by which source,
// checking subscription features, custom features, principal overrides and
// plan features in that order. sub and plan may be nil.
func HasFeatureAccess(sub *subscription.Subscription, plan *subscription.Plan, overrides subscription.FeatureSet, key string) (Source, bool) {
	switch {
	case sub != nil && sub.Features.Has(key):
		return SourceSubscription, true
	case sub != nil && sub.CustomFeatures.Has(key):
		return SourceCustom, true
	case overrides.Has(key):
		return SourceOverride, true
	case plan != nil && plan.Features.Has(key):
		return SourcePlan, true
	}
	return SourceNone, false
}

func featureSet(snap *Snapshot, overrides subscription.FeatureSet) subscription.FeatureSet {
	var set subscription.FeatureSet
	if sub := snap.Subscription; sub != nil {
		set = set.Union(sub.Features).Union(sub.CustomFeatures)
	}
	set = set.Union(overrides)
	if snap.Plan != nil {
		set = set.Union(snap.Plan.Features)
	}
	return set
}
