package compat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/megagig/pharmacare/pkg/entitlement"
	"github.com/megagig/pharmacare/pkg/logger"
	"github.com/megagig/pharmacare/pkg/subscription"
)

// Reader is the read side of the subscription repository used by the shim.
type Reader interface {
	Get(ctx context.Context, id string) (*subscription.Subscription, error)
	FindByOwner(ctx context.Context, owner subscription.Owner, statuses ...subscription.Status) (*subscription.Subscription, error)
	GetPlan(ctx context.Context, id string) (*subscription.Plan, error)
	GetWorkspace(ctx context.Context, id string) (*subscription.Workspace, error)
	GetUser(ctx context.Context, id string) (*subscription.User, error)
}

// DefaultPlanTTL is how long a loaded plan is reused.
const DefaultPlanTTL = time.Minute

// Shim loads entitlement snapshots across both data model generations: the
// workspace's subscription first, then the user's legacy one.
type Shim struct {
	repo  Reader
	cache PlanCache
	ttl   time.Duration
	group singleflight.Group
	log   *slog.Logger
}

var _ entitlement.Loader = (*Shim)(nil)

type Option func(*Shim)

// WithCache replaces the in-memory plan cache.
func WithCache(c PlanCache) Option {
	return func(s *Shim) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithPlanTTL(d time.Duration) Option {
	return func(s *Shim) { s.ttl = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Shim) {
		if l != nil {
			s.log = l
		}
	}
}

func NewShim(repo Reader, opts ...Option) *Shim {
	s := &Shim{
		repo:  repo,
		cache: NewMemoryCache(DefaultCacheSize),
		ttl:   DefaultPlanTTL,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logger.Component("compat"))
	return s
}

// Load implements entitlement.Loader. It returns nil when neither the
// principal's workspace nor the principal carries any billing state.
func (s *Shim) Load(ctx context.Context, p entitlement.Principal) (*entitlement.Snapshot, error) {
	user, err := s.user(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	workspaceID := p.WorkspaceID
	if workspaceID == "" && user != nil {
		workspaceID = user.WorkspaceID
	}

	var snap *entitlement.Snapshot
	if workspaceID != "" {
		if snap, err = s.current(ctx, workspaceID); err != nil {
			return nil, err
		}
	}
	if snap == nil && user != nil {
		if snap, err = s.legacy(ctx, user); err != nil {
			return nil, err
		}
	}
	if snap == nil {
		return nil, nil
	}
	if user != nil {
		snap.Overrides = user.FeatureOverrides
	}

	s.log.DebugContext(ctx, "entitlement snapshot loaded",
		logger.UserID(p.UserID),
		logger.Owner(snap.Owner.String()),
		logger.Status(string(snap.Status)),
	)
	return snap, nil
}

// ResolveOwner returns the owner whose subscription governs p, or the zero
// Owner when there is none.
func (s *Shim) ResolveOwner(ctx context.Context, p entitlement.Principal) (subscription.Owner, error) {
	snap, err := s.Load(ctx, p)
	if err != nil || snap == nil {
		return subscription.Owner{}, err
	}
	return snap.Owner, nil
}

func (s *Shim) current(ctx context.Context, workspaceID string) (*entitlement.Snapshot, error) {
	ws, err := s.repo.GetWorkspace(ctx, workspaceID)
	if errors.Is(err, subscription.ErrWorkspaceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load workspace %s: %w", workspaceID, err)
	}

	owner := subscription.CurrentOwner(ws.ID)
	sub, err := s.subscription(ctx, ws.SubscriptionID, owner)
	if err != nil {
		return nil, err
	}
	if sub == nil && ws.Status == "" && ws.TrialEndDate == nil {
		return nil, nil
	}

	snap := &entitlement.Snapshot{Owner: owner, Status: ws.Status, TrialEndDate: ws.TrialEndDate}
	planID := ws.PlanID
	if sub != nil {
		snap.Subscription = sub
		snap.Status = sub.Status
		planID = sub.PlanID
		if snap.TrialEndDate == nil {
			snap.TrialEndDate = sub.TrialEndDate
		}
	}
	if snap.Plan, err = s.plan(ctx, planID); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Shim) legacy(ctx context.Context, user *subscription.User) (*entitlement.Snapshot, error) {
	owner := subscription.LegacyOwner(user.ID)
	sub, err := s.subscription(ctx, user.SubscriptionID, owner)
	if err != nil {
		return nil, err
	}
	if sub == nil && user.TrialEndDate == nil {
		return nil, nil
	}

	snap := &entitlement.Snapshot{Owner: owner, TrialEndDate: user.TrialEndDate}
	planID := user.PlanID
	if sub != nil {
		snap.Subscription = sub
		snap.Status = sub.Status
		planID = sub.PlanID
		if snap.TrialEndDate == nil {
			snap.TrialEndDate = sub.TrialEndDate
		}
	} else {
		snap.Status = subscription.StatusTrial
	}
	if snap.Plan, err = s.plan(ctx, planID); err != nil {
		return nil, err
	}
	return snap, nil
}

// subscription follows the owner's pointer, falling back to the owner's
// latest record when the pointer is unset or dangling.
func (s *Shim) subscription(ctx context.Context, id string, owner subscription.Owner) (*subscription.Subscription, error) {
	if id != "" {
		sub, err := s.repo.Get(ctx, id)
		if err == nil {
			return sub, nil
		}
		if !errors.Is(err, subscription.ErrSubscriptionNotFound) {
			return nil, fmt.Errorf("load subscription %s: %w", id, err)
		}
		s.log.WarnContext(ctx, "dangling subscription pointer",
			logger.SubscriptionID(id),
			logger.Owner(owner.String()),
		)
	}

	sub, err := s.repo.FindByOwner(ctx, owner)
	if errors.Is(err, subscription.ErrSubscriptionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find subscription of %s: %w", owner, err)
	}
	return sub, nil
}

func (s *Shim) user(ctx context.Context, id string) (*subscription.User, error) {
	if id == "" {
		return nil, nil
	}
	u, err := s.repo.GetUser(ctx, id)
	if errors.Is(err, subscription.ErrUserNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load user %s: %w", id, err)
	}
	return u, nil
}

// plan returns nil for an empty or unknown ID. Concurrent misses for the
// same plan share one store read.
func (s *Shim) plan(ctx context.Context, id string) (*subscription.Plan, error) {
	if id == "" {
		return nil, nil
	}
	if p, ok := s.cache.Get(ctx, id); ok {
		return p, nil
	}

	v, err, _ := s.group.Do(id, func() (any, error) {
		p, err := s.repo.GetPlan(ctx, id)
		if err != nil {
			return nil, err
		}
		s.cache.Set(ctx, p, s.ttl)
		return p, nil
	})
	if errors.Is(err, subscription.ErrPlanNotFound) {
		s.log.WarnContext(ctx, "subscription references unknown plan", logger.PlanID(id))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load plan %s: %w", id, err)
	}
	p := *v.(*subscription.Plan)
	return &p, nil
}
