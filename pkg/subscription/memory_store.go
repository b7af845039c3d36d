package subscription

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// MemoryStore is an in-memory Repository.
// Records are deep-copied on the way in and out, so callers never share state
// with the store. Suitable for tests and single-process deployments.
type MemoryStore struct {
	mu         sync.RWMutex
	subs       map[string]*Subscription
	payments   map[string]Payment
	plans      map[string]Plan
	workspaces map[string]Workspace
	users      map[string]User
}

// NewMemoryStore returns an empty store seeded with the given plans.
func NewMemoryStore(plans ...Plan) *MemoryStore {
	s := &MemoryStore{
		subs:       make(map[string]*Subscription),
		payments:   make(map[string]Payment),
		plans:      make(map[string]Plan),
		workspaces: make(map[string]Workspace),
		users:      make(map[string]User),
	}
	for _, p := range plans {
		s.plans[p.ID] = clonePlan(p)
	}
	return s
}

var _ Repository = (*MemoryStore)(nil)

func (s *MemoryStore) Get(ctx context.Context, id string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return sub.Clone(), nil
}

func (s *MemoryStore) FindByGatewayID(ctx context.Context, gatewaySubscriptionID string) (*Subscription, error) {
	if gatewaySubscriptionID == "" {
		return nil, ErrSubscriptionNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		if sub.GatewaySubscriptionID == gatewaySubscriptionID {
			return sub.Clone(), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemoryStore) FindByOwner(ctx context.Context, owner Owner, statuses ...Status) (*Subscription, error) {
	if owner.IsZero() {
		return nil, ErrSubscriptionNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Subscription
	for _, sub := range s.subs {
		if !ownedBy(sub, owner) {
			continue
		}
		if len(statuses) > 0 && !slices.Contains(statuses, sub.Status) {
			continue
		}
		if found == nil || sub.CreatedAt.After(found.CreatedAt) {
			found = sub
		}
	}
	if found == nil {
		return nil, ErrSubscriptionNotFound
	}
	return found.Clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.subs[sub.ID]; exists {
		return ErrSubscriptionAlreadyExists
	}
	if sub.GatewaySubscriptionID != "" {
		for _, existing := range s.subs {
			if existing.GatewaySubscriptionID == sub.GatewaySubscriptionID {
				return ErrSubscriptionAlreadyExists
			}
		}
	}

	sub.Version = 1
	s.subs[sub.ID] = sub.Clone()
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.subs[sub.ID]
	if !ok {
		return ErrSubscriptionNotFound
	}
	if current.Version != sub.Version {
		return ErrVersionConflict
	}

	sub.Version++
	s.subs[sub.ID] = sub.Clone()
	return nil
}

func (s *MemoryStore) InsertPayment(ctx context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.payments {
		if p.Duplicates(&existing) {
			return ErrDuplicatePayment
		}
	}

	s.payments[p.ID] = *p
	return nil
}

func (s *MemoryStore) ListPayments(ctx context.Context, subscriptionID string) ([]Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Payment, 0)
	for _, p := range s.payments {
		if p.SubscriptionID == subscriptionID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b Payment) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetPlan(ctx context.Context, id string) (*Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[id]
	if !ok {
		return nil, ErrPlanNotFound
	}
	cp := clonePlan(p)
	return &cp, nil
}

func (s *MemoryStore) ListPlans(ctx context.Context) ([]Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Plan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, clonePlan(p))
	}
	slices.SortFunc(out, func(a, b Plan) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *MemoryStore) SavePlan(ctx context.Context, plan *Plan) error {
	if plan.ID == "" {
		return ErrInvalidPlanConfiguration
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[plan.ID] = clonePlan(*plan)
	return nil
}

func (s *MemoryStore) GetWorkspace(ctx context.Context, id string) (*Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ws, ok := s.workspaces[id]
	if !ok {
		return nil, ErrWorkspaceNotFound
	}
	ws.TrialEndDate = cloneTime(ws.TrialEndDate)
	return &ws, nil
}

func (s *MemoryStore) SaveWorkspace(ctx context.Context, ws *Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *ws
	cp.TrialEndDate = cloneTime(ws.TrialEndDate)
	s.workspaces[ws.ID] = cp
	return nil
}

func (s *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	u.TrialEndDate = cloneTime(u.TrialEndDate)
	u.FeatureOverrides = slices.Clone(u.FeatureOverrides)
	return &u, nil
}

func (s *MemoryStore) SaveUser(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *u
	cp.TrialEndDate = cloneTime(u.TrialEndDate)
	cp.FeatureOverrides = slices.Clone(u.FeatureOverrides)
	s.users[u.ID] = cp
	return nil
}

func ownedBy(sub *Subscription, owner Owner) bool {
	if owner.IsLegacy() {
		return sub.UserID == owner.ID()
	}
	return sub.WorkspaceID == owner.ID()
}

func clonePlan(p Plan) Plan {
	p.Features = slices.Clone(p.Features)
	p.Limits = p.Limits.clone()
	return p
}
