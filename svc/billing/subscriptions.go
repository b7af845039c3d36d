package billing

import (
	"context"

	"github.com/megagig/pharmacare/handler"
	"github.com/megagig/pharmacare/pkg/entitlement"
	"github.com/megagig/pharmacare/pkg/logger"
	"github.com/megagig/pharmacare/pkg/subscription"
)

type entitlementRequest struct {
	Feature string `query:"feature"`
}

// entitlements reports the caller's access decision, optionally for one
// feature. Blocked decisions are returned with 200; enforcement belongs to
// entitlement.Middleware.
func (s *Service) entitlements(ctx handler.Context, req entitlementRequest) handler.Response {
	p, err := principal(ctx)
	if err != nil {
		return handler.Error(err)
	}
	d, err := s.resolver.Resolve(ctx, p, req.Feature)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(d)
}

// cancel starts the grace period of the caller's active subscription.
func (s *Service) cancel(ctx handler.Context, _ struct{}) handler.Response {
	p, err := principal(ctx)
	if err != nil {
		return handler.Error(err)
	}
	owner, err := s.shim.ResolveOwner(ctx, p)
	if err != nil {
		return handler.Error(err)
	}

	sub, err := s.engine.Cancel(ctx, owner, p.UserID)
	if err != nil {
		return handler.Error(err)
	}
	s.log.InfoContext(ctx, "subscription cancelled by user",
		logger.SubscriptionID(sub.ID),
		logger.Owner(owner.String()),
		logger.UserID(p.UserID),
	)
	return handler.JSON(sub)
}

// plans lists the plans open for checkout.
func (s *Service) plans(ctx handler.Context, _ struct{}) handler.Response {
	all, err := s.repo.ListPlans(ctx)
	if err != nil {
		return handler.Error(err)
	}
	active := make([]subscription.Plan, 0, len(all))
	for _, p := range all {
		if p.Active {
			active = append(active, p)
		}
	}
	return handler.JSON(active)
}

func principal(ctx context.Context) (entitlement.Principal, error) {
	p, ok := entitlement.PrincipalFromContext(ctx)
	if !ok {
		return entitlement.Principal{}, handler.ErrUnauthorized
	}
	return p, nil
}

func subscriptionResponse(sub *subscription.Subscription, err error) handler.Response {
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(sub)
}
