package billing

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/megagig/pharmacare/handler"
	"github.com/megagig/pharmacare/pkg/gateway"
	"github.com/megagig/pharmacare/pkg/logger"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var (
	errNoWorkspace      = errors.New("checkout requires a workspace")
	errPlanNotAvailable = errors.New("plan is not available for checkout")
)

type checkoutRequest struct {
	PlanID     string `json:"planId" validate:"required"`
	Provider   string `json:"provider"`
	Email      string `json:"email" validate:"omitempty,email"`
	SuccessURL string `json:"successUrl" validate:"required,url"`
	CancelURL  string `json:"cancelUrl" validate:"omitempty,url"`
	TrialDays  *int   `json:"trialDays" validate:"omitempty,gte=0,lte=365"`
}

// checkout opens a hosted checkout for the caller's workspace. The plan ID
// doubles as the gateway price ID.
func (s *Service) checkout(ctx handler.Context, req checkoutRequest) handler.Response {
	p, err := principal(ctx)
	if err != nil {
		return handler.Error(err)
	}
	if p.WorkspaceID == "" {
		return handler.Error(handler.WithHTTPStatus(handler.ErrUnprocessableEntity, errNoWorkspace))
	}
	if err := validate.Struct(req); err != nil {
		return handler.Error(handler.WithHTTPStatus(handler.ErrUnprocessableEntity, err))
	}

	plan, err := s.repo.GetPlan(ctx, req.PlanID)
	if err != nil {
		return handler.Error(err)
	}
	if !plan.Active {
		return handler.Error(handler.WithHTTPStatus(handler.ErrUnprocessableEntity, errPlanNotAvailable))
	}

	gw, err := s.gateway(req.Provider)
	if err != nil {
		return handler.Error(err)
	}

	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	params := gateway.CheckoutParams{
		PriceID:     plan.ID,
		PlanID:      plan.ID,
		WorkspaceID: p.WorkspaceID,
		Email:       req.Email,
		SuccessURL:  req.SuccessURL,
		CancelURL:   req.CancelURL,
		TrialDays:   plan.TrialDays,
	}
	if req.TrialDays != nil {
		params.TrialDays = *req.TrialDays
	}
	if req.Email != "" {
		customerID, err := gw.CreateCustomer(gctx, gateway.Customer{WorkspaceID: p.WorkspaceID, Email: req.Email})
		if err != nil {
			return handler.Error(err)
		}
		params.CustomerID = customerID
	}

	session, err := gw.CreateCheckout(gctx, params)
	if err != nil {
		return handler.Error(err)
	}
	s.log.InfoContext(ctx, "checkout session created",
		logger.Provider(gw.Name()),
		logger.WorkspaceID(p.WorkspaceID),
		logger.PlanID(plan.ID),
	)
	return handler.JSON(session, handler.WithStatus(http.StatusCreated))
}

type sessionRequest struct {
	ID       string `path:"id"`
	Provider string `query:"provider"`
}

func (s *Service) checkoutSession(ctx handler.Context, req sessionRequest) handler.Response {
	if _, err := principal(ctx); err != nil {
		return handler.Error(err)
	}
	gw, err := s.gateway(req.Provider)
	if err != nil {
		return handler.Error(err)
	}

	gctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	session, err := gw.GetCheckoutSession(gctx, req.ID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(session)
}

// gateway returns the named provider, or the configured default.
func (s *Service) gateway(provider string) (gateway.Gateway, error) {
	if provider == "" {
		provider = s.cfg.Gateway.DefaultProvider
	}
	return s.gateways.Get(provider)
}

func (s *Service) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Gateway.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Gateway.Timeout)
	}
	return context.WithCancel(ctx)
}
