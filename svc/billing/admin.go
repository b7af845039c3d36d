package billing

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/megagig/pharmacare/binder"
	"github.com/megagig/pharmacare/handler"
	"github.com/megagig/pharmacare/pkg/lifecycle"
)

// Admin request bodies embed the operator inputs. The subscription or
// workspace ID comes from the path and the actor from the principal, both
// overriding the body.
type (
	activateRequest struct {
		lifecycle.ActivatePlanInput
	}
	subscriptionRequest struct {
		ID string `path:"id" json:"-"`
	}
	creditRequest struct {
		ID string `path:"id" json:"-"`
		lifecycle.CreditInput
	}
	changePlanRequest struct {
		ID string `path:"id" json:"-"`
		lifecycle.ChangePlanInput
	}
	pauseRequest struct {
		ID string `path:"id" json:"-"`
		lifecycle.PauseInput
	}
	resumeRequest struct {
		ID string `path:"id" json:"-"`
		lifecycle.ResumeInput
	}
	manualPaymentRequest struct {
		ID string `path:"id" json:"-"`
		lifecycle.ManualPaymentInput
	}
	reactivateRequest struct {
		ID string `path:"id" json:"-"`
		lifecycle.ReactivateInput
	}
	extendTrialRequest struct {
		ID string `path:"id" json:"-"`
		lifecycle.ExtendTrialInput
	}
)

func (s *Service) adminRoutes(r chi.Router) {
	r.Use(requireSuperAdmin)

	path := binder.Path(chi.URLParam)
	body := binder.JSON()

	r.Post("/subscriptions", wrap(s, s.activatePlan, body))
	r.Get("/subscriptions/{id}", wrap(s, s.getSubscription, path))
	r.Get("/subscriptions/{id}/payments", wrap(s, s.listPayments, path))
	r.Post("/subscriptions/{id}/credits", wrap(s, s.applyCredit, body, path))
	r.Post("/subscriptions/{id}/plan", wrap(s, s.changePlan, body, path))
	r.Post("/subscriptions/{id}/pause", wrap(s, s.pause, optionalJSON(body), path))
	r.Post("/subscriptions/{id}/resume", wrap(s, s.resume, optionalJSON(body), path))
	r.Post("/subscriptions/{id}/payments", wrap(s, s.recordPayment, body, path))
	r.Post("/subscriptions/{id}/reactivate", wrap(s, s.reactivate, optionalJSON(body), path))
	r.Post("/workspaces/{id}/trial", wrap(s, s.extendTrial, body, path))
}

func wrap[R any](s *Service, h handler.HandlerFunc[R], binders ...handler.Bind) http.HandlerFunc {
	return handler.Wrap(h,
		handler.WithBinders[R](binders...),
		handler.WithErrorHandler[R](s.errorFunc),
	)
}

// optionalJSON accepts an empty body for operations whose fields are all
// optional.
func optionalJSON(bind handler.Bind) handler.Bind {
	return func(r *http.Request, v any) error {
		if r.ContentLength == 0 {
			return nil
		}
		return bind(r, v)
	}
}

func actor(ctx handler.Context) string {
	p, _ := principal(ctx)
	return p.UserID
}

func (s *Service) activatePlan(ctx handler.Context, req activateRequest) handler.Response {
	in := req.ActivatePlanInput
	in.Actor = actor(ctx)
	sub, err := s.operator.ActivatePlan(ctx, in)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(sub, handler.WithStatus(http.StatusCreated))
}

func (s *Service) getSubscription(ctx handler.Context, req subscriptionRequest) handler.Response {
	sub, err := s.repo.Get(ctx, req.ID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(sub)
}

func (s *Service) listPayments(ctx handler.Context, req subscriptionRequest) handler.Response {
	if _, err := s.repo.Get(ctx, req.ID); err != nil {
		return handler.Error(err)
	}
	payments, err := s.repo.ListPayments(ctx, req.ID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(payments, handler.WithMeta(map[string]any{"total": len(payments)}))
}

func (s *Service) applyCredit(ctx handler.Context, req creditRequest) handler.Response {
	in := req.CreditInput
	in.SubscriptionID, in.Actor = req.ID, actor(ctx)
	return subscriptionResponse(s.operator.ApplyCredit(ctx, in))
}

func (s *Service) changePlan(ctx handler.Context, req changePlanRequest) handler.Response {
	in := req.ChangePlanInput
	in.SubscriptionID, in.Actor = req.ID, actor(ctx)
	change, err := s.operator.ChangePlan(ctx, in)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(change)
}

func (s *Service) pause(ctx handler.Context, req pauseRequest) handler.Response {
	in := req.PauseInput
	in.SubscriptionID, in.Actor = req.ID, actor(ctx)
	return subscriptionResponse(s.operator.Pause(ctx, in))
}

func (s *Service) resume(ctx handler.Context, req resumeRequest) handler.Response {
	in := req.ResumeInput
	in.SubscriptionID, in.Actor = req.ID, actor(ctx)
	return subscriptionResponse(s.operator.Resume(ctx, in))
}

func (s *Service) recordPayment(ctx handler.Context, req manualPaymentRequest) handler.Response {
	in := req.ManualPaymentInput
	in.SubscriptionID, in.Actor = req.ID, actor(ctx)
	return subscriptionResponse(s.operator.RecordManualPayment(ctx, in))
}

func (s *Service) reactivate(ctx handler.Context, req reactivateRequest) handler.Response {
	in := req.ReactivateInput
	in.SubscriptionID, in.Actor = req.ID, actor(ctx)
	return subscriptionResponse(s.operator.Reactivate(ctx, in))
}

func (s *Service) extendTrial(ctx handler.Context, req extendTrialRequest) handler.Response {
	in := req.ExtendTrialInput
	in.WorkspaceID, in.Actor = req.ID, actor(ctx)
	ws, err := s.operator.ExtendTrial(ctx, in)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(ws)
}
