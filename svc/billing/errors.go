package billing

import (
	"errors"
	"net/http"

	"github.com/megagig/pharmacare/handler"
	"github.com/megagig/pharmacare/pkg/entitlement"
	"github.com/megagig/pharmacare/pkg/gateway"
	"github.com/megagig/pharmacare/pkg/keylock"
	"github.com/megagig/pharmacare/pkg/lifecycle"
	"github.com/megagig/pharmacare/pkg/subscription"
)

var (
	errNoActiveSubscription = handler.NewHTTPError(http.StatusNotFound, "no_active_subscription")
	errInvalidInput         = handler.NewHTTPError(http.StatusUnprocessableEntity, "invalid_input")
	errInvalidTransition    = handler.NewHTTPError(http.StatusConflict, "invalid_transition")
	errDuplicate            = handler.NewHTTPError(http.StatusConflict, "duplicate")
	errBusy                 = handler.NewHTTPError(http.StatusConflict, "busy")
	errGateway              = handler.NewHTTPError(http.StatusBadGateway, "gateway_error")
	errGatewayNotConfigured = handler.NewHTTPError(http.StatusServiceUnavailable, "gateway_not_configured")
	errUnavailable          = handler.NewHTTPError(http.StatusServiceUnavailable, "entitlement_unavailable")
)

// classifyError maps lifecycle, store and gateway errors onto responses.
// Administrative failures answer with the OperationError reason.
func classifyError(err error) (handler.HTTPError, string, bool) {
	message := ""
	var opErr *lifecycle.OperationError
	if errors.As(err, &opErr) {
		message = opErr.Reason
	}

	status, ok := statusOf(err)
	if !ok {
		if opErr == nil {
			return handler.HTTPError{}, "", false
		}
		return handler.ErrInternalServerError, "internal error", true
	}
	if message == "" {
		message = err.Error()
		if status.Code >= http.StatusInternalServerError {
			message = http.StatusText(status.Code)
		}
	}
	return status, message, true
}

func statusOf(err error) (handler.HTTPError, bool) {
	switch {
	case errors.Is(err, lifecycle.ErrNoActiveSubscription):
		return errNoActiveSubscription, true
	case errors.Is(err, lifecycle.ErrInvalidInput),
		errors.Is(err, subscription.ErrInvalidPlanConfiguration),
		errors.Is(err, gateway.ErrInvalidCheckout):
		return errInvalidInput, true
	case errors.Is(err, subscription.ErrSubscriptionNotFound),
		errors.Is(err, subscription.ErrWorkspaceNotFound),
		errors.Is(err, subscription.ErrUserNotFound),
		errors.Is(err, subscription.ErrPlanNotFound),
		errors.Is(err, gateway.ErrSessionNotFound):
		return handler.ErrNotFound, true
	case errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrSubscriptionPaused),
		errors.Is(err, lifecycle.ErrSubscriptionNotPaused):
		return errInvalidTransition, true
	case errors.Is(err, subscription.ErrDuplicatePayment),
		errors.Is(err, subscription.ErrSubscriptionAlreadyExists):
		return errDuplicate, true
	case errors.Is(err, keylock.ErrLockNotAcquired),
		errors.Is(err, lifecycle.ErrTooManyConflicts),
		errors.Is(err, subscription.ErrVersionConflict):
		return errBusy, true
	case errors.Is(err, gateway.ErrUnknownProvider):
		return handler.ErrBadRequest, true
	case errors.Is(err, gateway.ErrNotConfigured):
		return errGatewayNotConfigured, true
	case errors.Is(err, entitlement.ErrUnavailable):
		return errUnavailable, true
	case errors.Is(err, gateway.ErrCheckoutFailed),
		errors.Is(err, gateway.ErrCustomerFailed),
		errors.Is(err, gateway.ErrCancellationFailed):
		return errGateway, true
	}
	return handler.HTTPError{}, false
}
