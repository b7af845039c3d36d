package subscription

import "errors"

var (
	ErrPlanNotFound             = errors.New("subscription plan not found")
	ErrInvalidPlanConfiguration = errors.New("invalid subscription plan configuration")

	ErrSubscriptionNotFound      = errors.New("subscription not found")
	ErrSubscriptionAlreadyExists = errors.New("subscription already exists")
	ErrInvalidStatus             = errors.New("invalid subscription status")
	ErrVersionConflict           = errors.New("subscription was modified concurrently")

	ErrDuplicateEntry   = errors.New("log entry already recorded")
	ErrDuplicatePayment = errors.New("payment already recorded")

	ErrWorkspaceNotFound = errors.New("workspace not found")
	ErrUserNotFound      = errors.New("user not found")
)
