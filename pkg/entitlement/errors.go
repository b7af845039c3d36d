package entitlement

import "errors"

var (
	ErrNoPrincipal = errors.New("no principal in context")
	ErrUnavailable = errors.New("entitlement lookup failed")
)
