package audit

import "errors"

var (
	ErrStorageNotAvailable = errors.New("audit storage is unavailable")
	ErrEventValidation     = errors.New("audit event validation failed")
)
