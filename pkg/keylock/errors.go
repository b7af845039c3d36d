package keylock

import "errors"

var (
	ErrLockNotAcquired    = errors.New("lock not acquired")
	ErrBackendUnavailable = errors.New("lock backend unavailable")
)
