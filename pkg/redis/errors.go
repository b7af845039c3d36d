package redis

import "errors"

var (
	ErrMissingURL        = errors.New("redis: REDIS_URL is not set")
	ErrInvalidURL        = errors.New("redis: invalid connection URL")
	ErrNotReady          = errors.New("redis: server not reachable before timeout")
	ErrHealthcheckFailed = errors.New("redis: ping failed")
)
