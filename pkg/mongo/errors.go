package mongo

import "errors"

var (
	ErrMissingURL        = errors.New("mongo: MONGODB_URL is not set")
	ErrConnect           = errors.New("mongo: could not connect")
	ErrHealthcheckFailed = errors.New("mongo: ping failed")
)
