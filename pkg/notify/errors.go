package notify

import "errors"

var (
	ErrNoRecipient = errors.New("notification has no recipient")
	ErrUnknownKind = errors.New("unknown notification kind")
)
