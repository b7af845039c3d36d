package logger

import (
	"log/slog"
	"strconv"
	"time"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Error records err under the key "error".
// A nil error yields an empty Attr, which slog drops.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

// Errors groups the non-nil errors under the key "errors".
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.String(strconv.Itoa(i), err.Error()))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// optional returns an empty Attr for empty values so call sites can pass
// identifiers that may not be set without branching.
func optional(key, v string) slog.Attr {
	if v == "" {
		return slog.Attr{}
	}
	return slog.String(key, v)
}

func SubscriptionID(id string) slog.Attr { return optional("subscription_id", id) }
func WorkspaceID(id string) slog.Attr    { return optional("workspace_id", id) }
func UserID(id string) slog.Attr         { return optional("user_id", id) }
func PlanID(id string) slog.Attr         { return optional("plan_id", id) }
func PaymentID(id string) slog.Attr      { return optional("payment_id", id) }
func EventID(id string) slog.Attr        { return optional("event_id", id) }
func EventType(t string) slog.Attr       { return optional("event_type", t) }
func Provider(name string) slog.Attr     { return optional("provider", name) }
func RequestID(id string) slog.Attr      { return optional("request_id", id) }

// Status records a subscription status under the key "status".
func Status(s string) slog.Attr {
	return optional("status", s)
}

// Transition records a status change as "from" and "to" inside a "transition" group.
func Transition(from, to string) slog.Attr {
	return Group("transition", slog.String("from", from), slog.String("to", to))
}

// Owner records the resolved owner of a subscription, e.g. "workspace:ws-1".
func Owner(owner string) slog.Attr {
	return optional("owner", owner)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Operation records an administrative operation name.
func Operation(name string) slog.Attr {
	return slog.String("operation", name)
}

// Duration records d in milliseconds under the key "duration_ms".
func Duration(d time.Duration) slog.Attr {
	return slog.Int64("duration_ms", d.Milliseconds())
}
