package audit

import (
	"fmt"
	"time"
)

// Result represents the outcome of an audited action.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
	ResultError   Result = "error"
)

// Actions recorded by the billing engine.
const (
	ActionSubscriptionCreated    = "subscription.created"
	ActionSubscriptionTransition = "subscription.status_changed"
	ActionSubscriptionSuspended  = "subscription.suspended"
	ActionSubscriptionCancelled  = "subscription.cancelled"
	ActionPaymentRecorded        = "payment.recorded"
	ActionAdminOperation         = "subscription.admin_operation"
)

const (
	ResourceSubscription = "subscription"
	ResourcePayment      = "payment"
)

// Metadata keys.
const (
	MetadataFromStatus = "from_status"
	MetadataToStatus   = "to_status"
	MetadataEventID    = "event_id"
	MetadataOperation  = "operation"
	MetadataFailures   = "failures"
	MetadataThreshold  = "threshold"
)

// Event is a single audit record.
type Event struct {
	ID          string         `json:"id" bson:"_id"`
	WorkspaceID string         `json:"workspace_id,omitempty" bson:"workspace_id,omitempty"`
	ActorID     string         `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
	Action      string         `json:"action" bson:"action"`
	Resource    string         `json:"resource,omitempty" bson:"resource,omitempty"`
	ResourceID  string         `json:"resource_id,omitempty" bson:"resource_id,omitempty"`
	Result      Result         `json:"result" bson:"result"`
	Error       string         `json:"error,omitempty" bson:"error,omitempty"`
	RequestID   string         `json:"request_id,omitempty" bson:"request_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at" bson:"created_at"`
}

// Validate checks if the event has all required fields.
func (e *Event) Validate() error {
	if e.Action == "" {
		return fmt.Errorf("%w: action is required", ErrEventValidation)
	}
	return nil
}

// EventOption applies configuration to an Event during creation.
type EventOption func(*Event)

// WithResource sets the resource type and ID.
func WithResource(resource, id string) EventOption {
	return func(e *Event) {
		e.Resource = resource
		e.ResourceID = id
	}
}

// WithWorkspace sets the workspace the event belongs to.
func WithWorkspace(id string) EventOption {
	return func(e *Event) { e.WorkspaceID = id }
}

// WithActor sets who performed the action, overriding any extracted actor.
// An empty id keeps the extracted one.
func WithActor(id string) EventOption {
	return func(e *Event) {
		if id != "" {
			e.ActorID = id
		}
	}
}

// WithMetadata adds a metadata entry.
func WithMetadata(key string, value any) EventOption {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}

// WithResult sets the event result.
func WithResult(result Result) EventOption {
	return func(e *Event) { e.Result = result }
}
