package lifecycle

import (
	"time"

	"github.com/megagig/pharmacare/pkg/subscription"
)

// EventType is a normalized gateway event type.
type EventType string

const (
	EventPaymentSuccessful        EventType = "payment.successful"
	EventPaymentFailed            EventType = "payment.failed"
	EventSubscriptionCreated      EventType = "subscription.created"
	EventSubscriptionRenewed      EventType = "subscription.renewed"
	EventSubscriptionCanceled     EventType = "subscription.canceled"
	EventSubscriptionExpiringSoon EventType = "subscription.expiring_soon"
)

// Known reports whether the engine handles t.
func (t EventType) Known() bool {
	switch t {
	case EventPaymentSuccessful, EventPaymentFailed,
		EventSubscriptionCreated, EventSubscriptionRenewed,
		EventSubscriptionCanceled, EventSubscriptionExpiringSoon:
		return true
	}
	return false
}

// Event is a verified gateway notification.
type Event struct {
	ID       string
	Type     EventType
	Provider string
	Data     EventData
	Raw      []byte
}

// EventData holds the fields the engine reads from an event payload.
// SubscriptionID is the local ID echoed back through gateway metadata.
type EventData struct {
	SubscriptionID        string     `json:"subscriptionId,omitempty"`
	GatewaySubscriptionID string     `json:"gatewaySubscriptionId,omitempty"`
	WorkspaceID           string     `json:"workspaceId,omitempty"`
	UserID                string     `json:"userId,omitempty"`
	PlanID                string     `json:"planId,omitempty"`
	Tier                  string     `json:"tier,omitempty"`
	Status                string     `json:"status,omitempty"`
	Interval              string     `json:"billingInterval,omitempty"`
	TransactionID         string     `json:"transactionId,omitempty"`
	Amount                int64      `json:"amount,omitempty"`
	Currency              string     `json:"currency,omitempty"`
	FailureReason         string     `json:"failureReason,omitempty"`
	Email                 string     `json:"email,omitempty"`
	StartDate             *time.Time `json:"startDate,omitempty"`
	EndDate               *time.Time `json:"endDate,omitempty"`
	TrialEndDate          *time.Time `json:"trialEndDate,omitempty"`
	Features              []string   `json:"features,omitempty"`
}

func (d EventData) owner() subscription.Owner {
	if d.WorkspaceID != "" {
		return subscription.CurrentOwner(d.WorkspaceID)
	}
	return subscription.LegacyOwner(d.UserID)
}

// Outcome describes what applying an event did.
type Outcome string

const (
	OutcomeApplied    Outcome = "applied"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomeUnresolved Outcome = "unresolved"
	OutcomeIgnored    Outcome = "ignored"
)

// Result is returned by Engine.Apply.
type Result struct {
	Outcome        Outcome
	SubscriptionID string
	Status         subscription.Status
	Created        bool
}
