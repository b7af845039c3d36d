package subscription

import "time"

// PaymentStatus is the settlement state of a payment.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Payment is a single charge against a subscription.
// Payments are immutable once completed or failed.
type Payment struct {
	ID                string        `json:"id" bson:"_id"`
	SubscriptionID    string        `json:"subscriptionId" bson:"subscription_id"`
	Amount            int64         `json:"amount" bson:"amount"`
	Currency          string        `json:"currency" bson:"currency"`
	Status            PaymentStatus `json:"status" bson:"status"`
	Provider          string        `json:"provider" bson:"provider"`
	ExternalReference string        `json:"externalReference,omitempty" bson:"external_reference,omitempty"`
	EventID           string        `json:"eventId,omitempty" bson:"event_id,omitempty"`
	FailureReason     string        `json:"failureReason,omitempty" bson:"failure_reason,omitempty"`
	Manual            bool          `json:"manual,omitempty" bson:"manual,omitempty"`
	CreatedAt         time.Time     `json:"createdAt" bson:"created_at"`
}

// Final reports whether the payment can no longer change.
func (p *Payment) Final() bool {
	return p.Status == PaymentCompleted || p.Status == PaymentFailed
}

// Duplicates reports whether p and o record the same settlement: the same
// ID, the same gateway event, or the same provider reference in the same
// status. A failed charge and its successful retry share a reference.
func (p *Payment) Duplicates(o *Payment) bool {
	switch {
	case p.ID == o.ID:
		return true
	case p.EventID != "" && p.EventID == o.EventID:
		return true
	}
	return p.ExternalReference != "" &&
		p.Provider == o.Provider &&
		p.ExternalReference == o.ExternalReference &&
		p.Status == o.Status
}

// Ref returns the subscription-side pointer to the payment.
func (p *Payment) Ref() PaymentRef {
	return PaymentRef{
		PaymentID: p.ID,
		Amount:    Money{Amount: p.Amount, Currency: p.Currency},
		Status:    p.Status,
		PaidAt:    p.CreatedAt,
	}
}
