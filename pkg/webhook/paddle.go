package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/megagig/pharmacare/pkg/lifecycle"
)

var paddleEventTypes = map[string]lifecycle.EventType{
	"transaction.completed":      lifecycle.EventPaymentSuccessful,
	"transaction.payment_failed": lifecycle.EventPaymentFailed,
	"subscription.created":       lifecycle.EventSubscriptionCreated,
	"subscription.activated":     lifecycle.EventSubscriptionCreated,
	"subscription.updated":       lifecycle.EventSubscriptionRenewed,
	"subscription.resumed":       lifecycle.EventSubscriptionRenewed,
	"subscription.canceled":      lifecycle.EventSubscriptionCanceled,
}

type paddleEnvelope struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

type paddlePeriod struct {
	StartsAt *time.Time `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at"`
}

type paddleTransaction struct {
	ID             string         `json:"id"`
	SubscriptionID string         `json:"subscription_id"`
	CurrencyCode   string         `json:"currency_code"`
	CustomData     map[string]any `json:"custom_data"`
	BillingPeriod  *paddlePeriod  `json:"billing_period"`
	Details        struct {
		Totals struct {
			GrandTotal string `json:"grand_total"`
			Total      string `json:"total"`
		} `json:"totals"`
	} `json:"details"`
	Payments []struct {
		Status    string `json:"status"`
		ErrorCode string `json:"error_code"`
	} `json:"payments"`
}

type paddleSubscription struct {
	ID                   string         `json:"id"`
	Status               string         `json:"status"`
	StartedAt            *time.Time     `json:"started_at"`
	CurrentBillingPeriod *paddlePeriod  `json:"current_billing_period"`
	CustomData           map[string]any `json:"custom_data"`
	BillingCycle         *struct {
		Interval string `json:"interval"`
	} `json:"billing_cycle"`
	Items []struct {
		Price struct {
			ID string `json:"id"`
		} `json:"price"`
		TrialDates *paddlePeriod `json:"trial_dates"`
	} `json:"items"`
}

// ParsePaddle translates a Paddle Billing notification into an engine event.
// Payloads already in the normalized envelope shape are passed through.
func ParsePaddle(provider string, body []byte) (lifecycle.Event, error) {
	var env paddleEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return lifecycle.Event{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	typ, ok := paddleEventTypes[env.EventType]
	if !ok {
		return ParseEnvelope(provider, body)
	}
	if env.EventID == "" {
		return lifecycle.Event{}, fmt.Errorf("%w: missing event id", ErrInvalidPayload)
	}

	evt := lifecycle.Event{ID: env.EventID, Type: typ, Provider: provider, Raw: body}
	var err error
	switch typ {
	case lifecycle.EventPaymentSuccessful, lifecycle.EventPaymentFailed:
		evt.Data, err = paddleTransactionData(env.Data, typ)
	default:
		evt.Data, err = paddleSubscriptionData(env.Data)
	}
	if err != nil {
		return lifecycle.Event{}, err
	}

	if env.EventType == "subscription.updated" &&
		evt.Data.Status != "active" && evt.Data.Status != "trialing" {
		evt.Type = lifecycle.EventType(env.EventType)
	}
	return evt, nil
}

func paddleTransactionData(raw json.RawMessage, typ lifecycle.EventType) (lifecycle.EventData, error) {
	var txn paddleTransaction
	if err := json.Unmarshal(raw, &txn); err != nil {
		return lifecycle.EventData{}, fmt.Errorf("%w: transaction: %w", ErrInvalidPayload, err)
	}

	d := lifecycle.EventData{
		GatewaySubscriptionID: txn.SubscriptionID,
		TransactionID:         txn.ID,
		Currency:              txn.CurrencyCode,
	}
	if total := firstNonEmpty(txn.Details.Totals.GrandTotal, txn.Details.Totals.Total); total != "" {
		amount, err := strconv.ParseInt(total, 10, 64)
		if err != nil {
			return lifecycle.EventData{}, fmt.Errorf("%w: transaction total %q", ErrInvalidPayload, total)
		}
		d.Amount = amount
	}
	if p := txn.BillingPeriod; p != nil && typ == lifecycle.EventPaymentSuccessful {
		d.EndDate = p.EndsAt
	}
	if typ == lifecycle.EventPaymentFailed {
		d.FailureReason = "payment_failed"
		for _, p := range txn.Payments {
			if p.ErrorCode != "" {
				d.FailureReason = p.ErrorCode
				break
			}
		}
	}
	applyMetadata(&d, stringMap(txn.CustomData))
	return d, nil
}

func paddleSubscriptionData(raw json.RawMessage) (lifecycle.EventData, error) {
	var sub paddleSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return lifecycle.EventData{}, fmt.Errorf("%w: subscription: %w", ErrInvalidPayload, err)
	}

	d := lifecycle.EventData{
		GatewaySubscriptionID: sub.ID,
		Status:                sub.Status,
		StartDate:             sub.StartedAt,
	}
	if p := sub.CurrentBillingPeriod; p != nil {
		if p.StartsAt != nil {
			d.StartDate = p.StartsAt
		}
		d.EndDate = p.EndsAt
	}
	if len(sub.Items) > 0 {
		d.PlanID = sub.Items[0].Price.ID
		if td := sub.Items[0].TrialDates; td != nil {
			d.TrialEndDate = td.EndsAt
		}
	}
	if sub.BillingCycle != nil && sub.BillingCycle.Interval == "year" {
		d.Interval = "annual"
	}
	applyMetadata(&d, stringMap(sub.CustomData))
	return d, nil
}

func stringMap(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
