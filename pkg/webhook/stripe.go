package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/megagig/pharmacare/pkg/lifecycle"
)

var stripeEventTypes = map[stripe.EventType]lifecycle.EventType{
	"invoice.paid":                         lifecycle.EventPaymentSuccessful,
	"invoice.payment_succeeded":            lifecycle.EventPaymentSuccessful,
	"invoice.payment_failed":               lifecycle.EventPaymentFailed,
	"customer.subscription.created":        lifecycle.EventSubscriptionCreated,
	"customer.subscription.updated":        lifecycle.EventSubscriptionRenewed,
	"customer.subscription.resumed":        lifecycle.EventSubscriptionRenewed,
	"customer.subscription.deleted":        lifecycle.EventSubscriptionCanceled,
	"customer.subscription.trial_will_end": lifecycle.EventSubscriptionExpiringSoon,
	"invoice.upcoming":                     lifecycle.EventSubscriptionExpiringSoon,
}

// stripeInvoice covers both the pre-2025 top-level subscription field and
// the newer parent.subscription_details shape.
type stripeInvoice struct {
	ID            string            `json:"id"`
	Subscription  string            `json:"subscription"`
	AmountPaid    int64             `json:"amount_paid"`
	AmountDue     int64             `json:"amount_due"`
	Currency      string            `json:"currency"`
	CustomerEmail string            `json:"customer_email"`
	PeriodEnd     int64             `json:"period_end"`
	Metadata      map[string]string `json:"metadata"`
	Parent        *struct {
		SubscriptionDetails *struct {
			Subscription string            `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	LastFinalizationError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_finalization_error"`
}

type stripeSubscription struct {
	ID                 string            `json:"id"`
	Status             string            `json:"status"`
	StartDate          int64             `json:"start_date"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	TrialEnd           int64             `json:"trial_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID        string `json:"id"`
				Recurring *struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

// ParseStripe translates a Stripe event into an engine event. Stripe types
// with no lifecycle meaning keep their Stripe name and are ignored by the
// engine; customer.subscription.updated only counts as a renewal while the
// subscription is active or trialing.
func ParseStripe(provider string, body []byte) (lifecycle.Event, error) {
	var se stripe.Event
	if err := json.Unmarshal(body, &se); err != nil {
		return lifecycle.Event{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if se.ID == "" {
		return lifecycle.Event{}, fmt.Errorf("%w: missing event id", ErrInvalidPayload)
	}

	evt := lifecycle.Event{
		ID:       se.ID,
		Type:     lifecycle.EventType(se.Type),
		Provider: provider,
		Raw:      body,
	}
	typ, ok := stripeEventTypes[se.Type]
	if !ok || se.Data == nil {
		return evt, nil
	}

	var err error
	switch typ {
	case lifecycle.EventPaymentSuccessful, lifecycle.EventPaymentFailed:
		evt.Data, err = stripeInvoiceData(se.Data.Raw, typ)
	case lifecycle.EventSubscriptionExpiringSoon:
		if se.Type == "invoice.upcoming" {
			evt.Data, err = stripeInvoiceData(se.Data.Raw, typ)
		} else {
			evt.Data, err = stripeSubscriptionData(se.Data.Raw)
		}
	default:
		evt.Data, err = stripeSubscriptionData(se.Data.Raw)
	}
	if err != nil {
		return lifecycle.Event{}, err
	}

	if se.Type == "customer.subscription.updated" &&
		evt.Data.Status != "active" && evt.Data.Status != "trialing" {
		return evt, nil
	}
	evt.Type = typ
	return evt, nil
}

func stripeInvoiceData(raw json.RawMessage, typ lifecycle.EventType) (lifecycle.EventData, error) {
	var inv stripeInvoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return lifecycle.EventData{}, fmt.Errorf("%w: invoice: %w", ErrInvalidPayload, err)
	}

	d := lifecycle.EventData{
		GatewaySubscriptionID: inv.Subscription,
		TransactionID:         inv.ID,
		Amount:                inv.AmountPaid,
		Currency:              strings.ToUpper(inv.Currency),
		Email:                 inv.CustomerEmail,
	}
	if typ != lifecycle.EventPaymentSuccessful {
		d.Amount = inv.AmountDue
	}
	if typ == lifecycle.EventPaymentFailed {
		d.FailureReason = "payment_failed"
		if e := inv.LastFinalizationError; e != nil {
			d.FailureReason = firstNonEmpty(e.Code, e.Message, d.FailureReason)
		}
	}
	if inv.PeriodEnd > 0 && typ == lifecycle.EventSubscriptionExpiringSoon {
		d.EndDate = unixTime(inv.PeriodEnd)
	}
	if p := inv.Parent; p != nil && p.SubscriptionDetails != nil {
		d.GatewaySubscriptionID = firstNonEmpty(d.GatewaySubscriptionID, p.SubscriptionDetails.Subscription)
		applyMetadata(&d, p.SubscriptionDetails.Metadata)
	}
	applyMetadata(&d, inv.Metadata)
	return d, nil
}

func stripeSubscriptionData(raw json.RawMessage) (lifecycle.EventData, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(raw, &sub); err != nil {
		return lifecycle.EventData{}, fmt.Errorf("%w: subscription: %w", ErrInvalidPayload, err)
	}

	d := lifecycle.EventData{
		GatewaySubscriptionID: sub.ID,
		Status:                sub.Status,
		StartDate:             unixTime(sub.CurrentPeriodStart),
		EndDate:               unixTime(sub.CurrentPeriodEnd),
		TrialEndDate:          unixTime(sub.TrialEnd),
	}
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		d.PlanID = item.Price.ID
		if d.StartDate == nil {
			d.StartDate = unixTime(item.CurrentPeriodStart)
		}
		if d.EndDate == nil {
			d.EndDate = unixTime(item.CurrentPeriodEnd)
		}
		if item.Price.Recurring != nil && item.Price.Recurring.Interval == "year" {
			d.Interval = "annual"
		}
	}
	if d.StartDate == nil {
		d.StartDate = unixTime(sub.StartDate)
	}
	applyMetadata(&d, sub.Metadata)
	return d, nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
