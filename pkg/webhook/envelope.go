package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/megagig/pharmacare/pkg/lifecycle"
)

// Parser turns a verified request body into an engine event.
type Parser func(provider string, body []byte) (lifecycle.Event, error)

type envelope struct {
	ID        string          `json:"id"`
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
}

// ParseEnvelope reads the normalized {id, type, data} shape. The event_id and
// event_type spellings are accepted, and data keys may be camelCase or
// snake_case.
func ParseEnvelope(provider string, body []byte) (lifecycle.Event, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return lifecycle.Event{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	evt := lifecycle.Event{
		ID:       firstNonEmpty(env.ID, env.EventID),
		Type:     lifecycle.EventType(firstNonEmpty(env.Type, env.EventType)),
		Provider: provider,
		Raw:      body,
	}
	if evt.ID == "" {
		return lifecycle.Event{}, fmt.Errorf("%w: missing event id", ErrInvalidPayload)
	}
	if evt.Type == "" {
		return lifecycle.Event{}, fmt.Errorf("%w: missing event type", ErrInvalidPayload)
	}

	if len(env.Data) > 0 && !bytes.Equal(env.Data, []byte("null")) {
		data, err := decodeData(env.Data)
		if err != nil {
			return lifecycle.Event{}, err
		}
		evt.Data = data
	}
	return evt, nil
}

// decodeData unmarshals an event data object whose keys may be snake_case.
func decodeData(raw json.RawMessage) (lifecycle.EventData, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return lifecycle.EventData{}, fmt.Errorf("%w: data: %w", ErrInvalidPayload, err)
	}

	normalized := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		key := camelCase(k)
		if alias, ok := dataAliases[key]; ok {
			key = alias
		}
		if _, taken := normalized[key]; taken && key != k {
			continue
		}
		normalized[key] = v
	}

	buf, err := json.Marshal(normalized)
	if err != nil {
		return lifecycle.EventData{}, fmt.Errorf("%w: data: %w", ErrInvalidPayload, err)
	}
	var data lifecycle.EventData
	if err := json.Unmarshal(buf, &data); err != nil {
		return lifecycle.EventData{}, fmt.Errorf("%w: data: %w", ErrInvalidPayload, err)
	}
	return data, nil
}

// dataAliases maps alternative field names onto EventData keys.
var dataAliases = map[string]string{
	"interval":  "billingInterval",
	"paymentId": "transactionId",
	"gatewayId": "gatewaySubscriptionId",
	"reason":    "failureReason",
}

func camelCase(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	parts := strings.Split(s, "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// applyMetadata copies the identifiers the checkout flow stores in provider
// metadata onto d. Both snake_case and camelCase keys are read.
func applyMetadata(d *lifecycle.EventData, md map[string]string) {
	get := func(snake string) string {
		if v := md[snake]; v != "" {
			return v
		}
		return md[camelCase(snake)]
	}
	d.SubscriptionID = firstNonEmpty(d.SubscriptionID, get("subscription_id"))
	d.WorkspaceID = firstNonEmpty(d.WorkspaceID, get("workspace_id"))
	d.UserID = firstNonEmpty(d.UserID, get("user_id"))
	d.PlanID = firstNonEmpty(get("plan_id"), d.PlanID)
	d.Tier = firstNonEmpty(d.Tier, get("tier"))
	d.Email = firstNonEmpty(d.Email, get("email"))
	d.Interval = firstNonEmpty(d.Interval, get("billing_interval"))
}
