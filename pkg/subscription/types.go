package subscription

import (
	"fmt"
	"slices"
	"time"
)

// Status represents the current state of a subscription.
type Status string

const (
	StatusTrial       Status = "trial"
	StatusActive      Status = "active"
	StatusPastDue     Status = "past_due"
	StatusGracePeriod Status = "grace_period"
	StatusSuspended   Status = "suspended"
	StatusExpired     Status = "expired"
	StatusCancelled   Status = "cancelled"
	// StatusPaused is set only by the administrative pause operation.
	StatusPaused Status = "paused"
)

var knownStatuses = []Status{
	StatusTrial,
	StatusActive,
	StatusPastDue,
	StatusGracePeriod,
	StatusSuspended,
	StatusExpired,
	StatusCancelled,
	StatusPaused,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return slices.Contains(knownStatuses, s)
}

// IsTerminal reports whether s is expired or cancelled.
// Terminal records are retained for audit and billing history.
func (s Status) IsTerminal() bool {
	return s == StatusExpired || s == StatusCancelled
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus converts a raw status value into a Status.
// Gateway spellings such as "canceled" and "trialing" are normalized.
func ParseStatus(raw string) (Status, error) {
	switch raw {
	case "canceled":
		return StatusCancelled, nil
	case "trialing":
		return StatusTrial, nil
	}
	s := Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
	return s, nil
}

// Tier mirrors the plan tiers.
type Tier string

const (
	TierFree       Tier = "free"
	TierBasic      Tier = "basic"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierBasic, TierPro, TierEnterprise:
		return true
	}
	return false
}

// Money represents a monetary amount in the smallest currency unit.
// For example, 10.99 USD would be Amount: 1099, Currency: "USD".
type Money struct {
	Amount   int64  `json:"amount" bson:"amount"`
	Currency string `json:"currency" bson:"currency"`
}

// BillingInterval represents the billing frequency for a subscription plan.
type BillingInterval string

const (
	BillingIntervalMonthly BillingInterval = "monthly"
	BillingIntervalAnnual  BillingInterval = "annual"
)

// Period returns the length of one billing period: 365 days for annual
// plans and 30 days for everything else.
func (i BillingInterval) Period() time.Duration {
	if i == BillingIntervalAnnual {
		return 365 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// Limits caps countable resources. A nil value means unlimited.
type Limits struct {
	Patients  *int64 `json:"patients" bson:"patients"`
	Users     *int64 `json:"users" bson:"users"`
	Locations *int64 `json:"locations" bson:"locations"`
	Storage   *int64 `json:"storage" bson:"storage"` // MB
	APICalls  *int64 `json:"apiCalls" bson:"api_calls"`
}

// Limit returns a pointer to n for use in Limits literals.
func Limit(n int64) *int64 {
	return &n
}

func (l Limits) clone() Limits {
	cp := func(v *int64) *int64 {
		if v == nil {
			return nil
		}
		n := *v
		return &n
	}
	return Limits{
		Patients:  cp(l.Patients),
		Users:     cp(l.Users),
		Locations: cp(l.Locations),
		Storage:   cp(l.Storage),
		APICalls:  cp(l.APICalls),
	}
}

// FeatureSet is an ordered set of feature keys.
type FeatureSet []string

// NewFeatureSet builds a set from keys, dropping empty and duplicate keys
// while keeping first-seen order.
func NewFeatureSet(keys ...string) FeatureSet {
	set := make(FeatureSet, 0, len(keys))
	for _, k := range keys {
		if k == "" || slices.Contains(set, k) {
			continue
		}
		set = append(set, k)
	}
	return set
}

// Has reports whether key is in the set.
func (f FeatureSet) Has(key string) bool {
	return slices.Contains(f, key)
}

// Union returns a new set with the keys of f followed by the new keys of other.
func (f FeatureSet) Union(other FeatureSet) FeatureSet {
	return NewFeatureSet(append(slices.Clone(f), other...)...)
}
