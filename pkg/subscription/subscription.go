package subscription

import (
	"slices"
	"time"
)

// Subscription is the billing record of a workspace (or, for records created
// before the workspace migration, of a single user).
//
// Records are mutated only through the lifecycle engine and operator and are
// never hard-deleted.
type Subscription struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId,omitempty"` // empty while not yet migrated
	UserID      string `json:"userId,omitempty"`      // legacy owner
	PlanID      string `json:"planId"`
	Tier        Tier   `json:"tier"`
	Status      Status `json:"status"`

	Provider              string `json:"provider,omitempty"`
	GatewaySubscriptionID string `json:"gatewaySubscriptionId,omitempty"`
	BillingEmail          string `json:"billingEmail,omitempty"`

	StartDate      time.Time       `json:"startDate"`
	EndDate        time.Time       `json:"endDate"`
	TrialEndDate   *time.Time      `json:"trialEndDate,omitempty"`
	GracePeriodEnd *time.Time      `json:"gracePeriodEnd,omitempty"`
	CancelledAt    *time.Time      `json:"cancelledAt,omitempty"`
	AutoRenew      bool            `json:"autoRenew"`
	Interval       BillingInterval `json:"billingInterval"`

	PriceAtPurchase Money      `json:"priceAtPurchase"`
	Features        FeatureSet `json:"features"`
	CustomFeatures  FeatureSet `json:"customFeatures"`
	Limits          Limits     `json:"limits"`

	PaymentHistory  []PaymentRef        `json:"paymentHistory"`
	WebhookEvents   Log[WebhookEvent]   `json:"webhookEvents"`
	RenewalAttempts Log[RenewalAttempt] `json:"renewalAttempts"`
	PausedStatus    *PauseSnapshot      `json:"pausedStatus,omitempty"`
	PlanChanges     Log[PlanChange]     `json:"planChanges"`
	Credits         Log[Credit]         `json:"credits"`
	TotalCredits    int64               `json:"totalCredits"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PaymentRef points from a subscription to one of its payments.
type PaymentRef struct {
	PaymentID string        `json:"paymentId" bson:"payment_id"`
	Amount    Money         `json:"amount" bson:"amount"`
	Status    PaymentStatus `json:"status" bson:"status"`
	PaidAt    time.Time     `json:"paidAt" bson:"paid_at"`
}

// WebhookEvent records a processed gateway event. Keyed by EventID.
type WebhookEvent struct {
	EventID     string    `json:"eventId" bson:"event_id"`
	EventType   string    `json:"eventType" bson:"event_type"`
	ProcessedAt time.Time `json:"processedAt" bson:"processed_at"`
	RawPayload  string    `json:"rawPayload,omitempty" bson:"raw_payload,omitempty"`
}

func (e WebhookEvent) EntryKey() string { return e.EventID }

// RenewalAttempt records one renewal charge outcome. Keyed by ID.
type RenewalAttempt struct {
	ID          string    `json:"id" bson:"id"`
	EventID     string    `json:"eventId,omitempty" bson:"event_id,omitempty"`
	AttemptedAt time.Time `json:"attemptedAt" bson:"attempted_at"`
	Successful  bool      `json:"successful" bson:"successful"`
	Error       string    `json:"error,omitempty" bson:"error,omitempty"`
}

func (a RenewalAttempt) EntryKey() string { return a.ID }

// PlanChange is the audit entry of an administrative plan change. Keyed by ID.
type PlanChange struct {
	ID             string    `json:"id" bson:"id"`
	FromPlanID     string    `json:"fromPlanId" bson:"from_plan_id"`
	ToPlanID       string    `json:"toPlanId" bson:"to_plan_id"`
	FromTier       Tier      `json:"fromTier" bson:"from_tier"`
	ToTier         Tier      `json:"toTier" bson:"to_tier"`
	ProratedAmount *int64    `json:"proratedAmount,omitempty" bson:"prorated_amount,omitempty"`
	RemainingDays  int       `json:"remainingDays" bson:"remaining_days"`
	ChangedBy      string    `json:"changedBy" bson:"changed_by"`
	Reason         string    `json:"reason,omitempty" bson:"reason,omitempty"`
	ChangedAt      time.Time `json:"changedAt" bson:"changed_at"`
}

func (c PlanChange) EntryKey() string { return c.ID }

// Credit is an administrative credit applied to a subscription. Keyed by ID.
type Credit struct {
	ID        string    `json:"id" bson:"id"`
	Amount    int64     `json:"amount" bson:"amount"`
	Reason    string    `json:"reason" bson:"reason"`
	GrantedBy string    `json:"grantedBy" bson:"granted_by"`
	CreatedAt time.Time `json:"createdAt" bson:"created_at"`
}

func (c Credit) EntryKey() string { return c.ID }

// PauseSnapshot holds what Resume needs to restore a paused subscription.
type PauseSnapshot struct {
	OriginalStatus  Status     `json:"originalStatus" bson:"original_status"`
	OriginalEndDate time.Time  `json:"originalEndDate" bson:"original_end_date"`
	PausedAt        time.Time  `json:"pausedAt" bson:"paused_at"`
	PauseUntil      *time.Time `json:"pauseUntil,omitempty" bson:"pause_until,omitempty"`
	Reason          string     `json:"reason,omitempty" bson:"reason,omitempty"`
}

// Owner returns the tagged owner of the record: the workspace when the
// record has been migrated, the legacy user otherwise.
func (s *Subscription) Owner() Owner {
	if s.WorkspaceID != "" {
		return CurrentOwner(s.WorkspaceID)
	}
	return LegacyOwner(s.UserID)
}

// HasEvent reports whether the gateway event was already applied.
func (s *Subscription) HasEvent(eventID string) bool {
	return eventID != "" && s.WebhookEvents.Contains(eventID)
}

// IsTrialExpiredAt reports whether the trial end date is in the past at now.
// A record without a trial end date never has an expired trial.
func (s *Subscription) IsTrialExpiredAt(now time.Time) bool {
	return s.TrialEndDate != nil && now.After(*s.TrialEndDate)
}

// IsActiveAt reports whether the record is independently active at now:
// status active and the paid term not yet over.
func (s *Subscription) IsActiveAt(now time.Time) bool {
	return s.Status == StatusActive && (s.EndDate.IsZero() || now.Before(s.EndDate))
}

// TrialDaysRemainingAt returns the number of days remaining in the trial at a given time.
// Returns 0 if not in trial or trial has expired.
func (s *Subscription) TrialDaysRemainingAt(now time.Time) int {
	if s.Status != StatusTrial || s.TrialEndDate == nil {
		return 0
	}

	remaining := s.TrialEndDate.Sub(now)
	if remaining <= 0 {
		return 0
	}

	days := remaining.Hours() / 24
	return int(days + 0.5)
}

// RecalculateCredits recomputes TotalCredits as the sum of all credit entries.
func (s *Subscription) RecalculateCredits() {
	var total int64
	for _, c := range s.Credits.All() {
		total += c.Amount
	}
	s.TotalCredits = total
}

// Clone returns a deep copy so callers can mutate without sharing state.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	cp := *s
	cp.TrialEndDate = cloneTime(s.TrialEndDate)
	cp.GracePeriodEnd = cloneTime(s.GracePeriodEnd)
	cp.CancelledAt = cloneTime(s.CancelledAt)
	cp.Features = slices.Clone(s.Features)
	cp.CustomFeatures = slices.Clone(s.CustomFeatures)
	cp.Limits = s.Limits.clone()
	cp.PaymentHistory = slices.Clone(s.PaymentHistory)
	cp.WebhookEvents = s.WebhookEvents.clone()
	cp.RenewalAttempts = s.RenewalAttempts.clone()
	cp.PlanChanges = s.PlanChanges.clone()
	cp.Credits = s.Credits.clone()
	if s.PausedStatus != nil {
		p := *s.PausedStatus
		p.PauseUntil = cloneTime(s.PausedStatus.PauseUntil)
		cp.PausedStatus = &p
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
