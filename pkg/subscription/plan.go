package subscription

import (
	"slices"
	"time"
)

// Plan describes a purchasable plan and its feature/limit entitlements.
// For paid plans the ID should match the gateway's price ID so checkout and
// webhook events map directly onto it.
type Plan struct {
	ID        string          `json:"id" bson:"_id"`
	Name      string          `json:"name" bson:"name"`
	Tier      Tier            `json:"tier" bson:"tier"`
	Price     Money           `json:"price" bson:"price"`
	Interval  BillingInterval `json:"interval" bson:"interval"`
	Features  FeatureSet      `json:"features" bson:"features"`
	Limits    Limits          `json:"limits" bson:"limits"`
	TrialDays int             `json:"trialDays" bson:"trial_days"`
	Active    bool            `json:"active" bson:"active"`
}

// DailyRate is the plan price spread over a 30-day month, in minor units.
func (p Plan) DailyRate() float64 {
	return float64(p.Price.Amount) / 30
}

// TrialEndsAt calculates when the trial period ends.
// Returns startedAt unchanged if no trial is available.
func (p Plan) TrialEndsAt(startedAt time.Time) time.Time {
	if p.TrialDays <= 0 {
		return startedAt
	}
	return startedAt.AddDate(0, 0, p.TrialDays).UTC()
}

// PlanComparison lists the features gained and lost when moving between plans.
type PlanComparison struct {
	NewFeatures  []string
	LostFeatures []string
}

// ComparePlans returns the feature differences between current and target plans.
func ComparePlans(current, target *Plan) *PlanComparison {
	if current == nil || target == nil {
		return nil
	}

	comparison := &PlanComparison{
		NewFeatures:  make([]string, 0),
		LostFeatures: make([]string, 0),
	}

	for _, feature := range target.Features {
		if !slices.Contains(current.Features, feature) {
			comparison.NewFeatures = append(comparison.NewFeatures, feature)
		}
	}

	for _, feature := range current.Features {
		if !slices.Contains(target.Features, feature) {
			comparison.LostFeatures = append(comparison.LostFeatures, feature)
		}
	}

	return comparison
}

// Workspace is the billable tenant of the current model. It points at its
// current subscription and carries the workspace-level trial window.
type Workspace struct {
	ID             string     `json:"id" bson:"_id"`
	Name           string     `json:"name" bson:"name"`
	OwnerID        string     `json:"ownerId" bson:"owner_id"`
	SubscriptionID string     `json:"subscriptionId,omitempty" bson:"subscription_id,omitempty"`
	PlanID         string     `json:"planId,omitempty" bson:"plan_id,omitempty"`
	Status         Status     `json:"subscriptionStatus,omitempty" bson:"subscription_status,omitempty"`
	TrialEndDate   *time.Time `json:"trialEndDate,omitempty" bson:"trial_end_date,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt" bson:"updated_at"`
}

// User carries the legacy per-user entitlement pointers.
type User struct {
	ID               string     `json:"id" bson:"_id"`
	Email            string     `json:"email" bson:"email"`
	WorkspaceID      string     `json:"workspaceId,omitempty" bson:"workspace_id,omitempty"`
	SubscriptionID   string     `json:"subscriptionId,omitempty" bson:"subscription_id,omitempty"`
	PlanID           string     `json:"planId,omitempty" bson:"plan_id,omitempty"`
	TrialEndDate     *time.Time `json:"trialEndDate,omitempty" bson:"trial_end_date,omitempty"`
	FeatureOverrides FeatureSet `json:"featureOverrides,omitempty" bson:"feature_overrides,omitempty"`
}
