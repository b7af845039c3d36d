package entitlement

import (
	"net/http"

	"github.com/megagig/pharmacare/pkg/subscription"
)

// Reason explains a decision. Blocking reasons are returned to clients as
// error codes.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonBypass            Reason = "super_admin"
	ReasonNoSubscription    Reason = "no_subscription"
	ReasonTrialExpired      Reason = "trial_expired"
	ReasonPastDue           Reason = "payment_past_due"
	ReasonSuspended         Reason = "subscription_suspended"
	ReasonExpired           Reason = "subscription_expired"
	ReasonCancelled         Reason = "subscription_cancelled"
	ReasonGracePeriodEnded  Reason = "grace_period_ended"
	ReasonPaused            Reason = "subscription_paused"
	ReasonUnknownStatus     Reason = "unknown_status"
	ReasonFeatureNotInPlan  Reason = "feature_not_available"
	ReasonEntitlementFailed Reason = "entitlement_unavailable"
)

var reasonMessages = map[Reason]string{
	ReasonNoSubscription:    "No subscription is associated with this account.",
	ReasonTrialExpired:      "Your free trial has ended. Choose a plan to continue.",
	ReasonPastDue:           "Your last payment failed. Please update your payment method.",
	ReasonSuspended:         "Your subscription is suspended after repeated payment failures.",
	ReasonExpired:           "Your subscription has expired.",
	ReasonCancelled:         "Your subscription has been cancelled.",
	ReasonGracePeriodEnded:  "Your cancellation grace period has ended.",
	ReasonPaused:            "Your subscription is paused.",
	ReasonUnknownStatus:     "Your subscription status could not be verified.",
	ReasonFeatureNotInPlan:  "This feature is not included in your plan.",
	ReasonEntitlementFailed: "Your subscription could not be checked. Please retry.",
}

// Message returns the user-facing text of r.
func (r Reason) Message() string {
	return reasonMessages[r]
}

// HTTPStatus is the response code for a request blocked with r: 402 for
// reasons a payment resolves, 403 otherwise.
func (r Reason) HTTPStatus() int {
	switch r {
	case ReasonTrialExpired, ReasonExpired, ReasonSuspended, ReasonGracePeriodEnded, ReasonPastDue:
		return http.StatusPaymentRequired
	default:
		return http.StatusForbidden
	}
}

// Source names where a feature grant was found.
type Source string

const (
	SourceNone         Source = ""
	SourceBypass       Source = "bypass"
	SourceSubscription Source = "subscription"
	SourceCustom       Source = "custom"
	SourceOverride     Source = "override"
	SourcePlan         Source = "plan"
)

// Decision is the outcome of Resolver.Resolve.
//
// Allowed is the final answer for the request. Valid is false when the
// decision was made without a recognizable subscription (soft fail).
// BlockAccess marks a subscription-level denial; a missing feature alone
// denies without blocking.
type Decision struct {
	Allowed         bool                    `json:"allowed"`
	Valid           bool                    `json:"valid"`
	BlockAccess     bool                    `json:"blockAccess"`
	Warning         bool                    `json:"warning,omitempty"`
	Reason          Reason                  `json:"reason,omitempty"`
	UpgradeRequired bool                    `json:"upgradeRequired"`
	Feature         string                  `json:"feature,omitempty"`
	Source          Source                  `json:"source,omitempty"`
	FeatureSet      subscription.FeatureSet `json:"featureSet"`
	Status          subscription.Status     `json:"status,omitempty"`
	Generation      subscription.Generation `json:"generation,omitempty"`
	SubscriptionID  string                  `json:"subscriptionId,omitempty"`
	PlanID          string                  `json:"planId,omitempty"`
}

func (d Decision) result() string {
	switch {
	case d.Source == SourceBypass:
		return "bypass"
	case d.BlockAccess:
		return "blocked"
	case !d.Allowed:
		return "denied"
	case !d.Valid:
		return "degraded"
	case d.Warning:
		return "warned"
	default:
		return "allowed"
	}
}
