package subscription

import "fmt"

// CountMode selects which failed renewal attempts count towards suspension.
type CountMode string

const (
	// CountAllTime counts every failed attempt in the record's history,
	// including failures older than the last successful renewal.
	CountAllTime CountMode = "all_time"
	// CountSinceLastSuccess counts only failures after the most recent success.
	CountSinceLastSuccess CountMode = "since_last_success"
)

// DefaultSuspensionThreshold is the number of failed renewals that suspends a subscription.
const DefaultSuspensionThreshold = 3

// SuspensionPolicy derives suspension decisions from renewal history.
type SuspensionPolicy struct {
	Threshold int
	Mode      CountMode
}

// DefaultSuspensionPolicy suspends after three failures counted all-time.
func DefaultSuspensionPolicy() SuspensionPolicy {
	return SuspensionPolicy{Threshold: DefaultSuspensionThreshold, Mode: CountAllTime}
}

// Validate checks the policy configuration.
func (p SuspensionPolicy) Validate() error {
	if p.Threshold < 1 {
		return fmt.Errorf("%w: suspension threshold must be positive, got %d", ErrInvalidPlanConfiguration, p.Threshold)
	}
	switch p.Mode {
	case CountAllTime, CountSinceLastSuccess:
		return nil
	default:
		return fmt.Errorf("%w: unknown suspension count mode %q", ErrInvalidPlanConfiguration, p.Mode)
	}
}

// SuspensionDecision is the outcome of evaluating a record against the policy.
type SuspensionDecision struct {
	Failures  int
	Threshold int
	Suspend   bool
}

// CountFailures counts failed renewal attempts according to mode.
func (p SuspensionPolicy) CountFailures(sub *Subscription) int {
	failures := 0
	for _, a := range sub.RenewalAttempts.All() {
		switch {
		case !a.Successful:
			failures++
		case p.Mode == CountSinceLastSuccess:
			failures = 0
		}
	}
	return failures
}

// Evaluate decides whether sub must be suspended.
// Terminal and already suspended records are never (re)suspended.
func (p SuspensionPolicy) Evaluate(sub *Subscription) SuspensionDecision {
	threshold := p.Threshold
	if threshold < 1 {
		threshold = DefaultSuspensionThreshold
	}

	d := SuspensionDecision{
		Failures:  p.CountFailures(sub),
		Threshold: threshold,
	}
	if sub.Status.IsTerminal() || sub.Status == StatusSuspended {
		return d
	}
	d.Suspend = d.Failures >= threshold
	return d
}
