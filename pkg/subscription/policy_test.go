package subscription_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/megagig/pharmacare/pkg/subscription"
)

func withAttempts(status subscription.Status, outcomes ...bool) *subscription.Subscription {
	sub := &subscription.Subscription{Status: status}
	for i, ok := range outcomes {
		_ = sub.RenewalAttempts.Append(subscription.RenewalAttempt{
			ID:         fmt.Sprintf("att-%d", i),
			Successful: ok,
		})
	}
	return sub
}

func TestSuspensionPolicy_Evaluate(t *testing.T) {
	t.Parallel()

	allTime := subscription.DefaultSuspensionPolicy()
	sinceSuccess := subscription.SuspensionPolicy{Threshold: 3, Mode: subscription.CountSinceLastSuccess}

	tests := []struct {
		name        string
		policy      subscription.SuspensionPolicy
		sub         *subscription.Subscription
		wantFail    int
		wantSuspend bool
	}{
		{"below threshold", allTime, withAttempts(subscription.StatusPastDue, false, false), 2, false},
		{"at threshold", allTime, withAttempts(subscription.StatusPastDue, false, false, false), 3, true},
		{"all time ignores successes", allTime, withAttempts(subscription.StatusActive, false, false, true, false), 3, true},
		{"since last success resets", sinceSuccess, withAttempts(subscription.StatusActive, false, false, true, false), 1, false},
		{"already suspended", allTime, withAttempts(subscription.StatusSuspended, false, false, false, false), 4, false},
		{"terminal record", allTime, withAttempts(subscription.StatusCancelled, false, false, false), 3, false},
		{"zero threshold uses default", subscription.SuspensionPolicy{}, withAttempts(subscription.StatusPastDue, false, false, false), 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := tt.policy.Evaluate(tt.sub)
			assert.Equal(t, tt.wantFail, d.Failures)
			assert.Equal(t, tt.wantSuspend, d.Suspend)
		})
	}
}

func TestSuspensionPolicy_Validate(t *testing.T) {
	t.Parallel()

	require.NoError(t, subscription.DefaultSuspensionPolicy().Validate())
	assert.ErrorIs(t, subscription.SuspensionPolicy{Threshold: 0, Mode: subscription.CountAllTime}.Validate(), subscription.ErrInvalidPlanConfiguration)
	assert.ErrorIs(t, subscription.SuspensionPolicy{Threshold: 3, Mode: "weekly"}.Validate(), subscription.ErrInvalidPlanConfiguration)
}
