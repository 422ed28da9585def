package licensing

import "testing"

func TestMapStripeSubscriptionStatusToState(t *testing.T) {
	tests := []struct {
		name   string
		status string
		want   SubscriptionState
	}{
		{name: "active", status: "active", want: SubStateActive},
		{name: "trialing", status: "trialing", want: SubStateTrial},
		{name: "past due", status: "past_due", want: SubStateGrace},
		{name: "unpaid", status: "unpaid", want: SubStateGrace},
		{name: "canceled", status: "canceled", want: SubStateCanceled},
		{name: "paused", status: "paused", want: SubStateSuspended},
		{name: "incomplete", status: "incomplete", want: SubStateExpired},
		{name: "incomplete expired", status: "incomplete_expired", want: SubStateExpired},
		{name: "unknown", status: "unknown", want: SubStateExpired},
		{name: "trim and case", status: "  ACTIVE  ", want: SubStateActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapStripeSubscriptionStatusToState(tt.status)
			if got != tt.want {
				t.Fatalf("state=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsPaymentFailed(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"past_due", true},
		{"PAST_DUE", true},
		{"unpaid", true},
		{"active", false},
		{"canceled", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsPaymentFailed(tt.status); got != tt.want {
			t.Errorf("IsPaymentFailed(%q) = %t, want %t", tt.status, got, tt.want)
		}
	}
}
