package licensing

import "strings"

func normalizeStripeStatus(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

// MapStripeSubscriptionStatusToState converts a raw Stripe status string.
func MapStripeSubscriptionStatusToState(status string) SubscriptionState {
	switch normalizeStripeStatus(status) {
	case "active":
		return SubStateActive
	case "trialing":
		return SubStateTrial
	case "past_due", "unpaid":
		return SubStateGrace
	case "canceled":
		return SubStateCanceled
	case "paused":
		return SubStateSuspended
	case "incomplete", "incomplete_expired":
		return SubStateExpired
	default:
		// Fail closed: unknown status should not grant paid capabilities.
		return SubStateExpired
	}
}

// IsPaymentFailed reports whether a Stripe status means the last payment
// did not go through.
func IsPaymentFailed(status string) bool {
	return MapStripeSubscriptionStatusToState(status) == SubStateGrace
}
