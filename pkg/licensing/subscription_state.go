package licensing

// SubscriptionState is the normalized lifecycle state of a Stripe subscription.
type SubscriptionState string

const (
	SubStateTrial     SubscriptionState = "trial"
	SubStateActive    SubscriptionState = "active"
	SubStateGrace     SubscriptionState = "grace"
	SubStateExpired   SubscriptionState = "expired"
	SubStateSuspended SubscriptionState = "suspended"
	SubStateCanceled  SubscriptionState = "canceled"
)

// StateBehavior describes how the dashboard treats a subscription state.
type StateBehavior struct {
	// State is the subscription state this behavior applies to.
	State SubscriptionState

	// FeaturesAvailable indicates whether paid features are accessible.
	FeaturesAvailable bool

	// ShowWarning indicates whether the UI should show a warning banner.
	ShowWarning bool

	// Description is a human-readable description of the state behavior.
	Description string
}

// StateBehaviors maps each subscription state to its behavior rules.
var StateBehaviors = map[SubscriptionState]StateBehavior{
	SubStateTrial: {
		State:             SubStateTrial,
		FeaturesAvailable: true,
		Description:       "Full access with trial expiry timer.",
	},
	SubStateActive: {
		State:             SubStateActive,
		FeaturesAvailable: true,
		Description:       "Paid features active.",
	},
	SubStateGrace: {
		State:             SubStateGrace,
		FeaturesAvailable: true,
		ShowWarning:       true,
		Description:       "Payment failed; features preserved while billing is fixed.",
	},
	SubStateExpired: {
		State:       SubStateExpired,
		ShowWarning: true,
		Description: "Free features only.",
	},
	SubStateSuspended: {
		State:       SubStateSuspended,
		ShowWarning: true,
		Description: "Subscription paused.",
	},
	SubStateCanceled: {
		State:       SubStateCanceled,
		ShowWarning: true,
		Description: "Subscription canceled; paid features revoked.",
	},
}

// GetBehavior returns the behavior rules for the given state.
// Returns expired behavior as default for unknown states.
func GetBehavior(state SubscriptionState) StateBehavior {
	if b, ok := StateBehaviors[state]; ok {
		return b
	}
	return StateBehaviors[SubStateExpired]
}
