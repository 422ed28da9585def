package licensing

// Transition represents a valid state transition.
type Transition struct {
	From SubscriptionState
	To   SubscriptionState
}

// validTransitions defines the lifecycle changes Stripe is expected to report.
var validTransitions = map[Transition]bool{
	{SubStateTrial, SubStateActive}:      true, // Trial converted to paid
	{SubStateTrial, SubStateExpired}:     true, // Trial ended without conversion
	{SubStateTrial, SubStateCanceled}:    true, // Trial canceled
	{SubStateActive, SubStateGrace}:      true, // Payment failed
	{SubStateActive, SubStateSuspended}:  true, // Subscription paused
	{SubStateActive, SubStateCanceled}:   true, // Canceled at period end
	{SubStateGrace, SubStateActive}:      true, // Payment recovered
	{SubStateGrace, SubStateExpired}:     true, // Retries exhausted
	{SubStateGrace, SubStateCanceled}:    true, // Canceled after failed payment
	{SubStateExpired, SubStateActive}:    true, // Re-subscription
	{SubStateCanceled, SubStateActive}:   true, // Re-subscription
	{SubStateSuspended, SubStateActive}:  true, // Resumed
	{SubStateSuspended, SubStateExpired}: true, // Pause ended without resume
}

// CanTransition checks if a transition from one state to another is valid.
func CanTransition(from, to SubscriptionState) bool {
	return validTransitions[Transition{from, to}]
}
