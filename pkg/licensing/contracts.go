package licensing

// FeatureChecker exposes feature-gate checks for the current page session.
type FeatureChecker interface {
	IsFeatureAllowed(feature string) bool
	Tier() Tier
}

// Event is an external trigger that asks for an immediate re-resolution.
type Event string

const (
	EventLicenseActivated     Event = "license_activated"
	EventLicenseDeactivated   Event = "license_deactivated"
	EventCheckoutCompleted    Event = "checkout_completed"
	EventCustomerDisconnected Event = "customer_disconnected"
)

// EventHandler receives credential change events.
type EventHandler func(Event)
