package licensing

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Source identifies which collaborator produced a tier decision.
type Source string

const (
	SourceLicense Source = "license"
	SourceStripe  Source = "stripe"
	SourceDefault Source = "default"
)

var (
	ErrUnknownTier     = errors.New("unknown tier")
	ErrInvalidDecision = errors.New("invalid tier decision")
)

// TierDecision is the resolved access tier. A new decision replaces the
// previous one wholesale; it is never patched in place.
type TierDecision struct {
	Tier              Tier       `json:"tier"`
	Source            Source     `json:"source"`
	Active            bool       `json:"active"`
	ExpiresAt         *time.Time `json:"expiresAt,omitempty"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd,omitempty"`
	DaysRemaining     *int       `json:"daysRemaining,omitempty"`
	Status            string     `json:"status,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd,omitempty"`
}

// DefaultDecision is the free fallback used when no source grants a paid tier.
func DefaultDecision() TierDecision {
	return TierDecision{Tier: TierFree, Source: SourceDefault, Active: false}
}

// IsDefault reports whether the decision came from the fallback source.
func (d TierDecision) IsDefault() bool {
	return d.Source == SourceDefault
}

// Validate checks the structural invariants of a decision.
func (d TierDecision) Validate() error {
	if !d.Tier.Valid() {
		return fmt.Errorf("%w: %w %q", ErrInvalidDecision, ErrUnknownTier, d.Tier)
	}
	switch d.Source {
	case SourceLicense, SourceStripe:
	case SourceDefault:
		if d.Active {
			return fmt.Errorf("%w: default source cannot be active", ErrInvalidDecision)
		}
		if d.ExpiresAt != nil || d.CurrentPeriodEnd != nil || d.DaysRemaining != nil || d.Status != "" || d.CancelAtPeriodEnd {
			return fmt.Errorf("%w: default source carries optional fields", ErrInvalidDecision)
		}
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidDecision, d.Source)
	}
	return nil
}

// Expiry returns the authoritative timestamp for the decision's source.
func (d TierDecision) Expiry() *time.Time {
	switch d.Source {
	case SourceLicense:
		return d.ExpiresAt
	case SourceStripe:
		return d.CurrentPeriodEnd
	default:
		return nil
	}
}

// LicenseCheckResult is the transient answer of the license validator.
type LicenseCheckResult struct {
	Tier          Tier       `json:"tier"`
	Active        bool       `json:"active"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	DaysRemaining *int       `json:"daysRemaining,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Grants reports whether the result confirms a paid tier.
func (r LicenseCheckResult) Grants() bool {
	return r.Active && r.Tier.IsPaid()
}

// SubscriptionCheckResult is the transient answer of the subscription checker.
type SubscriptionCheckResult struct {
	Tier              Tier       `json:"tier"`
	Active            bool       `json:"active"`
	SubscriptionID    string     `json:"subscriptionId,omitempty"`
	CurrentPeriodEnd  *time.Time `json:"currentPeriodEnd,omitempty"`
	DaysRemaining     *int       `json:"daysRemaining,omitempty"`
	Status            string     `json:"status,omitempty"`
	CancelAtPeriodEnd bool       `json:"cancelAtPeriodEnd,omitempty"`
	Error             string     `json:"error,omitempty"`
}

// Grants reports whether the result confirms a paid tier.
func (r SubscriptionCheckResult) Grants() bool {
	return r.Active && r.Tier.IsPaid()
}

// DaysUntil returns the whole days from now until t, rounding partial days
// up. Past timestamps return 0.
func DaysUntil(t, now time.Time) int {
	remaining := t.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}

// IntPtr is a small helper for optional integer fields.
func IntPtr(v int) *int {
	return &v
}
