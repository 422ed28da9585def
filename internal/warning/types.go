// Package warning turns tier decisions into billing banners and upgrade
// prompts.
package warning

import (
	"context"

	"github.com/pinkybot/tiergate/internal/subscription"
	"github.com/pinkybot/tiergate/pkg/licensing"
)

// Kind is the visual severity of a banner.
type Kind string

const (
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
)

// Action identifies what a banner or modal button does.
type Action string

const (
	ActionManageBilling  Action = "manage_billing"
	ActionReactivate     Action = "reactivate"
	ActionUpgrade        Action = "upgrade"
	ActionContactRenewal Action = "contact_renewal"
)

// ParseAction validates a raw action name.
func ParseAction(raw string) (Action, bool) {
	switch a := Action(raw); a {
	case ActionManageBilling, ActionReactivate, ActionUpgrade, ActionContactRenewal:
		return a, true
	default:
		return "", false
	}
}

// Banner ids, one per warning rule.
const (
	BannerPaymentFailed   = "payment_failed"
	BannerCancelling      = "subscription_cancelling"
	BannerRenewalSoon     = "renewal_soon"
	BannerLicenseExpiring = "license_expiring"
	BannerActionFailed    = "action_failed"
)

// Banner is a non-blocking notice.
type Banner struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	Title       string `json:"title"`
	Message     string `json:"message"`
	Action      Action `json:"action,omitempty"`
	ActionLabel string `json:"actionLabel,omitempty"`
}

// TierOption is one column of the upgrade comparison.
type TierOption struct {
	Tier        licensing.Tier `json:"tier"`
	Name        string         `json:"name"`
	Price       string         `json:"price"`
	Features    []string       `json:"features"`
	Current     bool           `json:"current"`
	Recommended bool           `json:"recommended"`
}

// Modal is a blocking upgrade prompt for a locked feature.
type Modal struct {
	Feature      string         `json:"feature"`
	FeatureName  string         `json:"featureName"`
	RequiredTier licensing.Tier `json:"requiredTier"`
	Title        string         `json:"title"`
	Message      string         `json:"message"`
	Tiers        []TierOption   `json:"tiers"`
	UpgradeURL   string         `json:"upgradeUrl"`
	Action       Action         `json:"action"`
}

// Sink displays presenter output.
type Sink interface {
	ShowBanner(Banner)
	ClearBanner()
	ShowModal(Modal)
	CloseModal()
}

// Billing is the subset of the subscription checker used by actions.
type Billing interface {
	OpenPortal(ctx context.Context, returnURL string) (string, error)
	StartCheckout(ctx context.Context, tier licensing.Tier, email string) (*subscription.CheckoutSession, error)
}

// MultiSink fans presenter output out to several sinks.
type MultiSink []Sink

func (m MultiSink) ShowBanner(b Banner) {
	for _, s := range m {
		s.ShowBanner(b)
	}
}

func (m MultiSink) ClearBanner() {
	for _, s := range m {
		s.ClearBanner()
	}
}

func (m MultiSink) ShowModal(md Modal) {
	for _, s := range m {
		s.ShowModal(md)
	}
}

func (m MultiSink) CloseModal() {
	for _, s := range m {
		s.CloseModal()
	}
}

type nopSink struct{}

func (nopSink) ShowBanner(Banner) {}
func (nopSink) ClearBanner()      {}
func (nopSink) ShowModal(Modal)   {}
func (nopSink) CloseModal()       {}
