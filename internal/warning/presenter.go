package warning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pinkybot/tiergate/internal/metrics"
	"github.com/pinkybot/tiergate/pkg/licensing"
	"github.com/rs/zerolog/log"
)

// Thresholds for the expiry rules, in days.
const (
	RenewalNoticeDays = 7
	LicenseNoticeDays = 30
)

var ErrUnknownAction = errors.New("unknown action")

// Config holds presenter URLs. Empty values use the licensing defaults.
type Config struct {
	UpgradeURL string
	RenewalURL string
	ReturnURL  string
}

// ActionResult is where the caller should navigate after an action.
type ActionResult struct {
	Action Action `json:"action"`
	URL    string `json:"url"`
}

// Presenter shows at most one banner at a time and suppresses banners already
// shown during this session until Rearm.
type Presenter struct {
	cfg     Config
	sink    Sink
	billing Billing

	mu       sync.Mutex
	shown    map[string]bool
	current  *Banner
	modal    *Modal
	lastTier licensing.Tier
}

func NewPresenter(sink Sink, billing Billing, cfg Config) *Presenter {
	if sink == nil {
		sink = nopSink{}
	}
	if strings.TrimSpace(cfg.UpgradeURL) == "" {
		cfg.UpgradeURL = licensing.DefaultUpgradeURL
	}
	if strings.TrimSpace(cfg.RenewalURL) == "" {
		cfg.RenewalURL = licensing.DefaultRenewalURL
	}
	return &Presenter{
		cfg:      cfg,
		sink:     sink,
		billing:  billing,
		shown:    make(map[string]bool),
		lastTier: licensing.TierFree,
	}
}

// Evaluate returns the banner for d, if any. The first matching rule wins.
func Evaluate(d licensing.TierDecision) (Banner, bool) {
	name := licensing.GetTierDisplayName(d.Tier)
	switch d.Source {
	case licensing.SourceStripe:
		if licensing.IsPaymentFailed(d.Status) {
			return Banner{
				ID:          BannerPaymentFailed,
				Kind:        KindError,
				Title:       "Payment failed",
				Message:     fmt.Sprintf("We couldn't charge your card for %s. Update your payment method to keep your features.", name),
				Action:      ActionManageBilling,
				ActionLabel: "Update payment",
			}, true
		}
		if d.CancelAtPeriodEnd {
			when := "at the end of the billing period"
			if d.CurrentPeriodEnd != nil {
				when = "on " + d.CurrentPeriodEnd.Format("January 2, 2006")
			}
			return Banner{
				ID:          BannerCancelling,
				Kind:        KindWarning,
				Title:       "Subscription ending",
				Message:     fmt.Sprintf("Your %s plan is cancelled and ends %s.", name, when),
				Action:      ActionReactivate,
				ActionLabel: "Reactivate",
			}, true
		}
		if d.DaysRemaining != nil && *d.DaysRemaining <= RenewalNoticeDays {
			return Banner{
				ID:          BannerRenewalSoon,
				Kind:        KindInfo,
				Title:       "Renewal coming up",
				Message:     fmt.Sprintf("Your %s plan renews %s.", name, inDays(*d.DaysRemaining)),
				Action:      ActionManageBilling,
				ActionLabel: "Manage billing",
			}, true
		}
	case licensing.SourceLicense:
		if d.DaysRemaining != nil && *d.DaysRemaining <= LicenseNoticeDays {
			return Banner{
				ID:          BannerLicenseExpiring,
				Kind:        KindWarning,
				Title:       "License expiring",
				Message:     fmt.Sprintf("Your %s license expires %s.", name, inDays(*d.DaysRemaining)),
				Action:      ActionContactRenewal,
				ActionLabel: "Contact us to renew",
			}, true
		}
	}
	return Banner{}, false
}

func inDays(days int) string {
	switch days {
	case 0:
		return "today"
	case 1:
		return "in 1 day"
	default:
		return fmt.Sprintf("in %d days", days)
	}
}

// Present shows the banner for d unless it was already shown this session.
// A visible banner whose rule no longer matches is cleared.
func (p *Presenter) Present(d licensing.TierDecision) {
	banner, ok := Evaluate(d)

	p.mu.Lock()
	p.lastTier = d.Tier
	var (
		show  *Banner
		clear bool
	)
	switch {
	case !ok:
		clear = p.current != nil
		p.current = nil
	case p.current != nil && p.current.ID == banner.ID:
		p.current = &banner
		p.shown[banner.ID] = true
	case p.shown[banner.ID]:
		clear = p.current != nil
		p.current = nil
	default:
		p.shown[banner.ID] = true
		p.current = &banner
		show = &banner
	}
	p.mu.Unlock()

	if show != nil {
		log.Info().Str("banner", show.ID).Str("kind", string(show.Kind)).Msg("Showing billing banner")
		metrics.BannersShownTotal.WithLabelValues(show.ID).Inc()
		p.sink.ShowBanner(*show)
		return
	}
	if clear {
		p.sink.ClearBanner()
	}
}

// Rearm forgets which banners were shown so the next Present may show them
// again.
func (p *Presenter) Rearm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = make(map[string]bool)
}

// DismissBanner hides the current banner. It stays suppressed until Rearm.
func (p *Presenter) DismissBanner() {
	p.mu.Lock()
	had := p.current != nil
	p.current = nil
	p.mu.Unlock()
	if had {
		p.sink.ClearBanner()
	}
}

// CurrentBanner returns the visible banner, if any.
func (p *Presenter) CurrentBanner() (Banner, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return Banner{}, false
	}
	return *p.current, true
}

// ShowUpgradePrompt opens the blocking upgrade modal for a locked feature.
func (p *Presenter) ShowUpgradePrompt(feature string) Modal {
	p.mu.Lock()
	current := p.lastTier
	required := licensing.FeatureMinTier(feature)
	if licensing.Rank(required) <= licensing.Rank(current) {
		required = nextTier(current)
	}

	tiers := make([]TierOption, 0, len(licensing.OrderedTiers))
	for _, tier := range licensing.OrderedTiers {
		features := licensing.TierFeatures[tier]
		names := make([]string, 0, len(features))
		for _, f := range features {
			names = append(names, licensing.GetFeatureDisplayName(f))
		}
		tiers = append(tiers, TierOption{
			Tier:        tier,
			Name:        licensing.GetTierDisplayName(tier),
			Price:       licensing.FormatTierPrice(tier),
			Features:    names,
			Current:     tier == current,
			Recommended: tier == required,
		})
	}

	featureName := licensing.GetFeatureDisplayName(feature)
	message := fmt.Sprintf("%s is available on %s and above, from %s.",
		featureName, licensing.GetTierDisplayName(required), licensing.FormatTierPrice(required))
	if reason, ok := licensing.UpgradeReason(feature); ok {
		message = reason.Reason + " " + message
	}
	modal := Modal{
		Feature:      feature,
		FeatureName:  featureName,
		RequiredTier: required,
		Title:        fmt.Sprintf("Unlock %s", featureName),
		Message:      message,
		Tiers:        tiers,
		UpgradeURL:   licensing.UpgradeURLWithBase(p.cfg.UpgradeURL, feature),
		Action:       ActionUpgrade,
	}
	p.modal = &modal
	p.mu.Unlock()

	log.Debug().Str("feature", feature).Str("required_tier", string(required)).Msg("Showing upgrade prompt")
	p.sink.ShowModal(modal)
	return modal
}

// DismissModal closes the upgrade modal if one is open.
func (p *Presenter) DismissModal() {
	p.mu.Lock()
	open := p.modal != nil
	p.modal = nil
	p.mu.Unlock()
	if open {
		p.sink.CloseModal()
	}
}

// CurrentModal returns the open modal, if any.
func (p *Presenter) CurrentModal() (Modal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.modal == nil {
		return Modal{}, false
	}
	return *p.modal, true
}

// HandleAction runs a banner or modal button. Failures are shown as an error
// banner and returned.
func (p *Presenter) HandleAction(ctx context.Context, action Action) (*ActionResult, error) {
	result, err := p.runAction(ctx, action)
	if err != nil {
		log.Warn().Err(err).Str("action", string(action)).Msg("Billing action failed")
		p.showActionFailure(action, err)
		return nil, err
	}
	return result, nil
}

func (p *Presenter) runAction(ctx context.Context, action Action) (*ActionResult, error) {
	switch action {
	case ActionManageBilling, ActionReactivate:
		if p.billing == nil {
			return nil, fmt.Errorf("%s: billing is not configured", action)
		}
		portalURL, err := p.billing.OpenPortal(ctx, p.cfg.ReturnURL)
		if err != nil {
			return nil, err
		}
		return &ActionResult{Action: action, URL: portalURL}, nil
	case ActionUpgrade:
		if p.billing == nil {
			return nil, fmt.Errorf("%s: billing is not configured", action)
		}
		target := p.upgradeTarget()
		session, err := p.billing.StartCheckout(ctx, target, "")
		if err != nil {
			return nil, err
		}
		p.DismissModal()
		checkoutURL := session.URL
		if checkoutURL == "" {
			checkoutURL = p.cfg.UpgradeURL
		}
		return &ActionResult{Action: action, URL: checkoutURL}, nil
	case ActionContactRenewal:
		return &ActionResult{Action: action, URL: p.cfg.RenewalURL}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

func (p *Presenter) upgradeTarget() licensing.Tier {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.modal != nil {
		return p.modal.RequiredTier
	}
	return nextTier(p.lastTier)
}

func (p *Presenter) showActionFailure(action Action, err error) {
	banner := Banner{
		ID:      BannerActionFailed,
		Kind:    KindError,
		Title:   "Something went wrong",
		Message: fmt.Sprintf("Could not %s: %v", actionVerb(action), err),
	}
	p.mu.Lock()
	p.current = &banner
	p.mu.Unlock()
	p.sink.ShowBanner(banner)
}

func actionVerb(action Action) string {
	switch action {
	case ActionManageBilling:
		return "open billing management"
	case ActionReactivate:
		return "reactivate the subscription"
	case ActionUpgrade:
		return "start checkout"
	case ActionContactRenewal:
		return "open the renewal contact"
	default:
		return string(action)
	}
}

// nextTier returns the tier above t, or enterprise when t is already the top.
func nextTier(t licensing.Tier) licensing.Tier {
	for _, tier := range licensing.OrderedTiers {
		if licensing.Rank(tier) > licensing.Rank(t) {
			return tier
		}
	}
	return licensing.TierEnterprise
}
