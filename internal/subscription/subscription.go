// Package subscription checks the stored Stripe customer and runs the billing
// flows that create or manage it.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pinkybot/tiergate/internal/backend"
	"github.com/pinkybot/tiergate/internal/store"
	"github.com/pinkybot/tiergate/pkg/licensing"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoCustomer      = errors.New("no billing customer linked")
	ErrNotPurchasable  = errors.New("tier cannot be purchased")
	ErrEmptyCustomerID = errors.New("customer id is required")
	ErrSessionRejected = errors.New("billing session rejected")
)

// Backend is the subset of the backend client used by the checker.
type Backend interface {
	SubscriptionStatus(ctx context.Context, customerID string) (*backend.SubscriptionStatusResponse, error)
	CreateCheckoutSession(ctx context.Context, req backend.CheckoutRequest) (*backend.CheckoutSessionResponse, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*backend.PortalSessionResponse, error)
}

// CheckoutSession identifies a started Stripe checkout.
type CheckoutSession struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url,omitempty"`
}

// Checker answers subscription status for the stored customer id.
type Checker struct {
	api   Backend
	state *store.State
	now   func() time.Time

	mu        sync.RWMutex
	onEvent   licensing.EventHandler
	lastState licensing.SubscriptionState
}

func NewChecker(api Backend, state *store.State) *Checker {
	return &Checker{
		api:   api,
		state: state,
		now:   time.Now,
	}
}

// SetEventHandler sets a callback for checkout and disconnect events.
func (c *Checker) SetEventHandler(h licensing.EventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = h
}

func (c *Checker) emit(ev licensing.Event) {
	c.mu.RLock()
	h := c.onEvent
	c.mu.RUnlock()
	if h != nil {
		h(ev)
	}
}

// CheckSubscription reports the tier granted by the stored customer's
// subscription. It never returns an error; failures become an inactive free
// result.
func (c *Checker) CheckSubscription(ctx context.Context) (result licensing.SubscriptionCheckResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Subscription check panicked")
			result = licensing.SubscriptionCheckResult{Tier: licensing.TierFree, Error: fmt.Sprintf("subscription check failed: %v", r)}
		}
	}()

	customerID, err := c.state.CustomerID()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read stored customer id")
		return licensing.SubscriptionCheckResult{Tier: licensing.TierFree, Error: err.Error()}
	}
	if customerID == "" {
		return licensing.SubscriptionCheckResult{Tier: licensing.TierFree}
	}

	resp, err := c.api.SubscriptionStatus(ctx, customerID)
	if err != nil {
		log.Warn().Err(err).Msg("Subscription status check failed")
		return licensing.SubscriptionCheckResult{Tier: licensing.TierFree, Error: err.Error()}
	}

	status := strings.ToLower(strings.TrimSpace(resp.Status))
	if status != "" {
		c.observe(licensing.MapStripeSubscriptionStatusToState(status))
	}
	if !resp.Active {
		return licensing.SubscriptionCheckResult{
			Tier:   licensing.TierFree,
			Status: status,
			Error:  strings.TrimSpace(resp.Error),
		}
	}

	tier, ok := licensing.ParseTier(resp.Tier)
	if !ok {
		log.Warn().Str("tier", resp.Tier).Msg("Subscription status reported an unknown tier")
		return licensing.SubscriptionCheckResult{
			Tier:   licensing.TierFree,
			Status: status,
			Error:  fmt.Sprintf("%v: unknown tier %q", backend.ErrMalformedResponse, resp.Tier),
		}
	}

	result = licensing.SubscriptionCheckResult{
		Tier:              tier,
		Active:            true,
		SubscriptionID:    resp.SubscriptionID,
		Status:            status,
		CancelAtPeriodEnd: resp.CancelAtPeriodEnd,
	}
	if resp.CurrentPeriodEnd != nil && *resp.CurrentPeriodEnd > 0 {
		end := time.Unix(*resp.CurrentPeriodEnd, 0).UTC()
		result.CurrentPeriodEnd = &end
		result.DaysRemaining = licensing.IntPtr(licensing.DaysUntil(end, c.now()))
	}
	return result
}

// observe records the lifecycle state reported by the latest check and logs
// changes. Changes outside the expected lifecycle are logged at warn.
func (c *Checker) observe(state licensing.SubscriptionState) {
	c.mu.Lock()
	previous := c.lastState
	c.lastState = state
	c.mu.Unlock()

	if previous == "" || previous == state {
		return
	}
	behavior := licensing.GetBehavior(state)
	if !licensing.CanTransition(previous, state) {
		log.Warn().
			Str("from", string(previous)).
			Str("to", string(state)).
			Msg("Unexpected subscription state change")
		return
	}
	log.Info().
		Str("from", string(previous)).
		Str("to", string(state)).
		Bool("features_available", behavior.FeaturesAvailable).
		Msg(behavior.Description)
}

// LastState returns the lifecycle state from the latest status check, or ""
// before one succeeds.
func (c *Checker) LastState() licensing.SubscriptionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastState
}

// StartCheckout creates a checkout session for a paid tier.
func (c *Checker) StartCheckout(ctx context.Context, tier licensing.Tier, email string) (*CheckoutSession, error) {
	if !tier.IsPaid() {
		return nil, fmt.Errorf("%w: %q", ErrNotPurchasable, tier)
	}
	req := backend.CheckoutRequest{Tier: string(tier), Email: strings.TrimSpace(email)}
	if customerID, err := c.state.CustomerID(); err == nil {
		req.CustomerID = customerID
	}
	if instanceID, err := c.state.InstanceID(); err == nil {
		req.InstanceID = instanceID
	}

	resp, err := c.api.CreateCheckoutSession(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	if resp.SessionID == "" {
		reason := strings.TrimSpace(resp.Error)
		if reason == "" {
			reason = "no session id returned"
		}
		return nil, fmt.Errorf("%w: %s", ErrSessionRejected, reason)
	}
	log.Info().Str("tier", string(tier)).Str("session_id", resp.SessionID).Msg("Checkout session created")
	return &CheckoutSession{SessionID: resp.SessionID, URL: resp.URL}, nil
}

// CompleteCheckout records the customer created by a finished checkout and
// emits checkout_completed.
func (c *Checker) CompleteCheckout(_ context.Context, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return ErrEmptyCustomerID
	}
	if err := c.state.SetCustomerID(customerID); err != nil {
		return fmt.Errorf("store customer id: %w", err)
	}
	log.Info().Str("customer_id", customerID).Msg("Checkout completed")
	c.emit(licensing.EventCheckoutCompleted)
	return nil
}

// OpenPortal creates a billing portal session for the stored customer.
func (c *Checker) OpenPortal(ctx context.Context, returnURL string) (string, error) {
	customerID, err := c.state.CustomerID()
	if err != nil {
		return "", err
	}
	if customerID == "" {
		return "", ErrNoCustomer
	}

	resp, err := c.api.CreatePortalSession(ctx, customerID, strings.TrimSpace(returnURL))
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	portalURL := strings.TrimSpace(resp.URL)
	if portalURL == "" {
		reason := strings.TrimSpace(resp.Error)
		if reason == "" {
			reason = "no portal url returned"
		}
		return "", fmt.Errorf("%w: %s", ErrSessionRejected, reason)
	}
	if parsed, err := url.Parse(portalURL); err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return "", fmt.Errorf("create portal session: %w: invalid url %q", backend.ErrMalformedResponse, portalURL)
	}
	return portalURL, nil
}

// Disconnect forgets the stored customer id and emits customer_disconnected.
func (c *Checker) Disconnect(_ context.Context) error {
	customerID, err := c.state.CustomerID()
	if err != nil {
		return err
	}
	if customerID == "" {
		return ErrNoCustomer
	}
	if err := c.state.ClearCustomerID(); err != nil {
		return fmt.Errorf("clear customer id: %w", err)
	}
	c.mu.Lock()
	c.lastState = ""
	c.mu.Unlock()
	log.Info().Str("customer_id", customerID).Msg("Billing customer disconnected")
	c.emit(licensing.EventCustomerDisconnected)
	return nil
}

// HasCustomer reports whether a customer id is stored.
func (c *Checker) HasCustomer() bool {
	id, err := c.state.CustomerID()
	return err == nil && id != ""
}
