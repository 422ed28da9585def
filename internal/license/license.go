// Package license checks and manages the self-hosted license key.
package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pinkybot/tiergate/internal/backend"
	"github.com/pinkybot/tiergate/internal/store"
	"github.com/pinkybot/tiergate/pkg/licensing"
	"github.com/rs/zerolog/log"
)

// License errors
var (
	ErrNoLicense          = errors.New("no license activated")
	ErrEmptyLicenseKey    = errors.New("license key is required")
	ErrActivationRejected = errors.New("license activation rejected")
	ErrDeactivateRejected = errors.New("license deactivation rejected")
)

// Backend is the subset of the backend client used by the service.
type Backend interface {
	LicenseStatus(ctx context.Context, licenseKey, instanceID string) (*backend.LicenseStatusResponse, error)
	ValidateLicense(ctx context.Context, licenseKey, instanceID string) (*backend.ValidateLicenseResponse, error)
	ActivateLicense(ctx context.Context, licenseKey, instanceID string) (*backend.ActivateLicenseResponse, error)
	DeactivateLicense(ctx context.Context, licenseKey, instanceID string) (*backend.DeactivateLicenseResponse, error)
}

// ValidationResult describes a key checked without activating it.
type ValidationResult struct {
	Valid         bool           `json:"valid"`
	Tier          licensing.Tier `json:"tier"`
	LicenseID     string         `json:"licenseId,omitempty"`
	ExpiresAt     *time.Time     `json:"expiresAt,omitempty"`
	DaysRemaining *int           `json:"daysRemaining,omitempty"`
	Error         string         `json:"error,omitempty"`
}

// Service validates the stored license key and owns its persistence.
type Service struct {
	api   Backend
	state *store.State
	now   func() time.Time

	mu      sync.RWMutex
	onEvent licensing.EventHandler
}

// NewService creates a new license service.
func NewService(api Backend, state *store.State) *Service {
	return &Service{
		api:   api,
		state: state,
		now:   time.Now,
	}
}

// SetEventHandler sets a callback for activation and deactivation events.
func (s *Service) SetEventHandler(h licensing.EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = h
}

func (s *Service) emit(ev licensing.Event) {
	s.mu.RLock()
	h := s.onEvent
	s.mu.RUnlock()
	if h != nil {
		h(ev)
	}
}

// CheckLicense reports whether the stored key grants a tier. It never returns
// an error and never writes to the store; every failure becomes an inactive
// free result carrying the reason.
func (s *Service) CheckLicense(ctx context.Context) (result licensing.LicenseCheckResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("License check panicked")
			result = licensing.LicenseCheckResult{Tier: licensing.TierFree, Error: fmt.Sprintf("license check failed: %v", r)}
		}
	}()

	creds, err := s.state.Credentials()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read stored license key")
		return licensing.LicenseCheckResult{Tier: licensing.TierFree, Error: err.Error()}
	}
	if creds.LicenseKey == "" {
		return licensing.LicenseCheckResult{Tier: licensing.TierFree}
	}

	resp, err := s.api.LicenseStatus(ctx, creds.LicenseKey, creds.InstanceID)
	if err != nil {
		log.Warn().Err(err).Msg("License status check failed")
		return licensing.LicenseCheckResult{Tier: licensing.TierFree, Error: err.Error()}
	}

	status := strings.ToLower(strings.TrimSpace(resp.Status))
	switch status {
	case "active":
		tier, ok := licensing.ParseTier(resp.Tier)
		if !ok {
			log.Warn().Str("tier", resp.Tier).Msg("License status reported an unknown tier")
			return licensing.LicenseCheckResult{
				Tier:  licensing.TierFree,
				Error: fmt.Sprintf("%v: unknown tier %q", backend.ErrMalformedResponse, resp.Tier),
			}
		}
		return licensing.LicenseCheckResult{
			Tier:          tier,
			Active:        true,
			ExpiresAt:     resp.ExpiresAt,
			DaysRemaining: daysRemaining(resp.ExpiresAt, resp.DaysRemaining, s.now()),
		}
	case "":
		return licensing.LicenseCheckResult{
			Tier:  licensing.TierFree,
			Error: fmt.Sprintf("%v: missing license status", backend.ErrMalformedResponse),
		}
	default:
		return licensing.LicenseCheckResult{Tier: licensing.TierFree, Error: inactiveReason(status, resp)}
	}
}

func inactiveReason(status string, resp *backend.LicenseStatusResponse) string {
	if reason := strings.TrimSpace(resp.Reason); reason != "" {
		return reason
	}
	if reason := strings.TrimSpace(resp.Error); reason != "" {
		return reason
	}
	return "license " + status
}

// daysRemaining prefers the timestamp, since the backend's count was computed
// at response time.
func daysRemaining(expiresAt *time.Time, reported *int, now time.Time) *int {
	if expiresAt != nil {
		return licensing.IntPtr(licensing.DaysUntil(*expiresAt, now))
	}
	if reported != nil {
		return licensing.IntPtr(max(*reported, 0))
	}
	return nil
}

// Validate checks a key with the backend without storing it.
func (s *Service) Validate(ctx context.Context, key string) (*ValidationResult, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrEmptyLicenseKey
	}
	instanceID, err := s.state.InstanceID()
	if err != nil {
		return nil, err
	}
	resp, err := s.api.ValidateLicense(ctx, key, instanceID)
	if err != nil {
		return nil, fmt.Errorf("validate license: %w", err)
	}

	result := &ValidationResult{Valid: resp.Valid, Tier: licensing.TierFree, Error: resp.Error}
	if !resp.Valid {
		return result, nil
	}
	tier, ok := licensing.ParseTier(resp.Tier)
	if !ok {
		return nil, fmt.Errorf("validate license: %w: unknown tier %q", backend.ErrMalformedResponse, resp.Tier)
	}
	result.Tier = tier
	if resp.License != nil {
		result.LicenseID = resp.License.ID
		result.ExpiresAt = resp.License.ExpiresAt
		result.DaysRemaining = daysRemaining(resp.License.ExpiresAt, resp.License.DaysRemaining, s.now())
	}
	return result, nil
}

// Activate binds key to this installation, stores it and emits
// license_activated.
func (s *Service) Activate(ctx context.Context, key string) (licensing.Tier, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return licensing.TierFree, ErrEmptyLicenseKey
	}
	instanceID, err := s.state.InstanceID()
	if err != nil {
		return licensing.TierFree, err
	}

	resp, err := s.api.ActivateLicense(ctx, key, instanceID)
	if err != nil {
		return licensing.TierFree, fmt.Errorf("activate license: %w", err)
	}
	if !resp.Activated {
		reason := strings.TrimSpace(resp.Error)
		if reason == "" {
			reason = "backend did not activate the key"
		}
		return licensing.TierFree, fmt.Errorf("%w: %s", ErrActivationRejected, reason)
	}
	tier, ok := licensing.ParseTier(resp.Tier)
	if !ok {
		return licensing.TierFree, fmt.Errorf("activate license: %w: unknown tier %q", backend.ErrMalformedResponse, resp.Tier)
	}

	if err := s.state.SetLicenseKey(key); err != nil {
		return licensing.TierFree, fmt.Errorf("store license key: %w", err)
	}
	log.Info().
		Str("license", MaskedKey(key)).
		Str("tier", string(tier)).
		Msg("License activated")
	s.emit(licensing.EventLicenseActivated)
	return tier, nil
}

// Deactivate releases the stored key. The key is kept when the backend call
// fails so the user can retry.
func (s *Service) Deactivate(ctx context.Context) error {
	creds, err := s.state.Credentials()
	if err != nil {
		return err
	}
	if creds.LicenseKey == "" {
		return ErrNoLicense
	}

	resp, err := s.api.DeactivateLicense(ctx, creds.LicenseKey, creds.InstanceID)
	if err != nil {
		return fmt.Errorf("deactivate license: %w", err)
	}
	if !resp.Success {
		reason := strings.TrimSpace(resp.Error)
		if reason == "" {
			reason = "backend did not release the key"
		}
		return fmt.Errorf("%w: %s", ErrDeactivateRejected, reason)
	}

	if err := s.state.ClearLicenseKey(); err != nil {
		return fmt.Errorf("clear license key: %w", err)
	}
	log.Info().Str("license", MaskedKey(creds.LicenseKey)).Msg("License deactivated")
	s.emit(licensing.EventLicenseDeactivated)
	return nil
}

// StoredKey returns the masked stored key, or "" when none is stored.
func (s *Service) StoredKey() (string, error) {
	key, err := s.state.LicenseKey()
	if err != nil || key == "" {
		return "", err
	}
	return MaskedKey(key), nil
}

// MaskedKey hides all but the first and last four characters of key.
func MaskedKey(key string) string {
	key = strings.TrimSpace(key)
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}
