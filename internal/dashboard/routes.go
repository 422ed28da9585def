package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pinkybot/tiergate/internal/backend"
	"github.com/pinkybot/tiergate/internal/gate"
	"github.com/pinkybot/tiergate/internal/license"
	"github.com/pinkybot/tiergate/internal/logging"
	"github.com/pinkybot/tiergate/internal/subscription"
	"github.com/pinkybot/tiergate/internal/warning"
	"github.com/pinkybot/tiergate/pkg/licensing"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxBodyBytes = 16 * 1024

// Tiers is the resolver surface used by the handlers.
type Tiers interface {
	Current() licensing.TierDecision
	LastResolvedAt() time.Time
	RefreshNow(ctx context.Context) licensing.TierDecision
}

// Licenses manages the stored license key.
type Licenses interface {
	Activate(ctx context.Context, key string) (licensing.Tier, error)
	Deactivate(ctx context.Context) error
	Validate(ctx context.Context, key string) (*license.ValidationResult, error)
	StoredKey() (string, error)
}

// Billing runs the subscription flows.
type Billing interface {
	StartCheckout(ctx context.Context, tier licensing.Tier, email string) (*subscription.CheckoutSession, error)
	CompleteCheckout(ctx context.Context, customerID string) error
	OpenPortal(ctx context.Context, returnURL string) (string, error)
	Disconnect(ctx context.Context) error
	HasCustomer() bool
}

// Actions is the presenter surface used by the handlers.
type Actions interface {
	HandleAction(ctx context.Context, action warning.Action) (*warning.ActionResult, error)
	DismissModal()
	DismissBanner()
	CurrentBanner() (warning.Banner, bool)
	CurrentModal() (warning.Modal, bool)
}

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Gate       *gate.Gate
	Tiers      Tiers
	Licenses   Licenses
	Billing    Billing
	Actions    Actions
	Hub        *Hub
	UpgradeURL licensing.UpgradeURLResolver
	ReturnURL  string
	Version    string
	// Limiter throttles mutating API calls per client IP. Nil disables it.
	Limiter *RateLimiter
}

// TierState is the payload of GET /api/tier and the WebSocket initialState.
type TierState struct {
	Decision       licensing.TierDecision  `json:"decision"`
	UITier         licensing.Tier          `json:"uiTier"`
	ResolvedAt     *time.Time              `json:"resolvedAt,omitempty"`
	LicenseKey     string                  `json:"licenseKey,omitempty"`
	HasCustomer    bool                    `json:"hasCustomer"`
	Banner         *warning.Banner         `json:"banner,omitempty"`
	Modal          *warning.Modal          `json:"modal,omitempty"`
	Features       []gate.FeatureState     `json:"features,omitempty"`
	UpgradeReasons []licensing.ReasonEntry `json:"upgradeReasons,omitempty"`
}

// State builds the current TierState.
func (d *Deps) State() TierState {
	snap := d.Gate.Snapshot()
	s := TierState{
		Decision: d.Tiers.Current(),
		UITier:   snap.Tier,
		Features: snap.Features,
	}
	for _, reason := range licensing.GenerateUpgradeReasons(snap.Tier) {
		if d.UpgradeURL != nil {
			reason.ActionURL = d.UpgradeURL(reason.Feature)
		}
		s.UpgradeReasons = append(s.UpgradeReasons, reason)
	}
	if at := d.Tiers.LastResolvedAt(); !at.IsZero() {
		s.ResolvedAt = &at
	}
	if d.Licenses != nil {
		if key, err := d.Licenses.StoredKey(); err == nil {
			s.LicenseKey = key
		}
	}
	if d.Billing != nil {
		s.HasCustomer = d.Billing.HasCustomer()
	}
	if d.Actions != nil {
		if b, ok := d.Actions.CurrentBanner(); ok {
			s.Banner = &b
		}
		if m, ok := d.Actions.CurrentModal(); ok {
			s.Modal = &m
		}
	}
	return s
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	mutating := func(h http.HandlerFunc) http.Handler {
		if deps.Limiter == nil {
			return h
		}
		return deps.Limiter.Middleware(h)
	}

	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWebSocket)
	}

	mux.HandleFunc("GET /api/version", deps.handleVersion)
	mux.HandleFunc("GET /api/tier", deps.handleTier)
	mux.HandleFunc("GET /api/features", deps.handleFeatures)
	mux.Handle("POST /api/features/{id}/activate", mutating(deps.handleActivateFeature))
	mux.Handle("POST /api/refresh", mutating(deps.handleRefresh))

	mux.Handle("POST /api/license/activate", mutating(deps.handleLicenseActivate))
	mux.Handle("POST /api/license/validate", mutating(deps.handleLicenseValidate))
	mux.Handle("POST /api/license/deactivate", mutating(deps.handleLicenseDeactivate))

	mux.Handle("POST /api/checkout", mutating(deps.handleCheckout))
	mux.Handle("POST /api/checkout/complete", mutating(deps.handleCheckoutComplete))
	mux.Handle("POST /api/billing/portal", mutating(deps.handlePortal))
	mux.Handle("POST /api/billing/disconnect", mutating(deps.handleDisconnect))

	mux.Handle("POST /api/actions/{action}", mutating(deps.handleAction))
	mux.Handle("POST /api/modal/dismiss", mutating(deps.handleModalDismiss))
	mux.Handle("POST /api/banner/dismiss", mutating(deps.handleBannerDismiss))
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (d *Deps) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": d.Version})
}

func (d *Deps) handleTier(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.State())
}

func (d *Deps) handleFeatures(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.Gate.Snapshot())
}

func (d *Deps) handleActivateFeature(w http.ResponseWriter, r *http.Request) {
	feature := strings.TrimSpace(r.PathValue("id"))
	if feature == "" {
		writeError(w, http.StatusBadRequest, "missing_feature", "feature id is required")
		return
	}

	err := d.Gate.Activate(r.Context(), feature)
	switch {
	case err == nil, errors.Is(err, gate.ErrNoHandler):
		// Nothing registered server side; the page runs the feature itself.
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"feature": feature,
			"allowed": true,
		})
	case errors.Is(err, gate.ErrFeatureLocked):
		licensing.WriteLicenseRequired(w, feature, err.Error(), d.UpgradeURL)
	default:
		d.fail(w, r, err)
	}
}

func (d *Deps) handleRefresh(w http.ResponseWriter, r *http.Request) {
	decision := d.Tiers.RefreshNow(r.Context())
	writeJSON(w, http.StatusOK, decision)
}

type licenseRequest struct {
	LicenseKey string `json:"licenseKey"`
}

func (d *Deps) handleLicenseActivate(w http.ResponseWriter, r *http.Request) {
	var req licenseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tier, err := d.Licenses.Activate(r.Context(), req.LicenseKey)
	if err != nil {
		d.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"activated":  true,
		"tier":       tier,
		"licenseKey": license.MaskedKey(strings.TrimSpace(req.LicenseKey)),
	})
}

func (d *Deps) handleLicenseValidate(w http.ResponseWriter, r *http.Request) {
	var req licenseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := d.Licenses.Validate(r.Context(), req.LicenseKey)
	if err != nil {
		d.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (d *Deps) handleLicenseDeactivate(w http.ResponseWriter, r *http.Request) {
	if err := d.Licenses.Deactivate(r.Context()); err != nil {
		d.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deactivated": true})
}

type checkoutRequest struct {
	Tier  string `json:"tier"`
	Email string `json:"email"`
}

func (d *Deps) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	tier, ok := licensing.ParseTier(req.Tier)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_tier", "unknown tier "+strings.TrimSpace(req.Tier))
		return
	}
	session, err := d.Billing.StartCheckout(r.Context(), tier, req.Email)
	if err != nil {
		d.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type completeRequest struct {
	CustomerID string `json:"customerId"`
}

func (d *Deps) handleCheckoutComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := d.Billing.CompleteCheckout(r.Context(), req.CustomerID); err != nil {
		d.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"completed": true})
}

type portalRequest struct {
	ReturnURL string `json:"returnUrl"`
}

func (d *Deps) handlePortal(w http.ResponseWriter, r *http.Request) {
	var req portalRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	returnURL := strings.TrimSpace(req.ReturnURL)
	if returnURL == "" {
		returnURL = d.ReturnURL
	}
	portalURL, err := d.Billing.OpenPortal(r.Context(), returnURL)
	if err != nil {
		d.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": portalURL})
}

func (d *Deps) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := d.Billing.Disconnect(r.Context()); err != nil {
		d.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"disconnected": true})
}

func (d *Deps) handleAction(w http.ResponseWriter, r *http.Request) {
	action, ok := warning.ParseAction(r.PathValue("action"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown_action", "unknown action "+r.PathValue("action"))
		return
	}
	result, err := d.Actions.HandleAction(r.Context(), action)
	if err != nil {
		d.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (d *Deps) handleModalDismiss(w http.ResponseWriter, _ *http.Request) {
	d.Actions.DismissModal()
	w.WriteHeader(http.StatusNoContent)
}

func (d *Deps) handleBannerDismiss(w http.ResponseWriter, _ *http.Request) {
	d.Actions.DismissBanner()
	w.WriteHeader(http.StatusNoContent)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be a JSON object")
		return false
	}
	return true
}

// fail maps a service error to an HTTP status and writes it.
func (d *Deps) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Warn().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request failed")
	} else {
		logger.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("Request rejected")
	}
	writeError(w, status, code, err.Error())
}

func classify(err error) (int, string) {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, license.ErrEmptyLicenseKey),
		errors.Is(err, subscription.ErrEmptyCustomerID),
		errors.Is(err, subscription.ErrNotPurchasable),
		errors.Is(err, warning.ErrUnknownAction):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, license.ErrNoLicense),
		errors.Is(err, subscription.ErrNoCustomer):
		return http.StatusConflict, "not_configured"
	case errors.Is(err, license.ErrActivationRejected),
		errors.Is(err, license.ErrDeactivateRejected),
		errors.Is(err, subscription.ErrSessionRejected):
		return http.StatusUnprocessableEntity, "rejected"
	case errors.Is(err, backend.ErrCircuitOpen):
		return http.StatusServiceUnavailable, "backend_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "backend_timeout"
	case errors.Is(err, backend.ErrMalformedResponse), errors.As(err, &apiErr):
		return http.StatusBadGateway, "backend_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
