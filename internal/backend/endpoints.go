package backend

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// LicenseStatusResponse is returned by GET /api/license/status.
type LicenseStatusResponse struct {
	Status        string     `json:"status"`
	Tier          string     `json:"tier"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	DaysRemaining *int       `json:"daysRemaining,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// LicenseDetails is the license block of a validate response.
type LicenseDetails struct {
	ID            string     `json:"id"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	DaysRemaining *int       `json:"daysRemaining,omitempty"`
}

// ValidateLicenseResponse is returned by POST /api/license/validate.
type ValidateLicenseResponse struct {
	Valid   bool            `json:"valid"`
	Tier    string          `json:"tier,omitempty"`
	License *LicenseDetails `json:"license,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ActivateLicenseResponse is returned by POST /api/license/activate.
type ActivateLicenseResponse struct {
	Activated bool   `json:"activated"`
	Tier      string `json:"tier"`
	Error     string `json:"error,omitempty"`
}

// DeactivateLicenseResponse is returned by POST /api/license/deactivate.
type DeactivateLicenseResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SubscriptionStatusResponse is returned by GET /api/stripe/subscription-status.
// CurrentPeriodEnd is in epoch seconds.
type SubscriptionStatusResponse struct {
	Active            bool   `json:"active"`
	Tier              string `json:"tier"`
	SubscriptionID    string `json:"subscriptionId,omitempty"`
	Status            string `json:"status,omitempty"`
	CurrentPeriodEnd  *int64 `json:"currentPeriodEnd,omitempty"`
	CancelAtPeriodEnd bool   `json:"cancelAtPeriodEnd,omitempty"`
	Error             string `json:"error,omitempty"`
}

// CheckoutSessionResponse is returned by POST /api/stripe/create-checkout-session.
type CheckoutSessionResponse struct {
	SessionID string `json:"sessionId,omitempty"`
	URL       string `json:"url,omitempty"`
	Error     string `json:"error,omitempty"`
}

// PortalSessionResponse is returned by POST /api/stripe/create-portal-session.
type PortalSessionResponse struct {
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// CheckoutRequest is the body of a checkout session request.
type CheckoutRequest struct {
	Tier       string `json:"tier"`
	Email      string `json:"email,omitempty"`
	CustomerID string `json:"customerId,omitempty"`
	InstanceID string `json:"instanceId,omitempty"`
}

type licenseRequest struct {
	LicenseKey string `json:"licenseKey"`
	InstanceID string `json:"instanceId"`
}

type portalRequest struct {
	CustomerID string `json:"customerId"`
	ReturnURL  string `json:"returnUrl,omitempty"`
}

func (c *Client) LicenseStatus(ctx context.Context, licenseKey, instanceID string) (*LicenseStatusResponse, error) {
	query := url.Values{}
	query.Set("licenseKey", licenseKey)
	query.Set("instanceId", instanceID)

	var out LicenseStatusResponse
	if err := c.do(ctx, EndpointLicenseStatus, http.MethodGet, "/api/license/status", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ValidateLicense(ctx context.Context, licenseKey, instanceID string) (*ValidateLicenseResponse, error) {
	var out ValidateLicenseResponse
	body := licenseRequest{LicenseKey: licenseKey, InstanceID: instanceID}
	if err := c.do(ctx, EndpointLicenseValidate, http.MethodPost, "/api/license/validate", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ActivateLicense(ctx context.Context, licenseKey, instanceID string) (*ActivateLicenseResponse, error) {
	var out ActivateLicenseResponse
	body := licenseRequest{LicenseKey: licenseKey, InstanceID: instanceID}
	if err := c.do(ctx, EndpointLicenseActivate, http.MethodPost, "/api/license/activate", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeactivateLicense(ctx context.Context, licenseKey, instanceID string) (*DeactivateLicenseResponse, error) {
	var out DeactivateLicenseResponse
	body := licenseRequest{LicenseKey: licenseKey, InstanceID: instanceID}
	if err := c.do(ctx, EndpointLicenseDeactivate, http.MethodPost, "/api/license/deactivate", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SubscriptionStatus(ctx context.Context, customerID string) (*SubscriptionStatusResponse, error) {
	query := url.Values{}
	query.Set("customerId", customerID)

	var out SubscriptionStatusResponse
	if err := c.do(ctx, EndpointSubscriptionStatus, http.MethodGet, "/api/stripe/subscription-status", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSessionResponse, error) {
	var out CheckoutSessionResponse
	if err := c.do(ctx, EndpointCheckoutSession, http.MethodPost, "/api/stripe/create-checkout-session", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*PortalSessionResponse, error) {
	var out PortalSessionResponse
	body := portalRequest{CustomerID: customerID, ReturnURL: returnURL}
	if err := c.do(ctx, EndpointPortalSession, http.MethodPost, "/api/stripe/create-portal-session", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
