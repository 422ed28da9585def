// Package backend is the HTTP client for the PinkyBot license and billing API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pinkybot/tiergate/internal/metrics"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
)

const (
	defaultBaseURL         = "http://localhost:3000"
	defaultTimeout         = 10 * time.Second
	defaultUserAgent       = "tiergate"
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
	maxHTTPErrorBodyBytes  = 4096
	maxResponseBodyBytes   = 1 << 20
)

// Endpoint names used for breakers and metrics.
const (
	EndpointLicenseStatus      = "license_status"
	EndpointLicenseValidate    = "license_validate"
	EndpointLicenseActivate    = "license_activate"
	EndpointLicenseDeactivate  = "license_deactivate"
	EndpointSubscriptionStatus = "subscription_status"
	EndpointCheckoutSession    = "checkout_session"
	EndpointPortalSession      = "portal_session"
)

var (
	ErrCircuitOpen       = errors.New("backend circuit open")
	ErrMalformedResponse = errors.New("malformed backend response")
)

// APIError is returned for non-2xx responses.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s responded with status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s responded with status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Config holds configuration for the backend client.
type Config struct {
	BaseURL         string
	Timeout         time.Duration
	UserAgent       string
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	// HTTPClient overrides the default client; its redirect policy is kept.
	HTTPClient *http.Client
}

// Client calls the backend REST endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
	configErr  error
	breakers   map[string]*gobreaker.CircuitBreaker[any]
}

// New creates a backend client. An invalid base URL is reported on every call.
func New(cfg Config) *Client {
	cfg, cfgErr := normalizeConfig(cfg)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         dialContextWithCache,
				TLSHandshakeTimeout: 10 * time.Second,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return fmt.Errorf("server returned redirect to %s", req.URL)
			},
		}
	}

	c := &Client{
		cfg:        cfg,
		httpClient: httpClient,
		configErr:  cfgErr,
		breakers:   make(map[string]*gobreaker.CircuitBreaker[any]),
	}
	for _, name := range []string{
		EndpointLicenseStatus, EndpointLicenseValidate, EndpointLicenseActivate,
		EndpointLicenseDeactivate, EndpointSubscriptionStatus,
		EndpointCheckoutSession, EndpointPortalSession,
	} {
		c.breakers[name] = newBreaker(name, cfg)
	}
	return c
}

func newBreaker(name string, cfg Config) *gobreaker.CircuitBreaker[any] {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// Rejections the backend answered deliberately are not outages.
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.StatusCode < 500
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Backend circuit breaker state changed")
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	}
	metrics.BreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))
	return gobreaker.NewCircuitBreaker[any](settings)
}

// BreakerState returns the named breaker's state, or "none" if unknown.
func (c *Client) BreakerState(endpoint string) string {
	b, ok := c.breakers[endpoint]
	if !ok {
		return "none"
	}
	return b.State().String()
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.cfg.BaseURL
}

func normalizeConfig(cfg Config) (Config, error) {
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	cfg.UserAgent = strings.TrimSpace(cfg.UserAgent)
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = defaultBreakerFailures
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = defaultBreakerTimeout
	}

	normalized, err := normalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return cfg, err
	}
	cfg.BaseURL = normalized
	return cfg, nil
}

func normalizeBaseURL(raw string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid backend URL: %w", err)
	}

	switch parsed.Scheme {
	case "http", "https":
	default:
		return "", fmt.Errorf("invalid backend URL scheme %q: must be http or https", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return "", errors.New("invalid backend URL: missing host")
	}
	if parsed.User != nil {
		return "", errors.New("invalid backend URL: userinfo is not allowed")
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return "", errors.New("invalid backend URL: query and fragment are not allowed")
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/")
	return parsed.String(), nil
}

// do runs one request through the endpoint's breaker and decodes a 2xx JSON
// body into out.
func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values, body any, out any) error {
	if c.configErr != nil {
		return fmt.Errorf("invalid backend client configuration: %w", c.configErr)
	}

	start := time.Now()
	_, err := c.breakers[endpoint].Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, endpoint, method, path, query, body, out)
	})
	metrics.BackendRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.BackendRequestsTotal.WithLabelValues(endpoint, "circuit_open").Inc()
		return fmt.Errorf("%s: %w", endpoint, ErrCircuitOpen)
	}
	if err != nil {
		metrics.BackendRequestsTotal.WithLabelValues(endpoint, outcomeLabel(err)).Inc()
		return err
	}
	metrics.BackendRequestsTotal.WithLabelValues(endpoint, "success").Inc()
	return nil
}

func outcomeLabel(err error) string {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return "http_error"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	default:
		return "transport_error"
	}
}

func (c *Client) roundTrip(ctx context.Context, endpoint, method, path string, query url.Values, body any, out any) error {
	endpointURL := c.cfg.BaseURL + path
	if len(query) > 0 {
		endpointURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", endpoint, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpointURL, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request: %w", endpoint, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Debug().Err(closeErr).Str("endpoint", endpoint).Msg("Failed to close backend response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return formatHTTPStatusError(resp, endpoint)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBodyBytes)).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrMalformedResponse, endpoint, err)
	}
	return nil
}

func formatHTTPStatusError(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxHTTPErrorBodyBytes))
	if readErr != nil {
		return &APIError{Op: operation, StatusCode: resp.StatusCode, Body: fmt.Sprintf("failed to read response body: %v", readErr)}
	}
	return &APIError{Op: operation, StatusCode: resp.StatusCode, Body: errorDetail(body)}
}

// errorDetail prefers the backend's {"error": "..."} message over raw text.
func errorDetail(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}
	return strings.TrimSpace(string(body))
}
