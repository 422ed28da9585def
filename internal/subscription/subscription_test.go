package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pinkybot/tiergate/internal/backend"
	"github.com/pinkybot/tiergate/internal/store"
	"github.com/pinkybot/tiergate/pkg/licensing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	statusCalls int
	status      func(customerID string) (*backend.SubscriptionStatusResponse, error)
	checkout    func(req backend.CheckoutRequest) (*backend.CheckoutSessionResponse, error)
	portal      func(customerID, returnURL string) (*backend.PortalSessionResponse, error)
}

func (f *fakeBackend) SubscriptionStatus(_ context.Context, customerID string) (*backend.SubscriptionStatusResponse, error) {
	f.statusCalls++
	return f.status(customerID)
}

func (f *fakeBackend) CreateCheckoutSession(_ context.Context, req backend.CheckoutRequest) (*backend.CheckoutSessionResponse, error) {
	return f.checkout(req)
}

func (f *fakeBackend) CreatePortalSession(_ context.Context, customerID, returnURL string) (*backend.PortalSessionResponse, error) {
	return f.portal(customerID, returnURL)
}

var testNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newChecker(t *testing.T, api *fakeBackend) (*Checker, *store.State) {
	t.Helper()
	st := store.NewState(store.NewMemoryStore())
	c := NewChecker(api, st)
	c.now = func() time.Time { return testNow }
	return c, st
}

func epoch(t time.Time) *int64 {
	v := t.Unix()
	return &v
}

func TestCheckSubscriptionWithoutCustomerSkipsNetwork(t *testing.T) {
	api := &fakeBackend{}
	c, _ := newChecker(t, api)

	got := c.CheckSubscription(context.Background())
	assert.Equal(t, licensing.SubscriptionCheckResult{Tier: licensing.TierFree}, got)
	assert.Equal(t, 0, api.statusCalls)
}

func TestCheckSubscription(t *testing.T) {
	periodEnd := testNow.Add(5*24*time.Hour + 30*time.Minute)

	tests := []struct {
		name       string
		resp       *backend.SubscriptionStatusResponse
		err        error
		want       licensing.SubscriptionCheckResult
		wantPeriod bool
	}{
		{
			name: "active pro",
			resp: &backend.SubscriptionStatusResponse{Active: true, Tier: "pro", SubscriptionID: "sub_1", Status: "active", CurrentPeriodEnd: epoch(periodEnd)},
			want: licensing.SubscriptionCheckResult{
				Tier: licensing.TierPro, Active: true, SubscriptionID: "sub_1", Status: "active",
				DaysRemaining: licensing.IntPtr(6),
			},
			wantPeriod: true,
		},
		{
			name: "past due still active",
			resp: &backend.SubscriptionStatusResponse{Active: true, Tier: "pro", Status: "past_due", CurrentPeriodEnd: epoch(periodEnd)},
			want: licensing.SubscriptionCheckResult{
				Tier: licensing.TierPro, Active: true, Status: "past_due", DaysRemaining: licensing.IntPtr(6),
			},
			wantPeriod: true,
		},
		{
			name: "cancelling",
			resp: &backend.SubscriptionStatusResponse{Active: true, Tier: "enterprise", Status: "active", CancelAtPeriodEnd: true, CurrentPeriodEnd: epoch(periodEnd)},
			want: licensing.SubscriptionCheckResult{
				Tier: licensing.TierEnterprise, Active: true, Status: "active", CancelAtPeriodEnd: true, DaysRemaining: licensing.IntPtr(6),
			},
			wantPeriod: true,
		},
		{
			name: "period already ended clamps to zero",
			resp: &backend.SubscriptionStatusResponse{Active: true, Tier: "pro", Status: "active", CurrentPeriodEnd: epoch(testNow.Add(-time.Hour))},
			want: licensing.SubscriptionCheckResult{
				Tier: licensing.TierPro, Active: true, Status: "active", DaysRemaining: licensing.IntPtr(0),
			},
			wantPeriod: true,
		},
		{
			name: "inactive canceled",
			resp: &backend.SubscriptionStatusResponse{Active: false, Tier: "pro", Status: "canceled"},
			want: licensing.SubscriptionCheckResult{Tier: licensing.TierFree, Status: "canceled"},
		},
		{
			name: "unknown tier is malformed",
			resp: &backend.SubscriptionStatusResponse{Active: true, Tier: "", Status: "active"},
			want: licensing.SubscriptionCheckResult{Tier: licensing.TierFree, Status: "active", Error: "malformed backend response: unknown tier \"\""},
		},
		{
			name: "circuit open",
			err:  backend.ErrCircuitOpen,
			want: licensing.SubscriptionCheckResult{Tier: licensing.TierFree, Error: backend.ErrCircuitOpen.Error()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeBackend{status: func(customerID string) (*backend.SubscriptionStatusResponse, error) {
				assert.Equal(t, "cus_123", customerID)
				return tt.resp, tt.err
			}}
			c, st := newChecker(t, api)
			require.NoError(t, st.SetCustomerID("cus_123"))

			got := c.CheckSubscription(context.Background())
			if tt.wantPeriod {
				require.NotNil(t, got.CurrentPeriodEnd)
				assert.Equal(t, *tt.resp.CurrentPeriodEnd, got.CurrentPeriodEnd.Unix())
			} else {
				assert.Nil(t, got.CurrentPeriodEnd)
			}
			got.CurrentPeriodEnd = nil
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckSubscriptionTracksLifecycleState(t *testing.T) {
	statuses := []struct {
		status string
		active bool
		want   licensing.SubscriptionState
	}{
		{"trialing", true, licensing.SubStateTrial},
		{"active", true, licensing.SubStateActive},
		{"past_due", true, licensing.SubStateGrace},
		{"active", true, licensing.SubStateActive},
		{"canceled", false, licensing.SubStateCanceled},
	}
	step := 0
	api := &fakeBackend{status: func(string) (*backend.SubscriptionStatusResponse, error) {
		s := statuses[step]
		return &backend.SubscriptionStatusResponse{Active: s.active, Tier: "pro", Status: s.status}, nil
	}}
	c, st := newChecker(t, api)
	require.NoError(t, st.SetCustomerID("cus_1"))
	assert.Equal(t, licensing.SubscriptionState(""), c.LastState())

	for i, s := range statuses {
		step = i
		c.CheckSubscription(context.Background())
		assert.Equal(t, s.want, c.LastState(), "after %s", s.status)
	}

	require.NoError(t, c.Disconnect(context.Background()))
	assert.Equal(t, licensing.SubscriptionState(""), c.LastState())
}

func TestStartCheckout(t *testing.T) {
	var sent backend.CheckoutRequest
	api := &fakeBackend{checkout: func(req backend.CheckoutRequest) (*backend.CheckoutSessionResponse, error) {
		sent = req
		return &backend.CheckoutSessionResponse{SessionID: "cs_1", URL: "https://checkout.stripe.com/c/cs_1"}, nil
	}}
	c, _ := newChecker(t, api)

	session, err := c.StartCheckout(context.Background(), licensing.TierPro, " me@example.com ")
	require.NoError(t, err)
	assert.Equal(t, "cs_1", session.SessionID)
	assert.Equal(t, "pro", sent.Tier)
	assert.Equal(t, "me@example.com", sent.Email)
	assert.NotEmpty(t, sent.InstanceID)

	_, err = c.StartCheckout(context.Background(), licensing.TierFree, "")
	assert.ErrorIs(t, err, ErrNotPurchasable)
}

func TestStartCheckoutRejected(t *testing.T) {
	api := &fakeBackend{checkout: func(backend.CheckoutRequest) (*backend.CheckoutSessionResponse, error) {
		return &backend.CheckoutSessionResponse{Error: "price not configured"}, nil
	}}
	c, _ := newChecker(t, api)

	_, err := c.StartCheckout(context.Background(), licensing.TierEnterprise, "")
	assert.ErrorIs(t, err, ErrSessionRejected)
	assert.Contains(t, err.Error(), "price not configured")
}

func TestCompleteCheckoutAndDisconnect(t *testing.T) {
	c, st := newChecker(t, &fakeBackend{})
	var events []licensing.Event
	c.SetEventHandler(func(ev licensing.Event) { events = append(events, ev) })

	assert.ErrorIs(t, c.CompleteCheckout(context.Background(), ""), ErrEmptyCustomerID)
	assert.ErrorIs(t, c.Disconnect(context.Background()), ErrNoCustomer)

	require.NoError(t, c.CompleteCheckout(context.Background(), "cus_777"))
	id, err := st.CustomerID()
	require.NoError(t, err)
	assert.Equal(t, "cus_777", id)
	assert.True(t, c.HasCustomer())

	require.NoError(t, c.Disconnect(context.Background()))
	assert.False(t, c.HasCustomer())

	assert.Equal(t, []licensing.Event{licensing.EventCheckoutCompleted, licensing.EventCustomerDisconnected}, events)
}

func TestOpenPortal(t *testing.T) {
	t.Run("no customer", func(t *testing.T) {
		c, _ := newChecker(t, &fakeBackend{})
		_, err := c.OpenPortal(context.Background(), "")
		assert.ErrorIs(t, err, ErrNoCustomer)
	})

	t.Run("returns url", func(t *testing.T) {
		api := &fakeBackend{portal: func(customerID, returnURL string) (*backend.PortalSessionResponse, error) {
			assert.Equal(t, "cus_1", customerID)
			assert.Equal(t, "https://app.pinkybot.io/billing", returnURL)
			return &backend.PortalSessionResponse{URL: "https://billing.stripe.com/p/abc"}, nil
		}}
		c, st := newChecker(t, api)
		require.NoError(t, st.SetCustomerID("cus_1"))

		got, err := c.OpenPortal(context.Background(), "https://app.pinkybot.io/billing")
		require.NoError(t, err)
		assert.Equal(t, "https://billing.stripe.com/p/abc", got)
	})

	t.Run("backend failure", func(t *testing.T) {
		api := &fakeBackend{portal: func(string, string) (*backend.PortalSessionResponse, error) {
			return nil, errors.New("dial tcp: connection refused")
		}}
		c, st := newChecker(t, api)
		require.NoError(t, st.SetCustomerID("cus_1"))

		_, err := c.OpenPortal(context.Background(), "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("bad url", func(t *testing.T) {
		api := &fakeBackend{portal: func(string, string) (*backend.PortalSessionResponse, error) {
			return &backend.PortalSessionResponse{URL: "javascript:alert(1)"}, nil
		}}
		c, st := newChecker(t, api)
		require.NoError(t, st.SetCustomerID("cus_1"))

		_, err := c.OpenPortal(context.Background(), "")
		assert.ErrorIs(t, err, backend.ErrMalformedResponse)
	})
}
