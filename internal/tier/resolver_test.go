package tier

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pinkybot/tiergate/internal/gate"
	"github.com/pinkybot/tiergate/internal/store"
	"github.com/pinkybot/tiergate/internal/warning"
	"github.com/pinkybot/tiergate/pkg/licensing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLicense struct {
	mu     sync.Mutex
	result licensing.LicenseCheckResult
	panics bool
	block  chan struct{}
	calls  atomic.Int32
}

func (f *fakeLicense) CheckLicense(ctx context.Context) licensing.LicenseCheckResult {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return licensing.LicenseCheckResult{Tier: licensing.TierFree, Error: ctx.Err().Error()}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("license exploded")
	}
	return f.result
}

func (f *fakeLicense) set(r licensing.LicenseCheckResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = r
}

type fakeSubscription struct {
	mu     sync.Mutex
	result licensing.SubscriptionCheckResult
	calls  atomic.Int32
}

func (f *fakeSubscription) CheckSubscription(context.Context) licensing.SubscriptionCheckResult {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result
}

type recordingSink struct {
	mu      sync.Mutex
	banners []warning.Banner
}

func (r *recordingSink) ShowBanner(b warning.Banner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.banners = append(r.banners, b)
}
func (r *recordingSink) ClearBanner()            {}
func (r *recordingSink) ShowModal(warning.Modal) {}
func (r *recordingSink) CloseModal()             {}

func (r *recordingSink) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.banners))
	for _, b := range r.banners {
		out = append(out, b.ID)
	}
	return out
}

type harness struct {
	lic       *fakeLicense
	sub       *fakeSubscription
	mem       *store.MemoryStore
	state     *store.State
	gate      *gate.Gate
	sink      *recordingSink
	presenter *warning.Presenter
	resolver  *Resolver
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		lic:  &fakeLicense{result: licensing.LicenseCheckResult{Tier: licensing.TierFree}},
		sub:  &fakeSubscription{result: licensing.SubscriptionCheckResult{Tier: licensing.TierFree}},
		mem:  store.NewMemoryStore(),
		sink: &recordingSink{},
	}
	h.state = store.NewState(h.mem)
	presenter := warning.NewPresenter(h.sink, nil, warning.Config{})
	h.presenter = presenter
	h.gate = gate.New(h.state, presenter)
	h.resolver = New(Config{Interval: time.Hour, RequestTimeout: time.Second}, Deps{
		License:      h.lic,
		Subscription: h.sub,
		State:        h.state,
		Gate:         h.gate,
		Presenter:    presenter,
	})
	h.resolver.now = func() time.Time { return testNow }
	t.Cleanup(h.resolver.Stop)
	return h
}

func TestScenarioNoCredentials(t *testing.T) {
	h := newHarness(t)

	d := h.resolver.Resolve(context.Background())

	assert.Equal(t, licensing.DefaultDecision(), d)
	assert.Equal(t, licensing.TierFree, h.gate.Tier())
	for _, f := range h.gate.Snapshot().Features {
		assert.Equal(t, !licensing.InFreeAllowList(f.ID), f.Locked, f.ID)
	}
	assert.Empty(t, h.sink.ids())
}

func TestScenarioEnterpriseLicense(t *testing.T) {
	h := newHarness(t)
	h.lic.set(licensing.LicenseCheckResult{Tier: licensing.TierEnterprise, Active: true})

	d := h.resolver.Resolve(context.Background())

	assert.Equal(t, licensing.TierEnterprise, d.Tier)
	assert.Equal(t, licensing.SourceLicense, d.Source)
	for _, f := range h.gate.Snapshot().Features {
		assert.False(t, f.Locked, f.ID)
	}
}

func TestScenarioPastDueSubscription(t *testing.T) {
	h := newHarness(t)
	h.sub.result = licensing.SubscriptionCheckResult{Tier: licensing.TierPro, Active: true, Status: "past_due", DaysRemaining: licensing.IntPtr(3)}

	d := h.resolver.Resolve(context.Background())

	assert.Equal(t, licensing.TierPro, d.Tier)
	assert.Equal(t, licensing.SourceStripe, d.Source)
	assert.Equal(t, []string{warning.BannerPaymentFailed}, h.sink.ids())
}

func TestScenarioSubscriptionOutranksLicense(t *testing.T) {
	h := newHarness(t)
	h.lic.set(licensing.LicenseCheckResult{Tier: licensing.TierPro, Active: true})
	h.sub.result = licensing.SubscriptionCheckResult{Tier: licensing.TierEnterprise, Active: true, Status: "active"}

	d := h.resolver.Resolve(context.Background())

	assert.Equal(t, licensing.TierEnterprise, d.Tier)
	assert.Equal(t, licensing.SourceStripe, d.Source)
}

func TestScenarioLicenseFailureFallsBackToSubscription(t *testing.T) {
	h := newHarness(t)
	h.lic.set(licensing.LicenseCheckResult{Tier: licensing.TierFree, Error: "dial tcp: connection refused"})
	h.sub.result = licensing.SubscriptionCheckResult{Tier: licensing.TierPro, Active: true, Status: "active"}

	d := h.resolver.Resolve(context.Background())

	assert.Equal(t, licensing.TierPro, d.Tier)
	assert.Equal(t, licensing.SourceStripe, d.Source)
}

func TestLicenseTimeoutStillResolves(t *testing.T) {
	h := newHarness(t)
	h.resolver.cfg.RequestTimeout = 20 * time.Millisecond
	h.lic.block = make(chan struct{})
	h.sub.result = licensing.SubscriptionCheckResult{Tier: licensing.TierPro, Active: true}

	d := h.resolver.Resolve(context.Background())

	assert.Equal(t, licensing.TierPro, d.Tier)
	assert.Equal(t, licensing.SourceStripe, d.Source)
}

func TestResolveIsIdempotent(t *testing.T) {
	h := newHarness(t)
	expires := testNow.Add(40 * 24 * time.Hour)
	h.lic.set(licensing.LicenseCheckResult{Tier: licensing.TierPro, Active: true, ExpiresAt: &expires})

	first := h.resolver.Resolve(context.Background())
	h.resolver.now = func() time.Time { return testNow.Add(2 * time.Second) }
	second := h.resolver.Resolve(context.Background())

	first.DaysRemaining, second.DaysRemaining = nil, nil
	assert.Equal(t, first, second)
}

func TestResolvePersistsFullDecision(t *testing.T) {
	h := newHarness(t)
	h.sub.result = licensing.SubscriptionCheckResult{Tier: licensing.TierPro, Active: true, Status: "active", CancelAtPeriodEnd: true}
	h.resolver.Resolve(context.Background())

	h.sub.result = licensing.SubscriptionCheckResult{Tier: licensing.TierFree}
	h.resolver.Resolve(context.Background())

	stored, ok, err := h.state.Decision()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, licensing.DefaultDecision(), stored, "decision is replaced, not merged")
	tier, _, _ := h.mem.Get(store.KeyTier)
	source, _, _ := h.mem.Get(store.KeyTierSource)
	assert.Equal(t, "free", tier)
	assert.Equal(t, "default", source)
	assert.Equal(t, testNow, h.resolver.LastResolvedAt())
}

func TestPanicFallsBackToFreeWithoutCache(t *testing.T) {
	h := newHarness(t)
	h.lic.panics = true
	h.sub.result = licensing.SubscriptionCheckResult{Tier: licensing.TierPro, Active: true}

	d := h.resolver.Resolve(context.Background())
	assert.Equal(t, licensing.DefaultDecision(), d)
}

func TestPanicFallsBackToCachedDecision(t *testing.T) {
	h := newHarness(t)
	expires := testNow.Add(10 * 24 * time.Hour)
	h.lic.set(licensing.LicenseCheckResult{Tier: licensing.TierEnterprise, Active: true, ExpiresAt: &expires})
	first := h.resolver.Resolve(context.Background())
	require.Equal(t, 10, *first.DaysRemaining)

	h.resolver.choose = func(licensing.LicenseCheckResult, licensing.SubscriptionCheckResult, time.Time) licensing.TierDecision {
		panic("select exploded")
	}
	h.resolver.now = func() time.Time { return testNow.Add(24 * time.Hour) }

	d := h.resolver.Resolve(context.Background())
	assert.Equal(t, licensing.TierEnterprise, d.Tier)
	assert.Equal(t, licensing.SourceLicense, d.Source)
	assert.Equal(t, 9, *d.DaysRemaining, "cached decision is re-dated")
	assert.Equal(t, licensing.TierEnterprise, h.gate.Tier())
}

func TestNewLoadsPersistedDecision(t *testing.T) {
	st := store.NewState(store.NewMemoryStore())
	persisted := licensing.TierDecision{Tier: licensing.TierPro, Source: licensing.SourceStripe, Active: true, Status: "active"}
	require.NoError(t, st.SetDecision(persisted))

	r := New(Config{}, Deps{License: &fakeLicense{}, Subscription: &fakeSubscription{}, State: st})
	assert.Equal(t, persisted, r.Current())
	assert.True(t, r.LastResolvedAt().IsZero())
	assert.Equal(t, DefaultInterval, r.cfg.Interval)
	assert.Equal(t, DefaultRequestTimeout, r.cfg.RequestTimeout)
}

func TestCancelledCycleKeepsPreviousDecision(t *testing.T) {
	h := newHarness(t)
	h.lic.set(licensing.LicenseCheckResult{Tier: licensing.TierPro, Active: true})
	h.resolver.Resolve(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.lic.set(licensing.LicenseCheckResult{Tier: licensing.TierFree})
	d := h.resolver.Resolve(ctx)

	assert.Equal(t, licensing.TierPro, d.Tier)
	stored, _, _ := h.state.Decision()
	assert.Equal(t, licensing.TierPro, stored.Tier)
}

func TestWarningsSuppressedUntilRefresh(t *testing.T) {
	h := newHarness(t)
	h.lic.set(licensing.LicenseCheckResult{Tier: licensing.TierPro, Active: true, DaysRemaining: licensing.IntPtr(12)})

	h.resolver.Resolve(context.Background())
	h.resolver.Resolve(context.Background())
	assert.Equal(t, []string{warning.BannerLicenseExpiring}, h.sink.ids())

	h.presenter.DismissBanner()
	h.resolver.Resolve(context.Background())
	assert.Len(t, h.sink.ids(), 1, "dismissed banner stays hidden on periodic cycles")

	h.resolver.RefreshNow(context.Background())
	assert.Equal(t, []string{warning.BannerLicenseExpiring, warning.BannerLicenseExpiring}, h.sink.ids())
}

func TestRefreshCoalescesDuringCycle(t *testing.T) {
	h := newHarness(t)
	h.lic.block = make(chan struct{})

	h.resolver.Start(context.Background())
	require.Eventually(t, func() bool { return h.lic.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		h.resolver.Refresh()
	}
	close(h.lic.block)

	require.Eventually(t, func() bool { return h.lic.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return h.lic.calls.Load() > 2 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestNotifyTriggersRefresh(t *testing.T) {
	h := newHarness(t)
	h.resolver.Start(context.Background())
	require.Eventually(t, func() bool { return h.sub.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	for _, ev := range []licensing.Event{
		licensing.EventLicenseActivated,
		licensing.EventCheckoutCompleted,
	} {
		before := h.sub.calls.Load()
		h.resolver.Notify(ev)
		require.Eventually(t, func() bool { return h.sub.calls.Load() > before }, time.Second, 5*time.Millisecond, string(ev))
	}
}

func TestStartIsPeriodicAndStopCancels(t *testing.T) {
	h := newHarness(t)
	h.resolver.cfg.Interval = 15 * time.Millisecond

	h.resolver.Start(context.Background())
	h.resolver.Start(context.Background())
	require.Eventually(t, func() bool { return h.sub.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	h.resolver.Stop()
	stopped := h.sub.calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, stopped, h.sub.calls.Load())

	h.resolver.Stop()
}

func TestResolveNeverOverlaps(t *testing.T) {
	h := newHarness(t)
	var inFlight, maxInFlight atomic.Int32
	h.resolver.choose = func(lic licensing.LicenseCheckResult, sub licensing.SubscriptionCheckResult, now time.Time) licensing.TierDecision {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return Select(lic, sub, now)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.resolver.Resolve(context.Background())
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load())
}
