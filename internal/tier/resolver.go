package tier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pinkybot/tiergate/internal/metrics"
	"github.com/pinkybot/tiergate/internal/store"
	"github.com/pinkybot/tiergate/pkg/licensing"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval       = 5 * time.Minute
	DefaultRequestTimeout = 10 * time.Second
)

// LicenseChecker answers the license half of a cycle.
type LicenseChecker interface {
	CheckLicense(ctx context.Context) licensing.LicenseCheckResult
}

// SubscriptionChecker answers the subscription half of a cycle.
type SubscriptionChecker interface {
	CheckSubscription(ctx context.Context) licensing.SubscriptionCheckResult
}

// TierSetter applies the winning tier to the presentation layer.
type TierSetter interface {
	SetTier(tier string) error
}

// Presenter surfaces billing warnings for a decision.
type Presenter interface {
	Present(d licensing.TierDecision)
	Rearm()
}

// Config controls the resolver schedule.
type Config struct {
	Interval       time.Duration
	RequestTimeout time.Duration
}

// Deps are the collaborators of a resolver. State, Gate and Presenter are
// optional.
type Deps struct {
	License      LicenseChecker
	Subscription SubscriptionChecker
	State        *store.State
	Gate         TierSetter
	Presenter    Presenter
}

// Resolver is the single writer of the tier decision. Cycles never overlap;
// Refresh requests arriving during a cycle collapse into one follow-up cycle.
type Resolver struct {
	cfg    Config
	deps   Deps
	now    func() time.Time
	choose func(licensing.LicenseCheckResult, licensing.SubscriptionCheckResult, time.Time) licensing.TierDecision

	cycleMu sync.Mutex

	mu         sync.RWMutex
	current    licensing.TierDecision
	cached     bool
	resolvedAt time.Time
	rearm      bool

	refreshCh chan struct{}

	lifecycleMu sync.Mutex
	cancel      context.CancelFunc
	done        chan struct{}
}

// New creates a resolver, loading the last persisted decision as its cache.
func New(cfg Config, deps Deps) *Resolver {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	r := &Resolver{
		cfg:       cfg,
		deps:      deps,
		now:       time.Now,
		choose:    Select,
		current:   licensing.DefaultDecision(),
		refreshCh: make(chan struct{}, 1),
	}
	if deps.State != nil {
		d, ok, err := deps.State.Decision()
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("Ignoring unreadable persisted tier decision")
		case ok:
			r.current = d
			r.cached = true
		}
	}
	return r
}

// Current returns the last decision, or the free default before any cycle.
func (r *Resolver) Current() licensing.TierDecision {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// LastResolvedAt returns when the last cycle finished, zero before the first.
func (r *Resolver) LastResolvedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resolvedAt
}

// Resolve runs one full cycle and returns its decision. It never fails; if
// ctx is cancelled mid-cycle the previous decision is kept and returned.
func (r *Resolver) Resolve(ctx context.Context) licensing.TierDecision {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	start := time.Now()
	decision, ok := r.decide(ctx)
	if !ok {
		log.Debug().Msg("Tier resolution abandoned, context cancelled")
		return r.Current()
	}

	r.persist(decision)
	r.propagate(decision)

	r.mu.Lock()
	r.current = decision
	r.cached = true
	r.resolvedAt = r.now()
	rearm := r.rearm
	r.rearm = false
	r.mu.Unlock()

	if r.deps.Presenter != nil {
		if rearm {
			r.deps.Presenter.Rearm()
		}
		r.deps.Presenter.Present(decision)
	}

	metrics.ResolutionsTotal.WithLabelValues(string(decision.Tier), string(decision.Source)).Inc()
	metrics.ResolveDuration.Observe(time.Since(start).Seconds())
	log.Debug().
		Str("tier", string(decision.Tier)).
		Str("source", string(decision.Source)).
		Bool("active", decision.Active).
		Dur("took", time.Since(start)).
		Msg("Tier resolved")
	return decision
}

// decide queries both checkers and selects. Unexpected panics fall back to the
// cached decision, or free when nothing is cached.
func (r *Resolver) decide(ctx context.Context) (decision licensing.TierDecision, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			decision, ok = r.fallback(fmt.Errorf("select panicked: %v", rec)), true
		}
	}()

	lic, sub, err := r.query(ctx)
	if ctx.Err() != nil {
		return licensing.TierDecision{}, false
	}
	if err != nil {
		return r.fallback(err), true
	}
	return r.choose(lic, sub, r.now()), true
}

func (r *Resolver) query(ctx context.Context) (licensing.LicenseCheckResult, licensing.SubscriptionCheckResult, error) {
	var (
		lic licensing.LicenseCheckResult
		sub licensing.SubscriptionCheckResult
		g   errgroup.Group
	)
	g.Go(func() (err error) {
		defer recoverInto(&err, "license check")
		cctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
		defer cancel()
		lic = r.deps.License.CheckLicense(cctx)
		return nil
	})
	g.Go(func() (err error) {
		defer recoverInto(&err, "subscription check")
		cctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
		defer cancel()
		sub = r.deps.Subscription.CheckSubscription(cctx)
		return nil
	})
	err := g.Wait()
	return lic, sub, err
}

func recoverInto(err *error, what string) {
	if rec := recover(); rec != nil {
		*err = fmt.Errorf("%s panicked: %v", what, rec)
	}
}

func (r *Resolver) fallback(cause error) licensing.TierDecision {
	log.Error().Err(cause).Msg("Tier resolution failed unexpectedly, using fallback decision")
	metrics.ResolverFallbacksTotal.WithLabelValues("panic").Inc()

	r.mu.RLock()
	cached, ok := r.current, r.cached
	r.mu.RUnlock()
	if !ok {
		return licensing.DefaultDecision()
	}
	return redate(cached, r.now())
}

func (r *Resolver) persist(d licensing.TierDecision) {
	if r.deps.State == nil {
		return
	}
	if err := r.deps.State.SetDecision(d); err != nil {
		log.Warn().Err(err).Msg("Failed to persist tier decision")
	}
}

func (r *Resolver) propagate(d licensing.TierDecision) {
	if r.deps.Gate == nil {
		return
	}
	if err := r.deps.Gate.SetTier(string(d.Tier)); err != nil {
		log.Warn().Err(err).Msg("Gate rejected resolved tier")
	}
}

// Refresh requests a cycle after the current one, re-arming warnings. It
// does not block; pending requests coalesce.
func (r *Resolver) Refresh() {
	r.mu.Lock()
	r.rearm = true
	r.mu.Unlock()
	select {
	case r.refreshCh <- struct{}{}:
	default:
	}
}

// RefreshNow runs a cycle synchronously with warnings re-armed.
func (r *Resolver) RefreshNow(ctx context.Context) licensing.TierDecision {
	r.mu.Lock()
	r.rearm = true
	r.mu.Unlock()
	return r.Resolve(ctx)
}

// Notify handles a credential event by requesting a refresh.
func (r *Resolver) Notify(ev licensing.Event) {
	log.Info().Str("event", string(ev)).Msg("Credential event, refreshing tier")
	r.Refresh()
}

// Start resolves immediately and then on every interval and refresh request
// until Stop or ctx cancellation. Calling Start twice is a no-op.
func (r *Resolver) Start(ctx context.Context) {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.loop(ctx, r.done)
	log.Info().Dur("interval", r.cfg.Interval).Msg("Tier resolver started")
}

// Stop cancels the schedule and waits for an in-flight cycle to finish.
func (r *Resolver) Stop() {
	r.lifecycleMu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.lifecycleMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Info().Msg("Tier resolver stopped")
}

func (r *Resolver) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	r.Resolve(ctx)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Resolve(ctx)
		case <-r.refreshCh:
			r.Resolve(ctx)
		}
	}
}
