// Package app wires the tiergate services together from configuration.
package app

import (
	"fmt"

	"github.com/pinkybot/tiergate/internal/backend"
	"github.com/pinkybot/tiergate/internal/config"
	"github.com/pinkybot/tiergate/internal/gate"
	"github.com/pinkybot/tiergate/internal/license"
	"github.com/pinkybot/tiergate/internal/store"
	"github.com/pinkybot/tiergate/internal/subscription"
	"github.com/pinkybot/tiergate/internal/tier"
	"github.com/pinkybot/tiergate/internal/warning"
	"github.com/pinkybot/tiergate/pkg/licensing"
)

// App holds one constructed set of services sharing a store.
type App struct {
	Config       *config.Config
	Store        store.Store
	State        *store.State
	API          *backend.Client
	License      *license.Service
	Subscription *subscription.Checker
	Gate         *gate.Gate
	Presenter    *warning.Presenter
	Resolver     *tier.Resolver
}

// New opens the store and builds every service. Presenter output goes to all
// sinks. Credential events from the license and billing flows request a
// refresh of the tier.
func New(cfg *config.Config, version string, sinks ...warning.Sink) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	st, err := store.Open(cfg.StoreKind, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreKind, err)
	}
	state := store.NewState(st)

	userAgent := "tiergate"
	if version != "" {
		userAgent += "/" + version
	}
	api := backend.New(backend.Config{
		BaseURL:         cfg.APIURL,
		Timeout:         cfg.RequestTimeout,
		UserAgent:       userAgent,
		BreakerFailures: cfg.BreakerFailures,
		BreakerTimeout:  cfg.BreakerTimeout,
	})

	lic := license.NewService(api, state)
	sub := subscription.NewChecker(api, state)

	var sink warning.Sink
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = warning.MultiSink(sinks)
	}
	presenter := warning.NewPresenter(sink, sub, warning.Config{
		UpgradeURL: cfg.UpgradeURL,
		RenewalURL: cfg.RenewalURL,
		ReturnURL:  cfg.ReturnURL,
	})
	g := gate.New(state, presenter)

	resolver := tier.New(tier.Config{
		Interval:       cfg.ResolveInterval,
		RequestTimeout: cfg.RequestTimeout,
	}, tier.Deps{
		License:      lic,
		Subscription: sub,
		State:        state,
		Gate:         g,
		Presenter:    presenter,
	})

	notify := licensing.EventHandler(resolver.Notify)
	lic.SetEventHandler(notify)
	sub.SetEventHandler(notify)

	return &App{
		Config:       cfg,
		Store:        st,
		State:        state,
		API:          api,
		License:      lic,
		Subscription: sub,
		Gate:         g,
		Presenter:    presenter,
		Resolver:     resolver,
	}, nil
}

// UpgradeURL resolves the upgrade link for a feature using the configured base.
func (a *App) UpgradeURL(feature string) string {
	base := a.Config.UpgradeURL
	if base == "" {
		base = licensing.DefaultUpgradeURL
	}
	return licensing.UpgradeURLWithBase(base, feature)
}

// Close stops the resolver and releases the store.
func (a *App) Close() error {
	a.Resolver.Stop()
	return a.Store.Close()
}
