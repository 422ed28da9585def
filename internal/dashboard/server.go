package dashboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pinkybot/tiergate/internal/app"
	"github.com/pinkybot/tiergate/internal/config"
	"github.com/pinkybot/tiergate/internal/store"
	"github.com/pinkybot/tiergate/internal/warning"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 15 * time.Second

// Run starts the dashboard server, the tier resolver and the credential
// watcher, and blocks until ctx is cancelled or a termination signal
// arrives. Extra sinks receive presenter output alongside the WebSocket hub.
func Run(ctx context.Context, cfg *config.Config, version string, sinks ...warning.Sink) error {
	log.Info().Str("version", version).Str("api", cfg.APIURL).Msg("Starting tiergate")

	hub := NewHub(nil)
	hub.SetAllowedOrigins(cfg.AllowedOrigins)
	a, err := app.New(cfg, version, append([]warning.Sink{hub}, sinks...)...)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close store")
		}
	}()

	deps := NewDeps(a, hub, version)
	hub.SetStateGetter(func() interface{} { return deps.State() })
	unsubscribe := a.Gate.Subscribe(hub.TierChanged)
	defer unsubscribe()

	mux := http.NewServeMux()
	RegisterRoutes(mux, deps)
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           Handler(mux),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go hub.Run(ctx)
	a.Resolver.Start(ctx)

	if watcher, err := store.NewCredentialWatcher(a.State, a.Resolver.Refresh); err == nil {
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("Credential watcher stopped")
			}
		}()
	} else {
		log.Debug().Err(err).Msg("Credential watcher disabled")
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("Dashboard listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down...")
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down...")
	case err := <-serveErr:
		runErr = fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	a.Resolver.Stop()
	log.Info().Msg("tiergate stopped")
	return runErr
}

// NewDeps builds handler dependencies from a wired app.
func NewDeps(a *app.App, hub *Hub, version string) *Deps {
	return &Deps{
		Gate:       a.Gate,
		Tiers:      a.Resolver,
		Licenses:   a.License,
		Billing:    a.Subscription,
		Actions:    a.Presenter,
		Hub:        hub,
		UpgradeURL: a.UpgradeURL,
		ReturnURL:  a.Config.ReturnURL,
		Version:    version,
		Limiter:    NewRateLimiter(defaultRateLimit, defaultRateWindow),
	}
}
