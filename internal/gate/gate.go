// Package gate locks and unlocks dashboard features for the applied tier.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pinkybot/tiergate/internal/metrics"
	"github.com/pinkybot/tiergate/internal/store"
	"github.com/pinkybot/tiergate/internal/warning"
	"github.com/pinkybot/tiergate/pkg/licensing"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidTier   = errors.New("invalid tier")
	ErrFeatureLocked = errors.New("feature locked")
	ErrNoHandler     = errors.New("no handler registered for feature")
)

// Handler runs an unlocked feature.
type Handler func(ctx context.Context) error

// Prompter opens the upgrade prompt for a locked feature.
type Prompter interface {
	ShowUpgradePrompt(feature string) warning.Modal
}

// FeatureState is the lock state of one feature.
type FeatureState struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Locked       bool           `json:"locked"`
	RequiredTier licensing.Tier `json:"requiredTier"`
	Registered   bool           `json:"registered"`
}

// Snapshot is the full lock state at one point in time.
type Snapshot struct {
	Tier     licensing.Tier `json:"tier"`
	Features []FeatureState `json:"features"`
}

// TierChange is delivered to subscribers when the applied tier changes.
type TierChange struct {
	Previous licensing.Tier `json:"previous"`
	Current  licensing.Tier `json:"current"`
}

// Gate holds the applied UI tier. Free unlocks only the allow-list and fails
// closed for anything else; paid tiers unlock everything.
type Gate struct {
	state  *store.State
	prompt Prompter

	mu       sync.RWMutex
	tier     licensing.Tier
	handlers map[string]Handler
	subs     map[int]func(TierChange)
	nextSub  int
}

// New creates a gate, restoring the last applied tier from state when present.
func New(state *store.State, prompt Prompter) *Gate {
	g := &Gate{
		state:    state,
		prompt:   prompt,
		tier:     licensing.TierFree,
		handlers: make(map[string]Handler),
		subs:     make(map[int]func(TierChange)),
	}
	if state != nil {
		tier, ok, err := state.UITier()
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("Failed to restore UI tier, starting locked")
		case ok:
			g.tier = tier
		}
	}
	setTierGauge(g.tier)
	return g
}

// SetPrompter sets the upgrade prompter used by Activate.
func (g *Gate) SetPrompter(p Prompter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompt = p
}

// SetTier applies a tier. Unknown values are rejected and leave the gate
// unchanged.
func (g *Gate) SetTier(raw string) error {
	tier, ok := licensing.ParseTier(raw)
	if !ok {
		log.Warn().Str("tier", raw).Msg("Ignoring invalid tier")
		return fmt.Errorf("%w: %q", ErrInvalidTier, strings.TrimSpace(raw))
	}

	g.mu.Lock()
	previous := g.tier
	g.tier = tier
	var subs []func(TierChange)
	if previous != tier {
		subs = make([]func(TierChange), 0, len(g.subs))
		for _, fn := range g.subs {
			subs = append(subs, fn)
		}
	}
	g.mu.Unlock()

	if g.state != nil {
		if err := g.state.SetUITier(tier); err != nil {
			log.Warn().Err(err).Msg("Failed to persist UI tier")
		}
	}
	if previous == tier {
		return nil
	}

	setTierGauge(tier)
	log.Info().
		Str("from", string(previous)).
		Str("to", string(tier)).
		Msg("Applied tier changed")
	change := TierChange{Previous: previous, Current: tier}
	for _, fn := range subs {
		fn(change)
	}
	return nil
}

func setTierGauge(current licensing.Tier) {
	for _, tier := range licensing.OrderedTiers {
		v := 0.0
		if tier == current {
			v = 1
		}
		metrics.CurrentTier.WithLabelValues(string(tier)).Set(v)
	}
}

// Tier returns the applied tier.
func (g *Gate) Tier() licensing.Tier {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.tier
}

// IsFeatureAllowed reports whether feature is interactive on the applied tier.
func (g *Gate) IsFeatureAllowed(feature string) bool {
	return allowed(g.Tier(), feature)
}

func allowed(tier licensing.Tier, feature string) bool {
	if tier.IsPaid() {
		return true
	}
	return licensing.InFreeAllowList(feature)
}

// Register attaches the real handler for a feature, replacing any previous one.
func (g *Gate) Register(feature string, h Handler) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers[feature] = h
}

// Activate runs the feature's handler if it is unlocked. A locked feature
// opens the upgrade prompt instead and returns ErrFeatureLocked.
func (g *Gate) Activate(ctx context.Context, feature string) error {
	g.mu.RLock()
	tier := g.tier
	h := g.handlers[feature]
	prompt := g.prompt
	g.mu.RUnlock()

	if !allowed(tier, feature) {
		metrics.FeatureActivationsTotal.WithLabelValues(feature, "locked").Inc()
		log.Debug().Str("feature", feature).Str("tier", string(tier)).Msg("Blocked locked feature")
		if prompt != nil {
			prompt.ShowUpgradePrompt(feature)
		}
		return fmt.Errorf("%w: %s requires %s", ErrFeatureLocked,
			licensing.GetFeatureDisplayName(feature),
			licensing.GetTierDisplayName(licensing.FeatureMinTier(feature)))
	}

	metrics.FeatureActivationsTotal.WithLabelValues(feature, "allowed").Inc()
	if h == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, feature)
	}
	return h(ctx)
}

// Snapshot returns the lock state of every catalogued and registered feature.
func (g *Gate) Snapshot() Snapshot {
	g.mu.RLock()
	tier := g.tier
	ids := make(map[string]bool)
	for _, f := range licensing.KnownFeatures() {
		ids[f] = false
	}
	for f := range g.handlers {
		ids[f] = true
	}
	g.mu.RUnlock()

	features := make([]FeatureState, 0, len(ids))
	for id, registered := range ids {
		features = append(features, FeatureState{
			ID:           id,
			Name:         licensing.GetFeatureDisplayName(id),
			Locked:       !allowed(tier, id),
			RequiredTier: requiredTier(id),
			Registered:   registered,
		})
	}
	sort.Slice(features, func(i, j int) bool { return features[i].ID < features[j].ID })
	return Snapshot{Tier: tier, Features: features}
}

func requiredTier(feature string) licensing.Tier {
	if licensing.InFreeAllowList(feature) {
		return licensing.TierFree
	}
	return licensing.FeatureMinTier(feature)
}

// Subscribe registers fn for tier changes and returns a func that removes it.
func (g *Gate) Subscribe(fn func(TierChange)) (unsubscribe func()) {
	g.mu.Lock()
	id := g.nextSub
	g.nextSub++
	g.subs[id] = fn
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.subs, id)
			g.mu.Unlock()
		})
	}
}

var _ licensing.FeatureChecker = (*Gate)(nil)
