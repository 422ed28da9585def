package terminal

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/pinkybot/tiergate/internal/gate"
	"github.com/pinkybot/tiergate/internal/warning"
	"github.com/pinkybot/tiergate/pkg/licensing"
)

func TestShowBannerWritesTitleAndAction(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.ShowBanner(warning.Banner{
		ID:          warning.BannerPaymentFailed,
		Kind:        warning.KindError,
		Title:       "Payment failed",
		Message:     "Update your card.",
		Action:      warning.ActionManageBilling,
		ActionLabel: "Update payment",
	})

	out := buf.String()
	for _, want := range []string{"Payment failed", "Update your card.", "Update payment", "manage_billing"} {
		if !strings.Contains(out, want) {
			t.Errorf("banner output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderModalListsTiers(t *testing.T) {
	p := NewPrinter(&bytes.Buffer{})
	out := p.RenderModal(warning.Modal{
		Title:      "Unlock Analytics Cards",
		Message:    "Analytics Cards is available on Pro and above.",
		UpgradeURL: "https://pinkybot.io/pricing?feature=analytics",
		Tiers: []warning.TierOption{
			{Tier: licensing.TierFree, Name: "Free", Price: "Free", Current: true},
			{Tier: licensing.TierPro, Name: "Pro", Price: "$29/mo", Recommended: true, Features: []string{"Analytics Cards"}},
		},
	})

	for _, want := range []string{"Unlock Analytics Cards", "$29/mo", "current plan", "Analytics Cards", "feature=analytics"} {
		if !strings.Contains(out, want) {
			t.Errorf("modal output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderDecision(t *testing.T) {
	p := NewPrinter(&bytes.Buffer{})
	end := time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	out := p.RenderDecision(licensing.TierDecision{
		Tier:              licensing.TierPro,
		Source:            licensing.SourceStripe,
		Active:            true,
		CurrentPeriodEnd:  &end,
		DaysRemaining:     licensing.IntPtr(13),
		Status:            "active",
		CancelAtPeriodEnd: true,
	}, time.Now())

	for _, want := range []string{"Pro", "stripe", "Period ends", "13", "Cancelling"} {
		if !strings.Contains(out, want) {
			t.Errorf("decision output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderFeatures(t *testing.T) {
	g := gate.New(nil, nil)
	out := NewPrinter(&bytes.Buffer{}).RenderFeatures(g.Snapshot())

	if !strings.Contains(out, "Features on Free") {
		t.Errorf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "Team Management") || !strings.Contains(out, "requires Enterprise") {
		t.Errorf("missing locked enterprise feature:\n%s", out)
	}
}
