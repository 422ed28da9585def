package licensing

import (
	"sort"
	"testing"
)

func TestRankOrdering(t *testing.T) {
	if !(Rank(TierFree) < Rank(TierPro) && Rank(TierPro) < Rank(TierEnterprise)) {
		t.Fatalf("unexpected ordering: free=%d pro=%d enterprise=%d", Rank(TierFree), Rank(TierPro), Rank(TierEnterprise))
	}
	if Rank(Tier("platinum")) != 0 {
		t.Fatalf("unknown tier should rank 0, got %d", Rank(Tier("platinum")))
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		raw    string
		want   Tier
		wantOK bool
	}{
		{"free", TierFree, true},
		{"pro", TierPro, true},
		{" Enterprise ", TierEnterprise, true},
		{"PRO", TierPro, true},
		{"", TierFree, false},
		{"gold", TierFree, false},
	}
	for _, tt := range tests {
		got, ok := ParseTier(tt.raw)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseTier(%q) = (%q, %t), want (%q, %t)", tt.raw, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestHigherTier(t *testing.T) {
	tests := []struct {
		a, b, want Tier
	}{
		{TierFree, TierPro, TierPro},
		{TierPro, TierFree, TierPro},
		{TierPro, TierEnterprise, TierEnterprise},
		{TierEnterprise, TierPro, TierEnterprise},
		{TierPro, TierPro, TierPro},
		{Tier("bogus"), TierFree, TierFree},
	}
	for _, tt := range tests {
		if got := HigherTier(tt.a, tt.b); got != tt.want {
			t.Errorf("HigherTier(%q, %q) = %q, want %q", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTierIsPaid(t *testing.T) {
	if TierFree.IsPaid() {
		t.Error("free should not be paid")
	}
	if !TierPro.IsPaid() || !TierEnterprise.IsPaid() {
		t.Error("pro and enterprise should be paid")
	}
	if Tier("unknown").IsPaid() {
		t.Error("unknown tier should not be paid")
	}
}

func TestTierHasFeature(t *testing.T) {
	tests := []struct {
		name     string
		tier     Tier
		feature  string
		expected bool
	}{
		{"free has tasks", TierFree, FeatureTasks, true},
		{"free has billing", TierFree, FeatureBilling, true},
		{"free has no analytics", TierFree, FeatureAnalytics, false},
		{"pro has analytics", TierPro, FeatureAnalytics, true},
		{"pro has wallet connect", TierPro, FeatureWalletConnect, true},
		{"pro keeps free features", TierPro, FeatureDashboard, true},
		{"pro does not advertise team", TierPro, FeatureTeam, false},
		{"enterprise has team", TierEnterprise, FeatureTeam, true},
		{"enterprise has export", TierEnterprise, FeatureExport, true},
		{"unknown tier has nothing", Tier("unknown"), FeatureTasks, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TierHasFeature(tt.tier, tt.feature); got != tt.expected {
				t.Errorf("TierHasFeature(%v, %v) = %v, want %v", tt.tier, tt.feature, got, tt.expected)
			}
		})
	}
}

func TestFeatureMinTier(t *testing.T) {
	tests := map[string]Tier{
		FeatureTasks:      TierFree,
		FeatureDEXPrices:  TierPro,
		FeatureAPIAccess:  TierEnterprise,
		"brand_new_panel": TierPro,
	}
	for feature, want := range tests {
		if got := FeatureMinTier(feature); got != want {
			t.Errorf("FeatureMinTier(%q) = %q, want %q", feature, got, want)
		}
	}
}

func TestTierFeaturesAreCumulative(t *testing.T) {
	for i := 1; i < len(OrderedTiers); i++ {
		lower, higher := OrderedTiers[i-1], OrderedTiers[i]
		for _, feature := range TierFeatures[lower] {
			if !TierHasFeature(higher, feature) {
				t.Errorf("%s is missing %s from %s", higher, feature, lower)
			}
		}
	}
}

func TestKnownFeaturesSortedAndComplete(t *testing.T) {
	features := KnownFeatures()
	if !sort.StringsAreSorted(features) {
		t.Fatalf("KnownFeatures not sorted: %v", features)
	}
	if len(features) != len(TierFeatures[TierEnterprise]) {
		t.Fatalf("KnownFeatures len = %d, want %d", len(features), len(TierFeatures[TierEnterprise]))
	}
	// Mutating the result must not leak into the catalogue.
	features[0] = "mutated"
	if KnownFeatures()[0] == "mutated" {
		t.Fatal("KnownFeatures returned shared backing array")
	}
}

func TestDisplayNames(t *testing.T) {
	if got := GetTierDisplayName(TierEnterprise); got != "Enterprise" {
		t.Errorf("GetTierDisplayName(enterprise) = %q", got)
	}
	if got := GetTierDisplayName(Tier("x")); got != "Unknown" {
		t.Errorf("GetTierDisplayName(x) = %q", got)
	}
	for _, feature := range KnownFeatures() {
		if GetFeatureDisplayName(feature) == feature {
			t.Errorf("feature %q has no display name", feature)
		}
	}
	if got := GetFeatureDisplayName("custom"); got != "custom" {
		t.Errorf("unknown feature display name = %q, want passthrough", got)
	}
}
