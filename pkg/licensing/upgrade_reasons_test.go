package licensing

import "testing"

func TestUpgradeReasonMatrixCoversPaidFeatures(t *testing.T) {
	for _, feature := range KnownFeatures() {
		_, ok := UpgradeReason(feature)
		if InFreeAllowList(feature) && ok {
			t.Errorf("free feature %q should not have an upgrade reason", feature)
		}
		if !InFreeAllowList(feature) && !ok {
			t.Errorf("paid feature %q is missing an upgrade reason", feature)
		}
	}
}

func TestGenerateUpgradeReasons(t *testing.T) {
	tests := []struct {
		tier  Tier
		count int
		first string
	}{
		{tier: TierFree, count: 11, first: FeatureChat},
		{tier: TierPro, count: 4, first: FeatureTeam},
		{tier: TierEnterprise, count: 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.tier), func(t *testing.T) {
			reasons := GenerateUpgradeReasons(tt.tier)
			if len(reasons) != tt.count {
				t.Fatalf("len = %d, want %d", len(reasons), tt.count)
			}
			if tt.count == 0 {
				return
			}
			if reasons[0].Feature != tt.first {
				t.Fatalf("first = %q, want %q", reasons[0].Feature, tt.first)
			}
			for i := 1; i < len(reasons); i++ {
				if reasons[i-1].Priority > reasons[i].Priority {
					t.Fatalf("reasons not sorted by priority at %d", i)
				}
			}
		})
	}
}

func TestUpgradeReasonActionURL(t *testing.T) {
	entry, ok := UpgradeReason(FeatureAnalytics)
	if !ok {
		t.Fatal("expected analytics reason")
	}
	if entry.ActionURL != UpgradeURLForFeature(FeatureAnalytics) {
		t.Fatalf("ActionURL = %q", entry.ActionURL)
	}
}
