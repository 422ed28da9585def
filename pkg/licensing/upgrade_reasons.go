package licensing

import "sort"

// ReasonEntry defines an actionable upgrade prompt tied to a locked feature.
type ReasonEntry struct {
	Feature   string `json:"feature"`   // Feature key constant (e.g., "analytics")
	Reason    string `json:"reason"`    // User-facing description
	ActionURL string `json:"actionUrl"` // Parameterized upgrade URL with UTM
	Priority  int    `json:"priority"`  // Sort order (lower = more important)
}

// UpgradeReasonMatrix is the canonical feature-to-upgrade-reason mapping.
var UpgradeReasonMatrix = []ReasonEntry{
	{
		Feature:   FeatureChat,
		Reason:    "Chat with your bot straight from the dashboard and review every conversation.",
		ActionURL: UpgradeURLForFeature(FeatureChat),
		Priority:  1,
	},
	{
		Feature:   FeatureAutomation,
		Reason:    "Schedule bot automations that run while you are away.",
		ActionURL: UpgradeURLForFeature(FeatureAutomation),
		Priority:  2,
	},
	{
		Feature:   FeatureAnalytics,
		Reason:    "See how your bot performs over time with analytics cards.",
		ActionURL: UpgradeURLForFeature(FeatureAnalytics),
		Priority:  3,
	},
	{
		Feature:   FeatureDEXPrices,
		Reason:    "Follow live DEX prices next to your tasks.",
		ActionURL: UpgradeURLForFeature(FeatureDEXPrices),
		Priority:  4,
	},
	{
		Feature:   FeatureWalletConnect,
		Reason:    "Connect a Solana or EVM wallet to your workspace.",
		ActionURL: UpgradeURLForFeature(FeatureWalletConnect),
		Priority:  5,
	},
	{
		Feature:   FeatureUsageStats,
		Reason:    "Track message and task usage against your plan.",
		ActionURL: UpgradeURLForFeature(FeatureUsageStats),
		Priority:  6,
	},
	{
		Feature:   FeatureExport,
		Reason:    "Export tasks and chat history to a file.",
		ActionURL: UpgradeURLForFeature(FeatureExport),
		Priority:  7,
	},
	{
		Feature:   FeatureTeam,
		Reason:    "Invite teammates and control what each role can change.",
		ActionURL: UpgradeURLForFeature(FeatureTeam),
		Priority:  8,
	},
	{
		Feature:   FeatureAPIAccess,
		Reason:    "Drive PinkyBot from your own tools with API keys.",
		ActionURL: UpgradeURLForFeature(FeatureAPIAccess),
		Priority:  9,
	},
	{
		Feature:   FeatureAuditLog,
		Reason:    "Keep an audit log of every change for compliance reviews.",
		ActionURL: UpgradeURLForFeature(FeatureAuditLog),
		Priority:  10,
	},
	{
		Feature:   FeatureWhiteLabel,
		Reason:    "Put your own brand on the dashboard.",
		ActionURL: UpgradeURLForFeature(FeatureWhiteLabel),
		Priority:  11,
	},
}

// UpgradeReason returns the reason entry for one feature.
func UpgradeReason(feature string) (ReasonEntry, bool) {
	for _, entry := range UpgradeReasonMatrix {
		if entry.Feature == feature {
			return entry, true
		}
	}
	return ReasonEntry{}, false
}

// GenerateUpgradeReasons returns upgrade reasons for features the tier does
// not advertise, most important first.
func GenerateUpgradeReasons(tier Tier) []ReasonEntry {
	reasons := make([]ReasonEntry, 0, len(UpgradeReasonMatrix))
	for _, entry := range UpgradeReasonMatrix {
		if TierHasFeature(tier, entry.Feature) {
			continue
		}
		reasons = append(reasons, entry)
	}

	sort.SliceStable(reasons, func(i, j int) bool {
		if reasons[i].Priority == reasons[j].Priority {
			return reasons[i].Feature < reasons[j].Feature
		}
		return reasons[i].Priority < reasons[j].Priority
	})

	return reasons
}
