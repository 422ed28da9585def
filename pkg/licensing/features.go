// Package licensing defines shared PinkyBot tier, feature and decision contracts.
//
// Every component that compares tiers imports this package so there is a
// single ordered tier enumeration in the codebase.
package licensing

import (
	"sort"
	"strings"
)

// Feature constants identify gated dashboard panels and actions.
const (
	// Free tier features
	FeatureDashboard     = "dashboard"      // Main overview page
	FeatureTasks         = "tasks"          // Task list CRUD
	FeatureSettings      = "settings"       // Account settings
	FeatureBilling       = "billing"        // Plan and billing page (must stay reachable to upgrade)
	FeatureHelp          = "help"           // Docs and support links
	FeatureCookieConsent = "cookie_consent" // Cookie banner preferences

	// Pro tier features
	FeatureAnalytics     = "analytics"      // Analytics cards
	FeatureUsageStats    = "usage_stats"    // Usage statistics
	FeatureDEXPrices     = "dex_prices"     // DEX price feeds
	FeatureWalletConnect = "wallet_connect" // Solana/EVM wallet connect
	FeatureChat          = "chat"           // Bot chat panel
	FeatureExport        = "export"         // Export to file
	FeatureAutomation    = "automation"     // Scheduled bot automations

	// Enterprise tier features
	FeatureTeam       = "team"        // Team members and roles
	FeatureAPIAccess  = "api_access"  // API keys
	FeatureAuditLog   = "audit_log"   // Audit log viewer
	FeatureWhiteLabel = "white_label" // Custom branding
)

// Tier represents an access tier.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// tierRanks is the one privilege ordering used across the module.
var tierRanks = map[Tier]int{
	TierFree:       1,
	TierPro:        2,
	TierEnterprise: 3,
}

// OrderedTiers lists tiers from least to most privileged.
var OrderedTiers = []Tier{TierFree, TierPro, TierEnterprise}

// Rank returns the privilege rank of a tier. Unknown tiers rank 0.
func Rank(tier Tier) int {
	return tierRanks[tier]
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	_, ok := tierRanks[t]
	return ok
}

// IsPaid reports whether t is a known tier above free.
func (t Tier) IsPaid() bool {
	return Rank(t) > Rank(TierFree)
}

// ParseTier normalizes a tier string. Unknown values map to free and ok=false.
func ParseTier(raw string) (Tier, bool) {
	tier := Tier(strings.ToLower(strings.TrimSpace(raw)))
	if !tier.Valid() {
		return TierFree, false
	}
	return tier, true
}

// HigherTier returns the more privileged of a and b. Ties return a.
func HigherTier(a, b Tier) Tier {
	if Rank(b) > Rank(a) {
		return b
	}
	return a
}

// FreeAllowList is the set of features that stay interactive on the free tier.
var FreeAllowList = []string{
	FeatureDashboard,
	FeatureTasks,
	FeatureSettings,
	FeatureBilling,
	FeatureHelp,
	FeatureCookieConsent,
}

// proFeatures adds the bot tooling on top of free.
var proFeatures = appendFeatures(FreeAllowList,
	FeatureAnalytics,
	FeatureUsageStats,
	FeatureDEXPrices,
	FeatureWalletConnect,
	FeatureChat,
	FeatureExport,
	FeatureAutomation,
)

// enterpriseFeatures adds team and compliance on top of pro.
var enterpriseFeatures = appendFeatures(proFeatures,
	FeatureTeam,
	FeatureAPIAccess,
	FeatureAuditLog,
	FeatureWhiteLabel,
)

// appendFeatures returns a new slice with extra features appended (no mutation).
func appendFeatures(base []string, extra ...string) []string {
	result := make([]string, len(base), len(base)+len(extra))
	copy(result, base)
	return append(result, extra...)
}

// TierFeatures maps each tier to the features it advertises in the upgrade
// comparison.
var TierFeatures = map[Tier][]string{
	TierFree:       FreeAllowList,
	TierPro:        proFeatures,
	TierEnterprise: enterpriseFeatures,
}

// InFreeAllowList reports whether feature is interactive on the free tier.
func InFreeAllowList(feature string) bool {
	for _, f := range FreeAllowList {
		if f == feature {
			return true
		}
	}
	return false
}

// TierHasFeature checks if a tier advertises a specific feature.
func TierHasFeature(tier Tier, feature string) bool {
	features, ok := TierFeatures[tier]
	if !ok {
		return false
	}
	for _, f := range features {
		if f == feature {
			return true
		}
	}
	return false
}

// FeatureMinTier returns the lowest tier that advertises feature.
// Unlisted features need a paid relationship, so they report pro.
func FeatureMinTier(feature string) Tier {
	for _, tier := range OrderedTiers {
		if TierHasFeature(tier, feature) {
			return tier
		}
	}
	return TierPro
}

// KnownFeatures returns every catalogued feature, sorted.
func KnownFeatures() []string {
	features := make([]string, len(enterpriseFeatures))
	copy(features, enterpriseFeatures)
	sort.Strings(features)
	return features
}

// GetTierDisplayName returns a human-readable name for the tier.
func GetTierDisplayName(tier Tier) string {
	switch tier {
	case TierFree:
		return "Free"
	case TierPro:
		return "Pro"
	case TierEnterprise:
		return "Enterprise"
	default:
		return "Unknown"
	}
}

// GetFeatureDisplayName returns a human-readable name for a feature.
func GetFeatureDisplayName(feature string) string {
	switch feature {
	case FeatureDashboard:
		return "Dashboard"
	case FeatureTasks:
		return "Task Lists"
	case FeatureSettings:
		return "Settings"
	case FeatureBilling:
		return "Plan & Billing"
	case FeatureHelp:
		return "Help & Docs"
	case FeatureCookieConsent:
		return "Cookie Preferences"
	case FeatureAnalytics:
		return "Analytics Cards"
	case FeatureUsageStats:
		return "Usage Statistics"
	case FeatureDEXPrices:
		return "DEX Price Feeds"
	case FeatureWalletConnect:
		return "Wallet Connect"
	case FeatureChat:
		return "Bot Chat"
	case FeatureExport:
		return "Export to File"
	case FeatureAutomation:
		return "Automations"
	case FeatureTeam:
		return "Team Management"
	case FeatureAPIAccess:
		return "API Access"
	case FeatureAuditLog:
		return "Audit Log"
	case FeatureWhiteLabel:
		return "White-Label Branding"
	default:
		return feature
	}
}
