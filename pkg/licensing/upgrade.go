package licensing

import (
	"fmt"
	"net/url"
)

// DefaultUpgradeURL is used when no feature-specific URL mapping exists.
const DefaultUpgradeURL = "https://pinkybot.io/pricing?utm_source=dashboard&utm_medium=app&utm_campaign=upgrade"

// DefaultRenewalURL is where license holders are sent to renew.
const DefaultRenewalURL = "mailto:sales@pinkybot.io?subject=License%20renewal"

// tierMonthlyPriceCents is the list price shown in the upgrade prompt.
var tierMonthlyPriceCents = map[Tier]int64{
	TierFree:       0,
	TierPro:        2900,
	TierEnterprise: 9900,
}

// TierPrice returns the monthly list price in cents.
func TierPrice(tier Tier) int64 {
	return tierMonthlyPriceCents[tier]
}

// FormatTierPrice returns a display string such as "$29/mo".
func FormatTierPrice(tier Tier) string {
	cents := TierPrice(tier)
	if cents == 0 {
		return "Free"
	}
	if cents%100 == 0 {
		return fmt.Sprintf("$%d/mo", cents/100)
	}
	return fmt.Sprintf("$%d.%02d/mo", cents/100, cents%100)
}

// UpgradeURLForFeature returns the upgrade URL tagged with a feature key.
func UpgradeURLForFeature(feature string) string {
	return UpgradeURLWithBase(DefaultUpgradeURL, feature)
}

// UpgradeURLWithBase tags base with a feature query parameter.
func UpgradeURLWithBase(base, feature string) string {
	if feature == "" {
		return base
	}
	parsed, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := parsed.Query()
	q.Set("feature", feature)
	parsed.RawQuery = q.Encode()
	return parsed.String()
}
