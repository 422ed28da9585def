// Package tier reconciles the license and subscription checks into one
// authoritative tier decision.
package tier

import (
	"time"

	"github.com/pinkybot/tiergate/pkg/licensing"
)

// Select picks the winning decision. When both sources grant a paid tier the
// higher rank wins and ties go to the license; otherwise whichever source
// grants one wins; otherwise the free default.
func Select(lic licensing.LicenseCheckResult, sub licensing.SubscriptionCheckResult, now time.Time) licensing.TierDecision {
	licOK, subOK := lic.Grants(), sub.Grants()
	switch {
	case licOK && subOK:
		if licensing.Rank(sub.Tier) > licensing.Rank(lic.Tier) {
			return fromSubscription(sub, now)
		}
		return fromLicense(lic, now)
	case licOK:
		return fromLicense(lic, now)
	case subOK:
		return fromSubscription(sub, now)
	default:
		return licensing.DefaultDecision()
	}
}

func fromLicense(lic licensing.LicenseCheckResult, now time.Time) licensing.TierDecision {
	return licensing.TierDecision{
		Tier:          lic.Tier,
		Source:        licensing.SourceLicense,
		Active:        true,
		ExpiresAt:     copyTime(lic.ExpiresAt),
		DaysRemaining: daysRemaining(lic.ExpiresAt, lic.DaysRemaining, now),
	}
}

func fromSubscription(sub licensing.SubscriptionCheckResult, now time.Time) licensing.TierDecision {
	return licensing.TierDecision{
		Tier:              sub.Tier,
		Source:            licensing.SourceStripe,
		Active:            true,
		CurrentPeriodEnd:  copyTime(sub.CurrentPeriodEnd),
		DaysRemaining:     daysRemaining(sub.CurrentPeriodEnd, sub.DaysRemaining, now),
		Status:            sub.Status,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}
}

// redate recomputes DaysRemaining of a cached decision against now.
func redate(d licensing.TierDecision, now time.Time) licensing.TierDecision {
	if exp := d.Expiry(); exp != nil {
		d.DaysRemaining = licensing.IntPtr(licensing.DaysUntil(*exp, now))
	}
	return d
}

func daysRemaining(t *time.Time, reported *int, now time.Time) *int {
	if t != nil {
		return licensing.IntPtr(licensing.DaysUntil(*t, now))
	}
	if reported != nil {
		return licensing.IntPtr(max(*reported, 0))
	}
	return nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
