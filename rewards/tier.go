package rewards

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// YearsBetween counts the full years elapsed from `from` to `to`.
// Negative spans count as zero.
func YearsBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	years := to.Year() - from.Year()
	if to.Month() < from.Month() || (to.Month() == from.Month() && to.Day() < from.Day()) {
		years--
	}
	return years
}

// TierFor derives the tier from tenure. It is recomputed on every request
// and never stored.
func TierFor(associationDate, now time.Time, premiumYears int) Tier {
	if YearsBetween(associationDate, now) >= premiumYears {
		return TierPremium
	}
	return TierRegular
}

// ComputeReward returns amount * percentage / 100 rounded to two places,
// half away from zero.
func ComputeReward(amount, percentage decimal.Decimal) Points {
	return amount.Mul(percentage).Div(hundred).Round(PointsScale)
}
