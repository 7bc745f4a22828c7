package rewards_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/warp/reward-ledger/rewards"
)

func TestComputeReward_RoundsHalfAwayFromZero(t *testing.T) {
	cases := []struct {
		amount string
		rate   int64
		want   string
	}{
		{"1000", 5, "50.00"},
		{"100.00", 5, "5.00"},
		{"333.33", 10, "33.33"},
		{"0.10", 5, "0.01"},  // 0.005 rounds up
		{"0.09", 5, "0.00"},  // 0.0045 rounds down
		{"12.50", 10, "1.25"},
		{"0.05", 10, "0.01"}, // 0.005 rounds up
		{"0", 10, "0.00"},
	}
	for _, tc := range cases {
		got := rewards.ComputeReward(decimal.RequireFromString(tc.amount), decimal.NewFromInt(tc.rate))
		assert.Equal(t, tc.want, rewards.FormatPoints(got), "%s at %d%%", tc.amount, tc.rate)
	}
}

func TestYearsBetween_CountsFullYears(t *testing.T) {
	from := time.Date(2023, time.June, 15, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 3, rewards.YearsBetween(from, time.Date(2026, time.June, 15, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2, rewards.YearsBetween(from, time.Date(2026, time.June, 14, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 2, rewards.YearsBetween(from, time.Date(2026, time.May, 30, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, rewards.YearsBetween(from, from.AddDate(0, 11, 0)))
	assert.Equal(t, 0, rewards.YearsBetween(from, from.AddDate(-1, 0, 0)), "future association counts as zero")
}

func TestTierFor_ThresholdIsInclusive(t *testing.T) {
	// GIVEN: The default 3-year threshold
	// WHEN: A customer reaches exactly 3 full years
	// THEN: They are PREMIUM; one day earlier they are REGULAR

	now := time.Date(2026, time.June, 15, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, rewards.TierPremium, rewards.TierFor(now.AddDate(-3, 0, 0), now, 3))
	assert.Equal(t, rewards.TierRegular, rewards.TierFor(now.AddDate(-3, 0, 1), now, 3))
	assert.Equal(t, rewards.TierPremium, rewards.TierFor(now.AddDate(-10, 0, 0), now, 3))
	assert.Equal(t, rewards.TierRegular, rewards.TierFor(now, now, 3))
}

func TestConfig_RateFor(t *testing.T) {
	cfg := rewards.DefaultConfig()

	assert.True(t, cfg.RateFor(rewards.TierRegular).Equal(decimal.NewFromInt(5)))
	assert.True(t, cfg.RateFor(rewards.TierPremium).Equal(decimal.NewFromInt(10)))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, rewards.DefaultConfig().Validate())

	cfg := rewards.DefaultConfig()
	cfg.RegularPercentage = -1
	assert.Error(t, cfg.Validate())

	cfg = rewards.DefaultConfig()
	cfg.MaxConflictRetries = 0
	assert.Error(t, cfg.Validate())
}

func TestMaskCardNumber(t *testing.T) {
	assert.Equal(t, "**** **** **** 1111", rewards.MaskCardNumber("4111111111111111"))
	assert.Equal(t, "**** **** **** 1234", rewards.MaskCardNumber("1234"))
	assert.Equal(t, "****", rewards.MaskCardNumber("123"))
}
