package rewards

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Config holds the accrual rates and engine tuning. It is passed to the
// engines at construction and never read from globals.
type Config struct {
	// Percentage of the purchase amount credited as points, per tier.
	RegularPercentage int `yaml:"regular_percentage"`
	PremiumPercentage int `yaml:"premium_percentage"`

	// Full years of association after which a customer is PREMIUM.
	PremiumAssociationYears int `yaml:"premium_association_years"`

	// Attempts for a unit of work that keeps losing optimistic-lock races.
	MaxConflictRetries int `yaml:"max_conflict_retries"`
}

// DefaultConfig returns the production defaults: 5% regular, 10% premium,
// premium after 3 years.
func DefaultConfig() Config {
	return Config{
		RegularPercentage:       5,
		PremiumPercentage:       10,
		PremiumAssociationYears: 3,
		MaxConflictRetries:      3,
	}
}

func (c Config) Validate() error {
	if c.RegularPercentage < 0 || c.PremiumPercentage < 0 {
		return fmt.Errorf("reward percentages must not be negative (regular=%d, premium=%d)",
			c.RegularPercentage, c.PremiumPercentage)
	}
	if c.PremiumAssociationYears < 0 {
		return fmt.Errorf("premium_association_years must not be negative, got %d", c.PremiumAssociationYears)
	}
	if c.MaxConflictRetries < 1 {
		return fmt.Errorf("max_conflict_retries must be at least 1, got %d", c.MaxConflictRetries)
	}
	return nil
}

// RateFor returns the accrual percentage of a tier.
func (c Config) RateFor(t Tier) decimal.Decimal {
	if t == TierPremium {
		return decimal.NewFromInt(int64(c.PremiumPercentage))
	}
	return decimal.NewFromInt(int64(c.RegularPercentage))
}
