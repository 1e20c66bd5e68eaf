package hunter

import (
	"errors"
	"fmt"
	"slices"

	"github.com/wastelandfi/wasteland/pkg/types"
)

// TierConfig defines the requirements and reward of one tier.
type TierConfig struct {
	Level               types.HunterTier `yaml:"level" json:"level"`
	RequiredReferrals   int              `yaml:"required_referrals" json:"required_referrals"`
	RequiredSuccessRate float64          `yaml:"required_success_rate" json:"required_success_rate"` // percent
	RewardMultiplier    float64          `yaml:"reward_multiplier" json:"reward_multiplier"`
	Description         string           `yaml:"description,omitempty" json:"description,omitempty"`
	Benefits            []string         `yaml:"benefits,omitempty" json:"benefits,omitempty"`
}

// qualifies reports whether both thresholds are met. Comparisons are inclusive.
func (t TierConfig) qualifies(totalReferrals int, successRate float64) bool {
	return totalReferrals >= t.RequiredReferrals && successRate >= t.RequiredSuccessRate
}

// Bracket maps a threshold to a multiplier.
type Bracket struct {
	Threshold  float64 `yaml:"threshold" json:"threshold"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
}

// Brackets is a threshold table. The highest threshold not above the
// looked-up value wins; no match yields 1.0.
type Brackets []Bracket

// Lookup returns the multiplier for value.
func (b Brackets) Lookup(value float64) float64 {
	best := -1
	for i, br := range b {
		if value >= br.Threshold && (best < 0 || br.Threshold >= b[best].Threshold) {
			best = i
		}
	}
	if best < 0 {
		return 1.0
	}
	return b[best].Multiplier
}

func (b Brackets) sorted() Brackets {
	out := slices.Clone(b)
	slices.SortStableFunc(out, func(x, y Bracket) int {
		switch {
		case x.Threshold < y.Threshold:
			return -1
		case x.Threshold > y.Threshold:
			return 1
		}
		return 0
	})
	return out
}

func (b Brackets) validate(name string) error {
	seen := make(map[float64]bool, len(b))
	for _, br := range b {
		if br.Multiplier <= 0 {
			return fmt.Errorf("%s bracket %v: multiplier must be positive", name, br.Threshold)
		}
		if br.Threshold < 0 {
			return fmt.Errorf("%s bracket %v: threshold must not be negative", name, br.Threshold)
		}
		if seen[br.Threshold] {
			return fmt.Errorf("%s bracket %v: duplicate threshold", name, br.Threshold)
		}
		seen[br.Threshold] = true
	}
	return nil
}

// Config is the tier table plus optional bracket multipliers.
type Config struct {
	// Enabled turns tier recomputation on for recorded outcomes.
	Enabled bool         `yaml:"enabled" json:"enabled"`
	Tiers   []TierConfig `yaml:"tiers" json:"tiers"`
	// SuccessRateBrackets scale the multiplier by success rate (percent).
	SuccessRateBrackets Brackets `yaml:"success_rate_brackets,omitempty" json:"success_rate_brackets,omitempty"`
	// CompletedBrackets scale the multiplier by successful referral count.
	CompletedBrackets Brackets `yaml:"completed_brackets,omitempty" json:"completed_brackets,omitempty"`
}

// DefaultTiers returns the built-in bronze to platinum table.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{
			Level:            types.HunterTierBronze,
			RewardMultiplier: 1.0,
			Description:      "Every hunter starts here",
			Benefits:         []string{"Referral link", "Base bounty rewards"},
		},
		{
			Level:               types.HunterTierSilver,
			RequiredReferrals:   5,
			RequiredSuccessRate: 60,
			RewardMultiplier:    1.2,
			Description:         "Proven scavenger",
			Benefits:            []string{"1.2x bounty rewards", "Early access to drops"},
		},
		{
			Level:               types.HunterTierGold,
			RequiredReferrals:   15,
			RequiredSuccessRate: 70,
			RewardMultiplier:    1.5,
			Description:         "Wasteland veteran",
			Benefits:            []string{"1.5x bounty rewards", "Priority settlement listings"},
		},
		{
			Level:               types.HunterTierPlatinum,
			RequiredReferrals:   30,
			RequiredSuccessRate: 80,
			RewardMultiplier:    2.0,
			Description:         "Legend of the wastes",
			Benefits:            []string{"2x bounty rewards", "Governance proposals", "Exclusive reveals"},
		},
	}
}

// DefaultConfig enables tiering with the default tiers and no brackets.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Tiers:   DefaultTiers(),
	}
}

// Validate checks the tier table: a zero-requirement floor tier, strictly
// increasing referral thresholds, and multipliers that never decrease as
// the tier rises.
func (c Config) Validate() error {
	if len(c.Tiers) == 0 {
		return errors.New("at least one tier is required")
	}
	tiers := sortTiers(c.Tiers)

	names := make(map[types.HunterTier]bool, len(tiers))
	for i, t := range tiers {
		if t.Level == "" {
			return fmt.Errorf("tier %d: level is required", i)
		}
		if names[t.Level] {
			return fmt.Errorf("tier %s: duplicate level", t.Level)
		}
		names[t.Level] = true

		if t.RequiredReferrals < 0 {
			return fmt.Errorf("tier %s: required referrals must not be negative", t.Level)
		}
		if t.RequiredSuccessRate < 0 || t.RequiredSuccessRate > 100 {
			return fmt.Errorf("tier %s: required success rate must be between 0 and 100", t.Level)
		}
		if t.RewardMultiplier <= 0 {
			return fmt.Errorf("tier %s: reward multiplier must be positive", t.Level)
		}
		if i == 0 {
			if t.RequiredReferrals != 0 || t.RequiredSuccessRate != 0 {
				return fmt.Errorf("tier %s: lowest tier must require 0 referrals and 0%% success", t.Level)
			}
			continue
		}
		prev := tiers[i-1]
		if t.RequiredReferrals == prev.RequiredReferrals {
			return fmt.Errorf("tier %s: required referrals must differ from tier %s", t.Level, prev.Level)
		}
		if t.RewardMultiplier < prev.RewardMultiplier {
			return fmt.Errorf("tier %s: reward multiplier %.2f is below tier %s (%.2f)",
				t.Level, t.RewardMultiplier, prev.Level, prev.RewardMultiplier)
		}
	}

	if err := c.SuccessRateBrackets.validate("success rate"); err != nil {
		return err
	}
	return c.CompletedBrackets.validate("completed")
}

// sortTiers orders tiers from lowest to highest referral requirement.
func sortTiers(tiers []TierConfig) []TierConfig {
	out := slices.Clone(tiers)
	slices.SortStableFunc(out, func(a, b TierConfig) int {
		return a.RequiredReferrals - b.RequiredReferrals
	})
	return out
}
