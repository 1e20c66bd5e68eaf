package types

import "fmt"

// HunterTier is a referral performance level.
type HunterTier string

const (
	HunterTierBronze   HunterTier = "bronze"
	HunterTierSilver   HunterTier = "silver"
	HunterTierGold     HunterTier = "gold"
	HunterTierPlatinum HunterTier = "platinum"
)

// KnownHunterTiers lists the built-in tiers from lowest to highest.
var KnownHunterTiers = []HunterTier{
	HunterTierBronze,
	HunterTierSilver,
	HunterTierGold,
	HunterTierPlatinum,
}

// TierRank returns a numeric rank for the built-in tiers.
// Higher rank = better tier: platinum(4) > gold(3) > silver(2) > bronze(1) > unknown(0).
// Custom tiers from configuration are ranked by their position in the tier list instead.
func (t HunterTier) TierRank() int {
	switch t {
	case HunterTierPlatinum:
		return 4
	case HunterTierGold:
		return 3
	case HunterTierSilver:
		return 2
	case HunterTierBronze:
		return 1
	default:
		return 0
	}
}

// MeetsTierRequirement returns true if this tier ranks at least as high as required.
// An empty requirement is always met.
func (t HunterTier) MeetsTierRequirement(required HunterTier) bool {
	if required == "" {
		return true
	}
	return t.TierRank() >= required.TierRank()
}

// ParseHunterTier validates a tier name.
func ParseHunterTier(s string) (HunterTier, error) {
	t := HunterTier(s)
	if t.TierRank() == 0 {
		return "", fmt.Errorf("unknown hunter tier %q", s)
	}
	return t, nil
}
