// Package hunter scores referral hunters: success rate, tier, tier progress
// and reward multiplier, all derived from cumulative outcome counters.
package hunter

import (
	"math"
	"time"

	"github.com/wastelandfi/wasteland/pkg/types"
)

// Record is one address's cumulative referral performance.
type Record struct {
	Address               string           `json:"address"`
	TotalReferrals        int              `json:"total_referrals"`
	SuccessfulReferrals   int              `json:"successful_referrals"`
	FailedReferrals       int              `json:"failed_referrals"`
	SuccessRate           float64          `json:"success_rate"`
	TotalEarned           float64          `json:"total_earned"`
	AverageCompletionTime float64          `json:"average_completion_time"` // seconds
	Tier                  types.HunterTier `json:"tier"`
	TierProgress          float64          `json:"tier_progress"`
	RewardMultiplier      float64          `json:"reward_multiplier"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// Outcome is one referral result. Nil optional fields are absent.
type Outcome struct {
	Successful        bool     `json:"successful"`
	CompletionSeconds *float64 `json:"completion_seconds,omitempty"`
	Reward            *float64 `json:"reward,omitempty"`
}

// Success builds a successful outcome with a reward and completion time.
func Success(reward float64, completion time.Duration) Outcome {
	secs := completion.Seconds()
	return Outcome{Successful: true, Reward: &reward, CompletionSeconds: &secs}
}

// Failure builds a failed outcome.
func Failure() Outcome {
	return Outcome{}
}

// Performance is the counter snapshot reported with tier info.
type Performance struct {
	TotalReferrals      int     `json:"total_referrals"`
	SuccessfulReferrals int     `json:"successful_referrals"`
	SuccessRate         float64 `json:"success_rate"`
}

// TierInfo summarises where a hunter stands.
type TierInfo struct {
	Tier        TierConfig  `json:"tier"`
	NextTier    *TierConfig `json:"next_tier,omitempty"`
	Progress    float64     `json:"progress"`
	Multiplier  float64     `json:"multiplier"`
	Performance Performance `json:"performance"`
}

// Engine applies a validated tier configuration. It holds no mutable state
// and is safe for concurrent use.
type Engine struct {
	enabled      bool
	tiers        []TierConfig // lowest to highest
	rateBrackets Brackets
	doneBrackets Brackets
	now          func() time.Time
}

// NewEngine validates cfg and builds an engine for it.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		enabled:      cfg.Enabled,
		tiers:        sortTiers(cfg.Tiers),
		rateBrackets: cfg.SuccessRateBrackets.sorted(),
		doneBrackets: cfg.CompletedBrackets.sorted(),
		now:          time.Now,
	}, nil
}

// Config returns the engine's normalised configuration.
func (e *Engine) Config() Config {
	return Config{
		Enabled:             e.enabled,
		Tiers:               sortTiers(e.tiers),
		SuccessRateBrackets: e.rateBrackets.sorted(),
		CompletedBrackets:   e.doneBrackets.sorted(),
	}
}

// DefaultTier returns the floor tier.
func (e *Engine) DefaultTier() TierConfig {
	return e.tiers[0]
}

// NewRecord returns an empty record on the floor tier.
func (e *Engine) NewRecord(address string) Record {
	return Record{
		Address:          address,
		Tier:             e.tiers[0].Level,
		RewardMultiplier: 1.0,
	}
}

// UpdateHunterPerformance applies one outcome to a copy of rec and returns
// the copy. Tier, progress and multiplier are recomputed only when tiering
// is enabled.
func (e *Engine) UpdateHunterPerformance(rec Record, o Outcome) Record {
	out := rec

	out.TotalReferrals++
	if o.Successful {
		out.SuccessfulReferrals++
		if usable(o.Reward) {
			out.TotalEarned += *o.Reward
		}
		if usable(o.CompletionSeconds) {
			n := float64(out.SuccessfulReferrals)
			out.AverageCompletionTime = (out.AverageCompletionTime*(n-1) + *o.CompletionSeconds) / n
		}
	} else {
		out.FailedReferrals++
	}
	out.SuccessRate = successRate(out.SuccessfulReferrals, out.TotalReferrals)
	out.UpdatedAt = e.now()

	if e.enabled {
		idx := e.tierIndex(out)
		out.Tier = e.tiers[idx].Level
		out.TierProgress = e.progress(out, idx)
		out.RewardMultiplier = e.multiplier(out, idx)
	} else if out.Tier == "" {
		out.Tier = e.tiers[0].Level
		out.RewardMultiplier = 1.0
	}
	return out
}

// GetHunterTierInfo reports the tier standing for rec. A nil record means
// the address has no history: floor tier, 0 progress, multiplier 1.0.
func (e *Engine) GetHunterTierInfo(rec *Record) TierInfo {
	if rec == nil {
		info := TierInfo{Tier: e.tiers[0], Multiplier: 1.0}
		if len(e.tiers) > 1 {
			next := e.tiers[1]
			info.NextTier = &next
		}
		return info
	}

	r := *rec
	r.SuccessRate = successRate(r.SuccessfulReferrals, r.TotalReferrals)
	idx := e.tierIndex(r)
	info := TierInfo{
		Tier:       e.tiers[idx],
		Progress:   e.progress(r, idx),
		Multiplier: e.multiplier(r, idx),
		Performance: Performance{
			TotalReferrals:      r.TotalReferrals,
			SuccessfulReferrals: r.SuccessfulReferrals,
			SuccessRate:         r.SuccessRate,
		},
	}
	if idx+1 < len(e.tiers) {
		next := e.tiers[idx+1]
		info.NextTier = &next
	}
	return info
}

// tierIndex scans from the highest tier down and returns the first one
// whose thresholds are both met. The floor tier always qualifies.
func (e *Engine) tierIndex(r Record) int {
	for i := len(e.tiers) - 1; i > 0; i-- {
		if e.tiers[i].qualifies(r.TotalReferrals, r.SuccessRate) {
			return i
		}
	}
	return 0
}

// progress interpolates toward the next tier on the referral and success
// rate axes, each clamped to [0, 100], and averages them.
func (e *Engine) progress(r Record, idx int) float64 {
	if idx >= len(e.tiers)-1 {
		return 100
	}
	cur, next := e.tiers[idx], e.tiers[idx+1]
	refs := axisProgress(float64(r.TotalReferrals), float64(cur.RequiredReferrals), float64(next.RequiredReferrals))
	rate := axisProgress(r.SuccessRate, cur.RequiredSuccessRate, next.RequiredSuccessRate)
	return clamp((refs+rate)/2, 0, 100)
}

func axisProgress(value, from, to float64) float64 {
	if to <= from {
		// next tier asks nothing more on this axis
		if value >= to {
			return 100
		}
		return 0
	}
	return clamp((value-from)/(to-from)*100, 0, 100)
}

func (e *Engine) multiplier(r Record, idx int) float64 {
	m := e.tiers[idx].RewardMultiplier
	m *= e.rateBrackets.Lookup(r.SuccessRate)
	m *= e.doneBrackets.Lookup(float64(r.SuccessfulReferrals))
	return m
}

func successRate(successful, total int) float64 {
	if total <= 0 {
		return 0
	}
	return clamp(float64(successful)/float64(total)*100, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Min(math.Max(v, lo), hi)
}

// usable reports whether an optional outcome value is present and a finite
// non-negative number. Anything else counts as not supplied.
func usable(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0) && *v >= 0
}
