package hunter

import (
	"math"
	"testing"
	"time"

	"github.com/wastelandfi/wasteland/pkg/types"
)

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestUpdateHunterPerformance_PromotesToSilver(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	rec := Record{Address: "0xabc", TotalReferrals: 4, SuccessfulReferrals: 4, SuccessRate: 100, Tier: types.HunterTierBronze, RewardMultiplier: 1}

	got := e.UpdateHunterPerformance(rec, Success(10, 30*time.Second))

	if got.TotalReferrals != 5 || got.SuccessfulReferrals != 5 {
		t.Fatalf("unexpected counters: %+v", got)
	}
	if got.Tier != types.HunterTierSilver {
		t.Errorf("expected silver, got %s", got.Tier)
	}
	if !approx(got.RewardMultiplier, 1.2) {
		t.Errorf("expected multiplier 1.2, got %v", got.RewardMultiplier)
	}
	// referral axis 0%, success axis capped at 100% -> 50
	if !approx(got.TierProgress, 50) {
		t.Errorf("expected progress 50, got %v", got.TierProgress)
	}
	if rec.TotalReferrals != 4 || rec.Tier != types.HunterTierBronze {
		t.Error("input record was mutated")
	}
}

func TestUpdateHunterPerformance_Counters(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	rec := e.NewRecord("0xabc")

	rec = e.UpdateHunterPerformance(rec, Success(5, 10*time.Second))
	rec = e.UpdateHunterPerformance(rec, Failure())
	rec = e.UpdateHunterPerformance(rec, Success(7.5, 20*time.Second))
	rec = e.UpdateHunterPerformance(rec, Outcome{Successful: true})

	if rec.TotalReferrals != 4 || rec.SuccessfulReferrals != 3 || rec.FailedReferrals != 1 {
		t.Fatalf("unexpected counters: %+v", rec)
	}
	if !approx(rec.SuccessRate, 75) {
		t.Errorf("expected success rate 75, got %v", rec.SuccessRate)
	}
	if !approx(rec.TotalEarned, 12.5) {
		t.Errorf("expected total earned 12.5, got %v", rec.TotalEarned)
	}
	// The third success has no completion time and leaves the average alone.
	if !approx(rec.AverageCompletionTime, 15) {
		t.Errorf("expected average completion 15s, got %v", rec.AverageCompletionTime)
	}
	if rec.UpdatedAt.IsZero() {
		t.Error("expected UpdatedAt to be set")
	}
}

func TestUpdateHunterPerformance_FailureIgnoresReward(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	reward := 100.0
	secs := 5.0
	rec := e.UpdateHunterPerformance(e.NewRecord("0xabc"), Outcome{Successful: false, Reward: &reward, CompletionSeconds: &secs})

	if rec.TotalEarned != 0 || rec.AverageCompletionTime != 0 {
		t.Errorf("failed outcome should not earn or time: %+v", rec)
	}
	if rec.SuccessRate != 0 {
		t.Errorf("expected 0%% success, got %v", rec.SuccessRate)
	}
}

func TestUpdateHunterPerformance_IgnoresNonFiniteValues(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	rec := e.UpdateHunterPerformance(e.NewRecord("0xabc"), Success(4, 8*time.Second))

	nan, inf, neg := math.NaN(), math.Inf(1), -3.0
	for _, v := range []*float64{&nan, &inf, &neg} {
		rec = e.UpdateHunterPerformance(rec, Outcome{Successful: true, Reward: v, CompletionSeconds: v})
	}

	if rec.SuccessfulReferrals != 4 {
		t.Fatalf("outcomes should still count, got %+v", rec)
	}
	if rec.TotalEarned != 4 {
		t.Errorf("expected total earned 4, got %v", rec.TotalEarned)
	}
	if math.IsNaN(rec.AverageCompletionTime) || math.IsInf(rec.AverageCompletionTime, 0) {
		t.Errorf("average completion time must stay finite, got %v", rec.AverageCompletionTime)
	}
}

func TestSuccessRate_ZeroReferrals(t *testing.T) {
	if got := successRate(0, 0); got != 0 {
		t.Errorf("expected 0, got %v", got)
	}
	info := newTestEngine(t, DefaultConfig()).GetHunterTierInfo(&Record{})
	if math.IsNaN(info.Performance.SuccessRate) || info.Performance.SuccessRate != 0 {
		t.Errorf("expected 0 success rate, got %v", info.Performance.SuccessRate)
	}
}

func TestTierSelection_InclusiveThresholds(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	tests := []struct {
		name       string
		total      int
		successful int
		want       types.HunterTier
	}{
		{"fresh", 0, 0, types.HunterTierBronze},
		{"silver exactly", 5, 3, types.HunterTierSilver},
		{"silver count, rate short", 5, 2, types.HunterTierBronze},
		{"gold exactly", 15, 11, types.HunterTierGold}, // 73.3%
		{"gold count, silver rate", 20, 13, types.HunterTierSilver},
		{"platinum exactly", 30, 24, types.HunterTierPlatinum},
		{"platinum count, gold rate", 40, 30, types.HunterTierGold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := e.GetHunterTierInfo(&Record{TotalReferrals: tt.total, SuccessfulReferrals: tt.successful})
			if info.Tier.Level != tt.want {
				t.Errorf("expected %s, got %s (rate %.2f)", tt.want, info.Tier.Level, info.Performance.SuccessRate)
			}
		})
	}
}

func TestTierSelection_Monotonic(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	for total := 0; total <= 40; total++ {
		prev := -1
		for successful := 0; successful <= total; successful++ {
			r := Record{TotalReferrals: total, SuccessfulReferrals: successful}
			r.SuccessRate = successRate(successful, total)
			idx := e.tierIndex(r)
			if idx < prev {
				t.Fatalf("tier dropped at total=%d successful=%d", total, successful)
			}
			prev = idx
		}
	}
}

func TestMultiplier_NonDecreasingWithTier(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	for i := 1; i < len(e.tiers); i++ {
		if e.tiers[i].RewardMultiplier < e.tiers[i-1].RewardMultiplier {
			t.Errorf("multiplier decreases from %s to %s", e.tiers[i-1].Level, e.tiers[i].Level)
		}
	}
}

func TestMultiplier_Brackets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SuccessRateBrackets = Brackets{{Threshold: 95, Multiplier: 1.25}, {Threshold: 80, Multiplier: 1.1}}
	cfg.CompletedBrackets = Brackets{{Threshold: 10, Multiplier: 1.05}, {Threshold: 50, Multiplier: 1.2}}
	e := newTestEngine(t, cfg)

	tests := []struct {
		name       string
		total      int
		successful int
		want       float64
	}{
		{"no bracket", 5, 3, 1.2},                         // silver, 60%, 3 done
		{"rate 80", 10, 8, 1.2 * 1.1},                     // silver, 80%, 8 done
		{"rate 95 and ten done", 20, 19, 1.5 * 1.25 * 1.05}, // gold
		{"fresh", 0, 0, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := e.GetHunterTierInfo(&Record{TotalReferrals: tt.total, SuccessfulReferrals: tt.successful})
			if !approx(info.Multiplier, tt.want) {
				t.Errorf("expected multiplier %v, got %v", tt.want, info.Multiplier)
			}
		})
	}
}

func TestBracketsLookup_HighestQualifyingWins(t *testing.T) {
	b := Brackets{{Threshold: 50, Multiplier: 1.5}, {Threshold: 10, Multiplier: 1.1}, {Threshold: 25, Multiplier: 1.25}}

	tests := []struct {
		value float64
		want  float64
	}{
		{0, 1.0},
		{10, 1.1},
		{24.9, 1.1},
		{25, 1.25},
		{1000, 1.5},
	}
	for _, tt := range tests {
		if got := b.Lookup(tt.value); got != tt.want {
			t.Errorf("Lookup(%v) = %v, want %v", tt.value, got, tt.want)
		}
	}
	if got := Brackets(nil).Lookup(99); got != 1.0 {
		t.Errorf("empty table should yield 1.0, got %v", got)
	}
}

func TestTierProgress(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())

	tests := []struct {
		name       string
		total      int
		successful int
		want       float64
	}{
		{"fresh", 0, 0, 0},
		// bronze -> silver: refs 2/5 = 40, rate 50/60 = 83.33
		{"halfway", 2, 1, (40 + 50.0/60*100) / 2},
		// platinum is the ceiling
		{"top", 30, 30, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := e.GetHunterTierInfo(&Record{TotalReferrals: tt.total, SuccessfulReferrals: tt.successful})
			if !approx(info.Progress, tt.want) {
				t.Errorf("expected progress %v, got %v", tt.want, info.Progress)
			}
			if info.Progress < 0 || info.Progress > 100 {
				t.Errorf("progress %v out of range", info.Progress)
			}
		})
	}
}

func TestGetHunterTierInfo_NoRecord(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	info := e.GetHunterTierInfo(nil)

	if info.Tier.Level != types.HunterTierBronze {
		t.Errorf("expected default tier bronze, got %s", info.Tier.Level)
	}
	if info.Progress != 0 || info.Multiplier != 1.0 {
		t.Errorf("expected progress 0 and multiplier 1.0, got %v and %v", info.Progress, info.Multiplier)
	}
	if info.NextTier == nil || info.NextTier.Level != types.HunterTierSilver {
		t.Errorf("expected next tier silver, got %+v", info.NextTier)
	}
}

func TestGetHunterTierInfo_Ceiling(t *testing.T) {
	e := newTestEngine(t, DefaultConfig())
	info := e.GetHunterTierInfo(&Record{TotalReferrals: 50, SuccessfulReferrals: 45})
	if info.Tier.Level != types.HunterTierPlatinum {
		t.Fatalf("expected platinum, got %s", info.Tier.Level)
	}
	if info.NextTier != nil {
		t.Errorf("expected no next tier at ceiling, got %+v", info.NextTier)
	}
}

func TestUpdateHunterPerformance_TieringDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	e := newTestEngine(t, cfg)

	rec := e.NewRecord("0xabc")
	for i := 0; i < 40; i++ {
		rec = e.UpdateHunterPerformance(rec, Success(1, 0))
	}
	if rec.Tier != types.HunterTierBronze || rec.RewardMultiplier != 1.0 {
		t.Errorf("tier should stay put when tiering is disabled: %+v", rec)
	}
	if rec.SuccessRate != 100 {
		t.Errorf("counters should still update, got rate %v", rec.SuccessRate)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"unordered input is sorted", func(c *Config) {
			c.Tiers[0], c.Tiers[3] = c.Tiers[3], c.Tiers[0]
		}, false},
		{"no tiers", func(c *Config) { c.Tiers = nil }, true},
		{"no floor", func(c *Config) { c.Tiers = c.Tiers[1:] }, true},
		{"duplicate level", func(c *Config) { c.Tiers[2].Level = types.HunterTierSilver }, true},
		{"same threshold", func(c *Config) { c.Tiers[2].RequiredReferrals = 5 }, true},
		{"decreasing multiplier", func(c *Config) { c.Tiers[3].RewardMultiplier = 1.1 }, true},
		{"rate over 100", func(c *Config) { c.Tiers[1].RequiredSuccessRate = 101 }, true},
		{"bad bracket", func(c *Config) { c.SuccessRateBrackets = Brackets{{Threshold: 50, Multiplier: 0}} }, true},
		{"duplicate bracket", func(c *Config) {
			c.CompletedBrackets = Brackets{{Threshold: 5, Multiplier: 1.1}, {Threshold: 5, Multiplier: 1.2}}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
