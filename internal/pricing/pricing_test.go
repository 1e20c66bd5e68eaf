package pricing

import (
	"errors"
	"math"
	"math/big"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
}

func TestCalculatePriceStructure_Example(t *testing.T) {
	got, err := CalculatePriceStructure(100, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(got.ProtocolFee, 2.5) {
		t.Errorf("expected fee 2.5, got %v", got.ProtocolFee)
	}
	if !almostEqual(got.Referral, 5.0) {
		t.Errorf("expected referral 5.0, got %v", got.Referral)
	}
	if !almostEqual(got.Net, 92.5) {
		t.Errorf("expected net 92.5, got %v", got.Net)
	}
	if !almostEqual(got.ProtocolFee+got.Referral+got.Net, 100) {
		t.Errorf("parts do not add up to gross: %+v", got)
	}
}

func TestCalculatePriceStructure_Invariants(t *testing.T) {
	grosses := []float64{0, 0.01, 1, 3.333333, 100, 1234.5678, 1e9, math.MaxFloat64 / 4, math.MaxFloat64 / 2}
	for _, gross := range grosses {
		for _, referral := range []bool{false, true} {
			got, err := CalculatePriceStructure(gross, referral)
			if err != nil {
				t.Fatalf("gross %v: unexpected error: %v", gross, err)
			}
			if !almostEqual(got.ProtocolFee+got.Referral+got.Net, gross) {
				t.Errorf("gross %v referral %v: parts %+v do not sum to gross", gross, referral, got)
			}
			if !almostEqual(got.ProtocolFee, 0.025*gross) {
				t.Errorf("gross %v: fee %v != 2.5%%", gross, got.ProtocolFee)
			}
			if !referral && got.Referral != 0 {
				t.Errorf("gross %v: referral should be zero when inactive, got %v", gross, got.Referral)
			}
			if math.IsInf(got.ProtocolFee, 0) || math.IsInf(got.Referral, 0) || math.IsInf(got.Net, 0) {
				t.Errorf("gross %v: non-finite part in %+v", gross, got)
			}
			if got.Net < 0 {
				t.Errorf("gross %v: negative net %v", gross, got.Net)
			}
		}
	}
}

func TestCalculatePriceStructure_InvalidAmount(t *testing.T) {
	for _, gross := range []float64{-1, math.NaN(), math.Inf(1)} {
		if _, err := CalculatePriceStructure(gross, false); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("gross %v: expected ErrInvalidAmount, got %v", gross, err)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default", DefaultConfig(), false},
		{"zero", Config{}, false},
		{"exactly 100", Config{ProtocolFeePercent: 50, ReferralPercent: 50}, false},
		{"over 100", Config{ProtocolFeePercent: 60, ReferralPercent: 50}, true},
		{"negative fee", Config{ProtocolFeePercent: -1}, true},
		{"NaN referral", Config{ReferralPercent: math.NaN()}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				var cfgErr *InvalidConfigurationError
				if !errors.As(err, &cfgErr) {
					t.Errorf("expected InvalidConfigurationError, got %T", err)
				}
			}
		})
	}
}

func TestNewCalculator_RejectsOverdraft(t *testing.T) {
	_, err := NewCalculator(Config{ProtocolFeePercent: 80, ReferralPercent: 30})
	var cfgErr *InvalidConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected InvalidConfigurationError, got %v", err)
	}
	if cfgErr.Category() != "configuration" {
		t.Errorf("unexpected category %q", cfgErr.Category())
	}
}

func TestCalculator_FailsFastOnOverdraft(t *testing.T) {
	// Bypass constructor validation to exercise the runtime guard.
	c := &Calculator{cfg: Config{ProtocolFeePercent: 80, ReferralPercent: 30}}

	if _, err := c.CalculatePriceStructure(100, false); err != nil {
		t.Fatalf("fee alone fits: unexpected error %v", err)
	}
	_, err := c.CalculatePriceStructure(100, true)
	var cfgErr *InvalidConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected InvalidConfigurationError, got %v", err)
	}
}

func TestWeiBreakdown(t *testing.T) {
	c, err := NewCalculator(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		gross    string
		referral bool
		fee      string
		ref      string
		net      string
	}{
		{"100 ether with referral", "100000000000000000000", true, "2500000000000000000", "5000000000000000000", "92500000000000000000"},
		{"no referral", "1000", false, "25", "0", "975"},
		{"rounding goes to net", "39", true, "0", "1", "38"},
		{"zero", "0", true, "0", "0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gross, _ := new(big.Int).SetString(tt.gross, 10)
			got, err := c.WeiBreakdown(gross, tt.referral)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.ProtocolFee.String() != tt.fee || got.Referral.String() != tt.ref || got.Net.String() != tt.net {
				t.Errorf("got fee=%s ref=%s net=%s, want %s %s %s",
					got.ProtocolFee, got.Referral, got.Net, tt.fee, tt.ref, tt.net)
			}
			sum := new(big.Int).Add(got.ProtocolFee, got.Referral)
			sum.Add(sum, got.Net)
			if sum.Cmp(gross) != 0 {
				t.Errorf("parts sum to %s, want %s", sum, gross)
			}
		})
	}

	if _, err := c.WeiBreakdown(big.NewInt(-1), false); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for negative wei, got %v", err)
	}
}

func TestBasisPoints(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.FeeBasisPoints() != 250 {
		t.Errorf("expected 250 bps fee, got %d", cfg.FeeBasisPoints())
	}
	if cfg.ReferralBasisPoints() != 500 {
		t.Errorf("expected 500 bps referral, got %d", cfg.ReferralBasisPoints())
	}
}

func TestParseAndFormatEther(t *testing.T) {
	tests := []struct {
		in   string
		wei  string
		back string
	}{
		{"1", "1000000000000000000", "1"},
		{"1.5", "1500000000000000000", "1.5"},
		{"0.000000000000000001", "1", "0.000000000000000001"},
		{"0", "0", "0"},
	}
	for _, tt := range tests {
		wei, err := ParseEther(tt.in)
		if err != nil {
			t.Fatalf("ParseEther(%q): %v", tt.in, err)
		}
		if wei.String() != tt.wei {
			t.Errorf("ParseEther(%q) = %s, want %s", tt.in, wei, tt.wei)
		}
		if got := FormatEther(wei); got != tt.back {
			t.Errorf("FormatEther(%s) = %q, want %q", wei, got, tt.back)
		}
	}

	for _, bad := range []string{"", "abc", "-1", "0.0000000000000000001"} {
		if _, err := ParseEther(bad); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("ParseEther(%q): expected ErrInvalidAmount, got %v", bad, err)
		}
	}
}

func TestWeiBreakdown_Quote(t *testing.T) {
	c, _ := NewCalculator(DefaultConfig())
	gross, _ := ParseEther("100")
	b, err := c.WeiBreakdown(gross, true)
	if err != nil {
		t.Fatal(err)
	}
	q := b.Quote()
	if q.Gross != "100" || q.Net != "92.5" || !q.ReferralActive {
		t.Errorf("unexpected quote %+v", q)
	}
	if q.ReferralWei != "5000000000000000000" {
		t.Errorf("unexpected referral wei %s", q.ReferralWei)
	}
}
