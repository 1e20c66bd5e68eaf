// Package pricing splits a contribution into protocol fee, referral cut and
// net amount.
package pricing

import (
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultProtocolFeePercent is the protocol's share of every contribution.
	DefaultProtocolFeePercent = 2.5
	// DefaultReferralPercent is paid to the referrer when one is attached.
	DefaultReferralPercent = 5.0
	// ReferralFlatUSD is the marketing figure for the referral bonus. It is
	// only used for display; the cut is always ReferralPercent of gross.
	ReferralFlatUSD = 25

	// tolerance for the gross = fee + referral + net check on floats
	epsilon = 1e-9
)

// ErrInvalidAmount is returned for negative, NaN or infinite amounts.
var ErrInvalidAmount = errors.New("invalid amount")

// InvalidConfigurationError reports fee constants that cannot be applied.
// It points at a deployment bug and is never clamped away.
type InvalidConfigurationError struct {
	ProtocolFeePercent float64
	ReferralPercent    float64
	Reason             string
}

func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid pricing configuration (fee %.4g%%, referral %.4g%%): %s",
		e.ProtocolFeePercent, e.ReferralPercent, e.Reason)
}

// Category groups the error for callers that surface error classes.
func (e *InvalidConfigurationError) Category() string {
	return "configuration"
}

// Config holds the fee constants.
type Config struct {
	ProtocolFeePercent float64 `yaml:"protocol_fee_percent" json:"protocol_fee_percent"`
	ReferralPercent    float64 `yaml:"referral_percent" json:"referral_percent"`
}

// DefaultConfig returns 2.5% protocol fee and 5% referral.
func DefaultConfig() Config {
	return Config{
		ProtocolFeePercent: DefaultProtocolFeePercent,
		ReferralPercent:    DefaultReferralPercent,
	}
}

// Validate checks that both rates are percentages and that together they
// leave a non-negative net amount.
func (c Config) Validate() error {
	invalid := func(reason string) error {
		return &InvalidConfigurationError{
			ProtocolFeePercent: c.ProtocolFeePercent,
			ReferralPercent:    c.ReferralPercent,
			Reason:             reason,
		}
	}
	switch {
	case !isPercent(c.ProtocolFeePercent):
		return invalid("protocol fee must be between 0 and 100")
	case !isPercent(c.ReferralPercent):
		return invalid("referral must be between 0 and 100")
	case c.ProtocolFeePercent+c.ReferralPercent > 100:
		return invalid("fee and referral together exceed the gross amount")
	}
	return nil
}

func isPercent(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 100
}

// PriceBreakdown is the decomposition of a contribution.
type PriceBreakdown struct {
	Gross          float64 `json:"gross"`
	ProtocolFee    float64 `json:"protocol_fee"`
	Referral       float64 `json:"referral"`
	Net            float64 `json:"net"`
	ReferralActive bool    `json:"referral_active"`
}

// Calculator computes price breakdowns for a fixed configuration.
type Calculator struct {
	cfg Config
}

// NewCalculator validates cfg and returns a calculator for it.
func NewCalculator(cfg Config) (*Calculator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{cfg: cfg}, nil
}

// Config returns the calculator's fee constants.
func (c *Calculator) Config() Config {
	return c.cfg
}

// CalculatePriceStructure splits gross into fee, referral (only when
// referralActive) and net. The result always satisfies
// Gross == ProtocolFee + Referral + Net.
func (c *Calculator) CalculatePriceStructure(gross float64, referralActive bool) (PriceBreakdown, error) {
	if math.IsNaN(gross) || math.IsInf(gross, 0) || gross < 0 {
		return PriceBreakdown{}, fmt.Errorf("%w: gross %v", ErrInvalidAmount, gross)
	}

	// scale the rate first so gross near MaxFloat64 cannot overflow
	fee := gross * (c.cfg.ProtocolFeePercent / 100)
	var referral float64
	if referralActive {
		referral = gross * (c.cfg.ReferralPercent / 100)
	}

	if fee+referral > gross*(1+epsilon) {
		return PriceBreakdown{}, &InvalidConfigurationError{
			ProtocolFeePercent: c.cfg.ProtocolFeePercent,
			ReferralPercent:    c.cfg.ReferralPercent,
			Reason:             fmt.Sprintf("fee %v plus referral %v exceeds gross %v", fee, referral, gross),
		}
	}

	net := gross - fee - referral
	if net < 0 {
		// float rounding only; the check above rejects real overdrafts
		net = 0
	}

	return PriceBreakdown{
		Gross:          gross,
		ProtocolFee:    fee,
		Referral:       referral,
		Net:            net,
		ReferralActive: referralActive,
	}, nil
}

var defaultCalculator = &Calculator{cfg: DefaultConfig()}

// CalculatePriceStructure uses the default 2.5% fee and 5% referral.
func CalculatePriceStructure(gross float64, referralActive bool) (PriceBreakdown, error) {
	return defaultCalculator.CalculatePriceStructure(gross, referralActive)
}
