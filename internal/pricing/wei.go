package pricing

import (
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"

	"github.com/wastelandfi/wasteland/pkg/types"
)

// BasisPoints in 100%.
const BasisPoints = 10_000

var (
	bigBasisPoints = big.NewInt(BasisPoints)
	bigEther       = big.NewInt(params.Ether)
)

// WeiBreakdown is the exact on-chain split of a contribution in wei.
// Fee and referral round down; the remainder stays with Net so the
// parts always add up to Gross.
type WeiBreakdown struct {
	Gross       *big.Int
	ProtocolFee *big.Int
	Referral    *big.Int
	Net         *big.Int
}

// Quote converts b to its wire form.
func (b WeiBreakdown) Quote() types.PriceQuote {
	return types.PriceQuote{
		GrossWei:       b.Gross.String(),
		ProtocolFeeWei: b.ProtocolFee.String(),
		ReferralWei:    b.Referral.String(),
		NetWei:         b.Net.String(),
		Gross:          FormatEther(b.Gross),
		Net:            FormatEther(b.Net),
		ReferralActive: b.Referral.Sign() > 0,
	}
}

// FeeBasisPoints returns the protocol fee in basis points.
func (c Config) FeeBasisPoints() int64 {
	return percentToBps(c.ProtocolFeePercent)
}

// ReferralBasisPoints returns the referral cut in basis points.
func (c Config) ReferralBasisPoints() int64 {
	return percentToBps(c.ReferralPercent)
}

func percentToBps(p float64) int64 {
	return int64(math.Round(p * 100))
}

// WeiBreakdown splits gross wei using integer basis-point arithmetic.
func (c *Calculator) WeiBreakdown(gross *big.Int, referralActive bool) (WeiBreakdown, error) {
	if gross == nil || gross.Sign() < 0 {
		return WeiBreakdown{}, fmt.Errorf("%w: gross must be a non-negative wei amount", ErrInvalidAmount)
	}

	fee := applyBps(gross, c.cfg.FeeBasisPoints())
	referral := new(big.Int)
	if referralActive {
		referral = applyBps(gross, c.cfg.ReferralBasisPoints())
	}

	deductions := new(big.Int).Add(fee, referral)
	if deductions.Cmp(gross) > 0 {
		return WeiBreakdown{}, &InvalidConfigurationError{
			ProtocolFeePercent: c.cfg.ProtocolFeePercent,
			ReferralPercent:    c.cfg.ReferralPercent,
			Reason:             "fee plus referral exceeds gross",
		}
	}

	return WeiBreakdown{
		Gross:       new(big.Int).Set(gross),
		ProtocolFee: fee,
		Referral:    referral,
		Net:         new(big.Int).Sub(gross, deductions),
	}, nil
}

func applyBps(amount *big.Int, bps int64) *big.Int {
	if bps <= 0 || amount.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(amount, big.NewInt(bps))
	return out.Quo(out, bigBasisPoints)
}

// ParseEther converts a decimal token amount ("1.5") into wei. More than
// 18 fractional digits is an error.
func ParseEther(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	r, ok := new(big.Rat).SetString(s)
	if !ok || s == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if r.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q is negative", ErrInvalidAmount, s)
	}
	r.Mul(r, new(big.Rat).SetInt(bigEther))
	if !r.IsInt() {
		return nil, fmt.Errorf("%w: %q has more than 18 decimals", ErrInvalidAmount, s)
	}
	return new(big.Int).Set(r.Num()), nil
}

// FormatEther renders wei as a decimal token amount without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	neg := wei.Sign() < 0
	abs := new(big.Int).Abs(wei)
	whole, frac := new(big.Int).QuoRem(abs, bigEther, new(big.Int))

	out := whole.String()
	if frac.Sign() != 0 {
		digits := frac.String()
		digits = strings.Repeat("0", 18-len(digits)) + digits
		out += "." + strings.TrimRight(digits, "0")
	}
	if neg {
		out = "-" + out
	}
	return out
}
