package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wastelandfi/wasteland/internal/pricing"
)

// NewPriceCmd splits a gross amount into fee, referral and net.
func NewPriceCmd() *cobra.Command {
	var referral, wei bool

	cmd := &cobra.Command{
		Use:   "price <gross>",
		Short: "Show the fee and referral split for an amount",
		Long: `Show how a gross amount is split between the protocol fee, the referral
cut and the net amount.

With --wei the amount is parsed as ether and split exactly in wei, the way
the presale contract does it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			calc, err := pricing.NewCalculator(cfg.Pricing)
			if err != nil {
				return err
			}
			if wei {
				return runPriceWei(cmd, calc, args[0], referral)
			}

			gross, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("gross must be a number: %w", err)
			}
			b, err := calc.CalculatePriceStructure(gross, referral)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(cmd.OutOrStdout(), b)
			}

			fields := [][2]string{
				{"Gross", FormatAmount(b.Gross)},
				{"Protocol fee", FormatAmount(b.ProtocolFee)},
				{"Referral", FormatAmount(b.Referral)},
				{"Net", FormatAmount(b.Net)},
			}
			fmt.Fprintln(cmd.OutOrStdout(), StatusBox("Price breakdown", fields))
			if !b.ReferralActive {
				fmt.Fprintln(cmd.OutOrStdout(), Hint("Pass --referral to include a hunter's cut"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&referral, "referral", false, "Apply the referral cut")
	cmd.Flags().BoolVar(&wei, "wei", false, "Split exactly in wei")
	return cmd
}

func runPriceWei(cmd *cobra.Command, calc *pricing.Calculator, amount string, referral bool) error {
	gross, err := pricing.ParseEther(amount)
	if err != nil {
		return err
	}
	b, err := calc.WeiBreakdown(gross, referral)
	if err != nil {
		return err
	}
	q := b.Quote()
	if jsonOutput() {
		return printJSON(cmd.OutOrStdout(), q)
	}
	fmt.Fprintln(cmd.OutOrStdout(), StatusBox("Price breakdown (wei)", [][2]string{
		{"Gross", q.GrossWei},
		{"Protocol fee", q.ProtocolFeeWei},
		{"Referral", q.ReferralWei},
		{"Net", q.NetWei},
		{"Net (ether)", q.Net},
	}))
	return nil
}
