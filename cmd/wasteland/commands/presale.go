package commands

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/wastelandfi/wasteland/internal/pricing"
	"github.com/wastelandfi/wasteland/internal/wallet"
)

// NewPresaleCmd groups the token presale commands.
func NewPresaleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "presale",
		Short: "Inspect and take part in the token presale",
	}
	cmd.AddCommand(newPresaleStatusCmd(), newPresaleBuyCmd(), newPresaleClaimCmd())
	return cmd
}

// presaleApp opens the presale service. A wallet connection is opened when
// signing is needed or the contract is live.
func presaleApp(cmd *cobra.Command, wantSigner bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := newApp(cfg)
	if err != nil {
		return nil, err
	}
	if wantSigner || !cfg.Presale.Mock || cfg.Network.WalletAddress != "" {
		if err := a.openWallet(""); err != nil && (wantSigner || !cfg.Presale.Mock) {
			a.Close()
			return nil, err
		}
	}
	if wantSigner {
		if _, _, err := unlockAccount(a, a.connector.Identity(), openPasswordStore()); err != nil {
			a.Close()
			return nil, err
		}
	}
	if err := a.openPresale(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newPresaleStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the presale price and sales",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := presaleApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			snap, err := a.presale.Refresh(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(out, snap)
			}

			mode := "live"
			if snap.Mock {
				mode = "mock"
			}
			fields := [][2]string{
				{"Mode", StatusBadge(mode)},
				{"Token price", pricing.FormatEther(snap.TokenPrice) + " MATIC"},
				{"Tokens sold", pricing.FormatEther(snap.TotalSold)},
				{"Updated", snap.UpdatedAt.Format("2006-01-02 15:04:05")},
			}
			if a.connector != nil {
				if addr, err := wallet.ParseIdentity(a.connector.Identity()); err == nil {
					if paid, err := a.presale.Contribution(cmd.Context(), addr); err == nil {
						fields = append(fields, [2]string{"Your contribution", pricing.FormatEther(paid) + " MATIC"})
					}
				}
			}
			fmt.Fprintln(out, StatusBox("Presale", fields))
			return nil
		},
	}
}

func newPresaleBuyCmd() *cobra.Command {
	var referrer string

	cmd := &cobra.Command{
		Use:   "buy <amount>",
		Short: "Buy tokens with an amount of MATIC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := pricing.ParseEther(args[0])
			if err != nil {
				return err
			}
			var ref common.Address
			if referrer != "" {
				if !common.IsHexAddress(referrer) {
					return fmt.Errorf("referrer %q is not an address", referrer)
				}
				ref = common.HexToAddress(referrer)
			}

			a, err := presaleApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			p, err := a.presale.Buy(cmd.Context(), value, ref)
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(out, map[string]any{
					"buyer":    p.Buyer.Hex(),
					"referrer": p.Referrer.Hex(),
					"tokens":   pricing.FormatEther(p.Tokens),
					"tx_hash":  p.TxHash.Hex(),
					"split":    p.Breakdown.Quote(),
				})
			}

			q := p.Breakdown.Quote()
			Success(out, fmt.Sprintf("Bought %s tokens", pricing.FormatEther(p.Tokens)))
			fields := [][2]string{
				{"Paid", q.Gross + " MATIC"},
				{"Protocol fee", pricing.FormatEther(p.Breakdown.ProtocolFee)},
				{"Referral", pricing.FormatEther(p.Breakdown.Referral)},
				{"Net", q.Net},
			}
			if p.TxHash != (common.Hash{}) {
				fields = append(fields, [2]string{"Transaction", p.TxHash.Hex()})
			}
			fmt.Fprintln(out, StatusBox("Purchase", fields))
			if ref != (common.Address{}) && !q.ReferralActive {
				fmt.Fprintln(out, Hint("Self-referrals earn no referral cut"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&referrer, "referrer", "", "Address of the hunter who referred you")
	return cmd
}

func newPresaleClaimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim",
		Short: "Claim purchased tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := presaleApp(cmd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			hash, err := a.presale.Claim(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(cmd.OutOrStdout(), map[string]string{"tx_hash": hash.Hex()})
			}
			if hash == (common.Hash{}) {
				Success(cmd.OutOrStdout(), "Tokens claimed")
				return nil
			}
			Success(cmd.OutOrStdout(), "Claim submitted: "+hash.Hex())
			return nil
		},
	}
}
