package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wastelandfi/wasteland/internal/hunter"
	"github.com/wastelandfi/wasteland/internal/referral"
)

// NewHunterCmd groups the referral hunter commands.
func NewHunterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hunter",
		Short: "Track bounty hunter referrals and tiers",
	}
	cmd.AddCommand(newHunterRecordCmd(), newHunterTierCmd(), newHunterTopCmd())
	return cmd
}

// withReferral loads config and opens the referral service for fn.
func withReferral(cmd *cobra.Command, fn func(*referral.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.openReferral(cmd.Context()); err != nil {
		return err
	}
	return fn(a.referral)
}

func newHunterRecordCmd() *cobra.Command {
	var (
		success, failure bool
		completion       time.Duration
		reward           float64
	)

	cmd := &cobra.Command{
		Use:   "record <address>",
		Short: "Record a referral outcome",
		Example: `  wasteland hunter record 0xabc... --success --reward 25 --time 90s
  wasteland hunter record 0xabc... --failure`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o := hunter.Outcome{Successful: success}
			if success {
				if cmd.Flags().Changed("reward") {
					o.Reward = &reward
				}
				if cmd.Flags().Changed("time") {
					secs := completion.Seconds()
					o.CompletionSeconds = &secs
				}
			}

			return withReferral(cmd, func(svc *referral.Service) error {
				var changed *referral.TierChanged
				svc.Subscribe(func(ev referral.TierChanged) { changed = &ev })

				rec, err := svc.RecordOutcome(cmd.Context(), args[0], o)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), rec)
				}

				out := cmd.OutOrStdout()
				Success(out, fmt.Sprintf("Recorded %s for %s", outcomeLabel(o), rec.Address))
				printRecord(cmd, rec)
				if changed != nil {
					if changed.Promotion() {
						Info(out, fmt.Sprintf("Promoted from %s to %s", changed.From, changed.To))
					} else {
						Warning(out, fmt.Sprintf("Dropped from %s to %s", changed.From, changed.To))
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&success, "success", false, "The referral succeeded")
	cmd.Flags().BoolVar(&failure, "failure", false, "The referral failed")
	cmd.Flags().DurationVar(&completion, "time", 0, "Time the referral took to complete")
	cmd.Flags().Float64Var(&reward, "reward", 0, "Reward earned for the referral")
	cmd.MarkFlagsMutuallyExclusive("success", "failure")
	cmd.MarkFlagsOneRequired("success", "failure")
	return cmd
}

func outcomeLabel(o hunter.Outcome) string {
	if o.Successful {
		return "success"
	}
	return "failure"
}

func printRecord(cmd *cobra.Command, rec hunter.Record) {
	fmt.Fprintln(cmd.OutOrStdout(), StatusBox("Hunter "+FormatAddress(rec.Address), [][2]string{
		{"Tier", TierBadge(rec.Tier)},
		{"Referrals", fmt.Sprintf("%d (%d ok, %d failed)", rec.TotalReferrals, rec.SuccessfulReferrals, rec.FailedReferrals)},
		{"Success rate", FormatPercent(rec.SuccessRate)},
		{"Earned", FormatAmount(rec.TotalEarned)},
		{"Multiplier", fmt.Sprintf("%.2fx", rec.RewardMultiplier)},
		{"Tier progress", FormatPercent(rec.TierProgress)},
	}))
}

func newHunterTierCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tier <address>",
		Short: "Show a hunter's tier standing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withReferral(cmd, func(svc *referral.Service) error {
				st, err := svc.Standing(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), st)
				}

				out := cmd.OutOrStdout()
				info := st.Info
				fields := [][2]string{
					{"Tier", TierBadge(info.Tier.Level)},
					{"Multiplier", fmt.Sprintf("%.2fx", info.Multiplier)},
					{"Referrals", strconv.Itoa(info.Performance.TotalReferrals)},
					{"Success rate", FormatPercent(info.Performance.SuccessRate)},
				}
				if info.NextTier != nil {
					fields = append(fields,
						[2]string{"Next tier", string(info.NextTier.Level)},
						[2]string{"Progress", FormatPercent(info.Progress)},
					)
				}
				fmt.Fprintln(out, StatusBox("Hunter "+FormatAddress(st.Address), fields))

				if st.Record == nil {
					fmt.Fprintln(out, Hint("No referrals recorded yet"))
				}
				if len(info.Tier.Benefits) > 0 {
					fmt.Fprintln(out, SectionHeader("Benefits"))
					for _, b := range info.Tier.Benefits {
						fmt.Fprintln(out, "  - "+b)
					}
				}
				if next := info.NextTier; next != nil {
					fmt.Fprintln(out, Hint(fmt.Sprintf("%s needs %d referrals at %.0f%% success",
						next.Level, next.RequiredReferrals, next.RequiredSuccessRate)))
				}
				return nil
			})
		},
	}
}

func newHunterTopCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "top",
		Short: "Show the hunter leaderboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit cannot be negative")
			}
			return withReferral(cmd, func(svc *referral.Service) error {
				recs, err := svc.Leaderboard(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(cmd.OutOrStdout(), recs)
				}
				if len(recs) == 0 {
					Info(cmd.OutOrStdout(), "No hunters recorded yet")
					return nil
				}

				rows := make([][]string, 0, len(recs))
				for i, r := range recs {
					rows = append(rows, []string{
						strconv.Itoa(i + 1),
						FormatAddress(r.Address),
						string(r.Tier),
						strconv.Itoa(r.SuccessfulReferrals),
						FormatPercent(r.SuccessRate),
						fmt.Sprintf("%.2fx", r.RewardMultiplier),
						FormatAmount(r.TotalEarned),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), RenderTable(
					[]string{"#", "HUNTER", "TIER", "SUCCESSFUL", "RATE", "MULT", "EARNED"}, rows))
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Number of hunters to show (max 100)")
	return cmd
}
