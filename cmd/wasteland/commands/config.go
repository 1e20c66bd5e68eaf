package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/wastelandfi/wasteland/internal/config"
	"github.com/wastelandfi/wasteland/internal/hunter/store"
)

// NewConfigCmd groups configuration management.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigShowCmd(), newConfigValidateCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force, defaults bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file",
		Long: `Write a config file. On a terminal a short form asks for the RPC
endpoint, wallet and hunter store; --defaults skips it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.DefaultConfig()
			if !defaults && isTTY() && stdinIsTTY() {
				if err := configForm(cfg).Run(); err != nil {
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			Success(cmd.OutOrStdout(), "Wrote "+path)
			fmt.Fprintln(cmd.OutOrStdout(), Hint("Next: wasteland connect, then wasteland serve"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().BoolVar(&defaults, "defaults", false, "Write the defaults without asking")
	return cmd
}

// configForm edits the handful of settings most installs change.
func configForm(cfg *config.Config) *huh.Form {
	rpc := cfg.Network.RPCURLs[0]
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Polygon RPC endpoint").
				Validate(func(s string) error {
					if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") &&
						!strings.HasPrefix(s, "ws://") && !strings.HasPrefix(s, "wss://") {
						return fmt.Errorf("must be an http(s) or ws(s) URL")
					}
					cfg.Network.RPCURLs = []string{s}
					return nil
				}).
				Value(&rpc),
			huh.NewInput().
				Title("Wallet address").
				Description("Leave empty to serve without a wallet").
				Validate(func(s string) error {
					if s != "" && !common.IsHexAddress(s) {
						return fmt.Errorf("not an address")
					}
					return nil
				}).
				Value(&cfg.Network.WalletAddress),
		),
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should hunter records live?").
				Options(
					huh.NewOption("On disk (LevelDB)", store.BackendLevelDB),
					huh.NewOption("In memory (lost on restart)", store.BackendMemory),
				).
				Value(&cfg.Referral.Store),
			huh.NewConfirm().
				Title("Use the mock presale contract?").
				Value(&cfg.Presale.Mock),
		),
	).WithTheme(huh.ThemeBase())
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if jsonOutput() {
				return printJSON(cmd.OutOrStdout(), cfg)
			}
			data, err := yaml.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", configPath(), data)
			return nil
		},
	}
}

func newConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file for errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(); err != nil {
				return err
			}
			Success(cmd.OutOrStdout(), configPath()+" is valid")
			return nil
		},
	}
}
