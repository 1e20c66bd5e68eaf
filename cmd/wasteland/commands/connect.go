package commands

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wastelandfi/wasteland/internal/connector"
	"github.com/wastelandfi/wasteland/internal/logging"
	"github.com/wastelandfi/wasteland/internal/wallet"
)

// NewConnectCmd initializes a wallet connection and checks the network.
func NewConnectCmd() *cobra.Command {
	var remember, forget bool

	cmd := &cobra.Command{
		Use:   "connect [address]",
		Short: "Connect a wallet and check it is on the right network",
		Long: `Connect a wallet and check it is on the right network.

The address defaults to network.wallet_address. When the keystore holds the
account it is unlocked so the connection can sign. The password comes from
` + wallet.PasswordEnv + `, the system keyring, or a prompt.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			identity := cfg.Network.WalletAddress
			if len(args) == 1 {
				identity = args[0]
			}
			if forget {
				return forgetPassword(cmd.OutOrStdout(), identity)
			}

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.openWallet(identity); err != nil {
				return err
			}
			return runConnect(cmd, a, remember)
		},
	}

	cmd.Flags().BoolVar(&remember, "remember", false, "Store the keystore password in the system keyring")
	cmd.Flags().BoolVar(&forget, "forget", false, "Remove a stored keystore password and exit")
	cmd.MarkFlagsMutuallyExclusive("remember", "forget")
	return cmd
}

func runConnect(cmd *cobra.Command, a *app, remember bool) error {
	out := cmd.OutOrStdout()
	identity := a.connector.Identity()

	store := openPasswordStore()
	unlocked, prompted, err := unlockAccount(a, identity, store)
	if err != nil {
		return err
	}

	var handle *connector.ConnectionHandle
	err = WithSpinner(out, "Connecting to "+connector.NetworkName(a.connector.RequiredChainID()), func() error {
		var err error
		handle, err = a.connector.GetConnection(cmd.Context())
		return err
	})
	if err != nil {
		Error(out, err.Error())
		for _, step := range connector.RecoverySteps(err) {
			fmt.Fprintln(out, Hint("- "+step))
		}
		return err
	}

	if remember && prompted != "" {
		rememberPassword(out, store, handle, prompted)
	}

	if jsonOutput() {
		return printJSON(out, map[string]any{
			"address":                  handle.Address.Hex(),
			"chain_id":                 handle.ChainID.String(),
			"can_sign":                 handle.CanSign,
			"is_smart_contract_wallet": handle.IsSmartContractWallet,
			"endpoints":                a.factory.Tracker().Snapshot(),
		})
	}

	signing := "watch-only"
	if handle.CanSign {
		signing = "yes"
	} else if unlocked {
		signing = "unlocked but not signing"
	}
	walletKind := "externally owned"
	if handle.IsSmartContractWallet {
		walletKind = "smart contract"
	}
	fmt.Fprintln(out, StatusBox("Wallet connected", [][2]string{
		{"Address", handle.Address.Hex()},
		{"Network", connector.NetworkName(handle.ChainID)},
		{"Wallet", walletKind},
		{"Can sign", signing},
		{"State", StatusBadge(connector.StateReady.String())},
	}))

	rows := [][]string{}
	for _, ep := range a.factory.Tracker().Snapshot() {
		rows = append(rows, []string{logging.RedactURL(ep.URL), StatusBadge(string(ep.Status)), ep.Latency.String()})
	}
	if len(rows) > 0 {
		fmt.Fprintln(out, SectionHeader("RPC endpoints"))
		fmt.Fprintln(out, RenderTable([]string{"URL", "STATUS", "LATENCY"}, rows))
	}
	return nil
}

// openPasswordStore returns nil when no system keyring is reachable.
func openPasswordStore() *wallet.PasswordStore {
	store, err := wallet.OpenPasswordStore()
	if err != nil {
		logging.Debug("system keyring unavailable", logging.Err(err))
		return nil
	}
	return store
}

// unlockAccount unlocks identity's keystore account with a stored password,
// prompting when none is stored. prompted is the password typed, if any.
func unlockAccount(a *app, identity string, store *wallet.PasswordStore) (unlocked bool, prompted string, err error) {
	unlocked, err = a.unlock(identity, func() (string, error) {
		addr, _ := wallet.ParseIdentity(identity)
		pw, src, err := wallet.ResolvePassword(addr, store)
		if err == nil {
			logging.Debug("keystore password found", "source", src)
			return pw, nil
		}
		if !errors.Is(err, wallet.ErrNoPassword) {
			return "", err
		}
		prompted, err = promptPassword("Keystore password for " + FormatAddress(addr.Hex()))
		return prompted, err
	})
	return unlocked, prompted, err
}

func rememberPassword(out io.Writer, store *wallet.PasswordStore, handle *connector.ConnectionHandle, pw string) {
	if store != nil {
		err := store.Store(handle.Address, pw)
		if err == nil {
			Success(out, "Password saved to "+store.Backend())
			return
		}
		logging.Debug("keyring store failed", logging.Err(err))
	}
	if err := wallet.StoreKernelKeyring(handle.Address, pw); err != nil {
		Warning(out, "Could not store the password: "+err.Error())
		return
	}
	Success(out, "Password saved to the kernel keyring until reboot")
}

func forgetPassword(out io.Writer, identity string) error {
	addr, err := wallet.ParseIdentity(identity)
	if err != nil {
		return err
	}
	if store, err := wallet.OpenPasswordStore(); err == nil {
		if err := store.Delete(addr); err != nil {
			return err
		}
	}
	_ = wallet.DeleteKernelKeyring(addr)
	Success(out, "Forgot stored password for "+addr.Hex())
	return nil
}

// promptPassword asks on a terminal and reads one line otherwise.
func promptPassword(title string) (string, error) {
	if !stdinIsTTY() {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimRight(line, "\r\n"), nil
	}
	if !isTTY() {
		fmt.Fprint(os.Stderr, title+": ")
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		return string(b), err
	}

	var pw string
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title(title).
				EchoMode(huh.EchoModePassword).
				Value(&pw),
		),
	).Run()
	return pw, err
}
