package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wastelandfi/wasteland/internal/api"
	"github.com/wastelandfi/wasteland/internal/config"
	"github.com/wastelandfi/wasteland/internal/connector"
	"github.com/wastelandfi/wasteland/internal/hunter"
	"github.com/wastelandfi/wasteland/internal/logging"
	"github.com/wastelandfi/wasteland/internal/pricing"
	"github.com/wastelandfi/wasteland/internal/util"
	"github.com/wastelandfi/wasteland/internal/wallet"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd runs the HTTP API with the referral, presale and wallet
// services behind it.
func NewServeCmd() *cobra.Command {
	var listen string
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the pricing, referral and presale API",
		Long: `Run the HTTP API.

Routes live under /api/v1. /health and /metrics are served alongside, and
/ws streams tier changes, presale snapshots and connection state. Edits to
the config file hot-swap the pricing and tier settings.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.API.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cmd, cfg, !noWatch)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides api.listen)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload the config file on change")
	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, cfg *config.Config, watch bool) error {
	log := logging.With(logging.Component("serve"))

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.openReferral(ctx); err != nil {
		return err
	}

	var hub *api.EventHub
	if cfg.API.WebSocketEnabled {
		var gauge api.ClientGauge
		if a.metrics != nil {
			gauge = a.metrics
		}
		hub = api.NewEventHub(cfg.API.CORSOrigins, gauge)
		a.referral.Subscribe(hub.PublishTierChange)
	}

	deps := api.Deps{
		Pricing:  a.calc,
		Referral: a.referral,
		Metrics:  a.metrics,
		Events:   hub,
		Version:  GetVersion(),
	}

	var connectDone <-chan struct{}
	if cfg.Network.WalletAddress != "" {
		var opts []connector.Option
		if hub != nil {
			opts = append(opts, connector.WithStateHook(hub.PublishConnectionState))
		}
		if err := a.openWallet("", opts...); err != nil {
			return err
		}
		unlockStored(a)
		deps.Connector = a.connector
		deps.Endpoints = a.factory.Tracker()

		connectDone = util.SafeGo("wallet-connect", func() {
			if _, err := a.connector.GetConnection(ctx); err != nil && ctx.Err() == nil {
				log.Warn("wallet connection failed", logging.Err(err),
					"recovery", connector.RecoverySteps(err))
			}
		})
	} else {
		log.Info("no wallet_address configured, serving without a wallet connection")
	}

	if err := a.openPresale(); err != nil {
		return err
	}
	if hub != nil {
		a.presale.Subscribe(hub.PublishPresale)
	}
	deps.Presale = a.presale

	srv, err := api.NewServer(cfg.API, deps)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	presaleDone := a.presale.Start(ctx)

	var watchDone <-chan struct{}
	if watch {
		path := configPath()
		watchDone = util.SafeGo("config-watch", func() {
			err := config.Watch(ctx, path, func(next *config.Config) {
				applyReload(a, srv, next)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("config watcher stopped", logging.Err(err))
			}
		})
	}

	fmt.Fprintln(cmd.OutOrStdout(), StatusBox(Logo()+" API", [][2]string{
		{"Listening", srv.Addr().String()},
		{"Hunter store", cfg.Referral.Store},
		{"Presale", presaleMode(cfg)},
		{"WebSocket", fmt.Sprintf("%t", hub != nil)},
		{"Metrics", fmt.Sprintf("%t", a.metrics != nil)},
	}))
	log.Info("API started", "addr", srv.Addr().String())

	<-ctx.Done()
	log.Info("shutting down")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = srv.Stop(stopCtx)
	<-presaleDone
	for _, done := range []<-chan struct{}{watchDone, connectDone} {
		if done != nil {
			<-done
		}
	}
	return err
}

// unlockStored unlocks the serving wallet with a stored password. serve never
// prompts; without a password the wallet stays watch-only.
func unlockStored(a *app) {
	identity := a.connector.Identity()
	_, err := a.unlock(identity, func() (string, error) {
		addr, err := wallet.ParseIdentity(identity)
		if err != nil {
			return "", err
		}
		pw, _, err := wallet.ResolvePassword(addr, openPasswordStore())
		return pw, err
	})
	if err != nil {
		logging.Warn("serving wallet stays watch-only", logging.Wallet(identity), logging.Err(err))
	}
}

// applyReload hot-swaps pricing and tier settings. Everything else needs a
// restart.
func applyReload(a *app, srv *api.Server, next *config.Config) {
	log := logging.With(logging.Component("serve"))

	if calc, err := pricing.NewCalculator(next.Pricing); err != nil {
		log.Warn("ignoring pricing reload", logging.Err(err))
	} else {
		srv.SetCalculator(calc)
	}
	if engine, err := hunter.NewEngine(next.Referral.Config); err != nil {
		log.Warn("ignoring tier reload", logging.Err(err))
	} else {
		a.referral.SetEngine(engine)
	}
	if next.API.Listen != a.cfg.API.Listen || next.Network.WalletAddress != a.cfg.Network.WalletAddress {
		log.Warn("api and network changes take effect after a restart")
	}
	log.Info("configuration reloaded")
}

func presaleMode(cfg *config.Config) string {
	if cfg.Presale.Mock {
		return "mock"
	}
	return cfg.Presale.ContractAddress
}
