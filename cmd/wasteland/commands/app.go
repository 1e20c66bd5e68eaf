package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/wastelandfi/wasteland/internal/config"
	"github.com/wastelandfi/wasteland/internal/connector"
	"github.com/wastelandfi/wasteland/internal/hunter"
	"github.com/wastelandfi/wasteland/internal/hunter/store"
	"github.com/wastelandfi/wasteland/internal/logging"
	"github.com/wastelandfi/wasteland/internal/metrics"
	"github.com/wastelandfi/wasteland/internal/presale"
	"github.com/wastelandfi/wasteland/internal/pricing"
	"github.com/wastelandfi/wasteland/internal/referral"
	"github.com/wastelandfi/wasteland/internal/wallet"
)

// app holds the services a command needs. Fields a command never asked
// for stay nil.
type app struct {
	cfg       *config.Config
	metrics   *metrics.Collector
	calc      *pricing.Calculator
	store     store.Store
	referral  *referral.Service
	keys      *wallet.Keystore
	factory   *wallet.EthFactory
	connector *connector.Connector
	presale   *presale.Service
}

func newApp(cfg *config.Config) (*app, error) {
	calc, err := pricing.NewCalculator(cfg.Pricing)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, calc: calc}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(cfg.Metrics.Namespace)
	}
	return a, nil
}

// openReferral opens the hunter store and the referral service over it.
func (a *app) openReferral(ctx context.Context) error {
	if err := a.cfg.EnsureDirectories(); err != nil {
		return err
	}
	engine, err := hunter.NewEngine(a.cfg.Referral.Config)
	if err != nil {
		return err
	}
	st, err := store.Open(a.cfg.Referral.Store, a.cfg.Referral.DataDir)
	if err != nil {
		return err
	}

	var opts []referral.Option
	if a.metrics != nil {
		opts = append(opts, referral.WithMetrics(a.metrics))
	}
	svc, err := referral.NewService(ctx, engine, st, opts...)
	if err != nil {
		st.Close()
		return err
	}
	a.store = st
	a.referral = svc
	return nil
}

// openWallet builds the keystore, RPC factory and connector. identity may
// be empty, in which case the configured wallet address is used.
func (a *app) openWallet(identity string, opts ...connector.Option) error {
	if identity == "" {
		identity = a.cfg.Network.WalletAddress
	}
	if identity == "" {
		return &connector.InitializationError{
			Cat: connector.CategoryNoWallet,
			Err: errors.New("no wallet address given and network.wallet_address is not set"),
		}
	}

	keys, err := wallet.OpenKeystore(a.cfg.Network.KeystoreDir)
	if err != nil {
		return err
	}
	factory, err := wallet.NewEthFactory(wallet.FactoryConfig{
		RPCURLs:        a.cfg.Network.RPCURLs,
		ChainID:        a.cfg.Network.ChainID,
		DialsPerSecond: a.cfg.Network.DialsPerSecond,
		DialBurst:      a.cfg.Network.DialBurst,
	}, wallet.WithKeystore(keys))
	if err != nil {
		return err
	}
	if a.metrics != nil {
		opts = append(opts, connector.WithMetrics(a.metrics))
	}
	conn, err := connector.New(a.cfg.Connector, factory, opts...)
	if err != nil {
		return err
	}
	conn.SetWallet(identity)

	a.keys = keys
	a.factory = factory
	a.connector = conn
	return nil
}

// unlock unlocks the identity's keystore account when the keystore holds it.
// A watch-only identity is left alone.
func (a *app) unlock(identity string, password func() (string, error)) (bool, error) {
	addr, err := wallet.ParseIdentity(identity)
	if err != nil {
		return false, err
	}
	if !a.keys.Has(addr) {
		return false, nil
	}
	pw, err := password()
	if err != nil {
		return false, err
	}
	if err := a.keys.Unlock(addr, pw); err != nil {
		return false, fmt.Errorf("failed to unlock %s: %w", addr.Hex(), err)
	}
	return true, nil
}

// openPresale builds the presale service over the connector, if any.
func (a *app) openPresale() error {
	var conn presale.Connection
	if a.connector != nil {
		conn = a.connector
	}
	var opts []presale.Option
	if a.metrics != nil {
		opts = append(opts, presale.WithMetrics(a.metrics))
	}
	svc, err := presale.NewService(a.cfg.Presale, conn, a.calc, opts...)
	if err != nil {
		return err
	}
	a.presale = svc
	return nil
}

func (a *app) Close() {
	if a.connector != nil {
		a.connector.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logging.Warn("failed to close hunter store", logging.Err(err))
		}
	}
}
