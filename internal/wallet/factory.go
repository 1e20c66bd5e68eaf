// Package wallet produces go-ethereum backed wallet clients for the
// connector: RPC endpoint selection, dial throttling and keystore signing.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/wastelandfi/wasteland/internal/connector"
	"github.com/wastelandfi/wasteland/internal/logging"
	"github.com/wastelandfi/wasteland/internal/util"
)

// ErrNoEndpoints is returned while every RPC endpoint is benched.
var ErrNoEndpoints = errors.New("no healthy RPC endpoints")

// Client is a live RPC connection bound to one wallet address. It embeds
// ethclient.Client, so it also serves as a bind.ContractBackend.
type Client struct {
	*ethclient.Client
	endpoint string
	address  common.Address
	keys     *Keystore
}

// Address returns the wallet address.
func (c *Client) Address() common.Address {
	return c.address
}

// Endpoint returns the RPC URL this client is connected to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// CanSign reports whether the address has an unlocked keystore key.
func (c *Client) CanSign() bool {
	return c.keys != nil && c.keys.IsUnlocked(c.address)
}

// TransactOpts returns signing options bound to ctx.
func (c *Client) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	if c.keys == nil {
		return nil, fmt.Errorf("%w: %s is watch-only", ErrLocked, c.address.Hex())
	}
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain ID: %w", err)
	}
	opts, err := c.keys.TransactOpts(c.address, chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

// Dialer opens an RPC client for a URL.
type Dialer func(ctx context.Context, url string) (*ethclient.Client, error)

// FactoryConfig configures endpoint selection and throttling.
type FactoryConfig struct {
	RPCURLs []string
	// ChainID, when set, demotes endpoints that report another chain.
	ChainID int64
	// DialsPerSecond limits dial attempts across all callers; 0 = unlimited.
	DialsPerSecond float64
	DialBurst      int
}

// EthFactory implements connector.Factory over JSON-RPC endpoints.
type EthFactory struct {
	tracker *EndpointTracker
	limiter *rate.Limiter
	keys    *Keystore
	dial    Dialer
	now     func() time.Time
}

// FactoryOption customises an EthFactory.
type FactoryOption func(*EthFactory)

// WithDialer replaces ethclient.DialContext.
func WithDialer(d Dialer) FactoryOption {
	return func(f *EthFactory) { f.dial = d }
}

// WithKeystore enables signing for unlocked keystore accounts.
func WithKeystore(k *Keystore) FactoryOption {
	return func(f *EthFactory) { f.keys = k }
}

// NewEthFactory builds a factory over cfg.RPCURLs.
func NewEthFactory(cfg FactoryConfig, opts ...FactoryOption) (*EthFactory, error) {
	tracker := NewEndpointTracker(cfg.RPCURLs, cfg.ChainID)
	if tracker.Len() == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	limit := rate.Inf
	if cfg.DialsPerSecond > 0 {
		limit = rate.Limit(cfg.DialsPerSecond)
	}
	burst := cfg.DialBurst
	if burst < 1 {
		burst = 1
	}

	f := &EthFactory{
		tracker: tracker,
		limiter: rate.NewLimiter(limit, burst),
		dial:    ethclient.DialContext,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Tracker exposes endpoint health for status output.
func (f *EthFactory) Tracker() *EndpointTracker {
	return f.tracker
}

// ParseIdentity turns a wallet identity into an address. Identities are
// hex addresses.
func ParseIdentity(identity string) (common.Address, error) {
	identity = strings.TrimSpace(identity)
	if !common.IsHexAddress(identity) {
		return common.Address{}, fmt.Errorf("wallet identity %q is not an address", identity)
	}
	return common.HexToAddress(identity), nil
}

// Client dials the healthiest endpoint that answers and binds it to the
// identity's address. It walks the endpoint list once per call; the
// connector's retry policy decides whether to call again.
func (f *EthFactory) Client(ctx context.Context, identity string) (connector.WalletClient, error) {
	addr, err := ParseIdentity(identity)
	if err != nil {
		return nil, util.MarkNonRetryable(err)
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	urls := f.tracker.Candidates()
	if len(urls) == 0 {
		return nil, ErrNoEndpoints
	}

	var errs []error
	for _, url := range urls {
		start := f.now()
		client, chainID, err := f.probe(ctx, url)
		if err != nil {
			f.tracker.ObserveFailure(url)
			logging.Debug("rpc endpoint unavailable", logging.Endpoint(url), logging.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", logging.RedactURL(url), err))
			if ctx.Err() != nil {
				break
			}
			continue
		}
		f.tracker.ObserveProbe(url, chainID, f.now().Sub(start))

		var keys *Keystore
		if f.keys != nil && f.keys.Has(addr) {
			keys = f.keys
		}
		return &Client{Client: client, endpoint: url, address: addr, keys: keys}, nil
	}
	return nil, errors.Join(errs...)
}

// probe dials url and asks which chain it serves.
func (f *EthFactory) probe(ctx context.Context, url string) (*ethclient.Client, int64, error) {
	client, err := f.dial(ctx, url)
	if err != nil {
		return nil, 0, err
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, 0, err
	}
	return client, id.Int64(), nil
}
