// Package connector builds and caches a validated connection handle for the
// current wallet identity.
package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wastelandfi/wasteland/internal/logging"
	"github.com/wastelandfi/wasteland/internal/util"
)

// PolygonMainnetChainID is the only chain the presale contracts live on.
const PolygonMainnetChainID = 137

// WalletClient is the opaque client produced by a Factory. Its method set
// matches the parts of ethclient.Client the connector needs.
type WalletClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	Address() common.Address
	CanSign() bool
	Close()
}

// Factory yields wallet clients for an identity. Returning a nil client
// without an error counts as a failed attempt.
type Factory interface {
	Client(ctx context.Context, identity string) (WalletClient, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, identity string) (WalletClient, error)

// Client implements Factory.
func (f FactoryFunc) Client(ctx context.Context, identity string) (WalletClient, error) {
	return f(ctx, identity)
}

// ConnectionHandle is a network-validated wallet connection.
type ConnectionHandle struct {
	Client                WalletClient
	Identity              string
	ChainID               *big.Int
	Address               common.Address
	CanSign               bool
	IsSmartContractWallet bool
	ConnectedAt           time.Time
}

// State is the connector lifecycle for the current wallet identity.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Metrics receives connection telemetry.
type Metrics interface {
	ObserveConnectAttempt(stage string, ok bool)
	ObserveConnectResult(result string, d time.Duration)
}

// Config bounds how hard the connector tries.
type Config struct {
	RequiredChainID int64         `yaml:"required_chain_id" json:"required_chain_id"`
	ClientAttempts  int           `yaml:"client_attempts" json:"client_attempts"`
	HandleAttempts  int           `yaml:"handle_attempts" json:"handle_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay" json:"retry_delay"`
	InitTimeout     time.Duration `yaml:"init_timeout" json:"init_timeout"`
	// Backoff is fixed, exponential or jittered.
	Backoff    string        `yaml:"backoff" json:"backoff"`
	MaxDelay   time.Duration `yaml:"max_delay" json:"max_delay"`
	Multiplier float64       `yaml:"multiplier" json:"multiplier"`
	Jitter     float64       `yaml:"jitter" json:"jitter"`
}

// DefaultConfig returns 5 client attempts and 5 handle attempts, 1s apart,
// inside a 10s budget on Polygon mainnet.
func DefaultConfig() Config {
	return Config{
		RequiredChainID: PolygonMainnetChainID,
		ClientAttempts:  5,
		HandleAttempts:  5,
		RetryDelay:      time.Second,
		InitTimeout:     10 * time.Second,
		Backoff:         util.BackoffFixed,
		MaxDelay:        5 * time.Second,
		Multiplier:      2.0,
		Jitter:          0.1,
	}
}

// Validate checks the retry and timeout budget.
func (c Config) Validate() error {
	switch {
	case c.RequiredChainID <= 0:
		return fmt.Errorf("required_chain_id must be positive")
	case c.ClientAttempts < 1:
		return fmt.Errorf("client_attempts must be at least 1")
	case c.HandleAttempts < 1:
		return fmt.Errorf("handle_attempts must be at least 1")
	case c.RetryDelay < 0:
		return fmt.Errorf("retry_delay must not be negative")
	case c.InitTimeout <= 0:
		return fmt.Errorf("init_timeout must be positive")
	case c.Jitter < 0 || c.Jitter > 1:
		return fmt.Errorf("jitter must be between 0 and 1")
	}
	_, err := util.NewBackoffPolicy(c.Backoff, c.RetryDelay, c.MaxDelay, c.Multiplier, c.Jitter)
	return err
}

// Option customises a Connector.
type Option func(*Connector)

// WithSleeper replaces the sleep between retries.
func WithSleeper(s util.Sleeper) Option {
	return func(c *Connector) { c.sleeper = s }
}

// WithBackoff replaces the policy built from Config.
func WithBackoff(p util.BackoffPolicy) Option {
	return func(c *Connector) { c.policy = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Connector) { c.now = now }
}

// WithMetrics reports attempts and results to m.
func WithMetrics(m Metrics) Option {
	return func(c *Connector) { c.metrics = m }
}

// WithStateHook calls fn after every state transition. err is set when
// entering StateFailed.
func WithStateHook(fn func(identity string, s State, err error)) Option {
	return func(c *Connector) { c.hooks = append(c.hooks, fn) }
}

// flight is one shared initialization. Every caller that arrives while it
// runs waits on done.
type flight struct {
	gen       uint64
	identity  string
	done      chan struct{}
	cancel    context.CancelFunc
	stopWatch func() bool
	started   time.Time

	// guarded by Connector.mu; handle and err are final once done is closed
	completed bool
	handle    *ConnectionHandle
	err       error
}

// Connector owns the cached handle for one wallet session.
type Connector struct {
	cfg     Config
	factory Factory
	chainID *big.Int
	policy  util.BackoffPolicy
	sleeper util.Sleeper
	now     func() time.Time
	metrics Metrics
	hooks   []func(string, State, error)

	mu          sync.Mutex
	identity    string
	generation  uint64
	state       State
	lastErr     error
	handle      *ConnectionHandle
	inflight    *flight
	loggedReady bool
}

// New creates a connector for factory. No wallet is selected until SetWallet.
func New(cfg Config, factory Factory, opts ...Option) (*Connector, error) {
	if factory == nil {
		return nil, errors.New("wallet client factory is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid connector config: %w", err)
	}
	policy, _ := util.NewBackoffPolicy(cfg.Backoff, cfg.RetryDelay, cfg.MaxDelay, cfg.Multiplier, cfg.Jitter)

	c := &Connector{
		cfg:     cfg,
		factory: factory,
		chainID: big.NewInt(cfg.RequiredChainID),
		policy:  policy,
		sleeper: util.RealSleeper,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// RequiredChainID returns the chain every handle must be on.
func (c *Connector) RequiredChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// State returns the lifecycle state and the last failure, if any.
func (c *Connector) State() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.lastErr
}

// Identity returns the current wallet identity.
func (c *Connector) Identity() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// SetWallet switches the upstream wallet identity. Any change drops the
// cached handle and abandons an in-flight initialization.
func (c *Connector) SetWallet(identity string) {
	c.mu.Lock()
	if identity == c.identity {
		c.mu.Unlock()
		return
	}
	c.identity = identity
	notify := c.invalidateLocked()
	c.mu.Unlock()
	notify()
}

// Invalidate drops the cached handle for the current identity, as on a
// wallet reconnect.
func (c *Connector) Invalidate() {
	c.mu.Lock()
	notify := c.invalidateLocked()
	c.mu.Unlock()
	notify()
}

// Close releases the cached client and stops any in-flight initialization.
func (c *Connector) Close() {
	c.SetWallet("")
}

func (c *Connector) invalidateLocked() func() {
	c.generation++
	if c.handle != nil {
		c.handle.Client.Close()
		c.handle = nil
	}
	if f := c.inflight; f != nil {
		c.inflight = nil
		f.cancel()
	}
	c.lastErr = nil
	return c.transitionLocked(StateUninitialized, nil)
}

// GetConnection returns the cached handle or waits for the shared
// initialization. ctx only bounds how long this caller waits; the
// initialization itself runs under the connector's own timeout.
func (c *Connector) GetConnection(ctx context.Context) (*ConnectionHandle, error) {
	c.mu.Lock()
	if c.identity == "" {
		c.mu.Unlock()
		return nil, &InitializationError{Cat: CategoryNoWallet, Err: errors.New("no wallet connected")}
	}
	if h := c.handle; h != nil {
		c.mu.Unlock()
		return h, nil
	}
	f := c.inflight
	notify := func() {}
	if f == nil {
		f, notify = c.startLocked()
	}
	c.mu.Unlock()
	notify()

	select {
	case <-f.done:
		return f.handle, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Connector) startLocked() (*flight, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.InitTimeout)
	f := &flight{
		gen:      c.generation,
		identity: c.identity,
		done:     make(chan struct{}),
		cancel:   cancel,
		started:  c.now(),
	}
	// Surfaces the timeout or invalidation to waiters even when the factory
	// ignores ctx.
	f.stopWatch = context.AfterFunc(ctx, func() {
		c.finish(f, nil, abortError(ctx))
	})
	c.inflight = f

	util.SafeGo("wallet-connect", func() { c.run(ctx, f) })
	return f, c.transitionLocked(StateInitializing, nil)
}

func abortError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &InitializationError{Cat: CategoryTimeout, Err: ctx.Err()}
	}
	return &InitializationError{Cat: CategoryWalletChanged, Err: ctx.Err()}
}

func (c *Connector) run(ctx context.Context, f *flight) {
	finished := false
	defer func() {
		if !finished {
			c.finish(f, nil, &InitializationError{Cat: CategoryClientUnavailable, Err: errors.New("initialization aborted")})
		}
	}()
	log := logging.With(logging.Component("connector"), logging.Wallet(f.identity))

	client, res := util.RetryWithValue(ctx, c.retryConfig("client", c.cfg.ClientAttempts, log), func() (WalletClient, error) {
		cl, err := c.factory.Client(ctx, f.identity)
		if err == nil && cl == nil {
			err = ErrNilClient
		}
		c.observeAttempt("client", err == nil)
		return cl, err
	})
	if err := res.Err(); err != nil {
		finished = true
		c.finish(f, nil, c.failure(ctx, CategoryClientUnavailable, res))
		return
	}

	handle, res := util.RetryWithValue(ctx, c.retryConfig("handle", c.cfg.HandleAttempts, log), func() (*ConnectionHandle, error) {
		h, err := c.buildHandle(ctx, client, f.identity)
		c.observeAttempt("handle", err == nil)
		return h, err
	})
	if err := res.Err(); err != nil {
		finished = true
		client.Close()
		c.finish(f, nil, c.failure(ctx, CategoryHandleUnavailable, res))
		return
	}

	finished = true
	if err := c.ValidateNetwork(handle); err != nil {
		client.Close()
		c.finish(f, nil, err)
		return
	}
	if !c.finish(f, handle, nil) {
		// stale: the wallet changed or the budget ran out first
		client.Close()
	}
}

func (c *Connector) failure(ctx context.Context, cat Category, res *util.RetryResult) error {
	if ctx.Err() != nil {
		return abortError(ctx)
	}
	return &InitializationError{Cat: cat, Attempts: res.Attempts, Err: res.LastError}
}

func (c *Connector) retryConfig(stage string, attempts int, log *slog.Logger) *util.RetryConfig {
	return &util.RetryConfig{
		MaxAttempts: attempts,
		Policy:      c.policy,
		Sleeper:     c.sleeper,
		RetryIf:     util.DefaultRetryIf(),
		OnRetry: func(attempt int, err error, delay time.Duration) {
			log.Warn("wallet connection attempt failed",
				"stage", stage,
				logging.Attempt(attempt),
				"retry_in", delay,
				logging.Err(err),
			)
		},
	}
}

func (c *Connector) buildHandle(ctx context.Context, client WalletClient, identity string) (*ConnectionHandle, error) {
	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain ID: %w", err)
	}
	if chainID == nil {
		return nil, errors.New("wallet reported no chain ID")
	}

	addr := client.Address()
	var contractWallet bool
	if addr != (common.Address{}) {
		code, err := client.CodeAt(ctx, addr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect wallet account: %w", err)
		}
		contractWallet = len(code) > 0
	}

	return &ConnectionHandle{
		Client:                client,
		Identity:              identity,
		ChainID:               chainID,
		Address:               addr,
		CanSign:               client.CanSign(),
		IsSmartContractWallet: contractWallet,
		ConnectedAt:           c.now(),
	}, nil
}

// ValidateNetwork fails with a NetworkError unless handle is on the
// required chain. It never retries.
func (c *Connector) ValidateNetwork(handle *ConnectionHandle) error {
	if handle == nil || handle.ChainID == nil {
		return &NetworkError{Expected: c.RequiredChainID()}
	}
	if handle.ChainID.Cmp(c.chainID) != 0 {
		return &NetworkError{Expected: c.RequiredChainID(), Actual: new(big.Int).Set(handle.ChainID)}
	}
	return nil
}

// finish completes f once. It reports whether the result was accepted as
// the current state; results from an older generation are dropped. Waiters
// are released last, after hooks and metrics have seen the outcome.
func (c *Connector) finish(f *flight, handle *ConnectionHandle, err error) bool {
	c.mu.Lock()
	if f.completed {
		c.mu.Unlock()
		return false
	}
	f.completed = true
	f.handle, f.err = handle, err
	f.stopWatch()
	f.cancel()

	current := c.inflight == f && c.generation == f.gen
	notify := func() {}
	if current {
		c.inflight = nil
		if err == nil {
			c.handle = handle
			c.lastErr = nil
			notify = c.transitionLocked(StateReady, nil)
		} else {
			c.lastErr = err
			notify = c.transitionLocked(StateFailed, err)
		}
	}
	firstReady := current && err == nil && !c.loggedReady
	if firstReady {
		c.loggedReady = true
	}
	c.mu.Unlock()

	elapsed := c.now().Sub(f.started)
	switch {
	case !current:
		c.observeResult("stale", elapsed)
	case err != nil:
		c.observeResult("failure", elapsed)
		logging.Error("wallet connection failed",
			logging.Component("connector"),
			logging.Wallet(f.identity),
			logging.Err(err),
		)
	default:
		c.observeResult("success", elapsed)
		attrs := []any{
			logging.Component("connector"),
			logging.Wallet(f.identity),
			logging.ChainID(handle.ChainID.Int64()),
			"can_sign", handle.CanSign,
			"contract_wallet", handle.IsSmartContractWallet,
		}
		if firstReady {
			logging.Info("wallet connected", attrs...)
		} else {
			logging.Debug("wallet reconnected", attrs...)
		}
	}
	notify()
	close(f.done)
	return current
}

// transitionLocked records the new state and returns a function that runs
// the hooks once the lock is released.
func (c *Connector) transitionLocked(s State, err error) func() {
	c.state = s
	if len(c.hooks) == 0 {
		return func() {}
	}
	identity := c.identity
	hooks := c.hooks
	return func() {
		for _, h := range hooks {
			h(identity, s, err)
		}
	}
}

func (c *Connector) observeAttempt(stage string, ok bool) {
	if c.metrics != nil {
		c.metrics.ObserveConnectAttempt(stage, ok)
	}
}

func (c *Connector) observeResult(result string, d time.Duration) {
	if c.metrics != nil {
		c.metrics.ObserveConnectResult(result, d)
	}
}
