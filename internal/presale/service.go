package presale

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"github.com/wastelandfi/wasteland/internal/connector"
	"github.com/wastelandfi/wasteland/internal/logging"
	"github.com/wastelandfi/wasteland/internal/pricing"
	"github.com/wastelandfi/wasteland/internal/util"
)

// ErrCannotSign is returned for purchases from a watch-only wallet.
var ErrCannotSign = errors.New("connected wallet cannot sign transactions")

// Config selects the presale contract and the refresh cadence.
type Config struct {
	ContractAddress string        `yaml:"contract_address" json:"contract_address"`
	Mock            bool          `yaml:"mock" json:"mock"`
	RefreshInterval time.Duration `yaml:"refresh_interval" json:"refresh_interval"`
}

// DefaultConfig runs against the mock contract, refreshing every 30s.
func DefaultConfig() Config {
	return Config{Mock: true, RefreshInterval: 30 * time.Second}
}

// Validate checks the contract address when mock mode is off.
func (c Config) Validate() error {
	if c.RefreshInterval <= 0 {
		return errors.New("presale refresh_interval must be positive")
	}
	if !c.Mock && !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("presale contract_address %q is not an address", c.ContractAddress)
	}
	return nil
}

// Connection hands out the current wallet connection.
type Connection interface {
	GetConnection(ctx context.Context) (*connector.ConnectionHandle, error)
}

// Signer is implemented by wallet clients that hold an unlocked key.
type Signer interface {
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
}

// Metrics receives refresh outcomes.
type Metrics interface {
	ObservePresaleRefresh(ok bool, sold, priceWei float64)
}

// Snapshot is the last observed presale state.
type Snapshot struct {
	TokenPrice *big.Int  `json:"token_price_wei"`
	TotalSold  *big.Int  `json:"total_sold"`
	Mock       bool      `json:"mock"`
	UpdatedAt  time.Time `json:"updated_at"`
	Error      string    `json:"error,omitempty"`
}

// Purchase describes a submitted buy.
type Purchase struct {
	Buyer     common.Address
	Referrer  common.Address
	Breakdown pricing.WeiBreakdown
	Tokens    *big.Int
	TxHash    common.Hash // zero in mock mode
}

// Service binds the presale contract to the connector's current client and
// polls its price and sales.
type Service struct {
	cfg     Config
	conn    Connection
	calc    *pricing.Calculator
	metrics Metrics
	now     func() time.Time

	mu       sync.Mutex
	contract *Contract
	boundTo  *connector.ConnectionHandle
	snap     Snapshot

	subMu sync.RWMutex
	subs  []func(Snapshot)
}

// Option customises a Service.
type Option func(*Service)

// WithMetrics attaches a metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithContract overrides the contract, mainly for tests.
func WithContract(c *Contract) Option {
	return func(s *Service) { s.contract = c }
}

// NewService validates cfg. conn may be nil in mock mode for read-only use.
func NewService(cfg Config, conn Connection, calc *pricing.Calculator, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if calc == nil {
		return nil, errors.New("presale service needs a price calculator")
	}
	if !cfg.Mock && conn == nil {
		return nil, errors.New("presale service needs a wallet connection outside mock mode")
	}
	s := &Service{cfg: cfg, conn: conn, calc: calc, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.Mock && s.contract == nil {
		s.contract = NewMockContract(nil)
	}
	return s, nil
}

// bind returns the contract bound to the current connection. Mock and
// injected contracts never rebind.
func (s *Service) bind(ctx context.Context) (*Contract, error) {
	s.mu.Lock()
	if s.cfg.Mock || (s.contract != nil && s.boundTo == nil) {
		c := s.contract
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	h, err := s.conn.GetConnection(ctx)
	if err != nil {
		return nil, err
	}
	backend, ok := h.Client.(bind.ContractBackend)
	if !ok {
		return nil, fmt.Errorf("wallet client %T cannot call contracts", h.Client)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boundTo == h {
		return s.contract, nil
	}
	c, err := NewContract(common.HexToAddress(s.cfg.ContractAddress), backend)
	if err != nil {
		return nil, err
	}
	s.contract, s.boundTo = c, h
	return c, nil
}

// Refresh reads price and sales and stores them as the latest snapshot. On
// error the previous figures are kept and the error is recorded.
func (s *Service) Refresh(ctx context.Context) (Snapshot, error) {
	snap, err := s.read(ctx)

	s.mu.Lock()
	if err != nil {
		s.snap.Error = err.Error()
		snap = s.snap
	} else {
		s.snap = snap
	}
	s.mu.Unlock()

	s.subMu.RLock()
	subs := s.subs
	s.subMu.RUnlock()
	for _, fn := range subs {
		fn(snap)
	}

	if s.metrics != nil {
		var sold, price float64
		if err == nil {
			sold, _ = new(big.Float).Quo(new(big.Float).SetInt(snap.TotalSold), big.NewFloat(1e18)).Float64()
			price, _ = new(big.Float).SetInt(snap.TokenPrice).Float64()
		}
		s.metrics.ObservePresaleRefresh(err == nil, sold, price)
	}
	return snap, err
}

func (s *Service) read(ctx context.Context) (Snapshot, error) {
	c, err := s.bind(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	price, err := c.TokenPrice(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	sold, err := c.TotalSold(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{TokenPrice: price, TotalSold: sold, Mock: c.IsMockMode(), UpdatedAt: s.now()}, nil
}

// Subscribe registers fn for every refresh, failed ones included. fn runs
// on the refreshing goroutine and must not block.
func (s *Service) Subscribe(fn func(Snapshot)) {
	s.subMu.Lock()
	s.subs = append(s.subs, fn)
	s.subMu.Unlock()
}

// Snapshot returns the latest cached state. UpdatedAt is zero before the
// first successful refresh.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Start refreshes immediately and then every RefreshInterval until ctx is
// done. The returned channel closes when the poller exits.
func (s *Service) Start(ctx context.Context) <-chan struct{} {
	return util.SafeGo("presale-refresh", func() {
		ticker := time.NewTicker(s.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			if _, err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				logging.Warn("presale refresh failed", logging.Component("presale"), logging.Err(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	})
}

// Quote splits value for a purchase by buyer. The referral cut applies only
// when referrer is set and is not the buyer.
func (s *Service) Quote(value *big.Int, buyer, referrer common.Address) (pricing.WeiBreakdown, error) {
	return s.calc.WeiBreakdown(value, referralActive(buyer, referrer))
}

func referralActive(buyer, referrer common.Address) bool {
	return referrer != (common.Address{}) && referrer != buyer
}

// Buy quotes and submits a purchase of value wei from the connected wallet.
func (s *Service) Buy(ctx context.Context, value *big.Int, referrer common.Address) (*Purchase, error) {
	if value == nil || value.Sign() <= 0 {
		return nil, ErrNoValue
	}
	h, opts, err := s.signer(ctx)
	if err != nil {
		return nil, err
	}
	c, err := s.bind(ctx)
	if err != nil {
		return nil, err
	}

	breakdown, err := s.Quote(value, h.Address, referrer)
	if err != nil {
		return nil, err
	}
	if !referralActive(h.Address, referrer) {
		referrer = common.Address{}
	}
	price, err := c.TokenPrice(ctx)
	if err != nil {
		return nil, err
	}

	tx, err := c.Buy(opts, referrer, value)
	audit := logging.AuditEvent{
		Operation: "presale_buy",
		Actor:     h.Address.Hex(),
		Target:    c.Address().Hex(),
		Details:   fmt.Sprintf("value=%s referrer=%s", pricing.FormatEther(value), referrer.Hex()),
	}
	if err != nil {
		audit.Result = "failure"
		logging.Audit(audit)
		return nil, err
	}
	audit.Result = "success"
	logging.Audit(audit)

	p := &Purchase{
		Buyer:     h.Address,
		Referrer:  referrer,
		Breakdown: breakdown,
		Tokens:    TokensFor(value, price),
	}
	if tx != nil {
		p.TxHash = tx.Hash()
	}
	return p, nil
}

// Claim releases the connected wallet's tokens.
func (s *Service) Claim(ctx context.Context) (common.Hash, error) {
	h, opts, err := s.signer(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	c, err := s.bind(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	tx, err := c.Claim(opts)
	result := "success"
	if err != nil {
		result = "failure"
	}
	logging.Audit(logging.AuditEvent{Operation: "presale_claim", Actor: h.Address.Hex(), Target: c.Address().Hex(), Result: result})
	if err != nil || tx == nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

// Contribution returns buyer's paid-in wei.
func (s *Service) Contribution(ctx context.Context, buyer common.Address) (*big.Int, error) {
	c, err := s.bind(ctx)
	if err != nil {
		return nil, err
	}
	return c.Contribution(ctx, buyer)
}

// signer resolves the connected wallet and its transaction options. Mock
// mode only needs the address.
func (s *Service) signer(ctx context.Context) (*connector.ConnectionHandle, *bind.TransactOpts, error) {
	if s.conn == nil {
		return nil, nil, &connector.InitializationError{Cat: connector.CategoryNoWallet, Err: errors.New("no wallet connection configured")}
	}
	h, err := s.conn.GetConnection(ctx)
	if err != nil {
		return nil, nil, err
	}
	if s.cfg.Mock {
		return h, &bind.TransactOpts{From: h.Address, Context: ctx}, nil
	}
	signer, ok := h.Client.(Signer)
	if !h.CanSign || !ok {
		return nil, nil, ErrCannotSign
	}
	opts, err := signer.TransactOpts(ctx)
	if err != nil {
		return nil, nil, err
	}
	return h, opts, nil
}
