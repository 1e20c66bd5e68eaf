// Package presale talks to the token presale contract and keeps a cached
// view of its price and sales for the API and CLI.
package presale

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"

	"github.com/wastelandfi/wasteland/internal/logging"
)

// ContractABI covers the presale calls this package makes.
const ContractABI = `[
	{
		"inputs": [],
		"name": "tokenPrice",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "totalSold",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "buyer", "type": "address"}],
		"name": "contributions",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "referrer", "type": "address"}],
		"name": "buyTokens",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "claim",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "buyer", "type": "address"},
			{"indexed": true, "name": "referrer", "type": "address"},
			{"indexed": false, "name": "value", "type": "uint256"},
			{"indexed": false, "name": "tokens", "type": "uint256"}
		],
		"name": "TokensPurchased",
		"type": "event"
	}
]`

// DefaultMockPrice is the mock contract's token price: 0.001 ether.
var DefaultMockPrice = new(big.Int).Div(big.NewInt(params.Ether), big.NewInt(1000))

var (
	ErrNoValue        = errors.New("purchase value must be positive")
	ErrNothingToClaim = errors.New("nothing to claim")
)

// Contract is a thin pass-through to the presale contract. Without a
// backend it runs in mock mode against in-memory state.
type Contract struct {
	address  common.Address
	contract *bind.BoundContract
	mockMode bool

	mockMu       sync.RWMutex
	mockPrice    *big.Int
	mockSold     *big.Int
	mockContrib  map[common.Address]*big.Int
	mockClaimed  map[common.Address]bool
	mockReferred map[common.Address]*big.Int
}

// NewContract binds address on backend. A nil backend selects mock mode.
func NewContract(address common.Address, backend bind.ContractBackend) (*Contract, error) {
	if backend == nil {
		return NewMockContract(nil), nil
	}
	parsed, err := abi.JSON(strings.NewReader(ContractABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse presale ABI: %w", err)
	}
	return &Contract{
		address:  address,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
	}, nil
}

// NewMockContract returns an in-memory presale selling at price wei per
// whole token (DefaultMockPrice if nil).
func NewMockContract(price *big.Int) *Contract {
	if price == nil || price.Sign() <= 0 {
		price = DefaultMockPrice
	}
	return &Contract{
		mockMode:     true,
		mockPrice:    new(big.Int).Set(price),
		mockSold:     new(big.Int),
		mockContrib:  make(map[common.Address]*big.Int),
		mockClaimed:  make(map[common.Address]bool),
		mockReferred: make(map[common.Address]*big.Int),
	}
}

// IsMockMode reports whether the contract is simulated.
func (c *Contract) IsMockMode() bool {
	return c.mockMode
}

// Address returns the bound contract address (zero in mock mode).
func (c *Contract) Address() common.Address {
	return c.address
}

// TokenPrice returns the price of one whole token in wei.
func (c *Contract) TokenPrice(ctx context.Context) (*big.Int, error) {
	if c.mockMode {
		c.mockMu.RLock()
		defer c.mockMu.RUnlock()
		return new(big.Int).Set(c.mockPrice), nil
	}
	v, err := c.callUint(ctx, "tokenPrice")
	if err != nil {
		return nil, fmt.Errorf("failed to get token price: %w", err)
	}
	return v, nil
}

// TotalSold returns the number of token base units sold.
func (c *Contract) TotalSold(ctx context.Context) (*big.Int, error) {
	if c.mockMode {
		c.mockMu.RLock()
		defer c.mockMu.RUnlock()
		return new(big.Int).Set(c.mockSold), nil
	}
	v, err := c.callUint(ctx, "totalSold")
	if err != nil {
		return nil, fmt.Errorf("failed to get total sold: %w", err)
	}
	return v, nil
}

// Contribution returns how much wei buyer has paid in.
func (c *Contract) Contribution(ctx context.Context, buyer common.Address) (*big.Int, error) {
	if c.mockMode {
		c.mockMu.RLock()
		defer c.mockMu.RUnlock()
		if v, ok := c.mockContrib[buyer]; ok {
			return new(big.Int).Set(v), nil
		}
		return new(big.Int), nil
	}
	v, err := c.callUint(ctx, "contributions", buyer)
	if err != nil {
		return nil, fmt.Errorf("failed to get contribution: %w", err)
	}
	return v, nil
}

// Buy sends value wei from opts.From, crediting referrer when non-zero.
// In mock mode the returned transaction is nil.
func (c *Contract) Buy(opts *bind.TransactOpts, referrer common.Address, value *big.Int) (*types.Transaction, error) {
	if value == nil || value.Sign() <= 0 {
		return nil, ErrNoValue
	}
	if c.mockMode {
		return nil, c.mockBuy(opts.From, referrer, value)
	}

	send := *opts
	send.Value = new(big.Int).Set(value)
	tx, err := c.contract.Transact(&send, "buyTokens", referrer)
	if err != nil {
		return nil, fmt.Errorf("failed to buy tokens: %w", err)
	}
	return tx, nil
}

// Claim releases opts.From's purchased tokens.
func (c *Contract) Claim(opts *bind.TransactOpts) (*types.Transaction, error) {
	if c.mockMode {
		return nil, c.mockClaim(opts.From)
	}
	tx, err := c.contract.Transact(opts, "claim")
	if err != nil {
		return nil, fmt.Errorf("failed to claim tokens: %w", err)
	}
	return tx, nil
}

// ReferredVolume returns the wei referrer has brought in. Mock mode only;
// on-chain the figure comes from TokensPurchased logs.
func (c *Contract) ReferredVolume(referrer common.Address) *big.Int {
	c.mockMu.RLock()
	defer c.mockMu.RUnlock()
	if v, ok := c.mockReferred[referrer]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// SetMockPrice changes the simulated price.
func (c *Contract) SetMockPrice(price *big.Int) {
	c.mockMu.Lock()
	c.mockPrice = new(big.Int).Set(price)
	c.mockMu.Unlock()
}

func (c *Contract) callUint(ctx context.Context, method string, args ...interface{}) (*big.Int, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s returned no value", method)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// TokensFor converts wei paid at price (wei per whole token) into token
// base units with 18 decimals.
func TokensFor(value, price *big.Int) *big.Int {
	if price == nil || price.Sign() <= 0 {
		return new(big.Int)
	}
	tokens := new(big.Int).Mul(value, big.NewInt(params.Ether))
	return tokens.Quo(tokens, price)
}

func (c *Contract) mockBuy(buyer, referrer common.Address, value *big.Int) error {
	c.mockMu.Lock()
	defer c.mockMu.Unlock()

	tokens := TokensFor(value, c.mockPrice)
	c.mockSold.Add(c.mockSold, tokens)

	prev, ok := c.mockContrib[buyer]
	if !ok {
		prev = new(big.Int)
	}
	c.mockContrib[buyer] = new(big.Int).Add(prev, value)
	delete(c.mockClaimed, buyer)

	if referrer != (common.Address{}) && referrer != buyer {
		ref, ok := c.mockReferred[referrer]
		if !ok {
			ref = new(big.Int)
		}
		c.mockReferred[referrer] = ref.Add(ref, value)
	}

	logging.Info("presale purchase (mock)",
		logging.Component("presale"),
		logging.Address(buyer.Hex()),
		"value_wei", value.String(),
		"tokens", tokens.String(),
	)
	return nil
}

func (c *Contract) mockClaim(buyer common.Address) error {
	c.mockMu.Lock()
	defer c.mockMu.Unlock()
	if c.mockContrib[buyer] == nil || c.mockClaimed[buyer] {
		return ErrNothingToClaim
	}
	c.mockClaimed[buyer] = true
	return nil
}
