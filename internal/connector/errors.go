package connector

import (
	"errors"
	"fmt"
	"math/big"
)

// Category classifies a connection failure for the user.
type Category string

const (
	CategoryNoWallet          Category = "no_wallet"
	CategoryClientUnavailable Category = "client_unavailable"
	CategoryHandleUnavailable Category = "handle_unavailable"
	CategoryTimeout           Category = "timeout"
	CategoryWalletChanged     Category = "wallet_changed"
	CategoryWrongNetwork      Category = "wrong_network"
)

// ErrNilClient is recorded when the factory returns neither a client nor an error.
var ErrNilClient = errors.New("wallet client factory returned no client")

// Recoverable is implemented by errors the user can fix themselves.
type Recoverable interface {
	error
	Category() Category
	RecoverySteps() []string
}

// InitializationError means no usable connection could be built within the
// retry and time budget.
type InitializationError struct {
	Cat      Category
	Attempts int
	Err      error
}

func (e *InitializationError) Error() string {
	msg := fmt.Sprintf("wallet initialization failed (%s)", e.Cat)
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InitializationError) Unwrap() error {
	return e.Err
}

func (e *InitializationError) Category() Category {
	return e.Cat
}

func (e *InitializationError) RecoverySteps() []string {
	switch e.Cat {
	case CategoryNoWallet:
		return []string{
			"Connect a wallet before continuing",
			"If a wallet is connected, disconnect and connect it again",
		}
	case CategoryTimeout:
		return []string{
			"Check your internet connection",
			"Make sure your wallet is unlocked and responding",
			"Try again in a few seconds",
		}
	case CategoryWalletChanged:
		return []string{
			"Your wallet account changed while connecting",
			"Retry the action with the newly selected account",
		}
	default:
		return []string{
			"Unlock your wallet and approve the connection request",
			"Reconnect your wallet",
			"Reload the application if the problem persists",
		}
	}
}

// NetworkError means the wallet is on a different chain than required.
type NetworkError struct {
	Expected *big.Int
	Actual   *big.Int
}

func (e *NetworkError) Error() string {
	actual := "unknown"
	if e.Actual != nil {
		actual = e.Actual.String()
	}
	return fmt.Sprintf("chain ID mismatch: expected %s, got %s", e.Expected, actual)
}

func (e *NetworkError) Category() Category {
	return CategoryWrongNetwork
}

func (e *NetworkError) RecoverySteps() []string {
	return []string{
		fmt.Sprintf("Switch your wallet to %s", NetworkName(e.Expected)),
		"Reconnect after switching networks",
	}
}

// RecoverySteps returns the user guidance carried by err, if any.
func RecoverySteps(err error) []string {
	var r Recoverable
	if errors.As(err, &r) {
		return r.RecoverySteps()
	}
	return nil
}

// NetworkName returns a readable name for well-known chain ids.
func NetworkName(id *big.Int) string {
	if id == nil {
		return "the supported network"
	}
	switch id.Int64() {
	case 1:
		return "Ethereum mainnet"
	case 137:
		return "Polygon mainnet"
	case 80002:
		return "Polygon Amoy testnet"
	case 11155111:
		return "Sepolia testnet"
	default:
		return fmt.Sprintf("chain %s", id)
	}
}
