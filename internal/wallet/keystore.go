package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrAccountNotFound is returned when the keystore has no key for an address.
var ErrAccountNotFound = errors.New("account not found in keystore")

// ErrLocked is returned when signing with an account that was never unlocked.
var ErrLocked = errors.New("account is locked")

// Keystore holds encrypted signing keys for hunters who sign from the CLI or
// server instead of a browser wallet.
type Keystore struct {
	dir string
	ks  *keystore.KeyStore

	mu       sync.RWMutex
	unlocked map[common.Address]bool
}

// OpenKeystore opens (creating if needed) a keystore with standard scrypt
// parameters.
func OpenKeystore(dir string) (*Keystore, error) {
	return NewKeystore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
}

// NewKeystore opens a keystore with explicit scrypt cost parameters.
func NewKeystore(dir string, scryptN, scryptP int) (*Keystore, error) {
	if dir == "" {
		return nil, errors.New("keystore directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}
	return &Keystore{
		dir:      dir,
		ks:       keystore.NewKeyStore(dir, scryptN, scryptP),
		unlocked: make(map[common.Address]bool),
	}, nil
}

// Dir returns the keystore directory.
func (k *Keystore) Dir() string {
	return k.dir
}

// Accounts lists the addresses with keys in the keystore.
func (k *Keystore) Accounts() []common.Address {
	accts := k.ks.Accounts()
	out := make([]common.Address, len(accts))
	for i, a := range accts {
		out[i] = a.Address
	}
	return out
}

// Has reports whether the keystore holds a key for addr.
func (k *Keystore) Has(addr common.Address) bool {
	return k.ks.HasAddress(addr)
}

// CreateAccount generates a new key protected by password.
func (k *Keystore) CreateAccount(password string) (common.Address, error) {
	acct, err := k.ks.NewAccount(password)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to create account: %w", err)
	}
	return acct.Address, nil
}

// ImportKey stores a hex-encoded private key protected by password.
func (k *Keystore) ImportKey(privKeyHex, password string) (common.Address, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privKeyHex), "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid private key: %w", err)
	}
	return k.importECDSA(key, password)
}

func (k *Keystore) importECDSA(key *ecdsa.PrivateKey, password string) (common.Address, error) {
	acct, err := k.ks.ImportECDSA(key, password)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to import key: %w", err)
	}
	return acct.Address, nil
}

// Unlock decrypts the key for addr so it can sign until Lock is called.
func (k *Keystore) Unlock(addr common.Address, password string) error {
	if !k.ks.HasAddress(addr) {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, addr.Hex())
	}
	if err := k.ks.Unlock(accounts.Account{Address: addr}, password); err != nil {
		return fmt.Errorf("failed to unlock %s: %w", addr.Hex(), err)
	}
	k.mu.Lock()
	k.unlocked[addr] = true
	k.mu.Unlock()
	return nil
}

// Lock drops the decrypted key for addr.
func (k *Keystore) Lock(addr common.Address) {
	_ = k.ks.Lock(addr)
	k.mu.Lock()
	delete(k.unlocked, addr)
	k.mu.Unlock()
}

// IsUnlocked reports whether addr can sign right now.
func (k *Keystore) IsUnlocked(addr common.Address) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.unlocked[addr]
}

// TransactOpts returns signing options for addr on chainID.
func (k *Keystore) TransactOpts(addr common.Address, chainID *big.Int) (*bind.TransactOpts, error) {
	if !k.IsUnlocked(addr) {
		return nil, fmt.Errorf("%w: %s", ErrLocked, addr.Hex())
	}
	return bind.NewKeyStoreTransactorWithChainID(k.ks, accounts.Account{Address: addr}, chainID)
}
