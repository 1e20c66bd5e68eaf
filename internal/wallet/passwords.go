package wallet

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
	"github.com/ethereum/go-ethereum/common"
)

// PasswordEnv overrides every stored keystore password when set.
const PasswordEnv = "WASTELAND_KEYSTORE_PASSWORD"

const keyringService = "wasteland"

// Password sources reported by ResolvePassword.
const (
	SourceEnv           = "environment"
	SourceKeyring       = "keyring"
	SourceKernelKeyring = "kernel keyring"
)

// ErrNoPassword means no source holds a password for the account.
var ErrNoPassword = errors.New("no stored keystore password")

// PasswordStore keeps keystore passwords in an OS keyring, one item per
// account.
type PasswordStore struct {
	ring    keyring.Keyring
	backend string
}

// NewPasswordStore wraps an already opened keyring.
func NewPasswordStore(ring keyring.Keyring, backend string) *PasswordStore {
	return &PasswordStore{ring: ring, backend: backend}
}

// OpenPasswordStore opens the platform keyring: Keychain on macOS, Secret
// Service or KWallet on Linux.
func OpenPasswordStore() (*PasswordStore, error) {
	var backends []keyring.BackendType
	name := "system keyring"
	switch runtime.GOOS {
	case "darwin":
		backends = []keyring.BackendType{keyring.KeychainBackend}
		name = "macOS Keychain"
	case "linux":
		backends = []keyring.BackendType{keyring.SecretServiceBackend, keyring.KWalletBackend}
		name = "Secret Service"
	default:
		return nil, fmt.Errorf("no keyring backend available on %s", runtime.GOOS)
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:                    keyringService,
		AllowedBackends:                backends,
		KeychainTrustApplication:       true,
		KeychainAccessibleWhenUnlocked: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open keyring: %w", err)
	}
	return NewPasswordStore(ring, name), nil
}

// Backend names the keyring for user-facing messages.
func (p *PasswordStore) Backend() string {
	return p.backend
}

func passwordKey(addr common.Address) string {
	return "keystore:" + strings.ToLower(addr.Hex())
}

// Store saves the password for addr.
func (p *PasswordStore) Store(addr common.Address, password string) error {
	err := p.ring.Set(keyring.Item{
		Key:         passwordKey(addr),
		Data:        []byte(password),
		Label:       "Wasteland keystore " + addr.Hex(),
		Description: "Password for a wasteland keystore account",
	})
	if err != nil {
		return fmt.Errorf("failed to store in %s: %w", p.backend, err)
	}
	return nil
}

// Retrieve returns the password for addr or ErrNoPassword.
func (p *PasswordStore) Retrieve(addr common.Address) (string, error) {
	item, err := p.ring.Get(passwordKey(addr))
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return "", ErrNoPassword
	}
	if err != nil {
		return "", err
	}
	return string(item.Data), nil
}

// Delete forgets the password for addr. Deleting a missing entry is not an
// error.
func (p *PasswordStore) Delete(addr common.Address) error {
	err := p.ring.Remove(passwordKey(addr))
	if err == nil || errors.Is(err, keyring.ErrKeyNotFound) {
		return nil
	}
	return err
}

// ResolvePassword looks for addr's password in the environment, then store
// (which may be nil), then the Linux kernel keyring. It returns the password
// and the source that held it.
func ResolvePassword(addr common.Address, store *PasswordStore) (string, string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, SourceEnv, nil
	}
	if store != nil {
		pw, err := store.Retrieve(addr)
		if err == nil {
			return pw, SourceKeyring, nil
		}
		if !errors.Is(err, ErrNoPassword) {
			return "", "", err
		}
	}
	if pw, err := RetrieveKernelKeyring(addr); err == nil && pw != "" {
		return pw, SourceKernelKeyring, nil
	}
	return "", "", ErrNoPassword
}
