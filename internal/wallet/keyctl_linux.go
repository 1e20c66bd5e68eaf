//go:build linux

package wallet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sys/unix"
)

const kernelKeyType = "user"

func kernelKeyName(addr common.Address) string {
	return "wasteland-" + strings.ToLower(addr.Hex())
}

// StoreKernelKeyring keeps the password in the user keyring. The key lives in
// kernel memory only and is gone after reboot.
func StoreKernelKeyring(addr common.Address, password string) error {
	if _, err := unix.AddKey(kernelKeyType, kernelKeyName(addr), []byte(password), unix.KEY_SPEC_USER_KEYRING); err != nil {
		return fmt.Errorf("add_key %s: %w", kernelKeyName(addr), err)
	}
	return nil
}

// RetrieveKernelKeyring reads the password back from the user keyring.
func RetrieveKernelKeyring(addr common.Address) (string, error) {
	id, err := unix.KeyctlSearch(unix.KEY_SPEC_USER_KEYRING, kernelKeyType, kernelKeyName(addr), 0)
	if err != nil {
		return "", fmt.Errorf("keyctl search %s: %w", kernelKeyName(addr), err)
	}

	size, err := unix.KeyctlBuffer(unix.KEYCTL_READ, id, nil, 0)
	if err != nil {
		return "", fmt.Errorf("keyctl read: %w", err)
	}
	buf := make([]byte, size)
	n, err := unix.KeyctlBuffer(unix.KEYCTL_READ, id, buf, 0)
	if err != nil {
		return "", fmt.Errorf("keyctl read: %w", err)
	}
	if n < len(buf) {
		buf = buf[:n]
	}
	return string(buf), nil
}

// DeleteKernelKeyring unlinks the key; a missing key is not an error.
func DeleteKernelKeyring(addr common.Address) error {
	id, err := unix.KeyctlSearch(unix.KEY_SPEC_USER_KEYRING, kernelKeyType, kernelKeyName(addr), 0)
	if errors.Is(err, unix.ENOKEY) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("keyctl search %s: %w", kernelKeyName(addr), err)
	}
	if _, err := unix.KeyctlInt(unix.KEYCTL_UNLINK, id, unix.KEY_SPEC_USER_KEYRING, 0, 0); err != nil {
		return fmt.Errorf("keyctl unlink: %w", err)
	}
	return nil
}
