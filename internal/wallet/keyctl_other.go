//go:build !linux

package wallet

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var errNoKernelKeyring = errors.New("kernel keyring is only available on Linux")

// StoreKernelKeyring is Linux only.
func StoreKernelKeyring(common.Address, string) error {
	return errNoKernelKeyring
}

// RetrieveKernelKeyring is Linux only.
func RetrieveKernelKeyring(common.Address) (string, error) {
	return "", errNoKernelKeyring
}

// DeleteKernelKeyring is Linux only.
func DeleteKernelKeyring(common.Address) error {
	return errNoKernelKeyring
}
