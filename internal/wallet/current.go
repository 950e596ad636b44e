package wallet

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AddressSettings stores the selected account between runs.
type AddressSettings interface {
	CurrentAddress() string
	SetCurrentAddress(address string) error
}

// CurrentAddress returns the selected account. Without a stored selection it
// picks the first keystore account, creating one protected by bootstrap if
// the keystore is empty, and stores the choice.
func CurrentAddress(settings AddressSettings, km *KeystoreManager, bootstrap string) (common.Address, error) {
	if stored := settings.CurrentAddress(); stored != "" {
		if !common.IsHexAddress(stored) {
			return common.Address{}, fmt.Errorf("stored current address %q is not an address", stored)
		}
		return common.HexToAddress(stored), nil
	}

	var addr common.Address
	if accs := km.Accounts(); len(accs) > 0 {
		addr = accs[0]
	} else {
		acc, err := km.CreateAccount(bootstrap)
		if err != nil {
			return common.Address{}, fmt.Errorf("create initial account: %w", err)
		}
		addr = acc.Address
	}

	if err := settings.SetCurrentAddress(addr.Hex()); err != nil {
		return common.Address{}, fmt.Errorf("store current address: %w", err)
	}
	return addr, nil
}
