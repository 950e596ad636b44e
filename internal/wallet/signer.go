package wallet

import (
	"github.com/ethereum/go-ethereum/accounts"
)

// KeySourceKind says where the key of a sending account lives.
type KeySourceKind int

const (
	// KeySourceHardware means no local key: the account's signatures come
	// from a device.
	KeySourceHardware KeySourceKind = iota
	// KeySourceLocal means the keystore holds the account's key.
	KeySourceLocal
)

func (k KeySourceKind) String() string {
	if k == KeySourceLocal {
		return string(SignerTypeKeystore)
	}
	return string(SignerTypeHardware)
}

// AccountKeySource is the resolved key source of a sending account.
type AccountKeySource struct {
	Kind    KeySourceKind
	Account accounts.Account // set for KeySourceLocal
}

func (s AccountKeySource) IsLocal() bool {
	return s.Kind == KeySourceLocal
}

// SignerType represents the type of signer
type SignerType string

const (
	SignerTypeKeystore SignerType = "keystore"
	SignerTypeHardware SignerType = "hardware"
)

// Account represents a managed account
type Account struct {
	Address    string     `json:"address"`
	SignerType SignerType `json:"signer_type"`
	URL        string     `json:"url,omitempty"`
	Current    bool       `json:"current"`
}
