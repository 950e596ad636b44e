package wallet

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrInvalidKey      = errors.New("invalid private key")
)

// KeystoreManager manages the keystore directory and accounts
type KeystoreManager struct {
	ks      *keystore.KeyStore
	dataDir string
}

// NewKeystoreManager creates a new keystore manager
func NewKeystoreManager(dataDir string) (*KeystoreManager, error) {
	// StandardScryptN and StandardScryptP are secure defaults
	return NewKeystoreManagerWithParams(dataDir, keystore.StandardScryptN, keystore.StandardScryptP)
}

// NewKeystoreManagerWithParams creates a keystore manager with explicit scrypt
// parameters.
func NewKeystoreManagerWithParams(dataDir string, scryptN, scryptP int) (*KeystoreManager, error) {
	keystoreDir := filepath.Join(dataDir, "keystore")
	if err := os.MkdirAll(keystoreDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}

	return &KeystoreManager{
		ks:      keystore.NewKeyStore(keystoreDir, scryptN, scryptP),
		dataDir: dataDir,
	}, nil
}

// CreateAccount creates a new account with the given password
func (km *KeystoreManager) CreateAccount(password string) (accounts.Account, error) {
	return km.ks.NewAccount(password)
}

// ImportKey imports a private key and encrypts it with the password
func (km *KeystoreManager) ImportKey(privateKeyHex string, password string) (accounts.Account, error) {
	privateKeyHex = strings.TrimPrefix(strings.TrimPrefix(privateKeyHex, "0x"), "0X")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return accounts.Account{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return km.ks.ImportECDSA(privateKey, password)
}

// ListAccounts returns all accounts in the keystore
func (km *KeystoreManager) ListAccounts() []accounts.Account {
	return km.ks.Accounts()
}

// Accounts returns the addresses held by the keystore, in keystore order.
func (km *KeystoreManager) Accounts() []common.Address {
	accs := km.ks.Accounts()
	out := make([]common.Address, len(accs))
	for i, acc := range accs {
		out[i] = acc.Address
	}
	return out
}

// Find returns the keystore account for address.
func (km *KeystoreManager) Find(address common.Address) (accounts.Account, error) {
	for _, acc := range km.ks.Accounts() {
		if acc.Address == address {
			return acc, nil
		}
	}
	return accounts.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, address.Hex())
}

// Resolve reports whether the keystore can sign for address. Addresses are
// compared as bytes, so checksum case does not matter.
func (km *KeystoreManager) Resolve(address common.Address) AccountKeySource {
	acc, err := km.Find(address)
	if err != nil {
		return AccountKeySource{Kind: KeySourceHardware}
	}
	return AccountKeySource{Kind: KeySourceLocal, Account: acc}
}

// SignDigest signs a 32 byte digest with the key of address. The key is
// decrypted for this call only and zeroed before returning; the account is
// never left unlocked.
func (km *KeystoreManager) SignDigest(address common.Address, passphrase string, digest []byte) ([]byte, error) {
	if len(digest) != common.HashLength {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", common.HashLength, len(digest))
	}
	acc, err := km.Find(address)
	if err != nil {
		return nil, err
	}
	sig, err := km.ks.SignHashWithPassphrase(acc, passphrase, digest)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock account: %w", err)
	}
	return sig, nil
}
