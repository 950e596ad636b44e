package chain

import (
	"math"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ChainConfig describes an EVM network the signer can target.
type ChainConfig struct {
	Name           string
	ChainID        *big.Int
	ExplorerURL    string
	NativeCurrency string
	IsTestnet      bool
}

// DeviceSignable reports whether a hardware wallet can sign for this chain.
// The device protocol carries the chain id as a uint32.
func (c *ChainConfig) DeviceSignable() bool {
	return c.ChainID.Sign() > 0 && c.ChainID.Cmp(big.NewInt(math.MaxUint32)) <= 0
}

// TxURL links to a transaction on the chain's explorer, or returns "" when
// the chain has none.
func (c *ChainConfig) TxURL(hash common.Hash) string {
	if c.ExplorerURL == "" {
		return ""
	}
	return strings.TrimSuffix(c.ExplorerURL, "/") + "/tx/" + hash.Hex()
}

func network(name string, id int64, explorer, currency string, testnet bool) *ChainConfig {
	return &ChainConfig{
		Name:           name,
		ChainID:        big.NewInt(id),
		ExplorerURL:    explorer,
		NativeCurrency: currency,
		IsTestnet:      testnet,
	}
}

// DefaultChains returns the built-in network definitions
func DefaultChains() map[string]*ChainConfig {
	return map[string]*ChainConfig{
		"ethereum":     network("Ethereum Mainnet", 1, "https://etherscan.io", "ETH", false),
		"base":         network("Base", 8453, "https://basescan.org", "ETH", false),
		"arbitrum":     network("Arbitrum One", 42161, "https://arbiscan.io", "ETH", false),
		"optimism":     network("Optimism", 10, "https://optimistic.etherscan.io", "ETH", false),
		"polygon":      network("Polygon", 137, "https://polygonscan.com", "POL", false),
		"sepolia":      network("Sepolia Testnet", 11155111, "https://sepolia.etherscan.io", "ETH", true),
		"base-sepolia": network("Base Sepolia Testnet", 84532, "https://sepolia.basescan.org", "ETH", true),
	}
}
