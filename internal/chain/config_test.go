package chain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultChains(t *testing.T) {
	chains := DefaultChains()

	tests := []struct {
		key      string
		name     string
		id       int64
		currency string
		testnet  bool
	}{
		{"ethereum", "Ethereum Mainnet", 1, "ETH", false},
		{"base", "Base", 8453, "ETH", false},
		{"arbitrum", "Arbitrum One", 42161, "ETH", false},
		{"optimism", "Optimism", 10, "ETH", false},
		{"polygon", "Polygon", 137, "POL", false},
		{"sepolia", "Sepolia Testnet", 11155111, "ETH", true},
		{"base-sepolia", "Base Sepolia Testnet", 84532, "ETH", true},
	}
	require.Len(t, chains, len(tests))

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			c := chains[tt.key]
			require.NotNil(t, c)
			assert.Equal(t, tt.name, c.Name)
			assert.Equal(t, tt.id, c.ChainID.Int64())
			assert.Equal(t, tt.currency, c.NativeCurrency)
			assert.Equal(t, tt.testnet, c.IsTestnet)
			assert.NotEmpty(t, c.ExplorerURL)
			assert.True(t, c.DeviceSignable())
		})
	}

	t.Run("fresh copies", func(t *testing.T) {
		DefaultChains()["ethereum"].ChainID.SetInt64(5)
		assert.Equal(t, int64(1), DefaultChains()["ethereum"].ChainID.Int64())
	})
}

func TestChainConfig(t *testing.T) {
	t.Run("device signable bounds", func(t *testing.T) {
		assert.False(t, (&ChainConfig{ChainID: big.NewInt(0)}).DeviceSignable())
		assert.True(t, (&ChainConfig{ChainID: big.NewInt(4294967295)}).DeviceSignable())
		assert.False(t, (&ChainConfig{ChainID: big.NewInt(4294967296)}).DeviceSignable())
	})

	t.Run("tx url", func(t *testing.T) {
		h := common.HexToHash("0x01")
		c := &ChainConfig{ExplorerURL: "https://etherscan.io/"}
		assert.Equal(t, "https://etherscan.io/tx/"+h.Hex(), c.TxURL(h))
		assert.Empty(t, (&ChainConfig{}).TxURL(h))
	})
}
