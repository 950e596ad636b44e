package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider(t *testing.T) {
	t.Run("selects current chain", func(t *testing.T) {
		p, err := NewProvider("sepolia")
		require.NoError(t, err)

		assert.Equal(t, "Sepolia Testnet", p.Current().Name)
		assert.Equal(t, int64(11155111), p.ChainID().Int64())
	})

	t.Run("rejects unknown chain", func(t *testing.T) {
		_, err := NewProvider("nope")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown chain")
	})

	t.Run("switches current chain", func(t *testing.T) {
		p, err := NewProvider("ethereum")
		require.NoError(t, err)

		require.NoError(t, p.SetCurrent("base"))
		assert.Equal(t, int64(8453), p.ChainID().Int64())

		require.Error(t, p.SetCurrent("missing"))
		assert.Equal(t, int64(8453), p.ChainID().Int64())
	})

	t.Run("chain id is a copy", func(t *testing.T) {
		p, err := NewProvider("ethereum")
		require.NoError(t, err)

		id := p.ChainID()
		id.SetInt64(99)
		assert.Equal(t, int64(1), p.ChainID().Int64())
	})

	t.Run("adds custom chain", func(t *testing.T) {
		p, err := NewProvider("ethereum")
		require.NoError(t, err)

		p.AddChain("devnet", &ChainConfig{Name: "Devnet", ChainID: big.NewInt(1337)})
		cfg, err := p.GetChainConfig("devnet")
		require.NoError(t, err)
		assert.Equal(t, "Devnet", cfg.Name)
		assert.Contains(t, p.ListChains(), "devnet")

		found, ok := p.FindByID(1337)
		require.True(t, ok)
		assert.Equal(t, "Devnet", found.Name)
	})
}

func TestFormatWei(t *testing.T) {
	assert.Equal(t, "0", FormatWei(nil))
	assert.Equal(t, "1.5", FormatWei(big.NewInt(1500000000000000000)))
	assert.Equal(t, "0.000000000000000001", FormatWei(big.NewInt(1)))
}

func TestParseEther(t *testing.T) {
	wei, err := ParseEther("0.25")
	require.NoError(t, err)
	assert.Equal(t, "250000000000000000", wei.String())

	_, err = ParseEther("abc")
	require.Error(t, err)
}
