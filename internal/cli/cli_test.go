package cli

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yolodolo42/hwsign/internal/testutil"
	"github.com/yolodolo42/hwsign/internal/txstore"
)

func TestParsePath(t *testing.T) {
	path, err := parsePath("")
	require.NoError(t, err)
	assert.Equal(t, accounts.DefaultBaseDerivationPath, path)

	path, err = parsePath("m/44'/60'/0'/0/3")
	require.NoError(t, err)
	assert.Equal(t, uint32(3), path[4])

	_, err = parsePath("m/nope")
	assert.Error(t, err)
}

func TestParseGwei(t *testing.T) {
	wei, err := parseGwei("1.5")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1_500_000_000), wei)

	wei, err = parseGwei("")
	require.NoError(t, err)
	assert.Nil(t, wei)

	_, err = parseGwei("abc")
	assert.Error(t, err)
}

func TestStatus(t *testing.T) {
	assert.Equal(t, "pending", status(&txstore.PendingTransaction{}))
	assert.Equal(t, "held", status(&txstore.PendingTransaction{NeedsSigningConfirmation: true}))
	assert.Equal(t, "signed", status(&txstore.PendingTransaction{SignProcessed: true}))
	assert.Equal(t, "error: boom", status(&txstore.PendingTransaction{SignProcessed: true, Error: "boom"}))
}

func TestShort(t *testing.T) {
	a := common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")
	assert.Equal(t, "0xAb58…eC9B", short(a))
}

func TestQueueAndSign(t *testing.T) {
	dir := testutil.TempDir(t)
	testutil.UnsetEnv(t, "HWSIGN_CHAIN")
	base := []string{"--data-dir", dir, "--config", filepath.Join(dir, "config.yaml"), "--chain", "sepolia"}

	from := "0x1111111111111111111111111111111111111111"
	rootCmd.SetArgs(append(base, "tx", "new",
		"--from", from,
		"--to", "0x2222222222222222222222222222222222222222",
		"--value", "0.25",
		"--gas-price", "2",
	))
	require.NoError(t, rootCmd.Execute())

	rootCmd.SetArgs(append(base, "signer", "run", "--once"))
	require.NoError(t, rootCmd.Execute())

	store, err := txstore.Open(dir)
	require.NoError(t, err)
	defer store.Close()

	recs, err := store.List(context.Background(), big.NewInt(11155111))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.True(t, rec.SignProcessed)
	assert.Equal(t, "No key for sending account", rec.Error)
	require.NotNil(t, rec.Nonce)
	assert.Equal(t, uint64(1), *rec.Nonce)
	assert.Equal(t, "250000000000000000", rec.Tx.Value.ToInt().String())
	assert.Equal(t, "2000000000", rec.Tx.GasPrice.ToInt().String())
}
