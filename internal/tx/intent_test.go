package tx

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yolodolo42/hwsign/internal/txstore"
)

var (
	from = common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")
	to   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func TestValidate(t *testing.T) {
	intent := Intent{From: from, To: to, ValueWei: big.NewInt(100)}

	t.Run("no policy", func(t *testing.T) {
		assert.NoError(t, Validate(intent, Policy{}))
	})

	t.Run("missing value", func(t *testing.T) {
		assert.ErrorIs(t, Validate(Intent{To: to}, Policy{}), ErrValueMissing)
	})

	t.Run("negative value", func(t *testing.T) {
		assert.Error(t, Validate(Intent{To: to, ValueWei: big.NewInt(-1)}, Policy{}))
	})

	t.Run("deny list", func(t *testing.T) {
		err := Validate(intent, Policy{DenyTo: []common.Address{to}})
		assert.EqualError(t, err, "destination denied by policy")
	})

	t.Run("allow list", func(t *testing.T) {
		assert.NoError(t, Validate(intent, Policy{AllowTo: []common.Address{to}}))
		err := Validate(intent, Policy{AllowTo: []common.Address{from}})
		assert.EqualError(t, err, "destination not in allowlist")
	})

	t.Run("per tx cap", func(t *testing.T) {
		assert.NoError(t, Validate(intent, Policy{MaxPerTxWei: big.NewInt(100)}))
		err := Validate(intent, Policy{MaxPerTxWei: big.NewInt(99)})
		assert.EqualError(t, err, "value exceeds max per tx limit")
	})
}

func TestNewPending(t *testing.T) {
	chainID := big.NewInt(11155111)

	t.Run("legacy transfer", func(t *testing.T) {
		rec, err := NewPending(Intent{From: from, To: to, ValueWei: big.NewInt(5), GasPrice: big.NewInt(1e9)}, chainID)
		require.NoError(t, err)

		assert.Equal(t, txstore.SourceLocal, rec.Source)
		assert.Nil(t, rec.Nonce)
		assert.False(t, rec.SignProcessed)
		assert.Equal(t, uint64(21000), uint64(rec.Tx.Gas))
		assert.Nil(t, rec.Tx.GasFeeCap)
		assert.Equal(t, to, *rec.Tx.To)
		assert.NotEqual(t, common.Hash{}, rec.Hash)

		rec.Nonce = new(uint64)
		unsigned, err := rec.Unsigned()
		require.NoError(t, err)
		assert.Equal(t, uint8(0), unsigned.Type())
	})

	t.Run("dynamic fee", func(t *testing.T) {
		rec, err := NewPending(Intent{
			From: from, To: to, ValueWei: big.NewInt(5),
			MaxFeePerG: big.NewInt(30e9), MaxPriority: big.NewInt(1e9),
			GasPrice: big.NewInt(1),
		}, chainID)
		require.NoError(t, err)
		assert.Nil(t, rec.Tx.GasPrice)
		assert.Equal(t, big.NewInt(30e9), rec.Tx.GasFeeCap.ToInt())
		assert.Equal(t, big.NewInt(1e9), rec.Tx.GasTipCap.ToInt())
	})

	t.Run("provisional hashes are unique", func(t *testing.T) {
		seen := make(map[common.Hash]bool)
		for i := 0; i < 50; i++ {
			rec, err := NewPending(Intent{From: from, To: to, ValueWei: big.NewInt(1), GasPrice: big.NewInt(1)}, chainID)
			require.NoError(t, err)
			require.False(t, seen[rec.Hash])
			seen[rec.Hash] = true
		}
	})

	t.Run("intent is copied", func(t *testing.T) {
		value := big.NewInt(7)
		nonce := uint64(3)
		data := []byte{1, 2}
		gas := uint64(50000)
		rec, err := NewPending(Intent{From: from, To: to, ValueWei: value, Nonce: &nonce, Data: data, GasLimit: &gas, GasPrice: big.NewInt(1)}, chainID)
		require.NoError(t, err)

		value.SetInt64(8)
		nonce = 9
		data[0] = 0xff
		assert.Equal(t, int64(7), rec.Tx.Value.ToInt().Int64())
		assert.Equal(t, uint64(3), *rec.Nonce)
		assert.Equal(t, []byte{1, 2}, []byte(rec.Tx.Data))
	})

	t.Run("confirmation gate", func(t *testing.T) {
		rec, err := NewPending(Intent{From: from, To: to, ValueWei: big.NewInt(1), GasPrice: big.NewInt(1), Confirm: true}, chainID)
		require.NoError(t, err)
		assert.True(t, rec.NeedsSigningConfirmation)
	})

	t.Run("rejects", func(t *testing.T) {
		cases := map[string]struct {
			intent  Intent
			chainID *big.Int
		}{
			"no chain":        {Intent{ValueWei: big.NewInt(1), GasPrice: big.NewInt(1)}, nil},
			"no value":        {Intent{GasPrice: big.NewInt(1)}, chainID},
			"no fees":         {Intent{ValueWei: big.NewInt(1)}, chainID},
			"calldata no gas": {Intent{ValueWei: big.NewInt(1), GasPrice: big.NewInt(1), Data: []byte{1}}, chainID},
			"tip above cap":   {Intent{ValueWei: big.NewInt(1), MaxFeePerG: big.NewInt(1), MaxPriority: big.NewInt(2)}, chainID},
		}
		for name, tc := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := NewPending(tc.intent, tc.chainID)
				assert.Error(t, err)
			})
		}
	})
}
