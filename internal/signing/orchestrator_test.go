package signing

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yolodolo42/hwsign/internal/metrics"
	hwtest "github.com/yolodolo42/hwsign/internal/testutil"
	"github.com/yolodolo42/hwsign/internal/txstore"
	"github.com/yolodolo42/hwsign/internal/wallet"
)

var (
	sepolia   = big.NewInt(11155111)
	recipient = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// noKeys never has a local key and counts attempts to sign.
type noKeys struct {
	signs atomic.Int32
}

func (k *noKeys) Resolve(common.Address) wallet.AccountKeySource {
	return wallet.AccountKeySource{Kind: wallet.KeySourceHardware}
}

func (k *noKeys) SignDigest(common.Address, string, []byte) ([]byte, error) {
	k.signs.Add(1)
	return nil, fmt.Errorf("unexpected local signature")
}

func openStore(t *testing.T) *txstore.Store {
	t.Helper()
	s, err := txstore.OpenDSN(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func provisional(n int, from common.Address) *txstore.PendingTransaction {
	to := recipient
	return &txstore.PendingTransaction{
		Hash:    common.BigToHash(big.NewInt(int64(0xf000 + n))),
		ChainID: sepolia,
		From:    from,
		Tx: txstore.TxFields{
			To:       &to,
			Value:    (*hexutil.Big)(big.NewInt(int64(n + 1))),
			Gas:      21000,
			GasPrice: (*hexutil.Big)(big.NewInt(1e9)),
		},
		Source: txstore.SourceLocal,
	}
}

func newOrchestrator(t *testing.T, store Store, keys Keys, concurrency int) (*Orchestrator, *metrics.Metrics) {
	t.Helper()
	log, _ := hwtest.ObservedLogger()
	m := metrics.New()
	o, err := New(Config{
		Store:       store,
		Keys:        keys,
		Passphrase:  "pass",
		Concurrency: concurrency,
		Logger:      log,
		Metrics:     m,
	})
	require.NoError(t, err)
	return o, m
}

func signedCount(t *testing.T, m *metrics.Metrics, path string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "hwsign_signing_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "path" && l.GetValue() == path {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func nonces(t *testing.T, s *txstore.Store) map[uint64]int {
	t.Helper()
	recs, err := s.List(context.Background(), nil)
	require.NoError(t, err)
	out := make(map[uint64]int)
	for _, r := range recs {
		require.NotNil(t, r.Nonce, "record %s has no nonce", r.Hash.Hex())
		out[*r.Nonce]++
	}
	return out
}

func TestNonceAssignment(t *testing.T) {
	ctx := context.Background()
	from := common.HexToAddress("0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B")

	t.Run("first nonce for a fresh account is one", func(t *testing.T) {
		s := openStore(t)
		o, _ := newOrchestrator(t, s, &noKeys{}, 1)
		rec := provisional(1, from)
		require.NoError(t, s.Upsert(ctx, rec))

		require.NoError(t, o.Process(ctx, rec))
		assert.Equal(t, map[uint64]int{1: 1}, nonces(t, s))
	})

	t.Run("one past the highest assigned", func(t *testing.T) {
		s := openStore(t)
		o, _ := newOrchestrator(t, s, &noKeys{}, 1)
		for i, n := range []uint64{3, 7, 5} {
			old := provisional(100+i, from)
			old.Nonce = &n
			old.SignProcessed = true
			require.NoError(t, s.Upsert(ctx, old))
		}
		// Other accounts and chains do not count.
		other := provisional(200, recipient)
		other.Nonce = new(uint64)
		*other.Nonce = 40
		require.NoError(t, s.Upsert(ctx, other))
		elsewhere := provisional(201, from)
		elsewhere.ChainID = big.NewInt(1)
		elsewhere.Nonce = new(uint64)
		*elsewhere.Nonce = 90
		require.NoError(t, s.Upsert(ctx, elsewhere))

		rec := provisional(1, from)
		require.NoError(t, s.Upsert(ctx, rec))
		require.NoError(t, o.Process(ctx, rec))

		final, err := s.List(ctx, sepolia)
		require.NoError(t, err)
		var got []uint64
		for _, r := range final {
			if r.From == from && r.Tx.Value.ToInt().Int64() == 2 {
				got = append(got, *r.Nonce)
			}
		}
		assert.Equal(t, []uint64{8}, got)
	})

	t.Run("concurrent finalization never reuses a nonce", func(t *testing.T) {
		const k = 12
		s := openStore(t)
		o, _ := newOrchestrator(t, s, &noKeys{}, 4)

		recs := make([]*txstore.PendingTransaction, k)
		for i := range recs {
			recs[i] = provisional(i, from)
			require.NoError(t, s.Upsert(ctx, recs[i]))
		}
		require.NoError(t, o.ProcessAll(ctx, recs))

		seen := nonces(t, s)
		require.Len(t, seen, k)
		for n := uint64(1); n <= k; n++ {
			assert.Equal(t, 1, seen[n], "nonce %d", n)
		}
	})

	t.Run("assign nonce persists before signing", func(t *testing.T) {
		s := openStore(t)
		o, _ := newOrchestrator(t, s, &noKeys{}, 1)
		rec := provisional(1, from)
		require.NoError(t, s.Upsert(ctx, rec))

		n, err := o.AssignNonce(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), n)

		stored, err := s.Get(ctx, rec.Hash)
		require.NoError(t, err)
		require.NotNil(t, stored.Nonce)
		assert.Equal(t, uint64(1), *stored.Nonce)

		again, err := o.AssignNonce(ctx, rec)
		require.NoError(t, err)
		assert.Equal(t, n, again)
	})
}

func TestProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("device signature is adopted without local signing", func(t *testing.T) {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		from := crypto.PubkeyToAddress(key.PublicKey)

		s := openStore(t)
		keys := &noKeys{}
		o, m := newOrchestrator(t, s, keys, 1)

		rec := provisional(1, from)
		require.NoError(t, s.Upsert(ctx, rec))
		_, err = o.AssignNonce(ctx, rec)
		require.NoError(t, err)

		unsigned, err := rec.Unsigned()
		require.NoError(t, err)
		want, err := types.SignTx(unsigned, types.LatestSignerForChainID(sepolia), key)
		require.NoError(t, err)
		rec.Signature = txstore.NewSignatureData(want.RawSignatureValues())
		require.NoError(t, s.Upsert(ctx, rec))

		require.NoError(t, o.Process(ctx, rec))

		_, err = s.Get(ctx, rec.Hash)
		assert.ErrorIs(t, err, txstore.ErrNotFound)
		final, err := s.Get(ctx, want.Hash())
		require.NoError(t, err)
		assert.True(t, final.SignProcessed)
		assert.Equal(t, txstore.SourceDevice, final.Source)
		assert.Empty(t, final.Error)
		assert.Zero(t, keys.signs.Load())
		assert.Equal(t, 1.0, signedCount(t, m, metrics.PathDevice))
	})

	t.Run("sender without a key is marked", func(t *testing.T) {
		s := openStore(t)
		keys := &noKeys{}
		o, _ := newOrchestrator(t, s, keys, 1)
		rec := provisional(1, recipient)
		require.NoError(t, s.Upsert(ctx, rec))

		require.NoError(t, o.Process(ctx, rec))

		recs, err := s.List(ctx, nil)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		final := recs[0]
		assert.Equal(t, "No key for sending account", final.Error)
		assert.True(t, final.SignProcessed)
		assert.Nil(t, final.Signature)
		assert.Equal(t, txstore.SourceWalletSoftware, final.Source)

		unsigned, err := final.Unsigned()
		require.NoError(t, err)
		assert.Equal(t, unsigned.Hash(), final.Hash)
		assert.Zero(t, keys.signs.Load())
	})

	t.Run("local keystore account", func(t *testing.T) {
		km, err := wallet.NewKeystoreManagerWithParams(hwtest.TempDir(t), keystore.LightScryptN, keystore.LightScryptP)
		require.NoError(t, err)
		acc, err := km.CreateAccount("pass")
		require.NoError(t, err)

		s := openStore(t)
		o, _ := newOrchestrator(t, s, km, 1)
		rec := provisional(1, acc.Address)
		require.NoError(t, s.Upsert(ctx, rec))

		require.NoError(t, o.Process(ctx, rec))

		recs, err := s.List(ctx, nil)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		final := recs[0]
		require.Empty(t, final.Error)
		require.NotNil(t, final.Signature)
		assert.Equal(t, txstore.SourceWalletSoftware, final.Source)

		signed, err := final.Signed()
		require.NoError(t, err)
		assert.Equal(t, signed.Hash(), final.Hash)
		sender, err := types.Sender(types.LatestSignerForChainID(sepolia), signed)
		require.NoError(t, err)
		assert.Equal(t, acc.Address, sender)
	})

	t.Run("wrong passphrase is recorded", func(t *testing.T) {
		km, err := wallet.NewKeystoreManagerWithParams(hwtest.TempDir(t), keystore.LightScryptN, keystore.LightScryptP)
		require.NoError(t, err)
		acc, err := km.CreateAccount("other")
		require.NoError(t, err)

		s := openStore(t)
		o, m := newOrchestrator(t, s, km, 1)
		rec := provisional(1, acc.Address)
		require.NoError(t, s.Upsert(ctx, rec))

		require.NoError(t, o.Process(ctx, rec))

		recs, err := s.List(ctx, nil)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Contains(t, recs[0].Error, "unlock")
		assert.True(t, recs[0].SignProcessed)
		assert.Equal(t, 1.0, signedCount(t, m, metrics.PathFailed))
	})

	t.Run("awaiting confirmation is left alone", func(t *testing.T) {
		s := openStore(t)
		o, _ := newOrchestrator(t, s, &noKeys{}, 1)
		rec := provisional(1, recipient)
		rec.NeedsSigningConfirmation = true
		require.NoError(t, s.Upsert(ctx, rec))

		require.NoError(t, o.Process(ctx, rec))

		stored, err := s.Get(ctx, rec.Hash)
		require.NoError(t, err)
		assert.False(t, stored.SignProcessed)
		assert.Nil(t, stored.Nonce)
	})

	t.Run("already finalized elsewhere", func(t *testing.T) {
		s := openStore(t)
		o, _ := newOrchestrator(t, s, &noKeys{}, 1)
		rec := provisional(1, recipient)
		require.NoError(t, o.Process(ctx, rec))

		recs, err := s.List(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("missing chain id", func(t *testing.T) {
		s := openStore(t)
		o, _ := newOrchestrator(t, s, &noKeys{}, 1)
		rec := provisional(1, recipient)
		rec.ChainID = nil

		assert.ErrorIs(t, o.Process(ctx, rec), ErrMissingChainID)
		_, err := o.AssignNonce(ctx, rec)
		assert.ErrorIs(t, err, ErrMissingChainID)

		recs, err := s.List(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})
}

func TestRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := openStore(t)
	o, _ := newOrchestrator(t, s, &noKeys{}, 2)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Upsert(ctx, provisional(i, recipient)))
	}

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, s.Watch(ctx, 10*time.Millisecond)) }()

	require.Eventually(t, func() bool {
		pending, err := s.NeedingSignature(ctx)
		return err == nil && len(pending) == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop")
	}

	assert.Len(t, nonces(t, s), 3)
}

func TestRunConfirmed(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s := openStore(t)
	o, _ := newOrchestrator(t, s, &noKeys{}, 1)
	held := provisional(1, recipient)
	held.NeedsSigningConfirmation = true
	require.NoError(t, s.Upsert(ctx, held))

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, s.Watch(ctx, 10*time.Millisecond)) }()

	// Held across several polls.
	time.Sleep(50 * time.Millisecond)
	stored, err := s.Get(ctx, held.Hash)
	require.NoError(t, err)
	assert.False(t, stored.SignProcessed)

	stored.NeedsSigningConfirmation = false
	require.NoError(t, s.Upsert(ctx, stored))

	require.Eventually(t, func() bool {
		pending, err := s.NeedingSignature(ctx)
		return err == nil && len(pending) == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, map[uint64]int{1: 1}, nonces(t, s))

	cancel()
	<-done
}

func TestNew(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
