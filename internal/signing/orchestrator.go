// Package signing finalizes pending transactions: it assigns nonces, signs
// with local keys or adopts device signatures, and swaps the provisional
// record for the final one.
package signing

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yolodolo42/hwsign/internal/logger"
	"github.com/yolodolo42/hwsign/internal/metrics"
	"github.com/yolodolo42/hwsign/internal/txstore"
	"github.com/yolodolo42/hwsign/internal/wallet"
)

// ErrNoKey is recorded on transactions whose sender has no local key and no
// device signature.
var ErrNoKey = errors.New("No key for sending account")

// ErrMissingChainID is returned for records without a chain id. Such a record
// cannot be stored, so nothing is persisted for it.
var ErrMissingChainID = errors.New("signing: missing chain id")

// Store is the persistence the orchestrator needs.
type Store interface {
	Get(ctx context.Context, hash common.Hash) (*txstore.PendingTransaction, error)
	Upsert(ctx context.Context, rec *txstore.PendingTransaction) error
	Replace(ctx context.Context, oldHash common.Hash, rec *txstore.PendingTransaction) error
	NonceHistory(ctx context.Context, from common.Address, chainID *big.Int) ([]uint64, error)
}

// Keys resolves and uses local signing keys.
type Keys interface {
	Resolve(from common.Address) wallet.AccountKeySource
	SignDigest(from common.Address, passphrase string, digest []byte) ([]byte, error)
}

type Config struct {
	Store Store
	Keys  Keys
	// Passphrase unlocks local keys for the duration of one signature.
	Passphrase  string
	Concurrency int
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

type Orchestrator struct {
	store      Store
	keys       Keys
	passphrase string
	limit      int
	log        *zap.Logger
	metrics    *metrics.Metrics

	locks accountLocks

	mu       sync.Mutex
	inflight map[common.Hash]struct{}
}

func New(cfg Config) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.Keys == nil {
		return nil, errors.New("signing: store and keys are required")
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Named("signing")
	}
	return &Orchestrator{
		store:      cfg.Store,
		keys:       cfg.Keys,
		passphrase: cfg.Passphrase,
		limit:      cfg.Concurrency,
		log:        cfg.Logger,
		metrics:    cfg.Metrics,
		inflight:   make(map[common.Hash]struct{}),
	}, nil
}

// Process finalizes one transaction. Transactions awaiting user confirmation
// are skipped. Signing problems are recorded on the transaction; only
// storage errors are returned.
func (o *Orchestrator) Process(ctx context.Context, in *txstore.PendingTransaction) error {
	if in.NeedsSigningConfirmation {
		o.log.Debug("awaiting confirmation", zap.Stringer("hash", in.Hash))
		return nil
	}
	if in.ChainID == nil {
		return fmt.Errorf("%w: %s", ErrMissingChainID, in.Hash.Hex())
	}

	unlock := o.locks.lock(in.ChainID, in.From)
	defer unlock()

	// Another worker may have finalized it while we waited for the lock.
	current, err := o.store.Get(ctx, in.Hash)
	if errors.Is(err, txstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.SignProcessed || current.NeedsSigningConfirmation {
		return nil
	}

	rec := current.Clone()
	prior := rec.Hash
	rec.Source = txstore.SourceWalletSoftware

	if rec.Nonce == nil {
		n, err := o.nextNonce(ctx, rec.From, rec.ChainID)
		if err != nil {
			return err
		}
		rec.Nonce = &n
	}

	path := o.finalize(rec)
	rec.SignProcessed = true
	if err := o.store.Replace(ctx, prior, rec); err != nil {
		o.metrics.ObserveSigning(metrics.PathFailed)
		return fmt.Errorf("finalize %s: %w", prior.Hex(), err)
	}
	o.metrics.ObserveSigning(path)

	fields := []zap.Field{
		zap.Stringer("provisional", prior),
		zap.Stringer("hash", rec.Hash),
		zap.Uint64("nonce", *rec.Nonce),
		zap.String("path", path),
	}
	if rec.Error != "" {
		o.log.Warn("transaction finalized with error", append(fields, zap.String("error", rec.Error))...)
	} else {
		o.log.Info("transaction finalized", fields...)
	}
	return nil
}

// finalize picks the signing path, fills in signature, hash, source and
// error, and returns the path name.
func (o *Orchestrator) finalize(rec *txstore.PendingTransaction) string {
	if rec.Signature != nil {
		signed, err := rec.Signed()
		if err != nil {
			rec.Error = err.Error()
			return metrics.PathFailed
		}
		rec.Hash = signed.Hash()
		rec.Source = txstore.SourceDevice
		return metrics.PathDevice
	}

	unsigned, err := rec.Unsigned()
	if err != nil {
		rec.Error = err.Error()
		return metrics.PathFailed
	}

	if !o.keys.Resolve(rec.From).IsLocal() {
		rec.Error = ErrNoKey.Error()
		rec.Hash = unsigned.Hash()
		return metrics.PathNoKey
	}

	signer := types.LatestSignerForChainID(rec.ChainID)
	sig, err := o.keys.SignDigest(rec.From, o.passphrase, signer.Hash(unsigned).Bytes())
	if err != nil {
		rec.Error = err.Error()
		rec.Hash = unsigned.Hash()
		return metrics.PathFailed
	}
	signed, err := unsigned.WithSignature(signer, sig)
	if err != nil {
		rec.Error = err.Error()
		rec.Hash = unsigned.Hash()
		return metrics.PathFailed
	}

	v, r, s := signed.RawSignatureValues()
	rec.Signature = txstore.NewSignatureData(v, r, s)
	rec.Hash = signed.Hash()
	return metrics.PathLocal
}

// nextNonce is one past the highest nonce assigned to from, or 1 for an
// account without history. Callers hold the account lock.
func (o *Orchestrator) nextNonce(ctx context.Context, from common.Address, chainID *big.Int) (uint64, error) {
	history, err := o.store.NonceHistory(ctx, from, chainID)
	if err != nil {
		return 0, fmt.Errorf("nonce history: %w", err)
	}
	if len(history) == 0 {
		return 1, nil
	}
	highest := history[0]
	for _, n := range history[1:] {
		if n > highest {
			highest = n
		}
	}
	return highest + 1, nil
}

// AssignNonce gives rec a nonce if it has none and persists it. Device
// signing calls this first so the signed payload and the record agree.
func (o *Orchestrator) AssignNonce(ctx context.Context, rec *txstore.PendingTransaction) (uint64, error) {
	if rec.ChainID == nil {
		return 0, ErrMissingChainID
	}
	unlock := o.locks.lock(rec.ChainID, rec.From)
	defer unlock()

	if rec.Nonce != nil {
		return *rec.Nonce, nil
	}
	n, err := o.nextNonce(ctx, rec.From, rec.ChainID)
	if err != nil {
		return 0, err
	}
	rec.Nonce = &n
	if err := o.store.Upsert(ctx, rec); err != nil {
		rec.Nonce = nil
		return 0, err
	}
	return n, nil
}

// ProcessAll finalizes recs independently, at most Concurrency at a time. A
// failing transaction does not stop the others; their errors are joined.
func (o *Orchestrator) ProcessAll(ctx context.Context, recs []*txstore.PendingTransaction) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	g.SetLimit(o.limit)
	for _, rec := range recs {
		rec := rec
		g.Go(func() error {
			if err := o.Process(ctx, rec); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Run processes every batch received on updates until ctx is done or the
// channel closes. A transaction already being processed is not started again.
func (o *Orchestrator) Run(ctx context.Context, updates <-chan []*txstore.PendingTransaction) error {
	var g errgroup.Group
	g.SetLimit(o.limit)
	defer func() { _ = g.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-updates:
			if !ok {
				return nil
			}
			for _, rec := range batch {
				rec := rec
				if rec.NeedsSigningConfirmation || !o.claim(rec.Hash) {
					continue
				}
				g.Go(func() error {
					defer o.release(rec.Hash)
					if err := o.Process(ctx, rec); err != nil {
						o.log.Error("finalize failed", zap.Stringer("hash", rec.Hash), zap.Error(err))
					}
					return nil
				})
			}
		}
	}
}

func (o *Orchestrator) claim(h common.Hash) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[h]; busy {
		return false
	}
	o.inflight[h] = struct{}{}
	return true
}

func (o *Orchestrator) release(h common.Hash) {
	o.mu.Lock()
	delete(o.inflight, h)
	o.mu.Unlock()
}

// accountLocks hands out one mutex per (chain, account).
type accountLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (a *accountLocks) lock(chainID *big.Int, from common.Address) func() {
	key := chainID.String() + ":" + strings.ToLower(from.Hex())

	a.mu.Lock()
	if a.locks == nil {
		a.locks = make(map[string]*sync.Mutex)
	}
	m, ok := a.locks[key]
	if !ok {
		m = &sync.Mutex{}
		a.locks[key] = m
	}
	a.mu.Unlock()

	m.Lock()
	return m.Unlock
}
