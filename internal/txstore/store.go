// Package txstore persists pending transactions in sqlite.
package txstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/zap"

	"github.com/yolodolo42/hwsign/internal/logger"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("pending transaction not found")

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the sqlite-backed pending transaction table. It uses a single
// connection, so readers never observe the gap inside Replace.
type Store struct {
	db    *sql.DB
	clock clock.Clock
	log   *zap.Logger
}

// Open opens (or creates) the store under dataDir/transactions.db.
func Open(dataDir string) (*Store, error) {
	return OpenDSN(filepath.Join(dataDir, "transactions.db"))
}

// OpenDSN opens (or creates) a store using the given sqlite DSN/path.
// Tests may pass ":memory:" to avoid touching disk.
func OpenDSN(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open transactions db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, clock: clock.NewDefaultClock(), log: logger.Named("txstore")}, nil
}

func ensureSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS pending_transactions (
	hash TEXT PRIMARY KEY,
	chain_id INTEGER NOT NULL,
	from_address TEXT NOT NULL,
	nonce INTEGER,
	tx_json TEXT NOT NULL,
	signature_json TEXT,
	source TEXT NOT NULL,
	needs_confirmation INTEGER NOT NULL DEFAULT 0,
	sign_processed INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS pending_transactions_account ON pending_transactions (from_address, chain_id);
`)
	if err != nil {
		return fmt.Errorf("create pending_transactions table: %w", err)
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("transaction store not initialized")
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Upsert inserts rec or overwrites the record with the same hash.
func (s *Store) Upsert(ctx context.Context, rec *PendingTransaction) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.upsert(ctx, s.db, rec)
}

func (s *Store) upsert(ctx context.Context, db execer, rec *PendingTransaction) error {
	if rec == nil {
		return fmt.Errorf("transaction is required")
	}
	if rec.ChainID == nil || !rec.ChainID.IsUint64() {
		return fmt.Errorf("invalid chain id %v", rec.ChainID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.clock.Now().UTC()
	}

	txJSON, err := json.Marshal(rec.Tx)
	if err != nil {
		return fmt.Errorf("marshal tx fields: %w", err)
	}
	var sigJSON sql.NullString
	if rec.Signature != nil {
		raw, err := json.Marshal(rec.Signature)
		if err != nil {
			return fmt.Errorf("marshal signature: %w", err)
		}
		sigJSON = sql.NullString{String: string(raw), Valid: true}
	}
	var nonce sql.NullInt64
	if rec.Nonce != nil {
		nonce = sql.NullInt64{Int64: int64(*rec.Nonce), Valid: true}
	}

	_, err = db.ExecContext(ctx, `
INSERT INTO pending_transactions (hash, chain_id, from_address, nonce, tx_json, signature_json, source, needs_confirmation, sign_processed, error, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(hash) DO UPDATE SET
	chain_id=excluded.chain_id,
	from_address=excluded.from_address,
	nonce=excluded.nonce,
	tx_json=excluded.tx_json,
	signature_json=excluded.signature_json,
	source=excluded.source,
	needs_confirmation=excluded.needs_confirmation,
	sign_processed=excluded.sign_processed,
	error=excluded.error
`, rec.Hash.Hex(), int64(rec.ChainID.Uint64()), addressKey(rec.From), nonce, string(txJSON), sigJSON,
		string(rec.Source), rec.NeedsSigningConfirmation, rec.SignProcessed, rec.Error,
		rec.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("persist transaction %s: %w", rec.Hash.Hex(), err)
	}
	return nil
}

// DeleteByHash removes the record with hash, if any.
func (s *Store) DeleteByHash(ctx context.Context, hash common.Hash) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_transactions WHERE hash = ?`, hash.Hex()); err != nil {
		return fmt.Errorf("delete transaction %s: %w", hash.Hex(), err)
	}
	return nil
}

// Replace deletes the record stored under oldHash and upserts rec in one
// transaction.
func (s *Store) Replace(ctx context.Context, oldHash common.Hash, rec *PendingTransaction) (err error) {
	if err := s.ready(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM pending_transactions WHERE hash = ?`, oldHash.Hex()); err != nil {
		return fmt.Errorf("delete transaction %s: %w", oldHash.Hex(), err)
	}
	if err = s.upsert(ctx, tx, rec); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

const selectColumns = `SELECT hash, chain_id, from_address, nonce, tx_json, COALESCE(signature_json, ''), source, needs_confirmation, sign_processed, error, created_at FROM pending_transactions`

// Get returns the record stored under hash or ErrNotFound.
func (s *Store) Get(ctx context.Context, hash common.Hash) (*PendingTransaction, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE hash = ?`, hash.Hex())
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash.Hex())
	}
	return rec, err
}

// List returns the records of chainID, oldest first. A nil chainID lists
// every chain.
func (s *Store) List(ctx context.Context, chainID *big.Int) ([]*PendingTransaction, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if chainID == nil {
		return s.query(ctx, selectColumns+` ORDER BY created_at, hash`)
	}
	return s.query(ctx, selectColumns+` WHERE chain_id = ? ORDER BY created_at, hash`, int64(chainID.Uint64()))
}

// NeedingSignature returns every record not yet processed by the signer.
func (s *Store) NeedingSignature(ctx context.Context) ([]*PendingTransaction, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.query(ctx, selectColumns+` WHERE sign_processed = 0 ORDER BY created_at, hash`)
}

// NonceHistory returns the nonces already assigned to from on chainID.
func (s *Store) NonceHistory(ctx context.Context, from common.Address, chainID *big.Int) ([]uint64, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT nonce FROM pending_transactions WHERE from_address = ? AND chain_id = ? AND nonce IS NOT NULL`,
		addressKey(from), int64(chainID.Uint64()),
	)
	if err != nil {
		return nil, fmt.Errorf("query nonce history: %w", err)
	}
	defer rows.Close()

	var out []uint64
	for rows.Next() {
		var n int64
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan nonce: %w", err)
		}
		out = append(out, uint64(n))
	}
	return out, rows.Err()
}

// Watch polls NeedingSignature every interval. It emits the result whenever
// a record appears, disappears or changes its confirmation gate, and on every
// poll while some record is ready to sign, so a signer retries records whose
// finalization failed. The channel closes when ctx is done.
func (s *Store) Watch(ctx context.Context, interval time.Duration) <-chan []*PendingTransaction {
	out := make(chan []*PendingTransaction)
	go func() {
		defer close(out)
		var last string
		first := true
		for {
			recs, err := s.NeedingSignature(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.log.Warn("needing-signature query failed", zap.Error(err))
			} else if key, ready := fingerprint(recs); first || ready || key != last {
				first, last = false, key
				select {
				case out <- recs:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-s.clock.TickAfter(interval):
			}
		}
	}()
	return out
}

// fingerprint identifies a batch by hash and gate state. ready reports
// whether any record can be signed now.
func fingerprint(recs []*PendingTransaction) (key string, ready bool) {
	var b strings.Builder
	for _, r := range recs {
		b.WriteString(r.Hash.Hex())
		if r.NeedsSigningConfirmation {
			b.WriteByte('h')
		} else {
			b.WriteByte('r')
			ready = true
		}
	}
	return b.String(), ready
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]*PendingTransaction, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []*PendingTransaction
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*PendingTransaction, error) {
	var (
		rec                PendingTransaction
		hash, from, source string
		txJSON, sigJSON    string
		created            string
		chainID            int64
		nonce              sql.NullInt64
	)
	if err := row.Scan(&hash, &chainID, &from, &nonce, &txJSON, &sigJSON, &source,
		&rec.NeedsSigningConfirmation, &rec.SignProcessed, &rec.Error, &created); err != nil {
		return nil, err
	}

	rec.Hash = common.HexToHash(hash)
	rec.ChainID = new(big.Int).SetUint64(uint64(chainID))
	rec.From = common.HexToAddress(from)
	rec.Source = Source(source)
	if nonce.Valid {
		n := uint64(nonce.Int64)
		rec.Nonce = &n
	}
	if err := json.Unmarshal([]byte(txJSON), &rec.Tx); err != nil {
		return nil, fmt.Errorf("decode tx fields of %s: %w", hash, err)
	}
	if sigJSON != "" {
		rec.Signature = new(SignatureData)
		if err := json.Unmarshal([]byte(sigJSON), rec.Signature); err != nil {
			return nil, fmt.Errorf("decode signature of %s: %w", hash, err)
		}
	}
	if ts, err := time.Parse(timeLayout, created); err == nil {
		rec.CreatedAt = ts
	}
	return &rec, nil
}

// addressKey normalizes addresses so lookups ignore checksum case.
func addressKey(a common.Address) string {
	return strings.ToLower(a.Hex())
}
