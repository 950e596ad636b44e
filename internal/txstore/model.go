package txstore

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Source records where a transaction came from or who signed it.
type Source string

const (
	SourceLocal          Source = "local"
	SourceWalletSoftware Source = "wallet_software"
	SourceDevice         Source = "device"
)

var ErrNoNonce = errors.New("transaction has no nonce")

// TxFields are the unsigned fields of a transaction. A non-nil GasFeeCap
// selects an EIP-1559 transaction; otherwise GasPrice is used.
type TxFields struct {
	To        *common.Address `json:"to,omitempty"`
	Value     *hexutil.Big    `json:"value"`
	Gas       hexutil.Uint64  `json:"gas"`
	GasPrice  *hexutil.Big    `json:"gasPrice,omitempty"`
	GasFeeCap *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	GasTipCap *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Data      hexutil.Bytes   `json:"input,omitempty"`
}

// SignatureData is a raw signature as produced by the signer.
type SignatureData struct {
	V *hexutil.Big `json:"v"`
	R *hexutil.Big `json:"r"`
	S *hexutil.Big `json:"s"`
}

// NewSignatureData copies v, r and s.
func NewSignatureData(v, r, s *big.Int) *SignatureData {
	return &SignatureData{
		V: (*hexutil.Big)(new(big.Int).Set(v)),
		R: (*hexutil.Big)(new(big.Int).Set(r)),
		S: (*hexutil.Big)(new(big.Int).Set(s)),
	}
}

// PendingTransaction is a transaction waiting for, or finished with, signing.
// Hash is provisional until the record is finalized.
type PendingTransaction struct {
	Hash      common.Hash
	ChainID   *big.Int
	From      common.Address
	Nonce     *uint64
	Tx        TxFields
	Signature *SignatureData
	Source    Source

	NeedsSigningConfirmation bool
	SignProcessed            bool
	Error                    string
	CreatedAt                time.Time
}

// Clone returns a deep copy.
func (p *PendingTransaction) Clone() *PendingTransaction {
	out := *p
	if p.ChainID != nil {
		out.ChainID = new(big.Int).Set(p.ChainID)
	}
	if p.Nonce != nil {
		n := *p.Nonce
		out.Nonce = &n
	}
	if p.Tx.To != nil {
		to := *p.Tx.To
		out.Tx.To = &to
	}
	out.Tx.Value = cloneBig(p.Tx.Value)
	out.Tx.GasPrice = cloneBig(p.Tx.GasPrice)
	out.Tx.GasFeeCap = cloneBig(p.Tx.GasFeeCap)
	out.Tx.GasTipCap = cloneBig(p.Tx.GasTipCap)
	out.Tx.Data = append(hexutil.Bytes(nil), p.Tx.Data...)
	if p.Signature != nil {
		out.Signature = &SignatureData{V: cloneBig(p.Signature.V), R: cloneBig(p.Signature.R), S: cloneBig(p.Signature.S)}
	}
	return &out
}

func cloneBig(b *hexutil.Big) *hexutil.Big {
	if b == nil {
		return nil
	}
	return (*hexutil.Big)(new(big.Int).Set(b.ToInt()))
}

func bigOrZero(b *hexutil.Big) *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.ToInt())
}

// Unsigned builds the unsigned transaction. The record must have a nonce.
func (p *PendingTransaction) Unsigned() (*types.Transaction, error) {
	return p.build(nil)
}

// Signed builds the transaction carrying the stored signature.
func (p *PendingTransaction) Signed() (*types.Transaction, error) {
	if p.Signature == nil {
		return nil, errors.New("transaction has no signature")
	}
	return p.build(p.Signature)
}

func (p *PendingTransaction) build(sig *SignatureData) (*types.Transaction, error) {
	if p.Nonce == nil {
		return nil, ErrNoNonce
	}
	var v, r, s *big.Int
	if sig != nil {
		v, r, s = bigOrZero(sig.V), bigOrZero(sig.R), bigOrZero(sig.S)
	}

	if p.Tx.GasFeeCap != nil {
		if p.ChainID == nil {
			return nil, fmt.Errorf("dynamic fee transaction needs a chain id")
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   new(big.Int).Set(p.ChainID),
			Nonce:     *p.Nonce,
			GasTipCap: bigOrZero(p.Tx.GasTipCap),
			GasFeeCap: bigOrZero(p.Tx.GasFeeCap),
			Gas:       uint64(p.Tx.Gas),
			To:        p.Tx.To,
			Value:     bigOrZero(p.Tx.Value),
			Data:      p.Tx.Data,
			V:         v,
			R:         r,
			S:         s,
		}), nil
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    *p.Nonce,
		GasPrice: bigOrZero(p.Tx.GasPrice),
		Gas:      uint64(p.Tx.Gas),
		To:       p.Tx.To,
		Value:    bigOrZero(p.Tx.Value),
		Data:     p.Tx.Data,
		V:        v,
		R:        r,
		S:        s,
	}), nil
}
