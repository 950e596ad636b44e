package tx

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/google/uuid"

	"github.com/yolodolo42/hwsign/internal/txstore"
)

var (
	ErrValueMissing = errors.New("value missing")
	ErrFeesMissing  = errors.New("gas price or max fee per gas required")
)

// Intent captures a state-changing transaction the user wants to perform.
type Intent struct {
	From        common.Address // signer address
	To          common.Address // recipient
	ValueWei    *big.Int       // native value
	Data        []byte         // calldata (empty for native send)
	Nonce       *uint64        // optional override
	GasLimit    *uint64        // optional override
	GasPrice    *big.Int       // legacy pricing
	MaxFeePerG  *big.Int       // EIP-1559 pricing, wins over GasPrice
	MaxPriority *big.Int

	// Confirm holds the transaction back from signing until the user
	// confirms it.
	Confirm bool
}

// Policy enforces safety constraints before signing.
type Policy struct {
	MaxPerTxWei *big.Int
	AllowTo     []common.Address
	DenyTo      []common.Address
}

// Validate applies simple allow/deny and spend limits.
func Validate(intent Intent, policy Policy) error {
	if intent.ValueWei == nil {
		return ErrValueMissing
	}
	if intent.ValueWei.Sign() < 0 {
		return fmt.Errorf("negative value")
	}

	for _, a := range policy.DenyTo {
		if a == intent.To {
			return fmt.Errorf("destination denied by policy")
		}
	}
	if len(policy.AllowTo) > 0 {
		allowed := false
		for _, a := range policy.AllowTo {
			if a == intent.To {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("destination not in allowlist")
		}
	}
	if policy.MaxPerTxWei != nil && intent.ValueWei.Cmp(policy.MaxPerTxWei) > 0 {
		return fmt.Errorf("value exceeds max per tx limit")
	}
	return nil
}

// NewPending turns intent into a provisional record for chainID. The record
// carries a random placeholder hash until the signer finalizes it.
func NewPending(intent Intent, chainID *big.Int) (*txstore.PendingTransaction, error) {
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, fmt.Errorf("invalid chain id %v", chainID)
	}
	if intent.ValueWei == nil {
		return nil, ErrValueMissing
	}

	gas := params.TxGas
	if intent.GasLimit != nil {
		gas = *intent.GasLimit
	} else if len(intent.Data) > 0 {
		return nil, fmt.Errorf("gas limit required for calldata")
	}

	to := intent.To
	fields := txstore.TxFields{
		To:    &to,
		Value: (*hexutil.Big)(new(big.Int).Set(intent.ValueWei)),
		Gas:   hexutil.Uint64(gas),
		Data:  common.CopyBytes(intent.Data),
	}
	switch {
	case intent.MaxFeePerG != nil:
		tip := intent.MaxPriority
		if tip == nil {
			tip = new(big.Int)
		}
		if tip.Cmp(intent.MaxFeePerG) > 0 {
			return nil, fmt.Errorf("max priority fee %s above max fee %s", tip, intent.MaxFeePerG)
		}
		fields.GasFeeCap = (*hexutil.Big)(new(big.Int).Set(intent.MaxFeePerG))
		fields.GasTipCap = (*hexutil.Big)(new(big.Int).Set(tip))
	case intent.GasPrice != nil:
		fields.GasPrice = (*hexutil.Big)(new(big.Int).Set(intent.GasPrice))
	default:
		return nil, ErrFeesMissing
	}

	var nonce *uint64
	if intent.Nonce != nil {
		n := *intent.Nonce
		nonce = &n
	}

	id := uuid.New()
	return &txstore.PendingTransaction{
		Hash:                     crypto.Keccak256Hash(id[:]),
		ChainID:                  new(big.Int).Set(chainID),
		From:                     intent.From,
		Nonce:                    nonce,
		Tx:                       fields,
		Source:                   txstore.SourceLocal,
		NeedsSigningConfirmation: intent.Confirm,
	}, nil
}
