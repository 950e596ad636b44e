package trezor

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	trezorpb "github.com/ethereum/go-ethereum/accounts/usbwallet/trezor"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"google.golang.org/protobuf/proto"

	"github.com/yolodolo42/hwsign/internal/device"
)

// initialChunk is how much calldata goes into EthereumSignTx itself.
const initialChunk = 1024

// SignTxTask signs a legacy transaction on the device once the session has
// confirmed the device derives the expected sender.
type SignTxTask struct {
	tx      *types.Transaction
	chainID *big.Int
	from    common.Address
	path    accounts.DerivationPath

	data   []byte
	next   proto.Message
	signed *types.Transaction
}

var _ device.Task = (*SignTxTask)(nil)

// NewSignTxTask prepares tx for signing by the key at path, which must
// derive from.
func NewSignTxTask(tx *types.Transaction, chainID *big.Int, from common.Address, path accounts.DerivationPath) (*SignTxTask, error) {
	if tx.Type() != types.LegacyTxType {
		return nil, fmt.Errorf("trezor: transaction type %d not supported", tx.Type())
	}
	if chainID == nil || !chainID.IsUint64() || chainID.Uint64() > 0xffffffff {
		return nil, fmt.Errorf("trezor: chain id %v not supported", chainID)
	}
	return &SignTxTask{
		tx:      tx,
		chainID: new(big.Int).Set(chainID),
		from:    from,
		path:    append(accounts.DerivationPath(nil), path...),
	}, nil
}

func (t *SignTxTask) TaskMessage() proto.Message {
	return t.next
}

// HandleAddress checks the derived address and starts the signing request.
func (t *SignTxTask) HandleAddress(addr common.Address) (device.Step, error) {
	if addr != t.from {
		return device.StepDone, fmt.Errorf("%w: device %s, account %s", device.ErrAddressMismatch, addr.Hex(), t.from.Hex())
	}

	data := t.tx.Data()
	length := uint32(len(data))
	chainID := uint32(t.chainID.Uint64())
	req := &trezorpb.EthereumSignTx{
		AddressN:   []uint32(t.path),
		Nonce:      new(big.Int).SetUint64(t.tx.Nonce()).Bytes(),
		GasPrice:   t.tx.GasPrice().Bytes(),
		GasLimit:   new(big.Int).SetUint64(t.tx.Gas()).Bytes(),
		Value:      t.tx.Value().Bytes(),
		DataLength: &length,
		ChainId:    &chainID,
	}
	if to := t.tx.To(); to != nil {
		hex := to.Hex()
		req.ToHex = &hex
		req.ToBin = to.Bytes()
	}
	if len(data) > initialChunk {
		req.DataInitialChunk, t.data = data[:initialChunk], data[initialChunk:]
	} else {
		req.DataInitialChunk, t.data = data, nil
	}

	t.next = req
	return device.StepContinue, nil
}

// HandleTaskReply streams calldata on request and finishes once the device
// returns a signature.
func (t *SignTxTask) HandleTaskReply(msg proto.Message) (device.Step, error) {
	resp, ok := msg.(*trezorpb.EthereumTxRequest)
	if !ok {
		return device.StepDone, fmt.Errorf("trezor: unexpected reply %T while signing", msg)
	}

	if resp.DataLength != nil && int(resp.GetDataLength()) <= len(t.data) {
		n := resp.GetDataLength()
		t.next = &trezorpb.EthereumTxAck{DataChunk: t.data[:n]}
		t.data = t.data[n:]
		return device.StepContinue, nil
	}

	signed, err := t.applySignature(resp)
	if err != nil {
		return device.StepDone, err
	}
	t.signed = signed
	t.next = nil
	return device.StepDone, nil
}

func (t *SignTxTask) applySignature(resp *trezorpb.EthereumTxRequest) (*types.Transaction, error) {
	r, s, v := resp.GetSignatureR(), resp.GetSignatureS(), uint64(resp.GetSignatureV())
	if len(r) == 0 || len(s) == 0 || v == 0 {
		return nil, errors.New("trezor: reply lacks signature")
	}

	// Firmware reports EIP-155 v; older firmware reports 27/28.
	var recovery uint64
	switch offset := t.chainID.Uint64()*2 + 35; {
	case v >= offset:
		recovery = v - offset
	case v == 27 || v == 28:
		recovery = v - 27
	default:
		return nil, fmt.Errorf("trezor: invalid signature v %d", v)
	}
	if recovery > 1 {
		return nil, fmt.Errorf("trezor: invalid signature v %d", v)
	}

	sig := make([]byte, 0, 65)
	sig = append(sig, common.LeftPadBytes(r, 32)...)
	sig = append(sig, common.LeftPadBytes(s, 32)...)
	sig = append(sig, byte(recovery))

	signer := types.NewEIP155Signer(t.chainID)
	signed, err := t.tx.WithSignature(signer, sig)
	if err != nil {
		return nil, fmt.Errorf("trezor: apply signature: %w", err)
	}
	sender, err := types.Sender(signer, signed)
	if err != nil {
		return nil, fmt.Errorf("trezor: recover sender: %w", err)
	}
	if sender != t.from {
		return nil, fmt.Errorf("%w: signed by %s", device.ErrAddressMismatch, sender.Hex())
	}
	return signed, nil
}

// Signed returns the signed transaction once the session has finished.
func (t *SignTxTask) Signed() (*types.Transaction, bool) {
	return t.signed, t.signed != nil
}
