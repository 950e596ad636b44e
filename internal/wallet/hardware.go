package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/lightningnetwork/lnd/clock"
	"go.uber.org/zap"

	"github.com/yolodolo42/hwsign/internal/device"
	"github.com/yolodolo42/hwsign/internal/metrics"
	"github.com/yolodolo42/hwsign/internal/trezor"
	"github.com/yolodolo42/hwsign/internal/txstore"
)

// ErrCancelled is returned when the user or the device cancelled the session.
var ErrCancelled = errors.New("cancelled on hardware wallet")

// HardwareConfig wires a HardwareSigner. Transport is shared by the sessions
// the signer runs; sessions never overlap.
type HardwareConfig struct {
	Transport    device.Transport
	Prompter     device.Prompter
	Path         accounts.DerivationPath
	PollInterval time.Duration
	Clock        clock.Clock
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// HardwareSigner reads addresses from and signs transactions on a hardware
// wallet, one device session per call.
type HardwareSigner struct {
	cfg HardwareConfig
}

// NewHardwareSigner creates a hardware wallet signer
func NewHardwareSigner(cfg HardwareConfig) (*HardwareSigner, error) {
	if cfg.Transport == nil {
		return nil, errors.New("hardware signer needs a transport")
	}
	if len(cfg.Path) == 0 {
		cfg.Path = accounts.DefaultBaseDerivationPath
	}
	return &HardwareSigner{cfg: cfg}, nil
}

func (hs *HardwareSigner) run(ctx context.Context, task device.Task) (*device.Result, error) {
	s, err := device.NewSession(device.Config{
		Transport:    hs.cfg.Transport,
		Task:         task,
		Prompter:     hs.cfg.Prompter,
		Path:         hs.cfg.Path,
		PollInterval: hs.cfg.PollInterval,
		Clock:        hs.cfg.Clock,
		Logger:       hs.cfg.Logger,
		Metrics:      hs.cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	res, err := s.Run(ctx)
	if err != nil {
		return nil, err
	}
	if res.Cancelled {
		return nil, ErrCancelled
	}
	return res, nil
}

// Address returns the address the device derives at the configured path.
func (hs *HardwareSigner) Address(ctx context.Context) (common.Address, error) {
	res, err := hs.run(ctx, &device.AddressTask{})
	if err != nil {
		return common.Address{}, err
	}
	return res.Address, nil
}

// SignTransaction has the device sign rec and returns the raw signature. rec
// must already carry its nonce.
func (hs *HardwareSigner) SignTransaction(ctx context.Context, rec *txstore.PendingTransaction) (*txstore.SignatureData, error) {
	unsigned, err := rec.Unsigned()
	if err != nil {
		return nil, err
	}
	task, err := trezor.NewSignTxTask(unsigned, rec.ChainID, rec.From, hs.cfg.Path)
	if err != nil {
		return nil, err
	}
	if _, err := hs.run(ctx, task); err != nil {
		return nil, err
	}

	signed, ok := task.Signed()
	if !ok {
		return nil, fmt.Errorf("device returned no signature for %s", rec.Hash.Hex())
	}
	v, r, s := signed.RawSignatureValues()
	return txstore.NewSignatureData(v, r, s), nil
}
