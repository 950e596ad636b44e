package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"

	"github.com/yolodolo42/hwsign/internal/logger"
	"github.com/yolodolo42/hwsign/internal/signing"
	"github.com/yolodolo42/hwsign/internal/trezor"
	"github.com/yolodolo42/hwsign/internal/txstore"
	"github.com/yolodolo42/hwsign/internal/wallet"
)

// signalContext is cancelled on interrupt or termination.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func openKeystore() (*wallet.KeystoreManager, error) {
	km, err := wallet.NewKeystoreManager(rt.cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keystore: %w", err)
	}
	return km, nil
}

func openStore() (*txstore.Store, error) {
	store, err := txstore.Open(rt.cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open transaction store: %w", err)
	}
	return store, nil
}

func newOrchestrator(store *txstore.Store, km *wallet.KeystoreManager) (*signing.Orchestrator, error) {
	return signing.New(signing.Config{
		Store:       store,
		Keys:        km,
		Passphrase:  rt.cfg.BootstrapPassphrase,
		Concurrency: rt.cfg.Concurrency,
		Logger:      logger.Named("signing"),
		Metrics:     rt.metrics,
	})
}

func newHardwareSigner(path accounts.DerivationPath) (*wallet.HardwareSigner, *trezor.Transport, error) {
	transport := trezor.NewTransport(nil, logger.Named("trezor"))
	hs, err := wallet.NewHardwareSigner(wallet.HardwareConfig{
		Transport:    transport,
		Prompter:     newTerminalPrompter(rt.cfg.MaxPinLength),
		Path:         path,
		PollInterval: rt.cfg.PollInterval,
		Logger:       logger.Named("device"),
		Metrics:      rt.metrics,
	})
	if err != nil {
		_ = transport.Close()
		return nil, nil, err
	}
	return hs, transport, nil
}

func parsePath(s string) (accounts.DerivationPath, error) {
	if s == "" {
		return accounts.DefaultBaseDerivationPath, nil
	}
	path, err := accounts.ParseDerivationPath(s)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation path %q: %w", s, err)
	}
	return path, nil
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address: %s", s)
	}
	return common.HexToAddress(s), nil
}
