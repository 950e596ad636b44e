package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yolodolo42/hwsign/internal/logger"
)

var signerCmd = &cobra.Command{
	Use:   "signer",
	Short: "Finalize pending transactions",
}

var signerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Sign queued transactions as they appear",
	Long: `Watch the transaction store and finalize every transaction that is
not held for confirmation: assign its nonce, sign it with the keystore
or adopt the device signature, and record the final hash.`,
	RunE: runSigner,
}

func init() {
	rootCmd.AddCommand(signerCmd)
	signerCmd.AddCommand(signerRunCmd)

	signerRunCmd.Flags().Bool("once", false, "Process the current queue and exit")
}

func runSigner(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()
	km, err := openKeystore()
	if err != nil {
		return err
	}
	orch, err := newOrchestrator(store, km)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if once, _ := cmd.Flags().GetBool("once"); once {
		pending, err := store.NeedingSignature(ctx)
		if err != nil {
			return err
		}
		err = orch.ProcessAll(ctx, pending)
		fmt.Printf("Processed %d transaction(s).\n", len(pending))
		return err
	}

	logger.Info("signer running",
		zap.String("chain", rt.cfg.Chain),
		zap.Duration("interval", rt.cfg.WatchInterval),
		zap.Int("concurrency", rt.cfg.Concurrency),
	)
	err = orch.Run(ctx, store.Watch(ctx, rt.cfg.WatchInterval))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
