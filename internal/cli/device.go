package cli

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/yolodolo42/hwsign/internal/txstore"
	"github.com/yolodolo42/hwsign/internal/wallet"
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Talk to a connected Trezor",
	Long: `Run sessions against a Trezor attached over USB. The command waits
for the device to be plugged in and asks for the PIN or passphrase when
the device requests them.`,
}

var deviceAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "Show the address derived by the device",
	RunE:  runDeviceAddress,
}

var deviceSignCmd = &cobra.Command{
	Use:   "sign <hash>",
	Short: "Sign a pending transaction on the device",
	Args:  cobra.ExactArgs(1),
	RunE:  runDeviceSign,
}

func init() {
	rootCmd.AddCommand(deviceCmd)
	deviceCmd.AddCommand(deviceAddressCmd)
	deviceCmd.AddCommand(deviceSignCmd)

	deviceCmd.PersistentFlags().String("path", "", "BIP-32 derivation path (default m/44'/60'/0'/0/0)")
}

func runDeviceAddress(cmd *cobra.Command, args []string) error {
	pathFlag, _ := cmd.Flags().GetString("path")
	path, err := parsePath(pathFlag)
	if err != nil {
		return err
	}

	hs, transport, err := newHardwareSigner(path)
	if err != nil {
		return err
	}
	defer transport.Close()

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Println("Waiting for device...")
	addr, err := hs.Address(ctx)
	if errors.Is(err, wallet.ErrCancelled) {
		fmt.Println("Cancelled.")
		return nil
	}
	if err != nil {
		return err
	}

	fmt.Printf("Address: %s\n", addr.Hex())
	fmt.Printf("Path:    %s\n", path)
	return nil
}

func runDeviceSign(cmd *cobra.Command, args []string) error {
	pathFlag, _ := cmd.Flags().GetString("path")
	path, err := parsePath(pathFlag)
	if err != nil {
		return err
	}
	hash := common.HexToHash(args[0])

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

	rec, err := store.Get(ctx, hash)
	if errors.Is(err, txstore.ErrNotFound) {
		return fmt.Errorf("no pending transaction %s", hash.Hex())
	}
	if err != nil {
		return err
	}
	if rec.SignProcessed {
		return fmt.Errorf("transaction %s is already finalized", hash.Hex())
	}
	network, known := rt.chains.FindByID(rec.ChainID.Uint64())
	if known && !network.DeviceSignable() {
		return fmt.Errorf("%s cannot be signed on the device", network.Name)
	}

	nonce, err := orch.AssignNonce(ctx, rec)
	if err != nil {
		return fmt.Errorf("failed to assign nonce: %w", err)
	}

	hs, transport, err := newHardwareSigner(path)
	if err != nil {
		return err
	}
	defer transport.Close()

	fmt.Printf("Signing nonce %d from %s. Confirm on the device.\n", nonce, rec.From.Hex())
	sig, err := hs.SignTransaction(ctx, rec)
	if errors.Is(err, wallet.ErrCancelled) {
		fmt.Println("Cancelled.")
		return nil
	}
	if err != nil {
		return err
	}

	rec.Signature = sig
	rec.NeedsSigningConfirmation = false
	if err := store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("failed to store signature: %w", err)
	}
	if err := orch.Process(ctx, rec); err != nil {
		return err
	}

	list, err := store.List(ctx, rec.ChainID)
	if err != nil {
		return err
	}
	for _, r := range list {
		if r.From == rec.From && r.Nonce != nil && *r.Nonce == nonce && r.SignProcessed {
			if r.Error != "" {
				return fmt.Errorf("signing failed: %s", r.Error)
			}
			fmt.Printf("Signed: %s\n", r.Hash.Hex())
			if known {
				if url := network.TxURL(r.Hash); url != "" {
					fmt.Printf("Explorer: %s\n", url)
				}
			}
			return nil
		}
	}
	return fmt.Errorf("signed transaction was not recorded")
}
