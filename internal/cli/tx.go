package cli

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/params"
	"github.com/spf13/cobra"

	"github.com/yolodolo42/hwsign/internal/chain"
	"github.com/yolodolo42/hwsign/internal/tx"
	"github.com/yolodolo42/hwsign/internal/txstore"
	"github.com/yolodolo42/hwsign/internal/wallet"
)

var txCmd = &cobra.Command{
	Use:   "tx",
	Short: "Create and inspect pending transactions",
}

var txNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Queue a transaction for signing",
	Long: `Queue a transaction on the current chain. The signer assigns the
nonce and signs it with the keystore, unless --device holds it back for
'hwsign device sign'.`,
	RunE: runTxNew,
}

var txListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending and finalized transactions",
	RunE:  runTxList,
}

var txConfirmCmd = &cobra.Command{
	Use:   "confirm <hash>",
	Short: "Release a held transaction to the signer",
	Args:  cobra.ExactArgs(1),
	RunE:  runTxConfirm,
}

func init() {
	rootCmd.AddCommand(txCmd)
	txCmd.AddCommand(txNewCmd)
	txCmd.AddCommand(txListCmd)
	txCmd.AddCommand(txConfirmCmd)

	f := txNewCmd.Flags()
	f.String("from", "", "Sending account (default: current account)")
	f.String("to", "", "Recipient address")
	f.String("value", "0", "Amount in native units, e.g. 0.5")
	f.Uint64("gas", params.TxGas, "Gas limit")
	f.String("gas-price", "", "Legacy gas price in gwei")
	f.String("max-fee", "", "EIP-1559 max fee per gas in gwei")
	f.String("max-priority-fee", "", "EIP-1559 priority fee per gas in gwei")
	f.String("data", "", "Hex calldata")
	f.Int64("nonce", -1, "Nonce override (default: assigned by the signer)")
	f.String("max-value", "", "Refuse values above this many native units")
	f.StringSlice("deny", nil, "Refuse these recipients")
	f.Bool("device", false, "Hold the transaction for signing on the device")

	txListCmd.Flags().Bool("all-chains", false, "Include every chain, not only the current one")
	_ = txNewCmd.MarkFlagRequired("to")
}

func parseGwei(s string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	wei, err := chain.ParseEther(s)
	if err != nil {
		return nil, fmt.Errorf("invalid gwei amount %q: %w", s, err)
	}
	// ParseEther scales by 1e18, gwei is 1e9.
	return wei.Div(wei, big.NewInt(params.GWei)), nil
}

func buildIntent(cmd *cobra.Command) (tx.Intent, tx.Policy, error) {
	f := cmd.Flags()
	var (
		intent tx.Intent
		policy tx.Policy
		err    error
	)

	fromFlag, _ := f.GetString("from")
	if fromFlag != "" {
		if intent.From, err = parseAddress(fromFlag); err != nil {
			return intent, policy, err
		}
	} else {
		km, err := openKeystore()
		if err != nil {
			return intent, policy, err
		}
		if intent.From, err = wallet.CurrentAddress(viperSettings{}, km, rt.cfg.BootstrapPassphrase); err != nil {
			return intent, policy, err
		}
	}

	toFlag, _ := f.GetString("to")
	if intent.To, err = parseAddress(toFlag); err != nil {
		return intent, policy, err
	}

	value, _ := f.GetString("value")
	if intent.ValueWei, err = chain.ParseEther(value); err != nil {
		return intent, policy, fmt.Errorf("invalid value %q: %w", value, err)
	}

	gas, _ := f.GetUint64("gas")
	intent.GasLimit = &gas

	gasPrice, _ := f.GetString("gas-price")
	maxFee, _ := f.GetString("max-fee")
	maxPrio, _ := f.GetString("max-priority-fee")
	if intent.GasPrice, err = parseGwei(gasPrice); err != nil {
		return intent, policy, err
	}
	if intent.MaxFeePerG, err = parseGwei(maxFee); err != nil {
		return intent, policy, err
	}
	if intent.MaxPriority, err = parseGwei(maxPrio); err != nil {
		return intent, policy, err
	}

	if data, _ := f.GetString("data"); data != "" {
		if intent.Data, err = hexutil.Decode(data); err != nil {
			return intent, policy, fmt.Errorf("invalid calldata: %w", err)
		}
	}

	if nonce, _ := f.GetInt64("nonce"); nonce >= 0 {
		n := uint64(nonce)
		intent.Nonce = &n
	}

	intent.Confirm, _ = f.GetBool("device")

	if maxValue, _ := f.GetString("max-value"); maxValue != "" {
		if policy.MaxPerTxWei, err = chain.ParseEther(maxValue); err != nil {
			return intent, policy, fmt.Errorf("invalid max value %q: %w", maxValue, err)
		}
	}
	deny, _ := f.GetStringSlice("deny")
	for _, d := range deny {
		addr, err := parseAddress(d)
		if err != nil {
			return intent, policy, err
		}
		policy.DenyTo = append(policy.DenyTo, addr)
	}
	return intent, policy, nil
}

func runTxNew(cmd *cobra.Command, args []string) error {
	intent, policy, err := buildIntent(cmd)
	if err != nil {
		return err
	}
	if err := tx.Validate(intent, policy); err != nil {
		return fmt.Errorf("policy: %w", err)
	}

	rec, err := tx.NewPending(intent, rt.chains.ChainID())
	if err != nil {
		return err
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signalContext()
	defer cancel()
	if err := store.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("failed to queue transaction: %w", err)
	}

	current := rt.chains.Current()
	fmt.Printf("Queued %s %s to %s on %s\n", chain.FormatWei(intent.ValueWei), current.NativeCurrency, intent.To.Hex(), current.Name)
	fmt.Printf("Provisional hash: %s\n", rec.Hash.Hex())
	if intent.Confirm {
		fmt.Printf("Sign it with: hwsign device sign %s\n", rec.Hash.Hex())
	}
	return nil
}

func status(rec *txstore.PendingTransaction) string {
	switch {
	case rec.Error != "":
		return "error: " + rec.Error
	case rec.SignProcessed:
		return "signed"
	case rec.NeedsSigningConfirmation:
		return "held"
	default:
		return "pending"
	}
}

func runTxList(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	var chainID *big.Int
	if all, _ := cmd.Flags().GetBool("all-chains"); !all {
		chainID = rt.chains.ChainID()
	}

	ctx, cancel := signalContext()
	defer cancel()
	recs, err := store.List(ctx, chainID)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No transactions.")
		return nil
	}

	fmt.Printf("%-12s  %-6s  %-12s  %-12s  %18s  %-15s  %s\n", "HASH", "NONCE", "FROM", "TO", "VALUE", "SOURCE", "STATUS")
	fmt.Println(strings.Repeat("─", 100))
	for _, rec := range recs {
		nonce := "-"
		if rec.Nonce != nil {
			nonce = fmt.Sprint(*rec.Nonce)
		}
		to := "-"
		if rec.Tx.To != nil {
			to = short(*rec.Tx.To)
		}
		value := chain.FormatWei(rec.Tx.Value.ToInt())
		if c, ok := rt.chains.FindByID(rec.ChainID.Uint64()); ok {
			value += " " + c.NativeCurrency
		}
		fmt.Printf("%-12s  %-6s  %-12s  %-12s  %18s  %-15s  %s\n",
			rec.Hash.Hex()[:12], nonce, short(rec.From), to, value, rec.Source, status(rec))
	}
	return nil
}

func short(a common.Address) string {
	h := a.Hex()
	return h[:6] + "…" + h[len(h)-4:]
}

func runTxConfirm(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := signalContext()
	defer cancel()

	hash := common.HexToHash(args[0])
	rec, err := store.Get(ctx, hash)
	if errors.Is(err, txstore.ErrNotFound) {
		return fmt.Errorf("no pending transaction %s", hash.Hex())
	}
	if err != nil {
		return err
	}
	if !rec.NeedsSigningConfirmation {
		fmt.Println("Transaction is not held.")
		return nil
	}
	rec.NeedsSigningConfirmation = false
	if err := store.Upsert(ctx, rec); err != nil {
		return err
	}
	fmt.Println("Released to the signer.")
	return nil
}
