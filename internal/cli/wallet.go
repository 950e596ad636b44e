package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/yolodolo42/hwsign/internal/config"
	"github.com/yolodolo42/hwsign/internal/wallet"
)

var walletCmd = &cobra.Command{
	Use:   "wallet",
	Short: "Manage local keystore accounts",
	Long:  `Create, import, and select Ethereum accounts held in the local keystore.`,
}

var walletCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new account",
	RunE:  runWalletCreate,
}

var walletImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an account from a private key",
	RunE:  runWalletImport,
}

var walletListCmd = &cobra.Command{
	Use:   "list",
	Short: "List keystore accounts",
	RunE:  runWalletList,
}

var walletCurrentCmd = &cobra.Command{
	Use:   "current [address]",
	Short: "Show or select the current account",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWalletCurrent,
}

func init() {
	rootCmd.AddCommand(walletCmd)
	walletCmd.AddCommand(walletCreateCmd)
	walletCmd.AddCommand(walletImportCmd)
	walletCmd.AddCommand(walletListCmd)
	walletCmd.AddCommand(walletCurrentCmd)

	walletImportCmd.Flags().String("key", "", "Private key to import (hex, with or without 0x prefix)")
	walletListCmd.Flags().Bool("json", false, "Print accounts as JSON")
	walletCreateCmd.Flags().Bool("bootstrap", false, "Protect the account with the configured signing passphrase")
}

// viperSettings keeps the current address in the config file.
type viperSettings struct{}

func (viperSettings) CurrentAddress() string {
	return viper.GetString(config.KeyCurrentAddress)
}

func (viperSettings) SetCurrentAddress(address string) error {
	viper.Set(config.KeyCurrentAddress, address)
	return viper.WriteConfigAs(configPath())
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println() // newline after password input
	if err != nil {
		return "", err
	}
	return string(password), nil
}

// newPassword asks twice for a password of at least 8 characters.
func newPassword(prompt string) (string, error) {
	password, err := readPassword(prompt)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}

	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return "", fmt.Errorf("failed to read password confirmation: %w", err)
	}

	if password != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return password, nil
}

func runWalletCreate(cmd *cobra.Command, args []string) error {
	km, err := openKeystore()
	if err != nil {
		return err
	}

	password := rt.cfg.BootstrapPassphrase
	if bootstrap, _ := cmd.Flags().GetBool("bootstrap"); !bootstrap {
		if password, err = newPassword("Enter password for new account: "); err != nil {
			return err
		}
	}

	account, err := km.CreateAccount(password)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	fmt.Println("\nAccount created successfully!")
	fmt.Printf("Address: %s\n", account.Address.Hex())
	fmt.Printf("Keystore: %s\n", account.URL.Path)
	fmt.Println("\nIMPORTANT: Back up your keystore file and remember your password!")

	return nil
}

func runWalletImport(cmd *cobra.Command, args []string) error {
	privateKey, _ := cmd.Flags().GetString("key")

	if privateKey == "" {
		fmt.Print("Enter private key (hex): ")
		var input string
		_, _ = fmt.Scanln(&input)
		privateKey = strings.TrimSpace(input)
	}

	if privateKey == "" {
		return fmt.Errorf("private key is required")
	}

	km, err := openKeystore()
	if err != nil {
		return err
	}

	password, err := newPassword("Enter password to encrypt account: ")
	if err != nil {
		return err
	}

	account, err := km.ImportKey(privateKey, password)
	if err != nil {
		return fmt.Errorf("failed to import key: %w", err)
	}

	fmt.Println("\nAccount imported successfully!")
	fmt.Printf("Address: %s\n", account.Address.Hex())
	fmt.Printf("Keystore: %s\n", account.URL.Path)

	return nil
}

func runWalletList(cmd *cobra.Command, args []string) error {
	km, err := openKeystore()
	if err != nil {
		return err
	}

	accounts := km.ListAccounts()
	current := viperSettings{}.CurrentAddress()

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		out := make([]wallet.Account, len(accounts))
		for i, acc := range accounts {
			out[i] = wallet.Account{
				Address:    acc.Address.Hex(),
				SignerType: wallet.SignerTypeKeystore,
				URL:        acc.URL.String(),
				Current:    strings.EqualFold(acc.Address.Hex(), current),
			}
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(accounts) == 0 {
		fmt.Println("No accounts found.")
		fmt.Println("Use 'hwsign wallet create' to create a new account.")
		return nil
	}

	fmt.Printf("Found %d account(s):\n\n", len(accounts))
	for i, acc := range accounts {
		marker := ""
		if strings.EqualFold(acc.Address.Hex(), current) {
			marker = " (current)"
		}
		fmt.Printf("%d. %s%s\n", i+1, acc.Address.Hex(), marker)
	}

	return nil
}

func runWalletCurrent(cmd *cobra.Command, args []string) error {
	settings := viperSettings{}

	if len(args) == 1 {
		addr, err := parseAddress(args[0])
		if err != nil {
			return err
		}
		if err := settings.SetCurrentAddress(addr.Hex()); err != nil {
			return fmt.Errorf("failed to store current address: %w", err)
		}
		fmt.Printf("Current account: %s\n", addr.Hex())
		return nil
	}

	km, err := openKeystore()
	if err != nil {
		return err
	}
	addr, err := wallet.CurrentAddress(settings, km, rt.cfg.BootstrapPassphrase)
	if err != nil {
		return err
	}
	fmt.Printf("Current account: %s (%s)\n", addr.Hex(), km.Resolve(addr).Kind)
	return nil
}
