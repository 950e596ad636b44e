package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/yolodolo42/hwsign/internal/chain"
	"github.com/yolodolo42/hwsign/internal/config"
	"github.com/yolodolo42/hwsign/internal/logger"
	"github.com/yolodolo42/hwsign/internal/metrics"
)

// runtime is what every command shares once configuration is loaded.
type runtime struct {
	cfg     *config.Config
	chains  *chain.Provider
	metrics *metrics.Metrics
	server  *http.Server
}

var (
	cfgFile string
	rt      *runtime

	rootCmd = &cobra.Command{
		Use:   "hwsign",
		Short: "Hardware wallet negotiation and transaction signing",
		Long: `hwsign drives a Trezor through address and signing sessions and
finalizes pending transactions: it assigns nonces, signs with local
keystore accounts or adopts device signatures, and records the final hash.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			teardown()
		},
	}
)

func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.SilenceErrors = true

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.hwsign/config.yaml)")
	flags.String("chain", "ethereum", "Network to sign for")
	flags.String("data-dir", config.DefaultDataDir(), "Keystore and database directory")
	flags.String("log-env", "development", "Log format: development or production")
	flags.String("metrics-addr", "", "Serve prometheus metrics on this address")

	_ = viper.BindPFlag(config.KeyChain, flags.Lookup("chain"))
	_ = viper.BindPFlag(config.KeyDataDir, flags.Lookup("data-dir"))
	_ = viper.BindPFlag(config.KeyLogEnv, flags.Lookup("log-env"))
	_ = viper.BindPFlag(config.KeyMetricsAddr, flags.Lookup("metrics-addr"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir := config.DefaultDataDir()
		if err := os.MkdirAll(configDir, 0700); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config directory: %v\n", err)
		}

		viper.AddConfigPath(configDir)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("HWSIGN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Silently ignore missing config file - it's optional
	_ = viper.ReadInConfig()
}

func setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.LogEnv); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	chains, err := chain.NewProvider(cfg.Chain)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	rt = &runtime{cfg: cfg, chains: chains, metrics: metrics.New()}
	if cfg.MetricsAddr != "" {
		rt.server = serveMetrics(cfg.MetricsAddr, rt.metrics)
	}
	logger.Debug("configuration loaded",
		zap.String("chain", cfg.Chain),
		zap.String("data_dir", cfg.DataDir),
		zap.String("config", viper.ConfigFileUsed()),
	)
	return nil
}

func serveMetrics(addr string, m *metrics.Metrics) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", addr))
	return srv
}

func teardown() {
	if rt != nil && rt.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = rt.server.Shutdown(ctx)
	}
	logger.Sync()
}

// configPath is where settings changed at runtime are written.
func configPath() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return filepath.Join(rt.cfg.DataDir, "config.yaml")
}
