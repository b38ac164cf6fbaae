package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/checkout-cli/internal/config"
	"github.com/xkilldash9x/checkout-cli/internal/observability"
)

var (
	cfgFile string
	cfg     *config.Config
)

// rootCmd is the base command; subcommands carry the actual workflows.
var rootCmd = &cobra.Command{
	Use:     "checkout-cli",
	Short:   "Automates bulk account provisioning and browser-driven checkout runs.",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Runs before every command: load config, then stand up logging.
		loaded, err := config.Load(viper.GetViper(), cfgFile)
		if err != nil {
			// Fallback logger so the failure itself is reported sanely.
			observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "checkout-cli"})
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded

		observability.InitializeLogger(cfg.Logger)
		observability.GetLogger().Debug("Starting checkout-cli", zap.String("version", Version))
		return nil
	},
}

// Execute runs the root command under ctx and exits non-zero on failure.
func Execute(ctx context.Context) {
	defer observability.Sync()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger := observability.GetLogger(); logger != nil {
			logger.Error("Command execution failed", zap.Error(err))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
