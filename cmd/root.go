// Package cmd defines and implements the CLI commands for the pricedb executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/vm-pricedb/internal/config"
	"github.com/JakeFAU/vm-pricedb/internal/pricedb"
	"github.com/JakeFAU/vm-pricedb/internal/server"
)

// configKeyType is the key for storing the loaded Config in the context.
type configKeyType string

const configKey configKeyType = "config"

// App is the part of the application the commands drive. Tests inject fakes
// through newApp.
type App interface {
	RunOnce(ctx context.Context) (pricedb.Run, error)
	Serve(ctx context.Context) error
	Close(ctx context.Context) error
}

var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "pricedb",
		Short: "Builds a database of Azure VM shapes and hourly prices.",
		Long: `pricedb lists the regions of a subscription, pulls the VM SKU catalog
and the retail price list of every region in parallel, and writes the merged
records as one JSON database.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), configKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables use the PRICEDB_ prefix)")

	cmd.AddCommand(newBuildCmd(), newServeCmd(), newReportCmd())
	return cmd
}

func resolveConfig(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(configKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		os.Exit(1)
	}
}
