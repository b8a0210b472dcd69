package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

const closeTimeout = 10 * time.Second

func newBuildCmd() *cobra.Command {
	var (
		output   string
		regions  []string
		progress bool
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Builds the pricing database once and exits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd.Context())
			if err != nil {
				return err
			}
			if output != "" {
				cfg.Output.Path = output
			}
			if len(regions) > 0 {
				cfg.Regions = regions
			}
			if progress {
				cfg.Progress.Enabled = true
				cfg.Progress.BarEnabled = true
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			defer closeApp(cmd, app)

			run, err := app.RunOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d records to %s\n", run.Records, run.ArtifactURI)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "artifact path, overriding output.path")
	cmd.Flags().StringSliceVar(&regions, "region", nil, "region to process; repeat to list several (default: all subscription regions)")
	cmd.Flags().BoolVar(&progress, "progress", false, "draw a progress bar on stderr")
	return cmd
}

func closeApp(cmd *cobra.Command, app App) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), closeTimeout)
	defer cancel()
	if err := app.Close(ctx); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "shutdown: %v\n", err)
	}
}
