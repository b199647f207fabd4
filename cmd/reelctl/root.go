package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string
	app := newAppContext(&configFlag)
	var stop context.CancelFunc

	rootCmd := &cobra.Command{
		Use:           "reelctl",
		Short:         "Manage a reelstream media library",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var ctx context.Context
			ctx, stop = signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if stop != nil {
				stop()
			}
			return app.Close()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Configuration file path (default ./config.toml)")

	rootCmd.AddCommand(newCollectMediaCommand(app))
	rootCmd.AddCommand(newCollectSubtitlesCommand(app))
	rootCmd.AddCommand(newExportSubtitlesCommand(app))
	rootCmd.AddCommand(newSearchCommand(app))
	rootCmd.AddCommand(newRenderCommand(app))

	return rootCmd
}
