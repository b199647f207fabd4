package main

import (
	"context"
	"fmt"
	"io"

	"reelstream/internal/collector"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newCollectMediaCommand(app *appContext) *cobra.Command {
	var removeMissing bool
	cmd := &cobra.Command{
		Use:   "collect-media [directory...]",
		Short: "Store new video files of the library directories",
		Long:  "Walks the configured library directories, or the given ones, and stores every video file not yet in the database.",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.ensure(cmd.Context())
			if err != nil {
				return err
			}
			opts := svc.CollectOptions()
			if cmd.Flags().Changed("remove-missing") {
				opts.RemoveMissing = removeMissing
			}
			return collectEach(cmd.Context(), app, args, cmd.OutOrStdout(), func(ctx context.Context, root string) (collector.Stats, error) {
				return svc.Collector.CollectMedia(ctx, root, opts)
			})
		},
	}
	cmd.Flags().BoolVar(&removeMissing, "remove-missing", false, "Delete rows whose file no longer exists")
	return cmd
}

func newCollectSubtitlesCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "collect-subtitles [directory...]",
		Short: "Index new subtitle files of the library directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.ensure(cmd.Context())
			if err != nil {
				return err
			}
			return collectEach(cmd.Context(), app, args, cmd.OutOrStdout(), svc.Collector.CollectSubtitles)
		},
	}
}

// collectEach runs fn for every root while holding the collection lock and
// prints one summary row per root.
func collectEach(ctx context.Context, app *appContext, args []string, out io.Writer, fn func(context.Context, string) (collector.Stats, error)) error {
	roots := app.roots(args)
	if len(roots) == 0 {
		return fmt.Errorf("no library directories configured")
	}

	rows, err := collector.WithLock(app.lock(), func() ([][]string, error) {
		var rows [][]string
		for _, root := range roots {
			stats, err := fn(ctx, root)
			if err != nil {
				return rows, fmt.Errorf("collect %s: %w", root, err)
			}
			app.logger.WithFields(logrus.Fields{
				"directory": root,
				"added":     stats.Added,
				"removed":   stats.Removed,
				"indexed":   stats.Indexed,
				"failed":    stats.Failed,
			}).Debug("Collected directory")
			rows = append(rows, []string{
				root,
				fmt.Sprint(stats.Added),
				fmt.Sprint(stats.Removed),
				fmt.Sprint(stats.Indexed),
				fmt.Sprint(stats.Failed),
			})
		}
		return rows, nil
	})
	if len(rows) > 0 {
		fmt.Fprintln(out, renderTable(
			[]string{"Directory", "Added", "Removed", "Indexed", "Failed"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
		))
	}
	return err
}
