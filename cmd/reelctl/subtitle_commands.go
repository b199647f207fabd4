package main

import (
	"fmt"
	"strconv"
	"strings"

	"reelstream/internal/indexer"

	"github.com/spf13/cobra"
)

func newExportSubtitlesCommand(app *appContext) *cobra.Command {
	return &cobra.Command{
		Use:   "export-subtitles <subtitles-file-id> [output]",
		Short: "Write the stored lines of a subtitles file as SRT",
		Long:  "Writes the indexed lines of a subtitles file back as SRT, to output or to standard output.",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid subtitles file id %q", args[0])
			}
			svc, err := app.ensure(cmd.Context())
			if err != nil {
				return err
			}
			if len(args) == 1 || args[1] == "-" {
				return svc.Indexer.Export(cmd.Context(), id, cmd.OutOrStdout())
			}
			if err := svc.Indexer.ExportFile(cmd.Context(), id, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported subtitles file %d to %s\n", id, args[1])
			return nil
		},
	}
}

func newSearchCommand(app *appContext) *cobra.Command {
	var lang string
	var limit int
	cmd := &cobra.Command{
		Use:   "search <phrase>",
		Short: "Find subtitle lines containing a phrase",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.ensure(cmd.Context())
			if err != nil {
				return err
			}
			if limit <= 0 {
				limit = app.config.Search.Limit
			}
			query := strings.Join(args, " ")
			hits, err := svc.Indexer.Lookup(cmd.Context(), query, lang, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				fmt.Fprintln(out, "No matching lines")
				return nil
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Media", "Subtitles", "Lang", "Resume", "Text"},
				hitRows(hits),
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVarP(&lang, "lang", "l", "", "Language code or search configuration name")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum number of lines (default from configuration)")
	return cmd
}

func hitRows(hits []indexer.Hit) [][]string {
	rows := make([][]string, 0, len(hits))
	for _, h := range hits {
		media := "-"
		if h.MediaFileID != nil {
			media = strconv.Itoa(*h.MediaFileID)
		}
		rows = append(rows, []string{
			media,
			fmt.Sprintf("%s (#%d)", h.FileName, h.SubtitlesFileID),
			h.Language,
			h.Resume,
			h.Text,
		})
	}
	return rows
}
