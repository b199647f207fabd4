package main

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"

	"reelstream/internal/negotiate"
	"reelstream/internal/playback"
	"reelstream/internal/server"
	"reelstream/internal/streamer"

	"github.com/spf13/cobra"
)

func newRenderCommand(app *appContext) *cobra.Command {
	var seek, format string
	var subs []string
	cmd := &cobra.Command{
		Use:   "render <media-file-id>",
		Short: "Transcode a media file with burnt-in subtitles into the render directory",
		Long: "Runs the same pipeline as streaming but writes to a file in the render directory. " +
			"Subtitles are selected with --sub, once per track: a subtitles file id, a sidecar file name or track:<n>.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid media file id %q", args[0])
			}
			svc, err := app.ensure(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			mf, err := svc.DB.GetMediaFile(ctx, id)
			if err != nil {
				return fmt.Errorf("media file %d: %w", id, err)
			}
			offset, err := playback.ParseSeek(seek, mf.DurationSeconds())
			if err != nil {
				return err
			}
			tracks, err := svc.Selections(ctx, mf, subs, false)
			if err != nil {
				return err
			}

			username := operator()
			prefs, err := svc.DB.GetPreferences(ctx, username)
			if err != nil {
				return err
			}

			job, err := svc.SubmitRender(username, server.PlayRequest{
				Media:  mf,
				Seek:   offset,
				Tracks: tracks,
				Client: negotiate.ClientFromRequest(format, ""),
				Prefs:  prefs,
			})
			if errors.Is(err, server.ErrNothingToRender) {
				return fmt.Errorf("%s: %w", mf.FileName, err)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Rendering %s to %s\n", mf.FileName, job.OutputPath)

			svc.Jobs.Wait()
			job, _ = svc.Jobs.Get(job.ID)
			if job.Status != streamer.StatusCompleted {
				return fmt.Errorf("render failed: %s", job.Error)
			}
			fmt.Fprintln(cmd.OutOrStdout(), job.OutputPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&seek, "goto", "g", "", "Start offset: HH:MM:SS, MM:SS, seconds or NN%")
	cmd.Flags().StringArrayVarP(&subs, "sub", "s", nil, "Subtitle to burn in (repeatable, at most 2)")
	cmd.Flags().StringVarP(&format, "format", "f", "webm", "Output container: webm or matroska")
	return cmd
}

// operator names the render in the audit log.
func operator() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "reelctl"
}
