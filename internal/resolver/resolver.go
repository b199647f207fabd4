// Package resolver turns subtitle selections into files the transcoder can burn in.
//
// Internal tracks are demuxed, every file is converted to UTF-8, dual selections get
// extended cue durations with the second track moved to the top of the screen, and a
// seek offset re-anchors cue times. Everything written lives in a per-request
// directory owned by the returned Result.
package resolver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"reelstream/internal/charset"
	"reelstream/internal/pipeline"
	"reelstream/internal/subtitle"
	"reelstream/internal/tools"
	"reelstream/pkg/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPadding = 5.0
	DefaultMargin  = 0.1
)

// codecExtensions maps demuxable subtitle codec ids to the extension of the extracted file.
var codecExtensions = map[string]string{
	"S_TEXT/UTF8": ".srt",
	"S_TEXT/ASS":  ".ass",
	"S_TEXT/SSA":  ".ass",
}

// Supported reports whether an internal track with codecID can be extracted.
func Supported(codecID string) bool {
	_, ok := codecExtensions[codecID]
	return ok
}

// Options configure a Resolver.
type Options struct {
	TempDir       string
	MkvextractCmd string
	Padding       float64
	Margin        float64
}

// Resolver prepares subtitle files for a transcode.
type Resolver struct {
	runner     tools.Runner
	normalizer *charset.Normalizer
	builder    *pipeline.Builder
	opts       Options
	logger     *logrus.Logger
}

// New creates a Resolver. The builder provides the ffmpeg binary and the re-anchoring
// arguments.
func New(runner tools.Runner, normalizer *charset.Normalizer, builder *pipeline.Builder, opts Options, logger *logrus.Logger) *Resolver {
	if opts.MkvextractCmd == "" {
		opts.MkvextractCmd = "mkvextract"
	}
	if opts.Padding <= 0 {
		opts.Padding = DefaultPadding
	}
	if opts.Margin <= 0 {
		opts.Margin = DefaultMargin
	}
	return &Resolver{
		runner:     runner,
		normalizer: normalizer,
		builder:    builder,
		opts:       opts,
		logger:     logger,
	}
}

// Result holds the resolved subtitle paths, in selection order, and the temporary
// files produced on the way.
type Result struct {
	Paths []string
	dir   string
	temps []string
}

// TempFiles lists the temporary files created for this result.
func (r *Result) TempFiles() []string {
	return r.temps
}

// Cleanup removes every temporary file. It is safe to call more than once.
func (r *Result) Cleanup() error {
	if r == nil || r.dir == "" {
		return nil
	}
	err := os.RemoveAll(r.dir)
	r.dir = ""
	r.temps = nil
	return err
}

func (r *Result) temp(ext string) string {
	p := filepath.Join(r.dir, uuid.NewString()+ext)
	r.temps = append(r.temps, p)
	return p
}

func (r *Result) track(p string) {
	r.temps = append(r.temps, p)
}

// Resolve prepares tracks for burning into mf. A track that cannot be prepared is logged
// and dropped; only a failure to create the working directory is returned as an error.
// The caller must call Cleanup on the result once the consuming process has exited.
func (res *Resolver) Resolve(ctx context.Context, mf *models.MediaFile, tracks []models.SubtitleTrack, seek float64) (*Result, error) {
	result := &Result{}
	if len(tracks) == 0 {
		return result, nil
	}

	dir, err := os.MkdirTemp(res.opts.TempDir, "reelstream-subs-")
	if err != nil {
		return nil, fmt.Errorf("create subtitle workspace: %w", err)
	}
	result.dir = dir

	dual := len(tracks) > 1
	for _, t := range tracks {
		log := res.logger.WithFields(logrus.Fields{
			"media_file_id": mf.ID,
			"selection":     selectionLabel(t),
		})

		// a dropped first selection promotes the next one to primary
		secondary := dual && len(result.Paths) == 1
		path, err := res.prepare(ctx, result, mf, t, secondary, dual, seek)
		if err != nil {
			log.WithError(err).Warn("Dropping subtitle track")
			continue
		}
		result.Paths = append(result.Paths, path)
	}
	return result, nil
}

func (res *Resolver) prepare(ctx context.Context, result *Result, mf *models.MediaFile, t models.SubtitleTrack, secondary, dual bool, seek float64) (string, error) {
	path := t.Path
	if t.IsInternal {
		extracted, err := res.extract(ctx, result, mf, t)
		if err != nil {
			return "", err
		}
		path = extracted
	}

	normalized, created, err := res.normalizer.Normalize(ctx, path, result.dir)
	if err != nil {
		return "", err
	}
	if created {
		result.track(normalized)
	}
	path = normalized

	if dual {
		path, err = res.restyle(result, path, secondary)
		if err != nil {
			return "", err
		}
	}

	if seek > 0 {
		path, err = res.reanchor(ctx, result, path, seek)
		if err != nil {
			return "", err
		}
	}
	return path, nil
}

func (res *Resolver) extract(ctx context.Context, result *Result, mf *models.MediaFile, t models.SubtitleTrack) (string, error) {
	ext, ok := codecExtensions[t.CodecID]
	if !ok {
		return "", fmt.Errorf("unsupported subtitle codec %q", t.CodecID)
	}
	out := result.temp(ext)
	spec := fmt.Sprintf("%d:%s", t.TrackIndex, out)
	if err := res.runner.Run(ctx, res.opts.MkvextractCmd, "tracks", mf.FullPath(), spec); err != nil {
		return "", fmt.Errorf("extract track %d: %w", t.TrackIndex, err)
	}
	return out, nil
}

// restyle extends cue durations for side-by-side display. The secondary track is always
// written as ASS anchored to the top of the screen.
func (res *Resolver) restyle(result *Result, path string, secondary bool) (string, error) {
	if isASS(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read ass: %w", err)
		}
		data = subtitle.ExtendASS(data, res.opts.Padding, res.opts.Margin)
		if secondary {
			data = subtitle.MoveToTop(data)
		}
		out := result.temp(".ass")
		if err := os.WriteFile(out, data, 0644); err != nil {
			return "", fmt.Errorf("write ass: %w", err)
		}
		return out, nil
	}

	cues, problems, err := subtitle.ParseSRTFile(path)
	if err != nil {
		return "", err
	}
	if len(problems) > 0 {
		res.logger.WithField("path", path).Debugf("Skipped %d malformed cues", len(problems))
	}
	cues = subtitle.ExtendDurations(cues, res.opts.Padding, res.opts.Margin)

	var buf bytes.Buffer
	ext := ".srt"
	if secondary {
		ext = ".ass"
		err = subtitle.WriteASS(&buf, cues, true)
	} else {
		err = subtitle.WriteSRT(&buf, cues)
	}
	if err != nil {
		return "", err
	}
	out := result.temp(ext)
	if err := os.WriteFile(out, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("write extended subtitle: %w", err)
	}
	return out, nil
}

// reanchor shifts cue times so the file starts at offset, matching a seeked input.
func (res *Resolver) reanchor(ctx context.Context, result *Result, path string, offset float64) (string, error) {
	format, ext := "srt", ".srt"
	if isASS(path) {
		format, ext = "ass", ".ass"
	}
	out := result.temp(ext)
	args := res.builder.ReanchorArgs(path, offset, format, out)
	if err := res.runner.Run(ctx, res.builder.Binary(), args...); err != nil {
		return "", fmt.Errorf("re-anchor subtitle: %w", err)
	}
	return out, nil
}

func isASS(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".ass" || ext == ".ssa"
}

func selectionLabel(t models.SubtitleTrack) string {
	if t.Label != "" {
		return t.Label
	}
	if t.IsInternal {
		return fmt.Sprintf("track:%d", t.TrackIndex)
	}
	return filepath.Base(t.Path)
}
