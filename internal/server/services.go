package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reelstream/internal/charset"
	"reelstream/internal/collector"
	"reelstream/internal/config"
	"reelstream/internal/database"
	"reelstream/internal/indexer"
	"reelstream/internal/metadata"
	"reelstream/internal/negotiate"
	"reelstream/internal/pipeline"
	"reelstream/internal/playback"
	"reelstream/internal/probe"
	"reelstream/internal/resolver"
	"reelstream/internal/streamer"
	"reelstream/internal/tools"
	"reelstream/pkg/models"

	"github.com/sirupsen/logrus"
)

// ErrNothingToRender is returned for renders of a file every client plays as is.
var ErrNothingToRender = errors.New("file is directly playable, download it instead")

// Services holds the playback pipeline components. The server and the CLI
// build them the same way from configuration.
type Services struct {
	Config     *config.Config
	DB         *database.Database
	Prober     *probe.Prober
	Normalizer *charset.Normalizer
	Builder    *pipeline.Builder
	Resolver   *resolver.Resolver
	Streamer   *streamer.Streamer
	Jobs       *streamer.Jobs
	Tracker    *playback.Tracker
	Indexer    *indexer.Indexer
	Extractor  *metadata.Extractor
	Collector  *collector.Collector
	Scheduler  *collector.Scheduler
	logger     *logrus.Logger
}

// NewServices wires every component. Background renders run under ctx.
func NewServices(ctx context.Context, cfg *config.Config, db *database.Database, runner tools.Runner, logger *logrus.Logger) (*Services, error) {
	ttl, err := cfg.ProbeCacheTTL()
	if err != nil {
		return nil, fmt.Errorf("probe cache ttl: %w", err)
	}

	s := &Services{Config: cfg, DB: db, logger: logger}
	s.Prober = probe.NewProber(runner, cfg.Tools.Mediainfo, cfg.Tools.Mkvinfo, ttl, logger)
	s.Normalizer = charset.NewNormalizer(runner, cfg.Tools.File, logger)
	s.Builder = pipeline.NewBuilder(cfg.Tools.Ffmpeg, cfg.Transcode.Threads)
	s.Resolver = resolver.New(runner, s.Normalizer, s.Builder, resolver.Options{
		TempDir:       cfg.Subtitles.TempDir,
		MkvextractCmd: cfg.Tools.Mkvextract,
		Padding:       cfg.Subtitles.Padding,
		Margin:        cfg.Subtitles.Margin,
	}, logger)
	s.Streamer = streamer.New(db, logger)
	s.Jobs = streamer.NewJobs(ctx, s.Streamer)
	s.Tracker = playback.NewTracker(db, logger)
	s.Indexer = indexer.New(db, SearchConfigs(cfg.Search), logger)

	var inspector metadata.Inspector
	if cfg.Library.ProbeOnCollect {
		inspector = s.Prober
	}
	s.Extractor = metadata.NewExtractor(cfg.Library.VideoFormats, cfg.Library.SubtitleFormats, inspector, logger)
	s.Collector = collector.New(db, s.Extractor, s.Indexer, logger)

	s.Scheduler, err = collector.NewScheduler(s.Collector, cfg.Collector.Schedule, cfg.Collector.LockFile, s.CollectOptions(), logger)
	if err != nil {
		s.Prober.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the prober cache and waits for background renders.
func (s *Services) Close() {
	s.Jobs.Wait()
	s.Prober.Close()
}

// CollectOptions are the collection settings from configuration.
func (s *Services) CollectOptions() collector.Options {
	return collector.Options{
		RemoveMissing: s.Config.Library.RemoveMissing,
		Workers:       s.Config.Collector.Workers,
	}
}

// LibraryDirectories converts the configured roots to directory rows.
func LibraryDirectories(cfg *config.Config) []models.Directory {
	dirs := make([]models.Directory, 0, len(cfg.Library.Directories))
	for _, d := range cfg.Library.Directories {
		dirs = append(dirs, models.Directory{
			Path:         filepath.Clean(d.Path),
			Ignore:       d.Ignore,
			AllowedUsers: d.AllowedUsers,
		})
	}
	return dirs
}

// SearchConfigs builds the indexer language table, falling back to the
// built-in one for whatever the configuration leaves empty.
func SearchConfigs(cfg config.SearchConfig) *indexer.Configs {
	languages := cfg.Languages
	if len(languages) == 0 {
		languages = indexer.DefaultLanguages
	}

	configs := indexer.DefaultSearchConfigs()
	if len(cfg.Configurations) > 0 {
		configs = make([]indexer.SearchConfig, 0, len(cfg.Configurations))
		for _, e := range cfg.Configurations {
			configs = append(configs, indexer.SearchConfig{
				Name:        e.Name,
				Language:    e.LanguageTag(),
				Stopwords:   e.Stopwords,
				FoldAccents: e.FoldAccents,
			})
		}
	}
	return indexer.NewConfigs(languages, configs)
}

// PlayRequest is one playback or render of a media file.
type PlayRequest struct {
	Media  *models.MediaFile
	Seek   float64
	Tracks []models.SubtitleTrack
	Client negotiate.Client
	Prefs  *models.UserPreferences
}

// Decide negotiates pass-through or transcode for req.
func (s *Services) Decide(req PlayRequest) negotiate.Decision {
	return negotiate.Negotiate(negotiate.Request{
		Media:     req.Media,
		Seek:      req.Seek,
		Subtitles: len(req.Tracks),
		Client:    req.Client,
		Prefs:     req.Prefs,
	}, negotiate.Defaults{
		WebMQuality:     s.Config.Transcode.WebMQuality,
		MatroskaQuality: s.Config.Transcode.MatroskaQuality,
	})
}

// Prepare resolves the selected subtitles and builds the transcode writing to
// sink. The returned cleanup removes the subtitle temporaries and must run
// once the process has exited.
func (s *Services) Prepare(ctx context.Context, req PlayRequest, params negotiate.Params, sink pipeline.Sink) (pipeline.Invocation, func(), error) {
	res, err := s.Resolver.Resolve(ctx, req.Media, req.Tracks, req.Seek)
	if err != nil {
		return pipeline.Invocation{}, nil, err
	}
	cleanup := func() {
		if err := res.Cleanup(); err != nil {
			s.logger.WithError(err).WithField("media_file_id", req.Media.ID).Warn("Failed to remove subtitle temporaries")
		}
	}
	return s.Builder.Build(params, res.Paths, sink), cleanup, nil
}

// SubmitRender starts a background render of req into the render directory.
func (s *Services) SubmitRender(username string, req PlayRequest) (streamer.Job, error) {
	decision := s.Decide(req)
	if decision.PassThrough {
		return streamer.Job{}, ErrNothingToRender
	}
	params := decision.Params
	if err := os.MkdirAll(s.Config.Transcode.RenderDir, 0755); err != nil {
		return streamer.Job{}, fmt.Errorf("create render directory: %w", err)
	}
	output := filepath.Join(s.Config.Transcode.RenderDir, renderName(req.Media, params.Container, time.Now()))

	job := s.Jobs.Submit(username, req.Media.ID, output, func(ctx context.Context) (pipeline.Invocation, func(), error) {
		return s.Prepare(ctx, req, params, pipeline.FileSink(output))
	})
	return job, nil
}

func renderName(mf *models.MediaFile, container negotiate.Container, at time.Time) string {
	base := strings.TrimSuffix(mf.FileName, filepath.Ext(mf.FileName))
	ext := ".webm"
	if container == negotiate.Matroska {
		ext = ".mkv"
	}
	return fmt.Sprintf("%s-%s%s", base, at.Format("20060102-150405"), ext)
}
