// Package collector keeps the database in step with the library directories:
// new video files are probed and stored, vanished ones are removed and subtitle
// files are handed to the indexer.
package collector

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"reelstream/internal/metadata"
	"reelstream/pkg/models"

	"github.com/sirupsen/logrus"
)

// Store is the persistence the collector writes to.
type Store interface {
	UpsertDirectory(ctx context.Context, d *models.Directory) (int, error)
	ListDirectories(ctx context.Context) ([]models.Directory, error)
	InsertMediaFile(ctx context.Context, mf *models.MediaFile) (int, error)
	MediaFileExists(ctx context.Context, directory, fileName string) (bool, error)
	ListMediaFilesUnder(ctx context.Context, path string) ([]models.MediaFile, error)
	DeleteMediaFile(ctx context.Context, id int) error
	DeleteMediaFileByPath(ctx context.Context, directory, fileName string) (bool, error)
}

// Ingester stores a subtitle file with its lines.
type Ingester interface {
	Ingest(ctx context.Context, directory, fileName string) (*models.SubtitlesFile, bool, error)
}

// Options controls a media collection run.
type Options struct {
	// RemoveMissing deletes rows whose file no longer exists.
	RemoveMissing bool
	// Workers defaults to the number of CPUs.
	Workers int
}

// Stats summarizes a collection run.
type Stats struct {
	Added   int64 `json:"added"`
	Removed int64 `json:"removed"`
	Indexed int64 `json:"indexed"`
	Failed  int64 `json:"failed"`
}

func (s *Stats) merge(o Stats) {
	s.Added += o.Added
	s.Removed += o.Removed
	s.Indexed += o.Indexed
	s.Failed += o.Failed
}

// Collector walks library directories.
type Collector struct {
	store     Store
	extractor *metadata.Extractor
	indexer   Ingester
	logger    *logrus.Logger
}

// New creates a Collector. A nil indexer disables subtitle collection.
func New(store Store, extractor *metadata.Extractor, indexer Ingester, logger *logrus.Logger) *Collector {
	return &Collector{store: store, extractor: extractor, indexer: indexer, logger: logger}
}

// SyncDirectories stores the configured library directories and their allowed users.
func (c *Collector) SyncDirectories(ctx context.Context, dirs []models.Directory) error {
	for i := range dirs {
		d := dirs[i]
		d.Path = filepath.Clean(d.Path)
		if _, err := c.store.UpsertDirectory(ctx, &d); err != nil {
			return err
		}
	}
	c.logger.WithField("count", len(dirs)).Info("Synchronized library directories")
	return nil
}

// ignoredDirectories returns the paths marked as ignored.
func (c *Collector) ignoredDirectories(ctx context.Context) (map[string]bool, error) {
	dirs, err := c.store.ListDirectories(ctx)
	if err != nil {
		return nil, err
	}
	ignored := make(map[string]bool)
	for _, d := range dirs {
		if d.Ignore {
			ignored[filepath.Clean(d.Path)] = true
		}
	}
	return ignored, nil
}

// walk calls fn for every regular file under root, skipping hidden entries
// and ignored directories.
func (c *Collector) walk(ctx context.Context, root string, fn func(path string)) error {
	ignored, err := c.ignoredDirectories(ctx)
	if err != nil {
		return err
	}
	root = filepath.Clean(root)

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			c.logger.WithError(err).WithField("path", path).Warn("Skipping unreadable path")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && (ignored[path] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		fn(path)
		return nil
	})
}

// CollectMedia stores every video file under root that is not stored yet.
func (c *Collector) CollectMedia(ctx context.Context, root string, opts Options) (Stats, error) {
	var stats Stats
	var wg sync.WaitGroup
	jobs := make(chan string, 100)

	// Start worker pool
	numWorkers := opts.Workers
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	for i := 0; i < numWorkers; i++ {
		go func() {
			for path := range jobs {
				added, err := c.CollectFile(ctx, path)
				if err != nil {
					atomic.AddInt64(&stats.Failed, 1)
				} else if added {
					atomic.AddInt64(&stats.Added, 1)
				}
				wg.Done()
			}
		}()
	}

	// Walk directory and enqueue jobs
	walkErr := c.walk(ctx, root, func(path string) {
		if c.extractor.IsVideoFile(path) {
			wg.Add(1)
			jobs <- path
		}
	})

	// Close jobs channel and wait for all workers
	close(jobs)
	wg.Wait()

	if walkErr == nil && opts.RemoveMissing {
		removed, err := c.removeMissing(ctx, root)
		stats.Removed = removed
		walkErr = err
	}

	c.logger.WithFields(logrus.Fields{
		"root":    root,
		"added":   stats.Added,
		"removed": stats.Removed,
		"failed":  stats.Failed,
	}).Info("Collected media files")
	return stats, walkErr
}

// CollectFile stores a single video file unless it is already stored.
func (c *Collector) CollectFile(ctx context.Context, path string) (bool, error) {
	dir, name := filepath.Split(path)
	dir = filepath.Clean(dir)

	exists, err := c.store.MediaFileExists(ctx, dir, name)
	if err != nil {
		c.logger.WithError(err).WithField("file_path", path).Error("Error checking if media file exists")
		return false, err
	}
	if exists {
		return false, nil
	}

	mf, err := c.extractor.ExtractFromFile(ctx, path)
	if err != nil {
		c.logger.WithError(err).WithField("file_path", path).Error("Error extracting metadata")
		return false, err
	}

	id, err := c.store.InsertMediaFile(ctx, &mf)
	if err != nil {
		c.logger.WithError(err).WithField("file_path", path).Error("Error inserting media file")
		return false, err
	}

	c.logger.WithFields(logrus.Fields{
		"file_path":  path,
		"id":         id,
		"resolution": mf.Resolution(),
		"duration":   mf.DisplayDuration(),
	}).Info("Added new media file")
	return true, nil
}

func (c *Collector) removeMissing(ctx context.Context, root string) (int64, error) {
	files, err := c.store.ListMediaFilesUnder(ctx, filepath.Clean(root))
	if err != nil {
		return 0, err
	}

	var removed int64
	for _, mf := range files {
		if _, err := os.Stat(mf.FullPath()); !errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := c.store.DeleteMediaFile(ctx, mf.ID); err != nil {
			return removed, err
		}
		removed++
		c.logger.WithField("file_path", mf.FullPath()).Info("Removed missing media file")
	}
	return removed, nil
}

// RemoveFile deletes the row of a video file that disappeared.
func (c *Collector) RemoveFile(ctx context.Context, path string) (bool, error) {
	dir, name := filepath.Split(path)
	return c.store.DeleteMediaFileByPath(ctx, filepath.Clean(dir), name)
}

// CollectSubtitles hands every subtitle file under root to the indexer.
// Files that fail are logged and counted, not fatal.
func (c *Collector) CollectSubtitles(ctx context.Context, root string) (Stats, error) {
	var stats Stats
	if c.indexer == nil {
		return stats, nil
	}

	err := c.walk(ctx, root, func(path string) {
		if !c.extractor.IsSubtitleFile(path) {
			return
		}
		created, err := c.IndexFile(ctx, path)
		switch {
		case err != nil:
			stats.Failed++
		case created:
			stats.Indexed++
		}
	})

	c.logger.WithFields(logrus.Fields{
		"root":    root,
		"indexed": stats.Indexed,
		"failed":  stats.Failed,
	}).Info("Collected subtitles")
	return stats, err
}

// IndexFile ingests one subtitle file.
func (c *Collector) IndexFile(ctx context.Context, path string) (bool, error) {
	if c.indexer == nil {
		return false, nil
	}
	dir, name := filepath.Split(path)
	_, created, err := c.indexer.Ingest(ctx, filepath.Clean(dir), name)
	if err != nil {
		c.logger.WithError(err).WithField("file_path", path).Error("Error indexing subtitles")
	}
	return created, err
}

// CollectAll collects media, then subtitles, for every directory that is not
// ignored. Subtitles go second so they can link to freshly added media.
func (c *Collector) CollectAll(ctx context.Context, opts Options) (Stats, error) {
	dirs, err := c.store.ListDirectories(ctx)
	if err != nil {
		return Stats{}, err
	}

	var total Stats
	var errs []error
	for _, d := range dirs {
		if d.Ignore {
			continue
		}
		s, err := c.CollectDirectory(ctx, d.Path, opts)
		total.merge(s)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// CollectDirectory collects media, then subtitles, under one root.
func (c *Collector) CollectDirectory(ctx context.Context, root string, opts Options) (Stats, error) {
	stats, err := c.CollectMedia(ctx, root, opts)
	if err != nil {
		return stats, err
	}
	s, err := c.CollectSubtitles(ctx, root)
	stats.merge(s)
	return stats, err
}
