package collector

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultSettleDelay is how long a new file is left alone before it is read,
// so copies in progress are not probed half written.
const DefaultSettleDelay = 500 * time.Millisecond

// Watcher reacts to file system changes under the library directories.
type Watcher struct {
	collector *Collector
	watcher   *fsnotify.Watcher
	settle    time.Duration
	logger    *logrus.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewWatcher creates a watcher. Nothing is watched until Start.
func NewWatcher(c *Collector, settle time.Duration, logger *logrus.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if settle < 0 {
		settle = DefaultSettleDelay
	}
	return &Watcher{collector: c, watcher: fw, settle: settle, logger: logger}, nil
}

// Start watches every root recursively and dispatches events until ctx is
// done or Close is called.
func (w *Watcher) Start(ctx context.Context, roots []string) error {
	for _, root := range roots {
		if err := w.addDirectory(root); err != nil {
			return err
		}
		w.logger.WithField("directory", root).Info("File watcher started")
	}

	w.wg.Add(1)
	go w.watchFiles(ctx)
	return nil
}

// addDirectory recursively walks and adds subdirectories to the watcher.
func (w *Watcher) addDirectory(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return w.watcher.Add(path)
		}
		return nil
	})
}

// watchFiles selects on watcher channels and dispatches events.
func (w *Watcher) watchFiles(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			w.Close()
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Error("File watcher error")
		}
	}
}

// handleEvent applies filtering & delegates creation/removal actions.
func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	// Ignore temporary files and hidden files
	fileName := filepath.Base(event.Name)
	if strings.HasPrefix(fileName, ".") || strings.HasSuffix(fileName, ".tmp") || strings.HasSuffix(fileName, ".part") {
		return
	}

	extractor := w.collector.extractor
	isVideo := extractor.IsVideoFile(event.Name)
	isSubtitle := extractor.IsSubtitleFile(event.Name)

	switch {
	case (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) && isVideo:
		w.dispatch(ctx, event.Name, func(path string) {
			w.collector.CollectFile(ctx, path)
		})

	case (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)) && isSubtitle:
		w.dispatch(ctx, event.Name, func(path string) {
			w.collector.IndexFile(ctx, path)
		})

	case (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) && isVideo:
		path := event.Name
		removed, err := w.collector.RemoveFile(ctx, path)
		if err != nil {
			w.logger.WithError(err).WithField("file_path", path).Error("Error removing media file from database")
		} else if removed {
			w.logger.WithField("file_path", path).Info("Removed media file from database")
		}

	case event.Has(fsnotify.Create):
		// Check if it's a new directory
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addDirectory(event.Name); err != nil {
				w.logger.WithError(err).WithField("directory", event.Name).Warn("Could not watch new directory")
				return
			}
			w.logger.WithField("directory", event.Name).Info("Watching new directory")
		}
	}
}

// dispatch runs fn after the settle delay unless the watcher stops first.
func (w *Watcher) dispatch(ctx context.Context, path string, fn func(string)) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		select {
		case <-time.After(w.settle):
		case <-ctx.Done():
			return
		}
		if _, err := os.Stat(path); err != nil {
			return
		}
		fn(path)
	}()
}

// Close stops the watcher (idempotent).
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
	})
	return err
}

// Wait blocks until the event loop and pending dispatches have finished.
func (w *Watcher) Wait() {
	w.wg.Wait()
}
