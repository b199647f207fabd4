package collector

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"reelstream/internal/database"
	"reelstream/internal/indexer"
	"reelstream/internal/metadata"
	"reelstream/pkg/models"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSRT = "1\n00:00:10,000 --> 00:00:12,000\nWe want the money.\n"

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fixture struct {
	db        *database.Database
	collector *Collector
	root      string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := quietLogger()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	extractor := metadata.NewExtractor(nil, nil, nil, logger)
	ix := indexer.New(db, nil, logger)
	return &fixture{db: db, collector: New(db, extractor, ix, logger), root: t.TempDir()}
}

func (f *fixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(f.root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCollectMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "heat.mkv", "video")
	f.write(t, "noir/laura.mp4", "video")
	f.write(t, "noir/notes.txt", "text")
	f.write(t, ".hidden/secret.mkv", "video")
	f.write(t, "private/home.mkv", "video")

	require.NoError(t, f.collector.SyncDirectories(ctx, []models.Directory{
		{Path: f.root, AllowedUsers: []string{"alice"}},
		{Path: filepath.Join(f.root, "private"), Ignore: true},
	}))

	stats, err := f.collector.CollectMedia(ctx, f.root, Options{Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Added)
	assert.Zero(t, stats.Failed)

	files, err := f.db.ListMediaFilesUnder(ctx, f.root)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "heat.mkv", files[0].FileName)
	assert.Equal(t, "laura.mp4", files[1].FileName)
	assert.Equal(t, filepath.Join(f.root, "noir"), files[1].Directory)

	// second run adds nothing
	stats, err = f.collector.CollectMedia(ctx, f.root, Options{})
	require.NoError(t, err)
	assert.Zero(t, stats.Added)

	require.NoError(t, os.Remove(filepath.Join(f.root, "heat.mkv")))
	stats, err = f.collector.CollectMedia(ctx, f.root, Options{RemoveMissing: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Removed)

	files, _ = f.db.ListMediaFilesUnder(ctx, f.root)
	assert.Len(t, files, 1)
}

func TestCollectMediaMissingRoot(t *testing.T) {
	f := newFixture(t)
	_, err := f.collector.CollectMedia(context.Background(), filepath.Join(f.root, "nope"), Options{})
	assert.Error(t, err)
}

func TestCollectSubtitlesLinksMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.write(t, "heat.mkv", "video")
	f.write(t, "heat.eng.srt", sampleSRT)
	f.write(t, "broken.srt", "")
	require.NoError(t, f.collector.SyncDirectories(ctx, []models.Directory{{Path: f.root}}))

	stats, err := f.collector.CollectAll(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Added)
	assert.Equal(t, int64(2), stats.Indexed)

	files, _ := f.db.ListMediaFilesUnder(ctx, f.root)
	require.Len(t, files, 1)
	subs, err := f.db.ListSubtitlesForMediaFile(ctx, files[0].ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "english", subs[0].Language)

	stats, err = f.collector.CollectSubtitles(ctx, f.root)
	require.NoError(t, err)
	assert.Zero(t, stats.Indexed, "already indexed files are skipped")
}

func TestSchedulerRunOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.write(t, "heat.mkv", "video")
	require.NoError(t, f.collector.SyncDirectories(ctx, []models.Directory{{Path: f.root}}))

	lockPath := filepath.Join(t.TempDir(), "collect.lock")
	s, err := NewScheduler(f.collector, "@every 1h", lockPath, Options{}, quietLogger())
	require.NoError(t, err)
	assert.False(t, s.Next(time.Now()).IsZero())

	stats, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Added)

	f.write(t, "ronin.mkv", "video")
	stats, err = s.RunDirectory(ctx, f.root)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Added)

	other := flock.New(lockPath)
	ok, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer other.Unlock()

	_, err = s.RunOnce(ctx)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestSchedulerDisabledAndInvalid(t *testing.T) {
	f := newFixture(t)
	lockPath := filepath.Join(t.TempDir(), "collect.lock")

	s, err := NewScheduler(f.collector, "", lockPath, Options{}, quietLogger())
	require.NoError(t, err)
	assert.True(t, s.Next(time.Now()).IsZero())
	s.Start()
	s.Stop()

	_, err = NewScheduler(f.collector, "every tuesday", lockPath, Options{}, quietLogger())
	assert.Error(t, err)
}

func TestWatcher(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w, err := NewWatcher(f.collector, 10*time.Millisecond, quietLogger())
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx, []string{f.root}))

	path := f.write(t, "new.mkv", "video")
	require.Eventually(t, func() bool {
		ok, _ := f.db.MediaFileExists(ctx, f.root, "new.mkv")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	f.write(t, "new.eng.srt", sampleSRT)
	require.Eventually(t, func() bool {
		ok, _ := f.db.SubtitlesFileExists(ctx, f.root, "new.eng.srt")
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		ok, _ := f.db.MediaFileExists(ctx, f.root, "new.mkv")
		return !ok
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	w.Wait()
	assert.NoError(t, w.Close())
}
