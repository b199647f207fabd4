// Package playback records what users watch and turns committed positions into resume
// points and completion percentages.
package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"reelstream/internal/timecode"
	"reelstream/pkg/models"

	"github.com/sirupsen/logrus"
)

// ErrInvalidSeek is returned for seek values that cannot be normalized to seconds.
var ErrInvalidSeek = errors.New("invalid seek offset")

// Store persists playback log entries.
type Store interface {
	CreatePlaybackEntry(ctx context.Context, entry *models.PlaybackLogEntry) error
	// LatestPlaybackEntry returns the most recent entry for the pair or a not-found error.
	LatestPlaybackEntry(ctx context.Context, username string, mediaFileID int) (*models.PlaybackLogEntry, error)
	UpdatePlaybackPosition(ctx context.Context, entryID int, position float64, progress int) error
	// LatestPositions returns, per media file, the most recent entry with a committed position.
	LatestPositions(ctx context.Context, username string, mediaFileIDs []int) (map[int]*models.PlaybackLogEntry, error)
}

// Tracker maintains playback log entries.
type Tracker struct {
	store  Store
	feed   *Feed
	logger *logrus.Logger
	now    func() time.Time
}

// NewTracker creates a Tracker backed by store.
func NewTracker(store Store, logger *logrus.Logger) *Tracker {
	return &Tracker{store: store, feed: NewFeed(), logger: logger, now: time.Now}
}

// Activity is the feed every successful Open is published to.
func (t *Tracker) Activity() *Feed {
	return t.feed
}

// OpenRequest carries the request details recorded when a file is opened for watching.
type OpenRequest struct {
	Username    string
	RequestPath string
	Seek        string
	Subtitles   []string
	ClientIP    string
}

// Open records a new playback log entry for mf with the seek normalized to seconds.
func (t *Tracker) Open(ctx context.Context, mf *models.MediaFile, req OpenRequest) (*models.PlaybackLogEntry, error) {
	seek, err := ParseSeek(req.Seek, mf.DurationSeconds())
	if err != nil {
		return nil, err
	}

	entry := &models.PlaybackLogEntry{
		Username:    req.Username,
		MediaFileID: mf.ID,
		RequestPath: req.RequestPath,
		Seek:        req.Seek,
		SeekSeconds: seek,
		Subtitles:   req.Subtitles,
		ClientIP:    req.ClientIP,
		CreatedAt:   t.now(),
	}
	if err := t.store.CreatePlaybackEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("record playback: %w", err)
	}
	t.feed.Publish(Activity{
		User:        req.Username,
		File:        mf.FileName,
		Directory:   mf.Directory,
		MediaFileID: mf.ID,
		At:          entry.CreatedAt,
	})

	t.logger.WithFields(logrus.Fields{
		"user":          req.Username,
		"media_file_id": mf.ID,
		"seek":          seek,
	}).Debug("Opened media file for watching")
	return entry, nil
}

// ReportPosition commits offset, in seconds from the entry's seek point, to the most
// recent entry for the pair and returns the completion percentage. The percentage never
// goes down for an entry.
func (t *Tracker) ReportPosition(ctx context.Context, username string, mf *models.MediaFile, offset float64) (int, error) {
	if offset < 0 || math.IsNaN(offset) || math.IsInf(offset, 0) {
		return 0, fmt.Errorf("invalid position %v", offset)
	}

	entry, err := t.store.LatestPlaybackEntry(ctx, username, mf.ID)
	if err != nil {
		return 0, err
	}

	progress := Progress(entry.SeekSeconds, offset, mf.DurationSeconds())
	if progress < entry.Progress {
		progress = entry.Progress
	}

	if err := t.store.UpdatePlaybackPosition(ctx, entry.ID, offset, progress); err != nil {
		return 0, fmt.Errorf("commit position: %w", err)
	}
	return progress, nil
}

// ResumePoints returns the HH:MM:SS resume string for every file that has a committed
// position.
func (t *Tracker) ResumePoints(ctx context.Context, username string, files []models.MediaFile) (map[int]string, error) {
	ids := make([]int, len(files))
	for i, f := range files {
		ids[i] = f.ID
	}

	entries, err := t.store.LatestPositions(ctx, username, ids)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}

	points := make(map[int]string, len(entries))
	for id, e := range entries {
		if e.Position == nil {
			continue
		}
		points[id] = timecode.FormatClock(e.SeekSeconds + *e.Position)
	}
	return points, nil
}

// Progress is floor((seek+offset)/duration*100) clamped to [0, 100]. An unknown
// duration yields 0.
func Progress(seek, offset float64, duration int64) int {
	if duration <= 0 {
		return 0
	}
	p := int(math.Floor((seek + offset) / float64(duration) * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ParseSeek normalizes a seek value to seconds. Accepted forms are HH:MM:SS[.mmm],
// MM:SS, plain seconds and NN% of duration. An empty value means no seek.
func ParseSeek(raw string, duration int64) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}

	if pct, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil || v < 0 || v > 100 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidSeek, raw)
		}
		if duration <= 0 {
			return 0, fmt.Errorf("%w: percentage needs a known duration", ErrInvalidSeek)
		}
		return v * float64(duration) / 100, nil
	}

	switch strings.Count(s, ":") {
	case 0:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("%w: %q", ErrInvalidSeek, raw)
		}
		return v, nil
	case 1:
		s = "0:" + s
	}
	v, err := timecode.ParseCue(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSeek, raw)
	}
	return v, nil
}
