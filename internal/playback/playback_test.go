package playback

import (
	"context"
	"errors"
	"io"
	"testing"

	"reelstream/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errNotFound = errors.New("not found")

type memoryStore struct {
	entries []*models.PlaybackLogEntry
}

func (m *memoryStore) CreatePlaybackEntry(ctx context.Context, e *models.PlaybackLogEntry) error {
	e.ID = len(m.entries) + 1
	m.entries = append(m.entries, e)
	return nil
}

func (m *memoryStore) LatestPlaybackEntry(ctx context.Context, username string, mediaFileID int) (*models.PlaybackLogEntry, error) {
	for i := len(m.entries) - 1; i >= 0; i-- {
		e := m.entries[i]
		if e.Username == username && e.MediaFileID == mediaFileID {
			return e, nil
		}
	}
	return nil, errNotFound
}

func (m *memoryStore) UpdatePlaybackPosition(ctx context.Context, id int, position float64, progress int) error {
	e := m.entries[id-1]
	e.Position = &position
	e.Progress = progress
	return nil
}

func (m *memoryStore) LatestPositions(ctx context.Context, username string, ids []int) (map[int]*models.PlaybackLogEntry, error) {
	out := make(map[int]*models.PlaybackLogEntry)
	for _, e := range m.entries {
		if e.Username == username && e.Position != nil {
			out[e.MediaFileID] = e
		}
	}
	return out, nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func film(id int, duration int64) *models.MediaFile {
	return &models.MediaFile{ID: id, Directory: "/library", FileName: "film.mkv", Extension: "mkv", Duration: &duration}
}

func TestParseSeek(t *testing.T) {
	tests := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "00:15:00", want: 900},
		{raw: "01:00:00.500", want: 3600.5},
		{raw: "15:30", want: 930},
		{raw: "90", want: 90},
		{raw: "12.5", want: 12.5},
		{raw: "50%", want: 1800},
		{raw: "150%", wantErr: true},
		{raw: "-5", wantErr: true},
		{raw: "abc", wantErr: true},
		{raw: "00:75:00", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseSeek(tt.raw, 3600)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSeek)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	_, err := ParseSeek("10%", 0)
	assert.ErrorIs(t, err, ErrInvalidSeek)
}

func TestProgress(t *testing.T) {
	assert.Equal(t, 50, Progress(900, 930, 3600))
	assert.Equal(t, 100, Progress(3000, 1000, 3600))
	assert.Equal(t, 0, Progress(0, 10, 0))
	assert.Equal(t, 0, Progress(0, 0, 3600))
}

func TestReportPositionAfterSeek(t *testing.T) {
	store := &memoryStore{}
	tr := NewTracker(store, quietLogger())
	mf := film(1, 3600)

	entry, err := tr.Open(context.Background(), mf, OpenRequest{Username: "alice", Seek: "00:15:00", ClientIP: "10.0.0.2"})
	require.NoError(t, err)
	assert.InDelta(t, 900, entry.SeekSeconds, 1e-9)

	progress, err := tr.ReportPosition(context.Background(), "alice", mf, 930)
	require.NoError(t, err)
	assert.Equal(t, 50, progress)
}

func TestReportPositionNeverDecreases(t *testing.T) {
	store := &memoryStore{}
	tr := NewTracker(store, quietLogger())
	mf := film(1, 1000)

	_, err := tr.Open(context.Background(), mf, OpenRequest{Username: "alice"})
	require.NoError(t, err)

	last := 0
	for _, offset := range []float64{100, 400, 250, 600, 10} {
		p, err := tr.ReportPosition(context.Background(), "alice", mf, offset)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, p, last)
		last = p
	}
	assert.Equal(t, 60, last)
	require.NotNil(t, store.entries[0].Position)
	assert.InDelta(t, 10, *store.entries[0].Position, 1e-9)
}

func TestReportPositionWithoutEntry(t *testing.T) {
	tr := NewTracker(&memoryStore{}, quietLogger())
	_, err := tr.ReportPosition(context.Background(), "alice", film(9, 100), 5)
	assert.ErrorIs(t, err, errNotFound)

	_, err = tr.ReportPosition(context.Background(), "alice", film(9, 100), -1)
	assert.Error(t, err)
}

func TestOpenRejectsBadSeek(t *testing.T) {
	tr := NewTracker(&memoryStore{}, quietLogger())
	_, err := tr.Open(context.Background(), film(1, 100), OpenRequest{Username: "alice", Seek: "soon"})
	assert.ErrorIs(t, err, ErrInvalidSeek)
}

func TestResumePoints(t *testing.T) {
	store := &memoryStore{}
	tr := NewTracker(store, quietLogger())
	a, b := film(1, 3600), film(2, 3600)

	_, err := tr.Open(context.Background(), a, OpenRequest{Username: "alice", Seek: "00:15:00"})
	require.NoError(t, err)
	_, err = tr.ReportPosition(context.Background(), "alice", a, 75.9)
	require.NoError(t, err)

	_, err = tr.Open(context.Background(), b, OpenRequest{Username: "alice"})
	require.NoError(t, err)

	points, err := tr.ResumePoints(context.Background(), "alice", []models.MediaFile{*a, *b})
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "00:16:15"}, points)
}
