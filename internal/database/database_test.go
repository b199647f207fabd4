package database

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"reelstream/pkg/models"

	"github.com/sirupsen/logrus"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	db, err := NewDatabase(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr[T any](v T) *T { return &v }

func TestDatabaseReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 2; i++ {
		db, err := NewDatabase(dbPath, nil)
		if err != nil {
			t.Fatalf("Open %d failed: %v", i, err)
		}
		if err := db.Ping(context.Background()); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
		db.Close()
	}
}

func TestMediaFiles(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	mf := &models.MediaFile{
		Directory:  "/library/films",
		FileName:   "heat.mkv",
		Extension:  "mkv",
		Size:       4 << 30,
		Duration:   ptr(int64(10200)),
		Width:      ptr(1920),
		Height:     ptr(800),
		AudioCodec: "AC-3",
		VideoCodec: "AVC",
	}

	t.Run("InsertAndGet", func(t *testing.T) {
		id, err := db.InsertMediaFile(ctx, mf)
		if err != nil {
			t.Fatalf("Failed to insert media file: %v", err)
		}

		got, err := db.GetMediaFile(ctx, id)
		if err != nil {
			t.Fatalf("Failed to get media file: %v", err)
		}
		if got.FileName != "heat.mkv" || got.VideoCodec != "AVC" {
			t.Errorf("Unexpected media file %+v", got)
		}
		if got.Width == nil || *got.Width != 1920 {
			t.Errorf("Expected width 1920, got %v", got.Width)
		}
		if got.DurationSeconds() != 10200 {
			t.Errorf("Expected duration 10200, got %d", got.DurationSeconds())
		}
	})

	t.Run("UpsertKeepsIdentity", func(t *testing.T) {
		again := &models.MediaFile{Directory: mf.Directory, FileName: mf.FileName, Extension: "mkv", Size: 1, Title: "Heat"}
		id, err := db.InsertMediaFile(ctx, again)
		if err != nil {
			t.Fatalf("Failed to upsert media file: %v", err)
		}
		if id != mf.ID {
			t.Errorf("Expected id %d, got %d", mf.ID, id)
		}
		got, _ := db.GetMediaFile(ctx, id)
		if got.Title != "Heat" || got.VideoCodec != "AVC" || got.Width == nil {
			t.Errorf("Upsert should keep probed metadata and add title, got %+v", got)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := db.GetMediaFile(ctx, 9999)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("ListUnder", func(t *testing.T) {
		for _, f := range []*models.MediaFile{
			{Directory: "/library/films/noir", FileName: "laura.mp4", Extension: "mp4"},
			{Directory: "/library/filmsextra", FileName: "bonus.mp4", Extension: "mp4"},
		} {
			if _, err := db.InsertMediaFile(ctx, f); err != nil {
				t.Fatalf("Failed to insert: %v", err)
			}
		}

		files, err := db.ListMediaFilesUnder(ctx, "/library/films/")
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(files) != 2 {
			t.Fatalf("Expected 2 files, got %d", len(files))
		}
		if files[0].FileName != "heat.mkv" || files[1].FileName != "laura.mp4" {
			t.Errorf("Unexpected order: %s, %s", files[0].FileName, files[1].FileName)
		}

		direct, err := db.ListMediaFilesInDirectory(ctx, "/library/films")
		if err != nil {
			t.Fatalf("Failed to list directory: %v", err)
		}
		if len(direct) != 1 {
			t.Errorf("Expected 1 direct file, got %d", len(direct))
		}
	})

	t.Run("ExistsAndDelete", func(t *testing.T) {
		ok, err := db.MediaFileExists(ctx, "/library/films/noir", "laura.mp4")
		if err != nil || !ok {
			t.Fatalf("Expected file to exist: %v", err)
		}
		deleted, err := db.DeleteMediaFileByPath(ctx, "/library/films/noir", "laura.mp4")
		if err != nil || !deleted {
			t.Fatalf("Expected delete to succeed: %v", err)
		}
		ok, _ = db.MediaFileExists(ctx, "/library/films/noir", "laura.mp4")
		if ok {
			t.Error("Expected file to be gone")
		}
	})
}

func TestDirectories(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	dirs := []*models.Directory{
		{Path: "/library/films", AllowedUsers: []string{"alice", "bob"}},
		{Path: "/library/series", AllowedUsers: []string{"bob"}},
		{Path: "/library/private", Ignore: true, AllowedUsers: []string{"alice"}},
	}
	for _, d := range dirs {
		if _, err := db.UpsertDirectory(ctx, d); err != nil {
			t.Fatalf("Failed to upsert directory: %v", err)
		}
	}

	tests := []struct {
		user      string
		superuser bool
		want      int
	}{
		{"alice", false, 1},
		{"bob", false, 2},
		{"carol", false, 0},
		{"root", true, 2},
	}
	for _, tt := range tests {
		t.Run(tt.user, func(t *testing.T) {
			got, err := db.AllowedDirectories(ctx, tt.user, tt.superuser)
			if err != nil {
				t.Fatalf("AllowedDirectories failed: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("Expected %d directories, got %d", tt.want, len(got))
			}
		})
	}

	// Re-upsert replaces allowed users
	dirs[0].AllowedUsers = []string{"carol"}
	if _, err := db.UpsertDirectory(ctx, dirs[0]); err != nil {
		t.Fatalf("Failed to re-upsert: %v", err)
	}
	got, err := db.GetDirectory(ctx, dirs[0].ID)
	if err != nil {
		t.Fatalf("GetDirectory failed: %v", err)
	}
	if len(got.AllowedUsers) != 1 || got.AllowedUsers[0] != "carol" {
		t.Errorf("Expected only carol, got %v", got.AllowedUsers)
	}

	all, _ := db.ListDirectories(ctx)
	if len(all) != 3 {
		t.Errorf("Expected 3 directories, got %d", len(all))
	}

	if _, err := db.GetDirectory(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestPlaybackLog(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	a := &models.MediaFile{Directory: "/library", FileName: "a.mkv", Extension: "mkv"}
	b := &models.MediaFile{Directory: "/library", FileName: "b.mkv", Extension: "mkv"}
	db.InsertMediaFile(ctx, a)
	db.InsertMediaFile(ctx, b)

	first := &models.PlaybackLogEntry{Username: "alice", MediaFileID: a.ID, Seek: "00:15:00", SeekSeconds: 900, Subtitles: []string{"12", "track:3"}}
	if err := db.CreatePlaybackEntry(ctx, first); err != nil {
		t.Fatalf("Failed to create entry: %v", err)
	}
	second := &models.PlaybackLogEntry{Username: "alice", MediaFileID: a.ID, ClientIP: "10.0.0.2"}
	if err := db.CreatePlaybackEntry(ctx, second); err != nil {
		t.Fatalf("Failed to create entry: %v", err)
	}
	if err := db.CreatePlaybackEntry(ctx, &models.PlaybackLogEntry{Username: "alice", MediaFileID: b.ID}); err != nil {
		t.Fatalf("Failed to create entry: %v", err)
	}

	latest, err := db.LatestPlaybackEntry(ctx, "alice", a.ID)
	if err != nil {
		t.Fatalf("LatestPlaybackEntry failed: %v", err)
	}
	if latest.ID != second.ID || latest.ClientIP != "10.0.0.2" {
		t.Errorf("Expected latest entry %d, got %+v", second.ID, latest)
	}
	if latest.Position != nil {
		t.Error("Expected no committed position")
	}

	if err := db.UpdatePlaybackPosition(ctx, first.ID, 75.5, 27); err != nil {
		t.Fatalf("UpdatePlaybackPosition failed: %v", err)
	}
	if err := db.UpdatePlaybackPosition(ctx, 999, 1, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	positions, err := db.LatestPositions(ctx, "alice", []int{a.ID, b.ID})
	if err != nil {
		t.Fatalf("LatestPositions failed: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("Expected 1 position, got %d", len(positions))
	}
	got := positions[a.ID]
	if got == nil || got.Position == nil || *got.Position != 75.5 || got.Progress != 27 {
		t.Errorf("Unexpected position entry %+v", got)
	}
	if len(got.Subtitles) != 2 || got.Subtitles[1] != "track:3" {
		t.Errorf("Expected subtitle selections to round trip, got %v", got.Subtitles)
	}

	if _, err := db.LatestPlaybackEntry(ctx, "bob", a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	entries, _ := db.ListPlaybackEntries(ctx, "alice", 0)
	if len(entries) != 3 {
		t.Errorf("Expected 3 entries, got %d", len(entries))
	}
}

func TestSubtitlesIngestAndSearch(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	mf := &models.MediaFile{Directory: "/library", FileName: "heat.mkv", Extension: "mkv"}
	db.InsertMediaFile(ctx, mf)

	sf := &models.SubtitlesFile{Directory: "/library", FileName: "heat.eng.srt", Extension: "srt", MediaFileID: &mf.ID, Language: "english"}
	lines := []IndexedLine{
		{Line: models.SubtitleLine{Index: 2, Start: 20, End: 22, Text: "Cross the line", SearchConfig: "english", Vector: "cross line"}, Terms: []string{"cross", "line"}},
		{Line: models.SubtitleLine{Index: 1, Start: 10, End: 12, Text: "Don't let yourself get attached", SearchConfig: "english", Vector: "let get attach"}, Terms: []string{"let", "get", "attach"}},
	}

	created, err := db.IngestSubtitles(ctx, sf, lines)
	if err != nil || !created {
		t.Fatalf("Expected ingest to create file: %v", err)
	}

	created, err = db.IngestSubtitles(ctx, &models.SubtitlesFile{Directory: "/library", FileName: "heat.eng.srt", Extension: "srt", Language: "english"}, lines)
	if err != nil || created {
		t.Fatalf("Expected second ingest to be a no-op, created=%v err=%v", created, err)
	}

	simple := &models.SubtitlesFile{Directory: "/library", FileName: "other.srt", Extension: "srt", Language: "simple"}
	if _, err := db.IngestSubtitles(ctx, simple, []IndexedLine{
		{Line: models.SubtitleLine{Index: 1, Start: 3, End: 4, Text: "cross roads", SearchConfig: "simple", Vector: "cross roads"}, Terms: []string{"cross", "roads"}},
	}); err != nil {
		t.Fatalf("Failed to ingest simple file: %v", err)
	}

	ok, _ := db.SubtitlesFileExists(ctx, "/library", "heat.eng.srt")
	if !ok {
		t.Error("Expected subtitles file to exist")
	}

	stored, err := db.GetSubtitleLines(ctx, sf.ID)
	if err != nil {
		t.Fatalf("GetSubtitleLines failed: %v", err)
	}
	if len(stored) != 2 || stored[0].Start != 10 {
		t.Errorf("Expected lines ordered by start, got %+v", stored)
	}

	tests := []struct {
		name   string
		terms  []string
		simple []string
		want   int
	}{
		{"all terms", []string{"cross", "line"}, nil, 1},
		{"subset misses", []string{"cross", "road"}, nil, 0},
		{"simple branch", []string{"roads"}, []string{"cross", "roads"}, 1},
		{"both", []string{"cross"}, []string{"cross"}, 2},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hits, err := db.SearchLines(ctx, tt.terms, tt.simple, 10)
			if err != nil {
				t.Fatalf("SearchLines failed: %v", err)
			}
			if len(hits) != tt.want {
				t.Errorf("Expected %d hits, got %d", tt.want, len(hits))
			}
		})
	}

	hits, _ := db.SearchLines(ctx, []string{"attach"}, nil, 10)
	if len(hits) != 1 || hits[0].MediaFileID == nil || *hits[0].MediaFileID != mf.ID || hits[0].Language != "english" {
		t.Errorf("Unexpected hit %+v", hits)
	}

	linked, _ := db.ListSubtitlesForMediaFile(ctx, mf.ID)
	if len(linked) != 1 {
		t.Errorf("Expected 1 linked subtitles file, got %d", len(linked))
	}

	if err := db.DeleteSubtitlesFile(ctx, sf.ID); err != nil {
		t.Fatalf("DeleteSubtitlesFile failed: %v", err)
	}
	if _, err := db.GetSubtitlesFile(ctx, sf.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	hits, _ = db.SearchLines(ctx, []string{"attach"}, nil, 10)
	if len(hits) != 0 {
		t.Errorf("Expected lines to be deleted with their file, got %d", len(hits))
	}
}

func TestPreferencesAndAudit(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	prefs, err := db.GetPreferences(ctx, "alice")
	if err != nil {
		t.Fatalf("GetPreferences failed: %v", err)
	}
	if prefs.MaxWidth != nil || prefs.Quality != nil {
		t.Errorf("Expected empty preferences, got %+v", prefs)
	}

	if err := db.SavePreferences(ctx, &models.UserPreferences{Username: "alice", MaxWidth: ptr(1280)}); err != nil {
		t.Fatalf("SavePreferences failed: %v", err)
	}
	prefs, _ = db.GetPreferences(ctx, "alice")
	if prefs.MaxWidth == nil || *prefs.MaxWidth != 1280 || prefs.Quality != nil {
		t.Errorf("Unexpected preferences %+v", prefs)
	}

	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	finished := started.Add(30 * time.Second)
	audit := &models.RenderAudit{
		JobID:       "job-1",
		Username:    "alice",
		MediaFileID: 3,
		Command:     "ffmpeg -i /library/a.mkv -f webm -y /tmp/a.webm",
		OutputPath:  "/tmp/a.webm",
		Status:      "completed",
		StartedAt:   started,
		FinishedAt:  &finished,
	}
	if err := db.RecordRender(ctx, audit); err != nil {
		t.Fatalf("RecordRender failed: %v", err)
	}
	if audit.ID == 0 {
		t.Error("Expected audit id to be set")
	}

	audits, err := db.ListRenderAudits(ctx, 10)
	if err != nil {
		t.Fatalf("ListRenderAudits failed: %v", err)
	}
	if len(audits) != 1 || audits[0].Command != audit.Command {
		t.Fatalf("Unexpected audits %+v", audits)
	}
	if audits[0].FinishedAt == nil || !audits[0].FinishedAt.Equal(finished) {
		t.Errorf("Expected finished %v, got %v", finished, audits[0].FinishedAt)
	}
}

func TestListMediaFilesUnderMultibyteRoot(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	for _, f := range []*models.MediaFile{
		{Directory: "/películas", FileName: "a.mkv", Extension: "mkv"},
		{Directory: "/películas/acción", FileName: "b.mkv", Extension: "mkv"},
		{Directory: "/películasextra", FileName: "c.mkv", Extension: "mkv"},
		{Directory: "/movies", FileName: "d.mkv", Extension: "mkv"},
		{Directory: "/movies/action", FileName: "e.mkv", Extension: "mkv"},
	} {
		if _, err := db.InsertMediaFile(ctx, f); err != nil {
			t.Fatalf("Failed to insert: %v", err)
		}
	}

	tests := []struct {
		root string
		want []string
	}{
		{"/películas", []string{"a.mkv", "b.mkv"}},
		{"/películas/", []string{"a.mkv", "b.mkv"}},
		{"/películas/acción", []string{"b.mkv"}},
		{"/movies", []string{"d.mkv", "e.mkv"}},
	}
	for _, tt := range tests {
		t.Run(tt.root, func(t *testing.T) {
			files, err := db.ListMediaFilesUnder(ctx, tt.root)
			if err != nil {
				t.Fatalf("ListMediaFilesUnder failed: %v", err)
			}
			var got []string
			for _, f := range files {
				got = append(got, f.FileName)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Expected %v, got %v", tt.want, got)
				}
			}
		})
	}
}

func TestIngestSubtitlesIsAllOrNothing(t *testing.T) {
	db := newTestDatabase(t)
	ctx := context.Background()

	sf := &models.SubtitlesFile{Directory: "/library", FileName: "broken.srt", Extension: "srt", Language: "english"}
	lines := []IndexedLine{
		{Line: models.SubtitleLine{Index: 1, Start: 1, End: 2, Text: "fine", SearchConfig: "english", Vector: "fine"}, Terms: []string{"fine"}},
		// a repeated term on one line violates the (line_id, term) key
		{Line: models.SubtitleLine{Index: 2, Start: 3, End: 4, Text: "again again", SearchConfig: "english", Vector: "again again"}, Terms: []string{"again", "again"}},
	}

	created, err := db.IngestSubtitles(ctx, sf, lines)
	if err == nil || created {
		t.Fatalf("Expected ingest to fail, created=%v err=%v", created, err)
	}

	for _, table := range []string{"subtitles_files", "subtitle_lines", "subtitle_line_terms"} {
		var count int
		if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Fatalf("Count %s failed: %v", table, err)
		}
		if count != 0 {
			t.Errorf("Expected no rows left in %s, got %d", table, count)
		}
	}

	if ok, _ := db.SubtitlesFileExists(ctx, "/library", "broken.srt"); ok {
		t.Error("A failed ingest must leave the file collectable again")
	}

	lines[1].Terms = []string{"again"}
	created, err = db.IngestSubtitles(ctx, sf, lines)
	if err != nil || !created {
		t.Fatalf("Expected retry to succeed, created=%v err=%v", created, err)
	}
}
