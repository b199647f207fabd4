package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"reelstream/pkg/models"
)

const playbackColumns = `id, username, media_file_id, request_path, seek, seek_seconds, subtitles, client_ip, position, progress, created_at`

// CreatePlaybackEntry inserts a playback log entry and sets its ID.
func (db *Database) CreatePlaybackEntry(ctx context.Context, e *models.PlaybackLogEntry) error {
	subs, err := json.Marshal(e.Subtitles)
	if err != nil {
		return fmt.Errorf("encode subtitle selections: %w", err)
	}
	if e.Subtitles == nil {
		subs = []byte("[]")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO playback_log (username, media_file_id, request_path, seek, seek_seconds, subtitles, client_ip, progress, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Username, e.MediaFileID, e.RequestPath, e.Seek, e.SeekSeconds, string(subs), e.ClientIP, e.Progress, e.CreatedAt)
	if err != nil {
		db.logger.WithError(err).WithField("media_file_id", e.MediaFileID).Error("Failed to insert playback entry")
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = int(id)
	return nil
}

// LatestPlaybackEntry returns the most recent entry for the user and media file.
func (db *Database) LatestPlaybackEntry(ctx context.Context, username string, mediaFileID int) (*models.PlaybackLogEntry, error) {
	e, err := scanPlaybackEntry(db.latestPlaybackStmt.QueryRowContext(ctx, username, mediaFileID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("playback entry for media file %d: %w", mediaFileID, ErrNotFound)
		}
		return nil, err
	}
	return e, nil
}

// UpdatePlaybackPosition commits the last offset and progress of an entry.
func (db *Database) UpdatePlaybackPosition(ctx context.Context, entryID int, position float64, progress int) error {
	res, err := db.updatePositionStmt.ExecContext(ctx, position, progress, entryID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("playback entry %d: %w", entryID, ErrNotFound)
	}
	return nil
}

// LatestPositions returns, per media file, the most recent entry of the user
// that has a committed position.
func (db *Database) LatestPositions(ctx context.Context, username string, mediaFileIDs []int) (map[int]*models.PlaybackLogEntry, error) {
	out := make(map[int]*models.PlaybackLogEntry)
	if len(mediaFileIDs) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(mediaFileIDs)+1)
	args = append(args, username)
	for _, id := range mediaFileIDs {
		args = append(args, id)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+playbackColumns+`
		FROM playback_log
		WHERE id IN (
			SELECT MAX(id) FROM playback_log
			WHERE username = ? AND position IS NOT NULL AND media_file_id IN (`+placeholders(len(mediaFileIDs))+`)
			GROUP BY media_file_id
		)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanPlaybackEntry(rows)
		if err != nil {
			return nil, err
		}
		out[e.MediaFileID] = e
	}
	return out, rows.Err()
}

// ListPlaybackEntries returns a user's most recent entries, newest first.
func (db *Database) ListPlaybackEntries(ctx context.Context, username string, limit int) ([]models.PlaybackLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+playbackColumns+`
		FROM playback_log WHERE username = ?
		ORDER BY id DESC LIMIT ?`, username, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.PlaybackLogEntry
	for rows.Next() {
		e, err := scanPlaybackEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanPlaybackEntry(s scanner) (*models.PlaybackLogEntry, error) {
	var e models.PlaybackLogEntry
	var subs string
	var position sql.NullFloat64
	err := s.Scan(&e.ID, &e.Username, &e.MediaFileID, &e.RequestPath, &e.Seek, &e.SeekSeconds,
		&subs, &e.ClientIP, &position, &e.Progress, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	if subs != "" {
		if err := json.Unmarshal([]byte(subs), &e.Subtitles); err != nil {
			return nil, fmt.Errorf("decode subtitle selections of entry %d: %w", e.ID, err)
		}
	}
	if position.Valid {
		p := position.Float64
		e.Position = &p
	}
	return &e, nil
}

// GetPreferences returns the user's transcode preferences. A user without a
// row gets empty preferences, which means defaults everywhere.
func (db *Database) GetPreferences(ctx context.Context, username string) (*models.UserPreferences, error) {
	prefs := &models.UserPreferences{Username: username}
	var maxWidth, quality sql.NullInt64
	err := db.getPreferencesStmt.QueryRowContext(ctx, username).Scan(&maxWidth, &quality)
	if errors.Is(err, sql.ErrNoRows) {
		return prefs, nil
	}
	if err != nil {
		return nil, err
	}
	prefs.MaxWidth = intPtr(maxWidth)
	prefs.Quality = intPtr(quality)
	return prefs, nil
}

// SavePreferences stores the user's preferences, replacing any previous row.
func (db *Database) SavePreferences(ctx context.Context, prefs *models.UserPreferences) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO user_preferences (username, max_width, quality) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET max_width = excluded.max_width, quality = excluded.quality`,
		prefs.Username, nullInt(prefs.MaxWidth), nullInt(prefs.Quality))
	return err
}

// RecordRender writes a render audit row and sets its ID.
func (db *Database) RecordRender(ctx context.Context, a *models.RenderAudit) error {
	var finished sql.NullTime
	if a.FinishedAt != nil {
		finished = sql.NullTime{Time: *a.FinishedAt, Valid: true}
	}
	res, err := db.insertAuditStmt.ExecContext(ctx, a.JobID, a.Username, a.MediaFileID, a.Command,
		a.OutputPath, a.Status, a.Error, a.StartedAt, finished)
	if err != nil {
		db.logger.WithError(err).WithField("job_id", a.JobID).Error("Failed to record render")
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = int(id)
	return nil
}

// ListRenderAudits returns the most recent render audit rows, newest first.
func (db *Database) ListRenderAudits(ctx context.Context, limit int) ([]models.RenderAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, job_id, username, media_file_id, command, output_path, status, error, started_at, finished_at
		FROM render_audit ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []models.RenderAudit
	for rows.Next() {
		var a models.RenderAudit
		var finished sql.NullTime
		if err := rows.Scan(&a.ID, &a.JobID, &a.Username, &a.MediaFileID, &a.Command, &a.OutputPath,
			&a.Status, &a.Error, &a.StartedAt, &finished); err != nil {
			return nil, err
		}
		if finished.Valid {
			t := finished.Time
			a.FinishedAt = &t
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}
