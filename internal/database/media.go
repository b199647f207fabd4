package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"reelstream/pkg/models"
)

const mediaFileColumns = `id, directory, file_name, extension, size, duration, width, height, audio_codec, video_codec, title`

// UpsertDirectory inserts a library directory or updates its ignore flag, and
// replaces its allowed users. It returns the directory ID.
func (db *Database) UpsertDirectory(ctx context.Context, d *models.Directory) (int, error) {
	var id int
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO directories (path, ignored) VALUES (?, ?)
			ON CONFLICT(path) DO UPDATE SET ignored = excluded.ignored`,
			d.Path, d.Ignore)
		if err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, "SELECT id FROM directories WHERE path = ?", d.Path).Scan(&id); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM directory_users WHERE directory_id = ?", id); err != nil {
			return err
		}
		for _, u := range d.AllowedUsers {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO directory_users (directory_id, username) VALUES (?, ?)`, id, u); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.logger.WithError(err).WithField("path", d.Path).Error("Failed to upsert directory")
		return 0, err
	}
	d.ID = id
	return id, nil
}

// ListDirectories returns every directory ordered by path, ignored ones included.
func (db *Database) ListDirectories(ctx context.Context) ([]models.Directory, error) {
	return db.queryDirectories(ctx, `
		SELECT id, path, ignored FROM directories ORDER BY path`)
}

// AllowedDirectories returns the non-ignored directories a user may browse.
// Superusers see all of them.
func (db *Database) AllowedDirectories(ctx context.Context, username string, superuser bool) ([]models.Directory, error) {
	if superuser {
		return db.queryDirectories(ctx, `
			SELECT id, path, ignored FROM directories WHERE ignored = FALSE ORDER BY path`)
	}
	return db.queryDirectories(ctx, `
		SELECT d.id, d.path, d.ignored
		FROM directories d
		JOIN directory_users u ON u.directory_id = d.id
		WHERE d.ignored = FALSE AND u.username = ?
		ORDER BY d.path`, username)
}

// GetDirectory returns a directory by ID.
func (db *Database) GetDirectory(ctx context.Context, id int) (*models.Directory, error) {
	dirs, err := db.queryDirectories(ctx, "SELECT id, path, ignored FROM directories WHERE id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("directory %d: %w", id, ErrNotFound)
	}
	return &dirs[0], nil
}

func (db *Database) queryDirectories(ctx context.Context, query string, args ...any) ([]models.Directory, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dirs []models.Directory
	for rows.Next() {
		var d models.Directory
		if err := rows.Scan(&d.ID, &d.Path, &d.Ignore); err != nil {
			return nil, err
		}
		dirs = append(dirs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range dirs {
		users, err := db.directoryUsers(ctx, dirs[i].ID)
		if err != nil {
			return nil, err
		}
		dirs[i].AllowedUsers = users
	}
	return dirs, nil
}

func (db *Database) directoryUsers(ctx context.Context, id int) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT username FROM directory_users WHERE directory_id = ? ORDER BY username`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// InsertMediaFile inserts a new media file or refreshes the metadata of an
// existing one (matched by directory and file name), returning its ID.
func (db *Database) InsertMediaFile(ctx context.Context, mf *models.MediaFile) (int, error) {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO media_files (directory, file_name, extension, size, duration, width, height, audio_codec, video_codec, title)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(directory, file_name) DO UPDATE SET
			extension = excluded.extension,
			size = excluded.size,
			duration = COALESCE(excluded.duration, media_files.duration),
			width = COALESCE(excluded.width, media_files.width),
			height = COALESCE(excluded.height, media_files.height),
			audio_codec = CASE WHEN excluded.audio_codec = '' THEN media_files.audio_codec ELSE excluded.audio_codec END,
			video_codec = CASE WHEN excluded.video_codec = '' THEN media_files.video_codec ELSE excluded.video_codec END,
			title = CASE WHEN excluded.title = '' THEN media_files.title ELSE excluded.title END`,
		mf.Directory, mf.FileName, mf.Extension, mf.Size,
		nullInt64(mf.Duration), nullInt(mf.Width), nullInt(mf.Height),
		mf.AudioCodec, mf.VideoCodec, mf.Title)
	if err != nil {
		db.logger.WithError(err).WithField("file_name", mf.FileName).Error("Failed to insert media file")
		return 0, err
	}

	var id int
	err = db.conn.QueryRowContext(ctx, `
		SELECT id FROM media_files WHERE directory = ? AND file_name = ?`,
		mf.Directory, mf.FileName).Scan(&id)
	if err != nil {
		return 0, err
	}
	mf.ID = id
	return id, nil
}

// MediaFileExists reports whether a media file row exists for the location.
func (db *Database) MediaFileExists(ctx context.Context, directory, fileName string) (bool, error) {
	var count int
	if err := db.mediaFileExistsStmt.QueryRowContext(ctx, directory, fileName).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetMediaFile returns a single media file by its ID.
func (db *Database) GetMediaFile(ctx context.Context, id int) (*models.MediaFile, error) {
	mf, err := scanMediaFile(db.getMediaFileStmt.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("media file %d: %w", id, ErrNotFound)
		}
		db.logger.WithError(err).WithField("media_file_id", id).Error("Failed to get media file")
		return nil, err
	}
	return mf, nil
}

// ListMediaFilesUnder returns the media files stored in path or any of its
// subdirectories, ordered by file name.
func (db *Database) ListMediaFilesUnder(ctx context.Context, path string) ([]models.MediaFile, error) {
	path = strings.TrimRight(path, "/")
	prefix := path + "/"
	// substr and length both count characters on TEXT, so the prefix length is
	// measured by sqlite rather than in Go bytes
	return db.queryMediaFiles(ctx, `
		SELECT `+mediaFileColumns+`
		FROM media_files
		WHERE directory = ? OR substr(directory, 1, length(?)) = ?
		ORDER BY file_name`, path, prefix, prefix)
}

// ListMediaFilesInDirectory returns the media files stored directly in directory.
func (db *Database) ListMediaFilesInDirectory(ctx context.Context, directory string) ([]models.MediaFile, error) {
	return db.queryMediaFiles(ctx, `
		SELECT `+mediaFileColumns+`
		FROM media_files WHERE directory = ? ORDER BY file_name`, directory)
}

// DeleteMediaFile removes a media file row; playback entries go with it.
func (db *Database) DeleteMediaFile(ctx context.Context, id int) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM media_files WHERE id = ?", id)
	return err
}

// DeleteMediaFileByPath removes the media file row for a location, if any.
func (db *Database) DeleteMediaFileByPath(ctx context.Context, directory, fileName string) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM media_files WHERE directory = ? AND file_name = ?`, directory, fileName)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (db *Database) queryMediaFiles(ctx context.Context, query string, args ...any) ([]models.MediaFile, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []models.MediaFile
	for rows.Next() {
		mf, err := scanMediaFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *mf)
	}
	return files, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMediaFile(s scanner) (*models.MediaFile, error) {
	var mf models.MediaFile
	var duration, width, height sql.NullInt64
	err := s.Scan(&mf.ID, &mf.Directory, &mf.FileName, &mf.Extension, &mf.Size,
		&duration, &width, &height, &mf.AudioCodec, &mf.VideoCodec, &mf.Title)
	if err != nil {
		return nil, err
	}
	mf.Duration = int64Ptr(duration)
	mf.Width = intPtr(width)
	mf.Height = intPtr(height)
	return &mf, nil
}
