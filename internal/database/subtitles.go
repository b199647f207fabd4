package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"reelstream/pkg/models"
)

const subtitlesFileColumns = `id, directory, file_name, extension, media_file_id, language`

// IndexedLine is a subtitle line together with the search terms it is found by.
type IndexedLine struct {
	Line  models.SubtitleLine
	Terms []string
}

// SubtitleHit is a line matched by SearchLines with its file's context.
type SubtitleHit struct {
	Line        models.SubtitleLine
	MediaFileID *int
	Language    string
	FileName    string
	Directory   string
}

// IngestSubtitles stores a subtitles file and all its lines in one transaction.
// It reports false without touching anything when a file with the same
// directory and file name is already stored.
func (db *Database) IngestSubtitles(ctx context.Context, sf *models.SubtitlesFile, lines []IndexedLine) (bool, error) {
	created := false
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO subtitles_files (directory, file_name, extension, media_file_id, language)
			VALUES (?, ?, ?, ?, ?)`,
			sf.Directory, sf.FileName, sf.Extension, nullInt(sf.MediaFileID), sf.Language)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		fileID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		sf.ID = int(fileID)

		insertLine := tx.StmtContext(ctx, db.insertLineStmt)
		insertTerm := tx.StmtContext(ctx, db.insertLineTermStmt)
		for i := range lines {
			l := &lines[i].Line
			l.SubtitlesFileID = sf.ID
			res, err := insertLine.ExecContext(ctx, sf.ID, l.Index, l.Start, l.End, l.Text, l.SearchConfig, l.Vector)
			if err != nil {
				return fmt.Errorf("insert line %d: %w", l.Index, err)
			}
			lineID, err := res.LastInsertId()
			if err != nil {
				return err
			}
			l.ID = int(lineID)

			for _, term := range lines[i].Terms {
				if _, err := insertTerm.ExecContext(ctx, lineID, term); err != nil {
					return fmt.Errorf("insert term of line %d: %w", l.Index, err)
				}
			}
		}
		created = true
		return nil
	})
	if err != nil {
		db.logger.WithError(err).WithField("file_name", sf.FileName).Error("Failed to ingest subtitles")
		return false, err
	}
	return created, nil
}

// SubtitlesFileExists reports whether a subtitles file is stored for the location.
func (db *Database) SubtitlesFileExists(ctx context.Context, directory, fileName string) (bool, error) {
	var count int
	if err := db.subtitlesExistStmt.QueryRowContext(ctx, directory, fileName).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetSubtitlesFile returns a subtitles file by ID.
func (db *Database) GetSubtitlesFile(ctx context.Context, id int) (*models.SubtitlesFile, error) {
	sf, err := scanSubtitlesFile(db.conn.QueryRowContext(ctx, `
		SELECT `+subtitlesFileColumns+` FROM subtitles_files WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("subtitles file %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return sf, nil
}

// ListSubtitlesForMediaFile returns the subtitles files linked to a media file.
func (db *Database) ListSubtitlesForMediaFile(ctx context.Context, mediaFileID int) ([]models.SubtitlesFile, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT `+subtitlesFileColumns+`
		FROM subtitles_files WHERE media_file_id = ? ORDER BY file_name`, mediaFileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []models.SubtitlesFile
	for rows.Next() {
		sf, err := scanSubtitlesFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *sf)
	}
	return files, rows.Err()
}

// GetSubtitleLines returns the lines of a subtitles file ordered by start time.
func (db *Database) GetSubtitleLines(ctx context.Context, subtitlesFileID int) ([]models.SubtitleLine, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, subtitles_file_id, idx, start_time, end_time, text, search_config, vector
		FROM subtitle_lines WHERE subtitles_file_id = ?
		ORDER BY start_time, idx`, subtitlesFileID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []models.SubtitleLine
	for rows.Next() {
		var l models.SubtitleLine
		if err := rows.Scan(&l.ID, &l.SubtitlesFileID, &l.Index, &l.Start, &l.End, &l.Text, &l.SearchConfig, &l.Vector); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// SearchLines returns lines carrying every one of terms, plus lines indexed
// with the simple configuration carrying every one of simpleTerms. An empty
// term list disables its branch.
func (db *Database) SearchLines(ctx context.Context, terms, simpleTerms []string, limit int) ([]SubtitleHit, error) {
	var conds []string
	var args []any
	if len(terms) > 0 {
		conds = append(conds, "l.id IN ("+termsSubquery(len(terms))+")")
		args = appendTerms(args, terms)
	}
	if len(simpleTerms) > 0 {
		conds = append(conds, "(l.search_config = 'simple' AND l.id IN ("+termsSubquery(len(simpleTerms))+"))")
		args = appendTerms(args, simpleTerms)
	}
	if len(conds) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, `
		SELECT l.id, l.subtitles_file_id, l.idx, l.start_time, l.end_time, l.text, l.search_config, l.vector,
			f.media_file_id, f.language, f.file_name, f.directory
		FROM subtitle_lines l
		JOIN subtitles_files f ON f.id = l.subtitles_file_id
		WHERE `+strings.Join(conds, " OR ")+`
		ORDER BY f.file_name, l.start_time
		LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []SubtitleHit
	for rows.Next() {
		var h SubtitleHit
		var mediaFileID sql.NullInt64
		l := &h.Line
		if err := rows.Scan(&l.ID, &l.SubtitlesFileID, &l.Index, &l.Start, &l.End, &l.Text, &l.SearchConfig, &l.Vector,
			&mediaFileID, &h.Language, &h.FileName, &h.Directory); err != nil {
			return nil, err
		}
		h.MediaFileID = intPtr(mediaFileID)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// DeleteSubtitlesFile removes a subtitles file together with its lines.
func (db *Database) DeleteSubtitlesFile(ctx context.Context, id int) error {
	_, err := db.conn.ExecContext(ctx, "DELETE FROM subtitles_files WHERE id = ?", id)
	return err
}

// termsSubquery selects the line IDs that carry all n terms.
func termsSubquery(n int) string {
	return fmt.Sprintf(`SELECT line_id FROM subtitle_line_terms
			WHERE term IN (%s)
			GROUP BY line_id HAVING COUNT(DISTINCT term) = %d`, placeholders(n), n)
}

func appendTerms(args []any, terms []string) []any {
	for _, t := range terms {
		args = append(args, t)
	}
	return args
}

func scanSubtitlesFile(s scanner) (*models.SubtitlesFile, error) {
	var sf models.SubtitlesFile
	var mediaFileID sql.NullInt64
	if err := s.Scan(&sf.ID, &sf.Directory, &sf.FileName, &sf.Extension, &mediaFileID, &sf.Language); err != nil {
		return nil, err
	}
	sf.MediaFileID = intPtr(mediaFileID)
	return &sf, nil
}
