package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned when a lookup by identity matches no row.
var ErrNotFound = errors.New("not found")

// Database wraps a *sql.DB providing higher-level helper methods for
// interacting with the application's persistent store. It is safe for
// concurrent use because the underlying *sql.DB is concurrency-safe.
type Database struct {
	conn   *sql.DB
	logger *logrus.Logger

	// Prepared statements for the per-request hot paths
	getMediaFileStmt    *sql.Stmt
	latestPlaybackStmt  *sql.Stmt
	updatePositionStmt  *sql.Stmt
	insertLineStmt      *sql.Stmt
	insertLineTermStmt  *sql.Stmt
	subtitlesExistStmt  *sql.Stmt
	mediaFileExistsStmt *sql.Stmt
	getPreferencesStmt  *sql.Stmt
	insertAuditStmt     *sql.Stmt
}

// NewDatabase opens (or creates) a SQLite database at the provided path and
// ensures all required tables and indices exist. It also applies lightweight
// performance-oriented pragmas (WAL, cache sizing). Caller should Close() it
// when finished. A nil logger gets a JSON logger.
func NewDatabase(dbPath string, logger *logrus.Logger) (*Database, error) {
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	// foreign keys and the busy timeout are per connection, so they go in the DSN
	conn, err := sql.Open("sqlite3", dbPath+"?mode=rwc&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool - adjusted for SQLite
	conn.SetMaxOpenConns(5)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=2000;",
		"PRAGMA temp_store=memory;",
		"PRAGMA auto_vacuum=INCREMENTAL;",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			logger.WithError(err).WithField("pragma", pragma).Warn("Failed to set pragma")
		}
	}

	db := &Database{
		conn:   conn,
		logger: logger,
	}

	if err := db.createTables(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := db.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	logger.WithField("db_path", dbPath).Info("Database initialized successfully")
	return db, nil
}

// createTables creates tables and indices if they do not already exist, then
// executes any migrations. This is idempotent and safe to call multiple times.
func (db *Database) createTables() error {
	directoriesTable := `
	CREATE TABLE IF NOT EXISTS directories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		path TEXT NOT NULL UNIQUE,
		ignored BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`

	directoryUsersTable := `
	CREATE TABLE IF NOT EXISTS directory_users (
		directory_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		FOREIGN KEY (directory_id) REFERENCES directories(id) ON DELETE CASCADE,
		PRIMARY KEY (directory_id, username)
	);`

	mediaFilesTable := `
	CREATE TABLE IF NOT EXISTS media_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		directory TEXT NOT NULL,
		file_name TEXT NOT NULL,
		extension TEXT NOT NULL,
		size INTEGER NOT NULL DEFAULT 0,
		duration INTEGER,
		width INTEGER,
		height INTEGER,
		audio_codec TEXT NOT NULL DEFAULT '',
		video_codec TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (directory, file_name)
	);`

	subtitlesFilesTable := `
	CREATE TABLE IF NOT EXISTS subtitles_files (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		directory TEXT NOT NULL,
		file_name TEXT NOT NULL,
		extension TEXT NOT NULL,
		media_file_id INTEGER,
		language TEXT NOT NULL DEFAULT 'simple',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (media_file_id) REFERENCES media_files(id) ON DELETE SET NULL,
		UNIQUE (directory, file_name)
	);`

	subtitleLinesTable := `
	CREATE TABLE IF NOT EXISTS subtitle_lines (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		subtitles_file_id INTEGER NOT NULL,
		idx INTEGER NOT NULL,
		start_time REAL NOT NULL,
		end_time REAL NOT NULL,
		text TEXT NOT NULL,
		search_config TEXT NOT NULL,
		vector TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (subtitles_file_id) REFERENCES subtitles_files(id) ON DELETE CASCADE
	);`

	subtitleLineTermsTable := `
	CREATE TABLE IF NOT EXISTS subtitle_line_terms (
		line_id INTEGER NOT NULL,
		term TEXT NOT NULL,
		FOREIGN KEY (line_id) REFERENCES subtitle_lines(id) ON DELETE CASCADE,
		PRIMARY KEY (line_id, term)
	);`

	playbackLogTable := `
	CREATE TABLE IF NOT EXISTS playback_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		media_file_id INTEGER NOT NULL,
		request_path TEXT NOT NULL DEFAULT '',
		seek TEXT NOT NULL DEFAULT '',
		seek_seconds REAL NOT NULL DEFAULT 0,
		subtitles TEXT NOT NULL DEFAULT '[]',
		client_ip TEXT NOT NULL DEFAULT '',
		position REAL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (media_file_id) REFERENCES media_files(id) ON DELETE CASCADE
	);`

	userPreferencesTable := `
	CREATE TABLE IF NOT EXISTS user_preferences (
		username TEXT PRIMARY KEY,
		max_width INTEGER,
		quality INTEGER
	);`

	renderAuditTable := `
	CREATE TABLE IF NOT EXISTS render_audit (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL DEFAULT '',
		username TEXT NOT NULL,
		media_file_id INTEGER NOT NULL,
		command TEXT NOT NULL,
		output_path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);`

	// Create indices for better performance
	indices := []string{
		"CREATE INDEX IF NOT EXISTS idx_media_files_directory ON media_files(directory);",
		"CREATE INDEX IF NOT EXISTS idx_subtitles_files_media ON subtitles_files(media_file_id);",
		"CREATE INDEX IF NOT EXISTS idx_subtitle_lines_file ON subtitle_lines(subtitles_file_id, start_time);",
		"CREATE INDEX IF NOT EXISTS idx_subtitle_line_terms_term ON subtitle_line_terms(term);", // Lookup by lexeme
		"CREATE INDEX IF NOT EXISTS idx_playback_log_user_file ON playback_log(username, media_file_id, id);",
		"CREATE INDEX IF NOT EXISTS idx_render_audit_started ON render_audit(started_at);",
	}

	tables := []string{
		directoriesTable, directoryUsersTable, mediaFilesTable, subtitlesFilesTable,
		subtitleLinesTable, subtitleLineTermsTable, playbackLogTable, userPreferencesTable,
		renderAuditTable,
	}
	for _, table := range tables {
		if _, err := db.conn.Exec(table); err != nil {
			return err
		}
	}

	for _, index := range indices {
		if _, err := db.conn.Exec(index); err != nil {
			return err
		}
	}

	// Run migrations
	if err := db.runMigrations(); err != nil {
		return err
	}

	return nil
}

// runMigrations performs incremental schema updates in-place. Each migration
// should be idempotent and safe to re-run; keep them lightweight.
func (db *Database) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		ddl    string
	}{
		// Migration 1: embedded title collected from container tags
		{"media_files", "title", "ALTER TABLE media_files ADD COLUMN title TEXT NOT NULL DEFAULT ''"},
		// Migration 2: stored progress keeps the reported percentage monotonic
		{"playback_log", "progress", "ALTER TABLE playback_log ADD COLUMN progress INTEGER NOT NULL DEFAULT 0"},
	}

	for _, m := range migrations {
		exists, err := db.columnExists(m.table, m.column)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if _, err := db.conn.Exec(m.ddl); err != nil {
			return err
		}
		db.logger.WithFields(logrus.Fields{"table": m.table, "column": m.column}).Info("Added column")
	}

	return nil
}

func (db *Database) columnExists(table, column string) (bool, error) {
	var exists bool
	err := db.conn.QueryRow(`
		SELECT COUNT(*) > 0
		FROM pragma_table_info(?)
		WHERE name = ?`, table, column).Scan(&exists)
	return exists, err
}

// prepareStatements prepares commonly used SQL statements for better performance
func (db *Database) prepareStatements() error {
	statements := []struct {
		target **sql.Stmt
		name   string
		query  string
	}{
		{&db.getMediaFileStmt, "get media file", `
			SELECT ` + mediaFileColumns + `
			FROM media_files WHERE id = ?`},
		{&db.latestPlaybackStmt, "latest playback", `
			SELECT ` + playbackColumns + `
			FROM playback_log
			WHERE username = ? AND media_file_id = ?
			ORDER BY id DESC LIMIT 1`},
		{&db.updatePositionStmt, "update position", `
			UPDATE playback_log SET position = ?, progress = ? WHERE id = ?`},
		{&db.insertLineStmt, "insert subtitle line", `
			INSERT INTO subtitle_lines (subtitles_file_id, idx, start_time, end_time, text, search_config, vector)
			VALUES (?, ?, ?, ?, ?, ?, ?)`},
		{&db.insertLineTermStmt, "insert subtitle line term", `
			INSERT OR IGNORE INTO subtitle_line_terms (line_id, term) VALUES (?, ?)`},
		{&db.subtitlesExistStmt, "subtitles exist", `
			SELECT COUNT(*) FROM subtitles_files WHERE directory = ? AND file_name = ?`},
		{&db.mediaFileExistsStmt, "media file exists", `
			SELECT COUNT(*) FROM media_files WHERE directory = ? AND file_name = ?`},
		{&db.getPreferencesStmt, "get preferences", `
			SELECT max_width, quality FROM user_preferences WHERE username = ?`},
		{&db.insertAuditStmt, "insert render audit", `
			INSERT INTO render_audit (job_id, username, media_file_id, command, output_path, status, error, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`},
	}

	for _, s := range statements {
		stmt, err := db.conn.Prepare(s.query)
		if err != nil {
			return fmt.Errorf("failed to prepare %s statement: %w", s.name, err)
		}
		*s.target = stmt
	}
	return nil
}

// withTx runs fn inside a transaction, committing on success and rolling back
// on error or panic.
func (db *Database) withTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Ping checks the connection, used by the health endpoint.
func (db *Database) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection and prepared statements.
func (db *Database) Close() error {
	// Close prepared statements
	statements := []*sql.Stmt{
		db.getMediaFileStmt,
		db.latestPlaybackStmt,
		db.updatePositionStmt,
		db.insertLineStmt,
		db.insertLineTermStmt,
		db.subtitlesExistStmt,
		db.mediaFileExistsStmt,
		db.getPreferencesStmt,
		db.insertAuditStmt,
	}

	for _, stmt := range statements {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				db.logger.WithError(err).Error("Failed to close prepared statement")
			}
		}
	}

	// Close database connection
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

// placeholders returns "?, ?, ..." with n markers.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, n*3)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ", "...)
		}
		b = append(b, '?')
	}
	return string(b)
}
