package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the play log, backed by SQLite
type Store struct {
	db *sql.DB
}

// Play is one track played by the loop, however it ended
type Play struct {
	ID      int64
	Session string // identifies the daemon run that played it
	Path    string
	Title   string
	Result  string // TUNE_END, ERROR, or the command that interrupted it
	Started time.Time
	Ended   time.Time
}

// Duration returns how long the track played
func (p Play) Duration() time.Duration {
	return p.Ended.Sub(p.Started)
}

// TrackCount is a path with its number of completed plays
type TrackCount struct {
	Path  string
	Title string
	Plays int
}

// NewStore opens the play log at dbPath, creating the schema if needed
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps in-memory databases consistent
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS plays (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			path TEXT NOT NULL,
			title TEXT,
			result TEXT NOT NULL,
			started INTEGER NOT NULL,
			ended INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_started ON plays(started);
		CREATE INDEX IF NOT EXISTS idx_path ON plays(path, result);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record appends a play to the log
func (s *Store) Record(ctx context.Context, p Play) (int64, error) {
	query := `
		INSERT INTO plays (session, path, title, result, started, ended)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		p.Session,
		p.Path,
		p.Title,
		p.Result,
		p.Started.UnixMilli(),
		p.Ended.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert play: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get insert id: %w", err)
	}

	return id, nil
}

// Recent returns the most recent plays, newest first
func (s *Store) Recent(ctx context.Context, limit int) ([]Play, error) {
	query := `
		SELECT id, session, path, COALESCE(title, ''), result, started, ended
		FROM plays
		ORDER BY started DESC, id DESC
	`

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query plays: %w", err)
	}
	defer rows.Close()

	var plays []Play
	for rows.Next() {
		var p Play
		var started, ended int64

		err := rows.Scan(&p.ID, &p.Session, &p.Path, &p.Title, &p.Result, &started, &ended)
		if err != nil {
			return nil, fmt.Errorf("failed to scan play: %w", err)
		}

		p.Started = time.UnixMilli(started)
		p.Ended = time.UnixMilli(ended)
		plays = append(plays, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating plays: %w", err)
	}

	return plays, nil
}

// Top returns the paths with the most plays that ran to the end
func (s *Store) Top(ctx context.Context, result string, limit int) ([]TrackCount, error) {
	query := `
		SELECT path, COALESCE(MAX(title), ''), COUNT(*) AS plays
		FROM plays
		WHERE result = ?
		GROUP BY path
		ORDER BY plays DESC, path ASC
	`

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, result)
	if err != nil {
		return nil, fmt.Errorf("failed to query top tracks: %w", err)
	}
	defer rows.Close()

	var tracks []TrackCount
	for rows.Next() {
		var tc TrackCount
		if err := rows.Scan(&tc.Path, &tc.Title, &tc.Plays); err != nil {
			return nil, fmt.Errorf("failed to scan track count: %w", err)
		}
		tracks = append(tracks, tc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating track counts: %w", err)
	}

	return tracks, nil
}

// Count returns the number of recorded plays
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM plays").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count plays: %w", err)
	}
	return count, nil
}

// Cleanup removes plays older than maxAge
func (s *Store) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	result, err := s.db.ExecContext(ctx, "DELETE FROM plays WHERE started < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old plays: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return deleted, nil
}
