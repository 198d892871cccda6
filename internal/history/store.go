// Package history persists parse outcomes in SQLite. The gateway reads it
// for the status command; a retention sweep keeps the file bounded.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"parsebot/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.HistoryStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, logger: logger}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS parses (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		source_url  TEXT NOT NULL,
		platform    TEXT NOT NULL,
		kind        TEXT NOT NULL,
		title       TEXT,
		author      TEXT,
		media_urls  TEXT,
		status      TEXT NOT NULL,
		error       TEXT,
		latency_ms  INTEGER DEFAULT 0,
		created_at  DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_parses_time ON parses(created_at);
	CREATE INDEX IF NOT EXISTS idx_parses_platform ON parses(platform);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) Record(ctx context.Context, rec domain.ParseRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	mediaJSON, err := json.Marshal(rec.MediaURLs)
	if err != nil {
		return fmt.Errorf("marshal media urls: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO parses (source_url, platform, kind, title, author, media_urls, status, error, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SourceURL, rec.Platform, string(rec.Kind), rec.Title, rec.Author,
		string(mediaJSON), rec.Status, rec.Error, rec.LatencyMs, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert parse record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]domain.ParseRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_url, platform, kind, title, author, media_urls, status, error, latency_ms, created_at
		FROM parses ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent parses: %w", err)
	}
	defer rows.Close()

	var records []domain.ParseRecord
	for rows.Next() {
		var rec domain.ParseRecord
		var kind, mediaJSON string
		if err := rows.Scan(&rec.ID, &rec.SourceURL, &rec.Platform, &kind, &rec.Title,
			&rec.Author, &mediaJSON, &rec.Status, &rec.Error, &rec.LatencyMs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan parse record: %w", err)
		}
		rec.Kind = domain.MediaKind(kind)
		if mediaJSON != "" {
			if err := json.Unmarshal([]byte(mediaJSON), &rec.MediaURLs); err != nil {
				s.logger.Warn("corrupt media_urls in history row", "id", rec.ID, "err", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Stats(ctx context.Context) (domain.HistoryStats, error) {
	stats := domain.HistoryStats{ByPlatform: make(map[string]int64)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'ok' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END), 0)
		FROM parses`).Scan(&stats.Total, &stats.Succeeded, &stats.Failed)
	if err != nil {
		return stats, fmt.Errorf("query stats: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT platform, COUNT(*) FROM parses GROUP BY platform`)
	if err != nil {
		return stats, fmt.Errorf("query platform stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var platform string
		var count int64
		if err := rows.Scan(&platform, &count); err != nil {
			return stats, err
		}
		stats.ByPlatform[platform] = count
	}
	return stats, rows.Err()
}

// Prune deletes records older than the given age and returns how many went.
func (s *SQLiteStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `DELETE FROM parses WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("pruned parse history", "removed", n, "cutoff", cutoff)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
