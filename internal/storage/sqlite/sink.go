// Package sqlite provides a local SQLite result sink using modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
)

const schema = `
CREATE TABLE IF NOT EXISTS places (
	link       TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	city       TEXT NOT NULL,
	address    TEXT NOT NULL,
	latitude   REAL NOT NULL,
	longitude  REAL NOT NULL,
	keyword    TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	rating     REAL,
	run_id     TEXT NOT NULL DEFAULT '',
	scraped_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_places_city ON places(city);
`

// Sink stores places in a SQLite file.
type Sink struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(ctx context.Context, path string) (*Sink, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close() //nolint:errcheck // already failing
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	return &Sink{db: db}, nil
}

// Append inserts a place; a link already stored is ignored.
func (s *Sink) Append(ctx context.Context, r crawler.PersistedRecord) error {
	var rating sql.NullFloat64
	if r.Rating != nil {
		rating = sql.NullFloat64{Float64: *r.Rating, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO places (link, name, city, address, latitude, longitude, keyword, category, rating, run_id, scraped_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (link) DO NOTHING`,
		r.Link, r.Name, r.City, r.Address, r.Latitude, r.Longitude,
		r.Keyword, r.Category, rating, r.RunID, r.ScrapedAt.UTC(),
	)
	if err != nil {
		return crawler.Persistence("insert place", err)
	}
	return nil
}

// ExistingKeys lists every stored link.
func (s *Sink) ExistingKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT link FROM places ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("select links: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	var links []string
	for rows.Next() {
		var link string
		if err := rows.Scan(&link); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return links, nil
}

// Count returns the number of stored places.
func (s *Sink) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM places`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count places: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Sink) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
