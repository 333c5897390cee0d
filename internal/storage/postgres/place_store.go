// Package postgres provides a Postgres-backed result sink.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable is used when no table is configured.
const DefaultTable = "places"

// Config controls the Postgres connection pool used for place rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// PlaceStore writes discovered places into Postgres. Links are unique, so a
// record already stored by an earlier run is silently ignored.
type PlaceStore struct {
	pool  pool
	table string
}

// NewPlaceStore connects and ensures the table exists.
func NewPlaceStore(ctx context.Context, cfg Config) (*PlaceStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewPlaceStoreWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewPlaceStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewPlaceStoreWithPool(p pool, table string) (*PlaceStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &PlaceStore{pool: p, table: table}, nil
}

// EnsureSchema creates the table when missing.
func (s *PlaceStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	link       TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	city       TEXT NOT NULL,
	address    TEXT NOT NULL,
	latitude   DOUBLE PRECISION NOT NULL,
	longitude  DOUBLE PRECISION NOT NULL,
	keyword    TEXT NOT NULL,
	category   TEXT NOT NULL DEFAULT '',
	rating     DOUBLE PRECISION,
	run_id     TEXT NOT NULL DEFAULT '',
	scraped_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create places table: %w", err)
	}
	return nil
}

// Append inserts a place row.
func (s *PlaceStore) Append(ctx context.Context, r crawler.PersistedRecord) error {
	query := fmt.Sprintf(`
INSERT INTO %s (
	link,
	name,
	city,
	address,
	latitude,
	longitude,
	keyword,
	category,
	rating,
	run_id,
	scraped_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
) ON CONFLICT (link) DO NOTHING`, s.table)

	args := []any{
		r.Link,
		r.Name,
		r.City,
		r.Address,
		r.Latitude,
		r.Longitude,
		r.Keyword,
		r.Category,
		r.Rating,
		r.RunID,
		r.ScrapedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return crawler.Persistence("insert place", err)
	}
	return nil
}

// ExistingKeys lists every stored link.
func (s *PlaceStore) ExistingKeys(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf("SELECT link FROM %s", s.table))
	if err != nil {
		return nil, fmt.Errorf("select links: %w", err)
	}
	links, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan links: %w", err)
	}
	return links, nil
}

// Close releases the underlying pool resources.
func (s *PlaceStore) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}
