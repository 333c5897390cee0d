// Package storage selects and opens the configured result sink and exporter.
package storage

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/poi-grid-crawler/internal/config"
	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
	"github.com/JakeFAU/poi-grid-crawler/internal/storage/csvfile"
	"github.com/JakeFAU/poi-grid-crawler/internal/storage/gcs"
	"github.com/JakeFAU/poi-grid-crawler/internal/storage/local"
	"github.com/JakeFAU/poi-grid-crawler/internal/storage/memory"
	"github.com/JakeFAU/poi-grid-crawler/internal/storage/postgres"
	"github.com/JakeFAU/poi-grid-crawler/internal/storage/sqlite"
)

// OpenSink opens the sink named by output.kind. A dry run keeps results in
// memory but still seeds from the configured sink's file when it is a CSV; an
// unreadable file seeds nothing.
func OpenSink(ctx context.Context, cfg config.Config, dryRun bool, logger *zap.Logger) (crawler.ResultSink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dryRun {
		var seed []string
		if cfg.Output.Kind == config.OutputCSV {
			links, skipped, err := csvfile.ReadLinks(cfg.Output.Path)
			switch {
			case err != nil:
				logger.Warn("existing output unreadable; dry run starts with no known places",
					zap.String("path", cfg.Output.Path), zap.Error(err))
			case skipped > 0:
				logger.Warn("skipped unreadable rows", zap.String("path", cfg.Output.Path), zap.Int("rows", skipped))
			}
			seed = links
		}
		return memory.NewSink(seed...), nil
	}

	switch cfg.Output.Kind {
	case config.OutputCSV:
		s, err := csvfile.Open(cfg.Output.Path, cfg.Output.Columns, logger)
		if err != nil {
			return nil, fmt.Errorf("open csv sink: %w", err)
		}
		return s, nil
	case config.OutputPostgres:
		s, err := postgres.NewPlaceStore(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			Table:           cfg.Postgres.Table,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres sink: %w", err)
		}
		return s, nil
	case config.OutputSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite sink: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported output kind %q", cfg.Output.Kind)
	}
}

// OutputPath is the file handed to the exporter, empty when the sink is not
// file based.
func OutputPath(cfg config.Config) string {
	switch cfg.Output.Kind {
	case config.OutputCSV:
		return cfg.Output.Path
	case config.OutputSQLite:
		return cfg.SQLite.Path
	default:
		return ""
	}
}

// OpenExporter builds the configured exporter. It returns a nil exporter when
// export is disabled. The returned close function is always safe to call.
func OpenExporter(ctx context.Context, cfg config.Config) (crawler.Exporter, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Export.Kind {
	case "", config.ExportNone:
		return nil, noop, nil
	case config.ExportGCS:
		exp, err := gcs.NewFromEnv(ctx, gcs.Config{
			Bucket:      cfg.Export.GCS.Bucket,
			Prefix:      cfg.Export.GCS.Prefix,
			ContentType: cfg.Export.GCS.ContentType,
		})
		if err != nil {
			return nil, noop, fmt.Errorf("open gcs exporter: %w", err)
		}
		return exp, exp.Close, nil
	case config.ExportLocal:
		exp, err := local.New(local.Config{BaseDir: cfg.Export.Local.BaseDir})
		if err != nil {
			return nil, noop, fmt.Errorf("open local exporter: %w", err)
		}
		return exp, noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported export kind %q", cfg.Export.Kind)
	}
}
