package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/poi-grid-crawler/internal/areas"
	"github.com/JakeFAU/poi-grid-crawler/internal/browser"
	"github.com/JakeFAU/poi-grid-crawler/internal/clock/system"
	"github.com/JakeFAU/poi-grid-crawler/internal/config"
	"github.com/JakeFAU/poi-grid-crawler/internal/coordinator"
	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
	"github.com/JakeFAU/poi-grid-crawler/internal/dedup"
	"github.com/JakeFAU/poi-grid-crawler/internal/geofence"
	"github.com/JakeFAU/poi-grid-crawler/internal/grid"
	"github.com/JakeFAU/poi-grid-crawler/internal/id/uuid"
	"github.com/JakeFAU/poi-grid-crawler/internal/maps"
	"github.com/JakeFAU/poi-grid-crawler/internal/metrics"
	"github.com/JakeFAU/poi-grid-crawler/internal/policy/ratelimit"
	pubmemory "github.com/JakeFAU/poi-grid-crawler/internal/publisher/memory"
	pspub "github.com/JakeFAU/poi-grid-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/poi-grid-crawler/internal/storage"
	"github.com/JakeFAU/poi-grid-crawler/internal/worker"
)

type crawlOptions struct {
	areas   []string
	limit   int
	workers int
	dryRun  bool
}

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd() *cobra.Command {
	opts := &crawlOptions{}
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run the grid crawl over every configured area",
		Long: `Loads the area file, then for each area plans the grid, opens a fresh
browser and drains every (cell, keyword) search through the worker pool.
Places already present in the output are skipped. SIGINT/SIGTERM stop the
run after the current tasks return.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, opts)
		},
	}
	cmd.Flags().StringSliceVar(&opts.areas, "area", nil, "only crawl these areas (repeatable)")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "crawl at most this many areas")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "override crawler.workers")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "keep results in memory and publish nothing")
	return cmd
}

func (o *crawlOptions) apply(cfg *config.Config) {
	if len(o.areas) > 0 {
		cfg.Areas.Names = o.areas
	}
	if o.limit != 0 {
		cfg.Areas.Limit = o.limit
	}
	if o.workers != 0 {
		cfg.Crawler.Workers = o.workers
	}
}

func runCrawl(cmd *cobra.Command, opts *crawlOptions) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	cfg := e.cfg
	opts.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	logger := e.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	logger = logger.With(zap.String("run_id", runID))

	if cfg.Metrics.Addr != "" {
		srv := metrics.NewServer(cfg.Metrics.Addr, logger)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("metrics server shutdown failed", zap.Error(err))
			}
		}()
	}

	coord, cleanup, err := buildCoordinator(ctx, cfg, runID, opts.dryRun, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	report, runErr := coord.Run(ctx)
	printReport(cmd.OutOrStdout(), report)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			logger.Warn("crawl interrupted; rerun to resume", zap.Error(runErr))
			return nil
		}
		return fmt.Errorf("run crawl: %w", runErr)
	}
	return nil
}

// buildCoordinator wires every collaborator of a run. The cleanup function
// closes the sink, exporter and publisher in that order.
func buildCoordinator(
	ctx context.Context,
	cfg config.Config,
	runID string,
	dryRun bool,
	logger *zap.Logger,
) (*coordinator.Coordinator, func(), error) {
	planner, err := grid.NewPlanner(cfg.Grid.StepDegrees)
	if err != nil {
		return nil, nil, fmt.Errorf("init planner: %w", err)
	}
	filter, err := geofence.New(cfg.Geofence.ThresholdKM)
	if err != nil {
		return nil, nil, fmt.Errorf("init geofence: %w", err)
	}

	var closers []func() error
	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Warn("shutdown step failed", zap.Error(err))
			}
		}
	}

	sink, err := storage.OpenSink(ctx, cfg, dryRun, logger)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, sink.Close)

	var exporter crawler.Exporter
	outputPath := storage.OutputPath(cfg)
	if !dryRun {
		exp, closeExp, err := storage.OpenExporter(ctx, cfg)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		exporter = exp
		closers = append(closers, closeExp)
	}

	var publisher crawler.Publisher
	if cfg.PubSub.Topic != "" {
		if dryRun {
			publisher = pubmemory.New()
		} else {
			pub, err := pspub.NewFromProject(ctx, cfg.PubSub.ProjectID, map[string]string{"run_id": runID})
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			publisher = pub
			closers = append(closers, pub.Close)
		}
	}

	mapsClient := maps.New(maps.Config{
		BaseURL:       cfg.Maps.BaseURL,
		Language:      cfg.Maps.Language,
		SearchTimeout: cfg.Maps.SearchTimeout,
		FeedWait:      cfg.Maps.FeedWait,
		ScrollRounds:  cfg.Maps.ScrollRounds,
		ScrollPause:   cfg.Maps.ScrollPause,
		DetailTimeout: cfg.Maps.DetailTimeout,
		DetailWait:    cfg.Maps.DetailWait,
	}, logger)

	factory := browser.NewFactory(browser.Config{
		Headless:     cfg.Browser.Headless,
		ExecPath:     cfg.Browser.ExecPath,
		UserAgent:    cfg.Browser.UserAgent,
		NoSandbox:    cfg.Browser.NoSandbox,
		StartTimeout: cfg.Browser.StartTimeout,
	}, logger)

	coord, err := coordinator.New(coordinator.Deps{
		Areas:     areas.FileSource{Path: cfg.Areas.Path},
		Planner:   planner,
		Filter:    filter,
		Dedup:     dedup.New(),
		Factory:   factory,
		Searcher:  mapsClient,
		Detail:    mapsClient,
		Sink:      sink,
		Publisher: publisher,
		Limiter:   ratelimit.New(ratelimit.Config{RPS: cfg.RateLimit.RPS, Burst: cfg.RateLimit.Burst}),
		Exporter:  exporter,
		Clock:     system.New(),
	}, coordinator.Config{
		Keywords:   cfg.Crawler.Keywords,
		Workers:    cfg.Crawler.Workers,
		Cooldown:   cfg.Crawler.Cooldown,
		AreaNames:  cfg.Areas.Names,
		Limit:      cfg.Areas.Limit,
		OutputPath: outputPath,
		Worker: worker.Config{
			Zoom:           cfg.Crawler.Zoom,
			BlockResources: cfg.Crawler.BlockResources,
			Locale:         cfg.Crawler.Locale,
			SpoofLocation:  cfg.Crawler.SpoofLocation,
			ClaimPolicy:    worker.ClaimPolicy(cfg.Crawler.ClaimPolicy),
			Topic:          cfg.PubSub.Topic,
			RunID:          runID,
		},
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("init coordinator: %w", err)
	}
	return coord, cleanup, nil
}
