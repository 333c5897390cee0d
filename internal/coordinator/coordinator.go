// Package coordinator sequences areas through planning, dispatch and cooldown.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/poi-grid-crawler/internal/areas"
	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
	"github.com/JakeFAU/poi-grid-crawler/internal/dedup"
	"github.com/JakeFAU/poi-grid-crawler/internal/dispatcher"
	"github.com/JakeFAU/poi-grid-crawler/internal/geofence"
	"github.com/JakeFAU/poi-grid-crawler/internal/grid"
	"github.com/JakeFAU/poi-grid-crawler/internal/metrics"
	"github.com/JakeFAU/poi-grid-crawler/internal/queue/memory"
	"github.com/JakeFAU/poi-grid-crawler/internal/worker"
)

// State is a coordinator lifecycle state.
type State string

// Coordinator states, in the order a run visits them.
const (
	StateIdle      State = "idle"
	StateLoadAreas State = "load_areas"
	StatePlan      State = "plan"
	StateDispatch  State = "dispatch"
	StateDrain     State = "drain"
	StateCooldown  State = "cooldown"
	StateDone      State = "done"
)

// Area status labels used in reports and metrics.
const (
	AreaCompleted = "completed"
	AreaSkipped   = "skipped"
)

// DefaultCooldown is the pause between two areas.
const DefaultCooldown = 3 * time.Second

// AreaSource supplies the areas of a run.
type AreaSource interface {
	Areas() ([]crawler.Area, error)
}

// Config controls a run.
type Config struct {
	Keywords []string
	Workers  int
	Cooldown time.Duration
	// AreaNames restricts the run to these areas when non-empty.
	AreaNames []string
	// Limit caps the number of areas when > 0.
	Limit  int
	Worker worker.Config
	// OutputPath is handed to the exporter after each completed area.
	OutputPath string
}

// Deps are the collaborators of a run.
type Deps struct {
	Areas     AreaSource
	Planner   *grid.Planner
	Filter    *geofence.Filter
	Dedup     *dedup.Store
	Factory   crawler.ProviderFactory
	Searcher  crawler.Searcher
	Detail    crawler.DetailFetcher
	Sink      crawler.ResultSink
	Publisher crawler.Publisher
	Limiter   crawler.Limiter
	Exporter  crawler.Exporter
	Clock     crawler.Clock
}

// AreaReport summarizes one area.
type AreaReport struct {
	Name            string
	Status          string
	Cells           int
	Tasks           int
	Completed       int
	Discovered      int
	Rejected        int
	Duplicates      int
	Failed          int
	PersistFailures int
	Err             error
	Duration        time.Duration
}

// Skipped reports whether the area was abandoned.
func (r AreaReport) Skipped() bool {
	return r.Status == AreaSkipped
}

// RunReport summarizes a run.
type RunReport struct {
	RunID        string
	Seeded       int
	Areas        []AreaReport
	Discovered   int
	SkippedAreas int
	Started      time.Time
	Finished     time.Time
}

// Coordinator drives a crawl run.
type Coordinator struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	state   State
	history []State
}

// New validates the dependencies and returns a Coordinator.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case deps.Areas == nil:
		return nil, errors.New("coordinator requires an area source")
	case deps.Planner == nil:
		return nil, errors.New("coordinator requires a grid planner")
	case deps.Filter == nil:
		return nil, errors.New("coordinator requires a geofence filter")
	case deps.Factory == nil:
		return nil, errors.New("coordinator requires a session provider factory")
	case deps.Searcher == nil:
		return nil, errors.New("coordinator requires a searcher")
	case deps.Sink == nil:
		return nil, errors.New("coordinator requires a result sink")
	case deps.Clock == nil:
		return nil, errors.New("coordinator requires a clock")
	}
	if deps.Dedup == nil {
		deps.Dedup = dedup.New()
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be > 0, got %d", cfg.Workers)
	}
	if len(cfg.Keywords) == 0 {
		return nil, errors.New("at least one keyword is required")
	}
	if cfg.Cooldown < 0 {
		cfg.Cooldown = 0
	}
	return &Coordinator{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		state:  StateIdle,
	}, nil
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// History returns every state entered so far, in order.
func (c *Coordinator) History() []State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]State(nil), c.history...)
}

func (c *Coordinator) enter(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.history = append(c.history, s)
}

// Run processes every selected area in order. Per-task and per-area failures
// are reported, not returned; the error is non-nil only when the areas cannot
// be loaded or ctx ends the run early.
func (c *Coordinator) Run(ctx context.Context) (RunReport, error) {
	report := RunReport{RunID: c.cfg.Worker.RunID, Started: c.deps.Clock.Now()}
	defer func() {
		report.Finished = c.deps.Clock.Now()
		c.enter(StateDone)
	}()

	c.enter(StateLoadAreas)
	report.Seeded = c.deps.Dedup.SeedFrom(ctx, c.deps.Sink, c.logger)

	all, err := c.deps.Areas.Areas()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("areas file not found; nothing to crawl", zap.Error(err))
			return report, nil
		}
		return report, fmt.Errorf("load areas: %w", err)
	}
	selected := areas.Select(all, c.cfg.AreaNames, c.cfg.Limit)
	c.logger.Info("run starting",
		zap.String("run_id", report.RunID),
		zap.Int("areas", len(selected)),
		zap.Int("known_places", c.deps.Dedup.Len()),
		zap.Int("workers", c.cfg.Workers),
	)

	for i := range selected {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("crawl interrupted: %w", err)
		}
		area := selected[i]
		areaReport := c.runArea(ctx, &area)
		report.Areas = append(report.Areas, areaReport)
		report.Discovered += areaReport.Discovered
		if areaReport.Skipped() {
			report.SkippedAreas++
		}
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("crawl interrupted: %w", err)
		}
		if !areaReport.Skipped() {
			c.export(ctx, area.Name)
		}
		if i < len(selected)-1 && c.cfg.Cooldown > 0 {
			c.enter(StateCooldown)
			c.logger.Debug("cooling down", zap.Duration("cooldown", c.cfg.Cooldown))
			if err := c.deps.Clock.Sleep(ctx, c.cfg.Cooldown); err != nil {
				return report, fmt.Errorf("crawl interrupted: %w", err)
			}
		}
	}

	c.logger.Info("run complete",
		zap.String("run_id", report.RunID),
		zap.Int("areas", len(report.Areas)),
		zap.Int("skipped_areas", report.SkippedAreas),
		zap.Int("new_places", report.Discovered),
	)
	return report, nil
}

func (c *Coordinator) runArea(ctx context.Context, area *crawler.Area) AreaReport {
	start := time.Now()
	logger := c.logger.With(zap.String("area", area.Name))

	c.enter(StatePlan)
	cells := c.deps.Planner.Generate(*area)
	tasks := memory.BuildTasks(area, cells, c.cfg.Keywords)
	report := AreaReport{
		Name:   area.Name,
		Status: AreaCompleted,
		Cells:  len(cells),
		Tasks:  len(tasks),
	}
	logger.Info("area starting",
		zap.Float64("radius_km", area.RadiusKM()),
		zap.Int("cells", len(cells)),
		zap.Int("tasks", len(tasks)),
	)

	provider, err := c.deps.Factory.Open(ctx)
	if err != nil {
		report.Status = AreaSkipped
		report.Err = fmt.Errorf("open session provider: %w", err)
		report.Duration = time.Since(start)
		metrics.ObserveArea(AreaSkipped)
		logger.Warn("area skipped", zap.Error(report.Err))
		return report
	}

	stats := &worker.Stats{}
	deps := worker.Deps{
		Provider:  provider,
		Searcher:  c.deps.Searcher,
		Detail:    c.deps.Detail,
		Filter:    c.deps.Filter,
		Dedup:     c.deps.Dedup,
		Sink:      c.deps.Sink,
		Publisher: c.deps.Publisher,
		Limiter:   c.deps.Limiter,
		Clock:     c.deps.Clock,
		Stats:     stats,
	}
	workers := make([]*worker.Worker, 0, c.cfg.Workers)
	for id := 1; id <= c.cfg.Workers; id++ {
		workers = append(workers, worker.New(id, deps, c.cfg.Worker, len(tasks), logger))
	}

	c.enter(StateDispatch)
	runErr := dispatcher.New(workers, logger).Run(ctx, tasks)

	c.enter(StateDrain)
	if cerr := provider.Close(); cerr != nil {
		logger.Warn("session provider close failed", zap.Error(cerr))
	}

	snap := stats.Snapshot()
	report.Completed = snap.Completed
	report.Discovered = snap.Persisted
	report.Rejected = snap.Rejected
	report.Duplicates = snap.Duplicates
	report.Failed = snap.Skipped + snap.Fatal
	report.PersistFailures = snap.PersistFailures
	report.Duration = time.Since(start)

	if runErr != nil {
		report.Err = runErr
		if errors.Is(runErr, crawler.ErrProviderFatal) {
			report.Status = AreaSkipped
			logger.Warn("area abandoned: session provider unusable", zap.Error(runErr))
		} else {
			logger.Warn("area interrupted", zap.Error(runErr))
		}
	}
	metrics.ObserveArea(report.Status)
	logger.Info("area finished",
		zap.String("status", report.Status),
		zap.Int("completed", report.Completed),
		zap.Int("tasks", report.Tasks),
		zap.Int("new_places", report.Discovered),
		zap.Int("rejected", report.Rejected),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("failed", report.Failed),
		zap.Int("persist_failures", report.PersistFailures),
		zap.Duration("duration", report.Duration),
	)
	return report
}

func (c *Coordinator) export(ctx context.Context, area string) {
	if c.deps.Exporter == nil || c.cfg.OutputPath == "" {
		return
	}
	uri, err := c.deps.Exporter.Export(ctx, c.cfg.OutputPath)
	if err != nil {
		c.logger.Warn("export failed", zap.String("area", area), zap.Error(err))
		return
	}
	c.logger.Info("output exported", zap.String("area", area), zap.String("uri", uri))
}

var _ AreaSource = areas.FileSource{}
