// Package worker implements the per-task search pipeline.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
	"github.com/JakeFAU/poi-grid-crawler/internal/dedup"
	"github.com/JakeFAU/poi-grid-crawler/internal/geofence"
	"github.com/JakeFAU/poi-grid-crawler/internal/metrics"
	"github.com/JakeFAU/poi-grid-crawler/internal/queue/memory"
)

// ClaimPolicy decides what happens to a claimed key when its record is lost.
type ClaimPolicy string

const (
	// ClaimAtMostOnce keeps every claimed key for the rest of the run.
	ClaimAtMostOnce ClaimPolicy = "at_most_once"
	// ClaimRollback releases the key when persistence fails.
	ClaimRollback ClaimPolicy = "rollback"
)

// DefaultZoom is the map zoom level used for searches.
const DefaultZoom = 15

// Config controls Worker behavior.
type Config struct {
	Zoom           int
	BlockResources bool
	Locale         string
	// SpoofLocation reports the cell as the device location to the page.
	SpoofLocation bool
	ClaimPolicy   ClaimPolicy
	// Topic enables per-record notifications when a publisher is set.
	Topic string
	RunID string
}

// Deps groups the collaborators shared by every worker of an area.
type Deps struct {
	Provider  crawler.SessionProvider
	Searcher  crawler.Searcher
	Detail    crawler.DetailFetcher
	Filter    *geofence.Filter
	Dedup     *dedup.Store
	Sink      crawler.ResultSink
	Publisher crawler.Publisher
	Limiter   crawler.Limiter
	Clock     crawler.Clock
	Stats     *Stats
}

// Worker consumes search tasks and runs the pipeline for each.
type Worker struct {
	id     int
	deps   Deps
	cfg    Config
	total  int
	logger *zap.Logger
}

// New constructs a Worker. total is the task count of the area, used for
// progress logs.
func New(id int, deps Deps, cfg Config, total int, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Zoom <= 0 {
		cfg.Zoom = DefaultZoom
	}
	if cfg.ClaimPolicy == "" {
		cfg.ClaimPolicy = ClaimAtMostOnce
	}
	if deps.Stats == nil {
		deps.Stats = &Stats{}
	}
	return &Worker{
		id:     id,
		deps:   deps,
		cfg:    cfg,
		total:  total,
		logger: logger.With(zap.Int("worker", id)),
	}
}

// ID returns the worker index.
func (w *Worker) ID() int {
	return w.id
}

// Run consumes the queue until a sentinel arrives. A fatal outcome stops the
// worker and is returned so the pool can abandon the area.
func (w *Worker) Run(ctx context.Context, q *memory.Queue) error {
	for {
		item, err := q.Get(ctx)
		if err != nil {
			if errors.Is(err, memory.ErrClosed) {
				return nil
			}
			return err
		}
		if item.Sentinel {
			w.logger.Debug("worker stopping")
			return nil
		}

		outcome := w.Process(ctx, item.Task)
		if err := q.TaskDone(); err != nil {
			w.logger.Error("task done accounting failed", zap.Error(err))
		}
		if outcome.Status == crawler.OutcomeFatal {
			return outcome.Err
		}
	}
}

// Process runs one task end to end and reports its outcome. It never panics
// on collaborator errors; they are folded into the outcome.
func (w *Worker) Process(ctx context.Context, task crawler.SearchTask) crawler.Outcome {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	start := time.Now()
	outcome := w.process(ctx, task)
	switch {
	case outcome.Err != nil:
		outcome.Status = crawler.Classify(outcome.Err)
	case outcome.PersistFailures > 0:
		outcome.Status = crawler.OutcomePersistFailed
	default:
		outcome.Status = crawler.OutcomeSucceeded
	}

	w.deps.Stats.Record(outcome)
	metrics.ObserveTask(task.AreaName(), string(outcome.Status), time.Since(start))
	metrics.ObserveCandidates(metrics.CandidateRejected, outcome.Rejected)
	metrics.ObserveCandidates(metrics.CandidateDuplicate, outcome.Duplicates)
	metrics.ObserveCandidates(metrics.CandidatePersisted, outcome.Persisted)

	fields := []zap.Field{
		zap.Int("task", task.Index),
		zap.Int("total", w.total),
		zap.String("keyword", task.Keyword),
		zap.String("cell", task.Cell.Point.String()),
		zap.String("outcome", string(outcome.Status)),
		zap.Int("found", outcome.Found),
		zap.Int("new", outcome.Persisted),
	}
	switch outcome.Status {
	case crawler.OutcomeSucceeded:
		w.logger.Info(fmt.Sprintf("task %d/%d done", task.Index, w.total), fields...)
	case crawler.OutcomeFatal:
		w.logger.Error("task aborted", append(fields, zap.Error(outcome.Err))...)
	default:
		w.logger.Warn("task skipped", append(fields, zap.Error(outcome.Err))...)
	}
	return outcome
}

func (w *Worker) process(ctx context.Context, task crawler.SearchTask) crawler.Outcome {
	var outcome crawler.Outcome

	if err := w.wait(ctx, "search"); err != nil {
		outcome.Err = crawler.Transient("politeness wait", err)
		return outcome
	}

	opts := crawler.SessionOptions{
		BlockResources: w.cfg.BlockResources,
		Locale:         w.cfg.Locale,
	}
	if w.cfg.SpoofLocation {
		at := task.Cell.Point
		opts.Geolocation = &at
	}
	session, err := w.deps.Provider.NewSession(ctx, opts)
	if err != nil {
		if !errors.Is(err, crawler.ErrProviderFatal) && !errors.Is(err, crawler.ErrTransientFetch) {
			err = crawler.Transient("open session", err)
		}
		outcome.Err = err
		return outcome
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			w.logger.Warn("session close failed", zap.Error(cerr))
		}
	}()

	candidates, err := w.deps.Searcher.Search(ctx, session, task.Cell.Point, task.Keyword, w.cfg.Zoom)
	if err != nil {
		if !errors.Is(err, crawler.ErrProviderFatal) && !errors.Is(err, crawler.ErrTransientFetch) {
			err = crawler.Transient("search", err)
		}
		outcome.Err = err
		return outcome
	}
	outcome.Found = len(candidates)

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			break
		}
		w.handleCandidate(ctx, session, task, candidate, &outcome)
	}
	return outcome
}

func (w *Worker) handleCandidate(
	ctx context.Context,
	session crawler.Session,
	task crawler.SearchTask,
	candidate crawler.CandidateRecord,
	outcome *crawler.Outcome,
) {
	coords, ok := w.deps.Filter.Accept(task.Cell, candidate.Coords)
	if !ok {
		outcome.Rejected++
		return
	}

	key := candidate.Key()
	if !w.deps.Dedup.TryClaim(key) {
		outcome.Duplicates++
		return
	}

	address := crawler.UnknownAddress
	if w.deps.Detail != nil {
		if err := w.wait(ctx, "detail"); err == nil {
			address = w.deps.Detail.FetchDetail(ctx, session, key)
		}
	}

	record := crawler.PersistedRecord{
		Name:      candidate.Name,
		City:      task.AreaName(),
		Address:   address,
		Latitude:  coords.Lat,
		Longitude: coords.Lng,
		Link:      key,
		Keyword:   task.Keyword,
		Category:  candidate.Category,
		Rating:    candidate.Rating,
		RunID:     w.cfg.RunID,
		ScrapedAt: w.now(),
	}
	if err := w.deps.Sink.Append(ctx, record); err != nil {
		outcome.PersistFailures++
		metrics.ObservePersistFailure()
		w.logger.Error("record lost: sink append failed",
			zap.String("name", record.Name),
			zap.String("link", record.Link),
			zap.Error(err),
		)
		if w.cfg.ClaimPolicy == ClaimRollback {
			w.deps.Dedup.Release(key)
		}
		return
	}
	outcome.Persisted++
	w.logger.Debug("record saved", zap.String("name", record.Name), zap.String("link", record.Link))
	w.publish(ctx, record)
}

func (w *Worker) publish(ctx context.Context, record crawler.PersistedRecord) {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return
	}
	id, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, record)
	if err != nil {
		w.logger.Warn("publish record failed", zap.String("link", record.Link), zap.Error(err))
		return
	}
	w.logger.Debug("record published", zap.String("link", record.Link), zap.String("message_id", id))
}

func (w *Worker) wait(ctx context.Context, key string) error {
	if w.deps.Limiter == nil {
		return nil
	}
	if err := w.deps.Limiter.Wait(ctx, key); err != nil {
		return fmt.Errorf("limiter wait: %w", err)
	}
	return nil
}

func (w *Worker) now() time.Time {
	if w.deps.Clock == nil {
		return time.Now().UTC()
	}
	return w.deps.Clock.Now()
}

// Stats aggregates task outcomes across the workers of one area.
type Stats struct {
	completed       atomic.Int64
	succeeded       atomic.Int64
	skipped         atomic.Int64
	persistFailed   atomic.Int64
	fatal           atomic.Int64
	found           atomic.Int64
	rejected        atomic.Int64
	duplicates      atomic.Int64
	persisted       atomic.Int64
	persistFailures atomic.Int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Completed       int
	Succeeded       int
	Skipped         int
	PersistFailed   int
	Fatal           int
	Found           int
	Rejected        int
	Duplicates      int
	Persisted       int
	PersistFailures int
}

// Record folds one outcome into the counters.
func (s *Stats) Record(o crawler.Outcome) {
	s.completed.Add(1)
	switch o.Status {
	case crawler.OutcomeSucceeded:
		s.succeeded.Add(1)
	case crawler.OutcomeTransientSkip:
		s.skipped.Add(1)
	case crawler.OutcomePersistFailed:
		s.persistFailed.Add(1)
	case crawler.OutcomeFatal:
		s.fatal.Add(1)
	}
	s.found.Add(int64(o.Found))
	s.rejected.Add(int64(o.Rejected))
	s.duplicates.Add(int64(o.Duplicates))
	s.persisted.Add(int64(o.Persisted))
	s.persistFailures.Add(int64(o.PersistFailures))
}

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		Completed:       int(s.completed.Load()),
		Succeeded:       int(s.succeeded.Load()),
		Skipped:         int(s.skipped.Load()),
		PersistFailed:   int(s.persistFailed.Load()),
		Fatal:           int(s.fatal.Load()),
		Found:           int(s.found.Load()),
		Rejected:        int(s.rejected.Load()),
		Duplicates:      int(s.duplicates.Load()),
		Persisted:       int(s.persisted.Load()),
		PersistFailures: int(s.persistFailures.Load()),
	}
}
