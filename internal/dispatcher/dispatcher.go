// Package dispatcher runs a fixed pool of workers over one area's tasks.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
	"github.com/JakeFAU/poi-grid-crawler/internal/queue/memory"
	"github.com/JakeFAU/poi-grid-crawler/internal/worker"
)

// ErrNoWorkers is returned when the pool is empty.
var ErrNoWorkers = errors.New("dispatcher has no workers")

// Dispatcher fans tasks out to a pool of workers.
type Dispatcher struct {
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		workers: workers,
		logger:  logger,
	}
}

// Size returns the number of workers.
func (d *Dispatcher) Size() int {
	return len(d.workers)
}

// Run enqueues every task, starts the workers, waits until all tasks are
// acknowledged and then stops each worker with a sentinel. It returns the
// first fatal worker error, or the context error when ctx ends first.
func (d *Dispatcher) Run(ctx context.Context, tasks []crawler.SearchTask) error {
	if len(d.workers) == 0 {
		return ErrNoWorkers
	}

	q := memory.NewQueue(len(tasks) + len(d.workers))
	if err := q.PutAll(ctx, tasks); err != nil {
		return fmt.Errorf("enqueue tasks: %w", err)
	}
	d.logger.Debug("tasks enqueued", zap.Int("tasks", len(tasks)), zap.Int("workers", len(d.workers)))

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range d.workers {
		g.Go(func() error {
			return w.Run(gctx, q)
		})
	}

	joinErr := q.Join(gctx)
	if joinErr == nil {
		for range d.workers {
			if err := q.PutSentinel(gctx); err != nil {
				joinErr = err
				break
			}
		}
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	if joinErr != nil {
		return fmt.Errorf("drain queue: %w", joinErr)
	}
	return nil
}
