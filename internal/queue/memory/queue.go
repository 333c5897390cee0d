// Package memory provides the in-process task queue the worker pool drains.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/poi-grid-crawler/internal/crawler"
)

// ErrClosed is returned by Get once the queue is closed and empty.
var ErrClosed = errors.New("queue closed")

// ErrTooManyDone is returned when TaskDone is called more often than Put.
var ErrTooManyDone = errors.New("task done called more times than tasks were put")

// Item is either a real task or a stop sentinel.
type Item struct {
	Task     crawler.SearchTask
	Sentinel bool
}

// Queue is a bounded FIFO multi-consumer queue that tracks completion of the
// real tasks put into it, so a producer can Join before sending sentinels.
type Queue struct {
	ch chan Item

	mu      sync.Mutex
	pending int
	idle    chan struct{}

	closeMu sync.Mutex
	closed  bool
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		ch:   make(chan Item, capacity),
		idle: idle,
	}
}

// BuildTasks materializes every (cell, keyword) pair of an area in cell-major
// order. Indexes start at 1.
func BuildTasks(area *crawler.Area, cells []crawler.GridCell, keywords []string) []crawler.SearchTask {
	tasks := make([]crawler.SearchTask, 0, len(cells)*len(keywords))
	for _, cell := range cells {
		for _, kw := range keywords {
			tasks = append(tasks, crawler.SearchTask{
				Index:   len(tasks) + 1,
				Cell:    cell,
				Keyword: kw,
				Area:    area,
			})
		}
	}
	return tasks
}

// Put enqueues a real task and counts it as pending until TaskDone.
func (q *Queue) Put(ctx context.Context, task crawler.SearchTask) error {
	q.mu.Lock()
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		q.markDone()
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- Item{Task: task}:
		return nil
	}
}

// PutAll enqueues tasks in order.
func (q *Queue) PutAll(ctx context.Context, tasks []crawler.SearchTask) error {
	for _, t := range tasks {
		if err := q.Put(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// PutSentinel enqueues one stop marker. Sentinels are not tracked by Join.
func (q *Queue) PutSentinel(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue sentinel canceled: %w", ctx.Err())
	case q.ch <- Item{Sentinel: true}:
		return nil
	}
}

// Get pops the next item, respecting context cancellation.
func (q *Queue) Get(ctx context.Context) (Item, error) {
	select {
	case <-ctx.Done():
		return Item{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case item, ok := <-q.ch:
		if !ok {
			return Item{}, ErrClosed
		}
		return item, nil
	}
}

// TaskDone acknowledges that a real task returned by Get has been processed.
func (q *Queue) TaskDone() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pending == 0 {
		return ErrTooManyDone
	}
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
	return nil
}

func (q *Queue) markDone() {
	_ = q.TaskDone() //nolint:errcheck // balanced with the increment in Put
}

// Join blocks until every real task put so far has been acknowledged.
func (q *Queue) Join(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()
	select {
	case <-idle:
		return nil
	default:
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("join canceled: %w", ctx.Err())
	}
}

// Pending returns the number of unacknowledged real tasks.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Len returns the number of buffered items.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
