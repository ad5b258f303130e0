// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package task

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/524D/mzfame/internal/logging"
)

// Coordinator runs tasks on a shared, bounded worker pool. Each task
// waits for its dependencies without occupying a worker, so dependents
// may be submitted in any order.
type Coordinator struct {
	parent context.Context
	ctx    context.Context
	g      *errgroup.Group
	sem    *semaphore.Weighted
	log    *slog.Logger

	mu    sync.Mutex
	tasks []*Handle
}

// NewCoordinator creates a coordinator with the given number of workers.
// workers < 1 means one worker per CPU.
func NewCoordinator(ctx context.Context, workers int) *Coordinator {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	g, gctx := errgroup.WithContext(ctx)
	return &Coordinator{
		parent: ctx,
		ctx:    gctx,
		g:      g,
		sem:    semaphore.NewWeighted(int64(workers)),
		log:    logging.New("task"),
	}
}

// Submit schedules tasks. Failures of a task are recorded in its status
// and never stop other tasks.
func (c *Coordinator) Submit(tasks ...*Handle) {
	c.mu.Lock()
	c.tasks = append(c.tasks, tasks...)
	c.mu.Unlock()
	for _, t := range tasks {
		t := t
		c.g.Go(func() error {
			st := t.run(c.ctx, c.sem)
			switch st {
			case Error:
				c.log.Error("task failed", "task", t.Name(), "error", t.Message())
			case Canceled:
				c.log.Info("task canceled", "task", t.Name())
			default:
				c.log.Debug("task done", "task", t.Name(), "status", st.String())
			}
			return nil // errors captured in the task status
		})
	}
}

// Tasks returns the submitted tasks in submission order
func (c *Coordinator) Tasks() []*Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Handle, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// CancelAll requests cancellation of every submitted task
func (c *Coordinator) CancelAll() {
	for _, t := range c.Tasks() {
		t.Cancel()
	}
}

// Wait blocks until all submitted tasks are terminal. It returns the
// error of the parent context, if any; task failures are only reported
// through the task status.
func (c *Coordinator) Wait() error {
	_ = c.g.Wait()
	return c.parent.Err()
}
