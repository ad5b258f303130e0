// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// Package task runs the per-file and cross-file analysis steps as
// independent units with a monotonic status and explicit completion
// signals.
package task

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Status of a task. It only moves forward:
// Waiting -> Processing -> Finished|Error|Canceled.
// A task canceled while waiting goes directly to Canceled.
type Status int32

const (
	Waiting Status = iota
	Processing
	Finished
	Error
	Canceled
)

func (s Status) String() string {
	switch s {
	case Waiting:
		return "WAITING"
	case Processing:
		return "PROCESSING"
	case Finished:
		return "FINISHED"
	case Error:
		return "ERROR"
	case Canceled:
		return "CANCELED"
	}
	return fmt.Sprintf("Status(%d)", int32(s))
}

// Terminal reports whether no further transitions are possible
func (s Status) Terminal() bool {
	return s >= Finished
}

// ErrPanic wraps a panic recovered from a task body
var ErrPanic = errors.New("task panicked")

// Body is the work of a task. It must check ctx regularly and return
// ctx.Err() when canceled. Output produced before returning is kept.
type Body func(ctx context.Context, h *Handle) error

// Handle tracks the state of one task. The done channel is closed
// after the final status is stored, so everything the body wrote
// happens before a receive from Done returns.
type Handle struct {
	name string
	body Body
	deps []*Handle

	status   atomic.Int32
	progress atomic.Uint64 // float64 bits
	started  atomic.Bool

	mu      sync.Mutex
	message string

	done       chan struct{}
	cancel     chan struct{}
	cancelOnce sync.Once
}

// New creates a task that runs body once all deps are terminal
func New(name string, body Body, deps ...*Handle) *Handle {
	return &Handle{
		name:   name,
		body:   body,
		deps:   deps,
		done:   make(chan struct{}),
		cancel: make(chan struct{}),
	}
}

// Name returns the task name
func (h *Handle) Name() string { return h.name }

// Deps returns the tasks this task waits for
func (h *Handle) Deps() []*Handle { return h.deps }

// Status returns the current status
func (h *Handle) Status() Status { return Status(h.status.Load()) }

// Done is closed when the task reaches a terminal status
func (h *Handle) Done() <-chan struct{} { return h.done }

// Progress returns the advisory fraction of work done (0-1)
func (h *Handle) Progress() float64 {
	return math.Float64frombits(h.progress.Load())
}

// SetProgress stores the advisory progress, clamped to 0-1
func (h *Handle) SetProgress(f float64) {
	f = math.Max(0, math.Min(1, f))
	h.progress.Store(math.Float64bits(f))
}

// Message returns the last status message
func (h *Handle) Message() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.message
}

// SetMessage stores a status message
func (h *Handle) SetMessage(format string, args ...any) {
	h.mu.Lock()
	h.message = fmt.Sprintf(format, args...)
	h.mu.Unlock()
}

// Cancel requests cooperative cancellation. A waiting task ends as
// Canceled without running; a running task sees its context canceled.
func (h *Handle) Cancel() {
	h.cancelOnce.Do(func() { close(h.cancel) })
}

func (h *Handle) canceled() bool {
	select {
	case <-h.cancel:
		return true
	default:
		return false
	}
}

// Run executes the task in the calling goroutine after its dependencies
// completed, without a worker limit, and returns the final status.
func (h *Handle) Run(ctx context.Context) Status {
	return h.run(ctx, nil)
}

// run executes the task once. Concurrent or repeated calls wait for the
// first run to finish.
func (h *Handle) run(ctx context.Context, sem *semaphore.Weighted) Status {
	if !h.started.CompareAndSwap(false, true) {
		<-h.done
		return h.Status()
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-h.cancel:
			stop()
		case <-ctx.Done():
		}
	}()

	// Dependencies are awaited without holding a worker slot
	if err := Await(ctx, h.deps...); err != nil || h.canceled() {
		return h.finish(Canceled, "canceled while waiting")
	}
	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return h.finish(Canceled, "canceled while waiting")
		}
		defer sem.Release(1)
	}
	if h.canceled() || ctx.Err() != nil {
		return h.finish(Canceled, "canceled while waiting")
	}

	h.status.Store(int32(Processing))
	err := h.call(ctx)
	switch {
	case err == nil:
		h.SetProgress(1)
		return h.finish(Finished, "")
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		ctx.Err() != nil:
		return h.finish(Canceled, "canceled")
	default:
		return h.finish(Error, err.Error())
	}
}

func (h *Handle) call(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return h.body(ctx, h)
}

func (h *Handle) finish(s Status, msg string) Status {
	if msg != "" {
		h.SetMessage("%s", msg)
	}
	h.status.Store(int32(s))
	close(h.done)
	return s
}

// Await blocks until all tasks are terminal or ctx is done
func Await(ctx context.Context, tasks ...*Handle) error {
	for _, t := range tasks {
		select {
		case <-t.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return ctx.Err()
}
