package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Outcome is how a concurrent task ended.
type Outcome string

const (
	Succeeded Outcome = "succeeded"
	TimedOut  Outcome = "timed_out"
	Failed    Outcome = "failed"

	// Skipped tasks were never started.
	Skipped Outcome = "skipped"
)

// Task is the result slot of one task. Its fields are only valid after the
// group's Wait returns.
type Task[T any] struct {
	Name    string
	Value   T
	Outcome Outcome
	Err     error
	Elapsed time.Duration
}

// OK reports whether the task succeeded.
func (t *Task[T]) OK() bool {
	return t.Outcome == Succeeded
}

// TaskGroup runs tasks concurrently with bounded parallelism and a
// per-task timeout. A failed task never cancels its siblings: results are
// partial, and each task reports its own Outcome.
type TaskGroup struct {
	g       errgroup.Group
	timeout time.Duration
}

// NewTaskGroup creates a group. limit <= 0 means unbounded, timeout <= 0
// means tasks only stop when the parent context does.
func NewTaskGroup(limit int, timeout time.Duration) *TaskGroup {
	tg := &TaskGroup{timeout: timeout}
	if limit > 0 {
		tg.g.SetLimit(limit)
	}
	return tg
}

// Go starts fn in the group and returns its result slot.
//
// A task that outlives its timeout is reported as TimedOut with a zero
// Value even if fn ignores its context; fn keeps running in the background
// until it returns. Panics are reported as Failed.
func Go[T any](ctx context.Context, tg *TaskGroup, name string, fn func(ctx context.Context) (T, error)) *Task[T] {
	task := &Task[T]{Name: name}
	tg.g.Go(func() error {
		start := time.Now()
		defer func() { task.Elapsed = time.Since(start) }()

		taskCtx, cancel := ctx, context.CancelFunc(func() {})
		if tg.timeout > 0 {
			taskCtx, cancel = context.WithTimeout(ctx, tg.timeout)
		}
		defer cancel()

		type result struct {
			value T
			err   error
		}
		done := make(chan result, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					done <- result{err: fmt.Errorf("task %s panicked: %v", name, p)}
				}
			}()
			v, err := fn(taskCtx)
			done <- result{value: v, err: err}
		}()

		select {
		case r := <-done:
			switch {
			case r.err == nil:
				task.Value, task.Outcome = r.value, Succeeded
			case errors.Is(r.err, context.DeadlineExceeded) && taskCtx.Err() != nil && ctx.Err() == nil:
				task.Outcome, task.Err = TimedOut, r.err
			default:
				task.Outcome, task.Err = Failed, r.err
			}
		case <-taskCtx.Done():
			if ctx.Err() == nil {
				task.Outcome, task.Err = TimedOut, fmt.Errorf("task %s: %w", name, taskCtx.Err())
			} else {
				task.Outcome, task.Err = Failed, fmt.Errorf("task %s: %w", name, ctx.Err())
			}
		}
		return nil
	})
	return task
}

// Wait blocks until every started task has finished or timed out.
func (tg *TaskGroup) Wait() {
	_ = tg.g.Wait()
}
