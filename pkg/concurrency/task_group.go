package concurrency

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/osakka/agentorch/pkg/logging"
)

var (
	ErrTaskTimeout = errors.New("task execution timeout")
	ErrTaskPanic   = errors.New("task panicked")
)

// Task represents a unit of work producing a value
type Task[T any] interface {
	Execute(ctx context.Context) (T, error)
	Name() string
}

// TaskFunc allows using functions as tasks
type TaskFunc[T any] struct {
	name string
	fn   func(ctx context.Context) (T, error)
}

func NewTaskFunc[T any](name string, fn func(ctx context.Context) (T, error)) Task[T] {
	return &TaskFunc[T]{name: name, fn: fn}
}

func (t *TaskFunc[T]) Execute(ctx context.Context) (T, error) {
	return t.fn(ctx)
}

func (t *TaskFunc[T]) Name() string {
	return t.name
}

// Result is the terminal state of one task. Err wraps ErrTaskTimeout when
// the task was abandoned at its deadline and ErrTaskPanic when it panicked.
// DeadlineReached is set when the task's own deadline had fired by the time
// it finished, whether it was abandoned or returned on its own.
type Result[T any] struct {
	Name            string
	Value           T
	Err             error
	Duration        time.Duration
	DeadlineReached bool
}

// TimedOut reports whether the task was abandoned at its deadline.
func (r Result[T]) TimedOut() bool {
	return errors.Is(r.Err, ErrTaskTimeout)
}

// GroupMetrics tracks task group statistics
type GroupMetrics struct {
	ActiveTasks    int32
	CompletedTasks uint64
	FailedTasks    uint64
	TimedOutTasks  uint64
	PanickedTasks  uint64
	TotalDuration  int64 // nanoseconds
	MaxDuration    int64 // nanoseconds
}

// TaskGroup runs batches of tasks and joins them. Every Run returns exactly
// one Result per task, in task order. A timed-out task is abandoned, not
// interrupted: its goroutine may keep running and its value is discarded.
type TaskGroup[T any] struct {
	maxWorkers  int
	taskTimeout time.Duration
	metrics     *GroupMetrics
	logger      logging.Logger
}

// NewTaskGroup creates a task group; maxWorkers < 1 means 1, taskTimeout <= 0 disables the per-task deadline.
func NewTaskGroup[T any](maxWorkers int, taskTimeout time.Duration, logger logging.Logger) *TaskGroup[T] {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &TaskGroup[T]{
		maxWorkers:  maxWorkers,
		taskTimeout: taskTimeout,
		metrics:     &GroupMetrics{},
		logger:      logger.WithComponent("task_group"),
	}
}

// Run executes tasks concurrently, at most min(len(tasks), maxWorkers) at a time.
func (g *TaskGroup[T]) Run(ctx context.Context, tasks []Task[T]) []Result[T] {
	results := make([]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}

	workers := g.maxWorkers
	if len(tasks) < workers {
		workers = len(tasks)
	}
	sem := make(chan struct{}, workers)

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task Task[T]) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = Result[T]{Name: task.Name(), Err: ctx.Err()}
				atomic.AddUint64(&g.metrics.FailedTasks, 1)
				return
			}
			defer func() { <-sem }()

			results[i] = g.executeTask(ctx, task)
		}(i, task)
	}
	wg.Wait()

	g.logger.Debug("group_joined",
		"tasks", len(tasks),
		"workers", workers)
	return results
}

// RunSequential executes tasks one after another in order. A failing task
// does not stop later ones.
func (g *TaskGroup[T]) RunSequential(ctx context.Context, tasks []Task[T]) []Result[T] {
	results := make([]Result[T], len(tasks))
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			results[i] = Result[T]{Name: task.Name(), Err: err}
			atomic.AddUint64(&g.metrics.FailedTasks, 1)
			continue
		}
		results[i] = g.executeTask(ctx, task)
	}
	return results
}

type outcome[T any] struct {
	value T
	err   error
}

// executeTask runs one task under its deadline and recovers panics
func (g *TaskGroup[T]) executeTask(ctx context.Context, task Task[T]) Result[T] {
	start := time.Now()
	taskCtx := ctx
	cancel := func() {}
	if g.taskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, g.taskTimeout)
	}
	defer cancel()

	atomic.AddInt32(&g.metrics.ActiveTasks, 1)
	defer atomic.AddInt32(&g.metrics.ActiveTasks, -1)

	taskLogger := g.logger.WithComponent(fmt.Sprintf("task.%s", task.Name()))
	taskLogger.Trace("task_started")

	// buffered so an abandoned task can still deliver and exit
	done := make(chan outcome[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				taskLogger.Error("task_panic",
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()))
				done <- outcome[T]{err: fmt.Errorf("%w: %v", ErrTaskPanic, r)}
			}
		}()
		v, err := task.Execute(taskCtx)
		done <- outcome[T]{value: v, err: err}
	}()

	result := Result[T]{Name: task.Name()}
	select {
	case out := <-done:
		result.Value = out.value
		result.Err = out.err
	case <-taskCtx.Done():
		switch {
		case ctx.Err() != nil:
			// the caller's budget ran out, not this task's
			result.Err = fmt.Errorf("abandoned with caller: %w", ctx.Err())
		default:
			result.Err = fmt.Errorf("%w after %s", ErrTaskTimeout, g.taskTimeout)
		}
	}
	result.DeadlineReached = ctx.Err() == nil && errors.Is(taskCtx.Err(), context.DeadlineExceeded)
	result.Duration = time.Since(start)
	g.record(taskLogger, result)
	return result
}

func (g *TaskGroup[T]) record(taskLogger logging.Logger, result Result[T]) {
	d := result.Duration.Nanoseconds()
	atomic.AddInt64(&g.metrics.TotalDuration, d)
	for {
		current := atomic.LoadInt64(&g.metrics.MaxDuration)
		if d <= current || atomic.CompareAndSwapInt64(&g.metrics.MaxDuration, current, d) {
			break
		}
	}

	switch {
	case result.Err == nil:
		atomic.AddUint64(&g.metrics.CompletedTasks, 1)
		taskLogger.Debug("task_completed", "duration_ms", result.Duration.Milliseconds())
	case result.TimedOut():
		atomic.AddUint64(&g.metrics.TimedOutTasks, 1)
		taskLogger.Warn("task_abandoned",
			"error_type", "timeout",
			"timeout_ms", g.taskTimeout.Milliseconds())
	case errors.Is(result.Err, ErrTaskPanic):
		atomic.AddUint64(&g.metrics.PanickedTasks, 1)
	default:
		atomic.AddUint64(&g.metrics.FailedTasks, 1)
		taskLogger.Debug("task_failed",
			"error", result.Err,
			"duration_ms", result.Duration.Milliseconds())
	}
}

// GetMetrics returns current group metrics; TotalDuration holds the mean
func (g *TaskGroup[T]) GetMetrics() GroupMetrics {
	completed := atomic.LoadUint64(&g.metrics.CompletedTasks)
	failed := atomic.LoadUint64(&g.metrics.FailedTasks)
	timedOut := atomic.LoadUint64(&g.metrics.TimedOutTasks)
	panicked := atomic.LoadUint64(&g.metrics.PanickedTasks)

	finished := completed + failed + timedOut + panicked
	avg := int64(0)
	if finished > 0 {
		avg = atomic.LoadInt64(&g.metrics.TotalDuration) / int64(finished)
	}

	return GroupMetrics{
		ActiveTasks:    atomic.LoadInt32(&g.metrics.ActiveTasks),
		CompletedTasks: completed,
		FailedTasks:    failed,
		TimedOutTasks:  timedOut,
		PanickedTasks:  panicked,
		TotalDuration:  avg,
		MaxDuration:    atomic.LoadInt64(&g.metrics.MaxDuration),
	}
}

// LogMetrics logs current group metrics
func (g *TaskGroup[T]) LogMetrics() {
	m := g.GetMetrics()
	g.logger.Info("group_metrics",
		"active_tasks", m.ActiveTasks,
		"completed_tasks", m.CompletedTasks,
		"failed_tasks", m.FailedTasks,
		"timed_out_tasks", m.TimedOutTasks,
		"panicked_tasks", m.PanickedTasks,
		"avg_duration_ms", time.Duration(m.TotalDuration).Milliseconds(),
		"max_duration_ms", time.Duration(m.MaxDuration).Milliseconds())
}
