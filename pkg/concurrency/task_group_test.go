package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osakka/agentorch/pkg/logging"
)

func constTask(name string, v int) Task[int] {
	return NewTaskFunc(name, func(ctx context.Context) (int, error) {
		return v, nil
	})
}

func TestTaskGroup(t *testing.T) {
	logger := logging.NewNop()

	t.Run("returns one result per task in order", func(t *testing.T) {
		group := NewTaskGroup[int](4, time.Second, logger)
		tasks := []Task[int]{constTask("a", 1), constTask("b", 2), constTask("c", 3)}

		results := group.Run(context.Background(), tasks)

		require.Len(t, results, 3)
		for i, r := range results {
			assert.Equal(t, tasks[i].Name(), r.Name)
			assert.Equal(t, i+1, r.Value)
			assert.NoError(t, r.Err)
		}
		assert.EqualValues(t, 3, group.GetMetrics().CompletedTasks)
	})

	t.Run("isolates errors", func(t *testing.T) {
		group := NewTaskGroup[int](2, time.Second, logger)
		boom := errors.New("task error")
		tasks := []Task[int]{
			NewTaskFunc("fails", func(ctx context.Context) (int, error) { return 0, boom }),
			constTask("ok", 7),
		}

		results := group.Run(context.Background(), tasks)

		assert.ErrorIs(t, results[0].Err, boom)
		assert.NoError(t, results[1].Err)
		assert.Equal(t, 7, results[1].Value)
		assert.EqualValues(t, 1, group.GetMetrics().FailedTasks)
	})

	t.Run("recovers panics", func(t *testing.T) {
		group := NewTaskGroup[int](2, time.Second, logger)
		tasks := []Task[int]{
			NewTaskFunc("panics", func(ctx context.Context) (int, error) { panic("kaboom") }),
			constTask("ok", 1),
		}

		results := group.Run(context.Background(), tasks)

		assert.ErrorIs(t, results[0].Err, ErrTaskPanic)
		assert.Contains(t, results[0].Err.Error(), "kaboom")
		assert.NoError(t, results[1].Err)
		assert.EqualValues(t, 1, group.GetMetrics().PanickedTasks)
	})

	t.Run("abandons tasks at timeout without delaying others", func(t *testing.T) {
		group := NewTaskGroup[int](2, 50*time.Millisecond, logger)
		release := make(chan struct{})
		defer close(release)

		tasks := []Task[int]{
			NewTaskFunc("stuck", func(ctx context.Context) (int, error) {
				<-release // ignores ctx on purpose
				return 1, nil
			}),
			constTask("fast", 2),
		}

		start := time.Now()
		results := group.Run(context.Background(), tasks)
		elapsed := time.Since(start)

		assert.True(t, results[0].TimedOut())
		assert.ErrorIs(t, results[0].Err, ErrTaskTimeout)
		assert.Zero(t, results[0].Value)
		assert.NoError(t, results[1].Err)
		assert.Less(t, elapsed, time.Second)
		assert.EqualValues(t, 1, group.GetMetrics().TimedOutTasks)
	})

	t.Run("bounds concurrency", func(t *testing.T) {
		group := NewTaskGroup[int](2, time.Second, logger)
		var active, peak int32

		tasks := make([]Task[int], 6)
		for i := range tasks {
			tasks[i] = NewTaskFunc("bounded", func(ctx context.Context) (int, error) {
				n := atomic.AddInt32(&active, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&active, -1)
				return 0, nil
			})
		}

		group.Run(context.Background(), tasks)

		assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	})

	t.Run("sequential runs in order and continues after failure", func(t *testing.T) {
		group := NewTaskGroup[int](4, time.Second, logger)
		var order []string
		mk := func(name string, err error) Task[int] {
			return NewTaskFunc(name, func(ctx context.Context) (int, error) {
				order = append(order, name)
				return 0, err
			})
		}

		results := group.RunSequential(context.Background(), []Task[int]{
			mk("first", nil), mk("second", errors.New("nope")), mk("third", nil),
		})

		assert.Equal(t, []string{"first", "second", "third"}, order)
		assert.NoError(t, results[0].Err)
		assert.Error(t, results[1].Err)
		assert.NoError(t, results[2].Err)
	})

	t.Run("cancelled context fails pending tasks", func(t *testing.T) {
		group := NewTaskGroup[int](1, time.Second, logger)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		results := group.RunSequential(ctx, []Task[int]{constTask("a", 1)})

		assert.ErrorIs(t, results[0].Err, context.Canceled)
		assert.False(t, results[0].TimedOut())
	})

	t.Run("caller deadline is not reported as task timeout", func(t *testing.T) {
		group := NewTaskGroup[int](1, time.Minute, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		release := make(chan struct{})
		defer close(release)

		results := group.Run(ctx, []Task[int]{
			NewTaskFunc("stuck", func(ctx context.Context) (int, error) {
				<-release
				return 1, nil
			}),
		})

		assert.False(t, results[0].TimedOut())
		assert.False(t, results[0].DeadlineReached)
		assert.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
		assert.NotContains(t, results[0].Err.Error(), time.Minute.String())
	})

	t.Run("deadline reached only when the task budget fired", func(t *testing.T) {
		group := NewTaskGroup[int](2, 30*time.Millisecond, logger)
		results := group.Run(context.Background(), []Task[int]{
			NewTaskFunc("upstream", func(ctx context.Context) (int, error) {
				return 0, context.DeadlineExceeded
			}),
			NewTaskFunc("polite", func(ctx context.Context) (int, error) {
				<-ctx.Done()
				return 0, ctx.Err()
			}),
		})

		assert.False(t, results[0].DeadlineReached)
		assert.True(t, results[1].DeadlineReached)
	})

	t.Run("empty batch", func(t *testing.T) {
		group := NewTaskGroup[int](4, time.Second, logger)
		assert.Empty(t, group.Run(context.Background(), nil))
	})
}
