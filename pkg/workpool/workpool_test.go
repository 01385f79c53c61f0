package workpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_AllTasksComplete(t *testing.T) {
	var tasks []Task[int]
	for i := 0; i < 20; i++ {
		i := i
		tasks = append(tasks, func(context.Context) (int, error) { return i * i, nil })
	}

	var calls int
	got := Run(context.Background(), tasks, 4, func(Result[int]) { calls++ })

	require.Len(t, got, 20)
	assert.Equal(t, 20, calls)
	for i, r := range got {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, i*i, r.Value)
		assert.False(t, r.Fallback)
	}
}

func TestRun_PanicBecomesError(t *testing.T) {
	tasks := []Task[int]{
		func(context.Context) (int, error) { panic("bad grid point") },
		func(context.Context) (int, error) { return 1, nil },
	}
	got := Run(context.Background(), tasks, 2, nil)
	assert.Error(t, got[0].Err)
	assert.NoError(t, got[1].Err)
}

func TestRunWithDeadlineFallback_EveryTaskOnce(t *testing.T) {
	var started atomic.Int32
	slow := func(ctx context.Context) (string, error) {
		started.Add(1)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(300 * time.Millisecond):
			return "slow", nil
		}
	}
	fast := func(context.Context) (string, error) { return "fast", nil }

	tasks := []Task[string]{fast, slow, slow, fast, slow}
	seen := map[int]int{}
	start := time.Now()
	got := RunWithDeadlineFallback(context.Background(), tasks, 2, 50*time.Millisecond, func(r Result[string]) {
		seen[r.Index]++
	})

	require.Len(t, got, len(tasks))
	for i := range tasks {
		assert.Equal(t, 1, seen[i], "task %d", i)
	}
	want := []string{"fast", "slow", "slow", "fast", "slow"}
	fallbacks := 0
	// fallback runs on the parent context, which is never cancelled here
	for i, r := range got {
		if r.Fallback {
			fallbacks++
			assert.Equal(t, want[i], r.Value)
			assert.NoError(t, r.Err)
		}
	}
	assert.Positive(t, fallbacks)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunWithDeadlineFallback_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tasks := []Task[int]{
		func(ctx context.Context) (int, error) { return 0, ctx.Err() },
	}
	got := RunWithDeadlineFallback(ctx, tasks, 1, time.Second, nil)
	assert.True(t, errors.Is(got[0].Err, context.Canceled))
}
