// Package workpool runs bounded batches of tasks on a goroutine pool with a
// deadline after which unfinished tasks are completed on the calling goroutine.
package workpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
)

// Task is one unit of work. Implementations must respect ctx where they block.
type Task[T any] func(ctx context.Context) (T, error)

// Result pairs a task index with its outcome. Fallback marks results
// produced synchronously after the deadline.
type Result[T any] struct {
	Index    int
	Value    T
	Err      error
	Fallback bool
}

type slotState uint8

const (
	slotPending slotState = iota
	slotDone
	slotFallback
)

// Run executes every task on at most workers goroutines and returns results
// indexed like tasks.
func Run[T any](ctx context.Context, tasks []Task[T], workers int, onDone func(Result[T])) []Result[T] {
	return RunWithDeadlineFallback(ctx, tasks, workers, 0, onDone)
}

// RunWithDeadlineFallback executes tasks concurrently. When deadline is
// positive and elapses first, pool workers are cancelled and every task that
// has not completed yet is run again on the caller's goroutine. Each task
// contributes exactly one result and onDone is invoked once per task, never
// concurrently with itself. Results from workers that finish after the
// deadline are discarded.
func RunWithDeadlineFallback[T any](
	ctx context.Context,
	tasks []Task[T],
	workers int,
	deadline time.Duration,
	onDone func(Result[T]),
) []Result[T] {
	results := make([]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results
	}
	if workers < 1 {
		workers = 1
	}

	var (
		mu    sync.Mutex
		state = make([]slotState, len(tasks))
	)
	complete := func(r Result[T], want slotState) bool {
		mu.Lock()
		defer mu.Unlock()
		if state[r.Index] != want {
			return false
		}
		state[r.Index] = slotDone
		results[r.Index] = r
		if onDone != nil {
			onDone(r)
		}
		return true
	}

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := pool.New().WithMaxGoroutines(workers).WithContext(poolCtx)
	finished := make(chan struct{})
	go func() {
		for i, task := range tasks {
			i, task := i, task
			p.Go(func(ctx context.Context) error {
				mu.Lock()
				skip := state[i] != slotPending
				mu.Unlock()
				if skip {
					return nil
				}
				v, err := call(ctx, task)
				complete(Result[T]{Index: i, Value: v, Err: err}, slotPending)
				return nil
			})
		}
		_ = p.Wait()
		close(finished)
	}()

	var timeout <-chan time.Time
	if deadline > 0 {
		t := time.NewTimer(deadline)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-finished:
		return results
	case <-timeout:
	}

	cancel()
	mu.Lock()
	var pending []int
	for i, s := range state {
		if s == slotPending {
			state[i] = slotFallback
			pending = append(pending, i)
		}
	}
	mu.Unlock()

	for _, i := range pending {
		v, err := call(ctx, tasks[i])
		complete(Result[T]{Index: i, Value: v, Err: err, Fallback: true}, slotFallback)
	}
	return results
}

func call[T any](ctx context.Context, task Task[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task(ctx)
}
