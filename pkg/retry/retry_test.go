package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBusy = errors.New("database is locked")

func TestDo(t *testing.T) {
	isBusy := func(err error) bool { return errors.Is(err, errBusy) }

	tests := map[string]struct {
		failures  int
		failWith  error
		tries     int
		wantCalls int
		wantErr   error
	}{
		"first try":                  {failures: 0, tries: 5, wantCalls: 1},
		"recovers after contention":  {failures: 3, failWith: errBusy, tries: 5, wantCalls: 4},
		"gives up":                   {failures: 10, failWith: errBusy, tries: 4, wantCalls: 4, wantErr: errBusy},
		"does not retry other kinds": {failures: 10, failWith: errors.New("syntax"), tries: 5, wantCalls: 1},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), Policy{
				Tries: tc.tries, Delay: time.Millisecond, Backoff: 1.6, MaxDelay: 3 * time.Millisecond,
				Retryable: isBusy,
			}, func(context.Context) error {
				calls++
				if calls <= tc.failures {
					return tc.failWith
				}
				return nil
			})
			assert.Equal(t, tc.wantCalls, calls)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
			if tc.wantCalls > tc.failures {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestDo_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Tries: 10, Delay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errBusy
	})
	assert.ErrorIs(t, err, errBusy)
	assert.Equal(t, 1, calls)
}

func TestDo_BackoffIsCapped(t *testing.T) {
	var retries []int
	start := time.Now()
	_ = Do(context.Background(), Policy{
		Tries: 5, Delay: 2 * time.Millisecond, Backoff: 10, MaxDelay: 5 * time.Millisecond,
		OnRetry: func(attempt int, _ error) { retries = append(retries, attempt) },
	}, func(context.Context) error { return errBusy })

	assert.Equal(t, []int{1, 2, 3, 4}, retries)
	assert.Less(t, time.Since(start), time.Second)
}
