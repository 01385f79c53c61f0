package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applogger "MTFTrader/pkg/logger"
)

type spec struct {
	Symbol string `json:"symbol"`
	Mode   string `json:"mode"`
}

func TestParsePayload(t *testing.T) {
	tests := map[string]struct {
		raw     string
		want    *spec
		wantErr bool
	}{
		"object":  {raw: `{"symbol":"BTC/USDT","mode":"full"}`, want: &spec{Symbol: "BTC/USDT", Mode: "full"}},
		"empty":   {raw: ``, wantErr: true},
		"garbage": {raw: `[1,2`, wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := ParsePayload[spec](json.RawMessage(tc.raw))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestLocalQueue_Delivers(t *testing.T) {
	q := NewLocalQueue(applogger.Nop(), &QueueConfig{Workers: 2})
	got := make(chan spec, 1)
	q.RegisterJob(JobFunc{JobName: "pipeline", MsgType: "train", Fn: func(_ context.Context, p json.RawMessage) error {
		s, err := ParsePayload[spec](p)
		if err != nil {
			return err
		}
		got <- *s
		return nil
	}})
	require.NoError(t, q.Start())
	defer q.Stop(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), "train", spec{Symbol: "ETH/USDT"}))
	select {
	case s := <-got:
		assert.Equal(t, "ETH/USDT", s.Symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
}

func TestLocalQueue_RetriesThenDeadLetters(t *testing.T) {
	q := NewLocalQueue(applogger.Nop(), &QueueConfig{Workers: 1, RetryLimit: 2, RetryDelay: 10 * time.Millisecond})
	var calls atomic.Int32
	q.RegisterJob(JobFunc{JobName: "flaky", MsgType: "x", Fn: func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return errors.New("boom")
	}})
	require.NoError(t, q.Start())
	defer q.Stop(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), "x", spec{}))
	require.Eventually(t, func() bool { return len(q.DeadLetters()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2, q.DeadLetters()[0].Attempts)
}

func TestLocalQueue_PanicIsAnError(t *testing.T) {
	q := NewLocalQueue(applogger.Nop(), &QueueConfig{Workers: 1})
	q.RegisterJob(JobFunc{JobName: "bad", MsgType: "p", Fn: func(context.Context, json.RawMessage) error {
		panic("nil map")
	}})
	require.NoError(t, q.Start())
	defer q.Stop(context.Background())

	require.NoError(t, q.Enqueue(context.Background(), "p", spec{}))
	require.Eventually(t, func() bool { return len(q.DeadLetters()) == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestLocalQueue_Rejects(t *testing.T) {
	q := NewLocalQueue(applogger.Nop(), &QueueConfig{Workers: 1, QueueSize: 1})
	block := make(chan struct{})
	q.RegisterJob(JobFunc{JobName: "slow", MsgType: "s", Fn: func(ctx context.Context, _ json.RawMessage) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return nil
	}})

	assert.ErrorIs(t, q.Enqueue(context.Background(), "s", spec{}), ErrNotRunning)
	require.NoError(t, q.Start())
	defer q.Stop(context.Background())
	defer close(block)

	assert.Error(t, q.Enqueue(context.Background(), "unknown", spec{}))

	// one in flight, one buffered, then full
	require.NoError(t, q.Enqueue(context.Background(), "s", spec{}))
	require.Eventually(t, func() bool { return len(q.msgs) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, q.Enqueue(context.Background(), "s", spec{}))
	assert.ErrorIs(t, q.Enqueue(context.Background(), "s", spec{}), ErrQueueFull)
}
