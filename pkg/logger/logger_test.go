package logger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu      sync.Mutex
	topic   string
	batches [][]AggregatedLogEntry
}

func (p *capturePublisher) PublishMessage(_ context.Context, topic string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topic = topic
	p.batches = append(p.batches, payload.([]AggregatedLogEntry))
	return nil
}

func (p *capturePublisher) entries() []AggregatedLogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []AggregatedLogEntry
	for _, b := range p.batches {
		out = append(out, b...)
	}
	return out
}

func TestCollector_DeduplicatesErrors(t *testing.T) {
	pub := &capturePublisher{}
	l := Nop()
	l.AddCollector(&CollectionConfig{TimeInterval: time.Hour, CountThreshold: 100, Topic: "logs", Publisher: pub})

	for i := 0; i < 3; i++ {
		l.Error("tick failed", String("symbol", "BTC/USDT"), Error(errors.New("boom")))
	}
	l.Error("tick failed", String("symbol", "ETH/USDT"))
	l.Warn("ignored without CollectWarn")
	l.Info("never collected")

	require.Equal(t, 2, l.collector.Pending())
	l.RemoveCollector()

	got := pub.entries()
	require.Len(t, got, 2)
	assert.Equal(t, "logs", pub.topic)
	counts := map[interface{}]int{}
	for _, e := range got {
		counts[e.Fields["symbol"]] = e.Count
	}
	assert.Equal(t, 3, counts["BTC/USDT"])
	assert.Equal(t, 1, counts["ETH/USDT"])
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New(&Config{Level: "loud", Output: "stdout"})
	assert.Error(t, err)

	l, err := New(&Config{Level: "debug", Format: "json", Output: "stderr"})
	require.NoError(t, err)
	l.With(String("component", "test")).Debug("ok", Duration("took_ms", 3*time.Millisecond))
}
