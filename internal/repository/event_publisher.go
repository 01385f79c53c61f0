package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"MTFTrader/internal/domain/models"
	pkgkafka "MTFTrader/pkg/kafka"
	applogger "MTFTrader/pkg/logger"
)

// KafkaEventPublisher publishes domain events keyed by symbol so one symbol's
// events stay on one partition.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, ev models.Event) error {
	stampEvent(&ev)
	return p.producer.Publish(ctx, p.topic, []byte(ev.Symbol), ev)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// KafkaCandlePublisher sends closed candles to the candles topic.
type KafkaCandlePublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaCandlePublisher(producer *pkgkafka.Producer, topic string) *KafkaCandlePublisher {
	return &KafkaCandlePublisher{producer: producer, topic: topic}
}

func (p *KafkaCandlePublisher) PublishCandles(ctx context.Context, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(candles))
	for i, c := range candles {
		msgs[i] = pkgkafka.Message{Key: []byte(c.Symbol + "|" + string(c.Timeframe)), Value: c}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

// LogEventPublisher is used when Kafka is disabled.
type LogEventPublisher struct {
	l *applogger.Logger
}

func NewLogEventPublisher(l *applogger.Logger) *LogEventPublisher {
	return &LogEventPublisher{l: l}
}

func (p *LogEventPublisher) Publish(_ context.Context, ev models.Event) error {
	stampEvent(&ev)
	p.l.Debug("event",
		applogger.String("id", ev.ID),
		applogger.String("type", ev.Type),
		applogger.String("symbol", ev.Symbol),
		applogger.Any("payload", ev.Payload),
	)
	return nil
}

func stampEvent(ev *models.Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
}
