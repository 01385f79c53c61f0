package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"MTFTrader/internal/domain/models"
	domrepo "MTFTrader/internal/domain/repository"
	mid "MTFTrader/internal/middleware"
	pkgkafka "MTFTrader/pkg/kafka"
)

// KafkaCandlesHandler consumes closed candles from Kafka and writes them to
// the candle store.
type KafkaCandlesHandler struct {
	topic   string
	store   domrepo.CandleStore
	metrics domrepo.Metrics
}

func NewKafkaCandlesHandler(topic string, store domrepo.CandleStore, metrics domrepo.Metrics) *KafkaCandlesHandler {
	return &KafkaCandlesHandler{topic: topic, store: store, metrics: metrics}
}

func (h *KafkaCandlesHandler) Topic() string { return h.topic }

// Handle accepts a single candle object or an array of them.
func (h *KafkaCandlesHandler) Handle(ctx context.Context, b []byte) error {
	candles, err := decodeCandles(b)
	if err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	valid := candles[:0]
	for _, c := range candles {
		if err := mid.ValidateCandle(c); err != nil {
			h.metrics.RecordError("consumer_validate")
			continue
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return nil
	}
	if err := h.store.UpsertCandles(ctx, valid); err != nil {
		h.metrics.RecordError("consumer_store")
		return fmt.Errorf("store candles: %w", err)
	}
	return nil
}

func decodeCandles(b []byte) ([]models.Candle, error) {
	var many []models.Candle
	if err := json.Unmarshal(b, &many); err == nil {
		return many, nil
	}
	var one models.Candle
	if err := json.Unmarshal(b, &one); err != nil {
		return nil, fmt.Errorf("decode candle: %w", err)
	}
	return []models.Candle{one}, nil
}

var _ pkgkafka.MessageHandler = (*KafkaCandlesHandler)(nil)
