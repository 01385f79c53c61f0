package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"MTFTrader/internal/domain/models"
)

func TestRecorder(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.RecordBotTick("BTC/USDT", "ok", 0.2)
	r.RecordBotTick("BTC/USDT", "error", 0.1)
	r.RecordTrade("BTC/USDT", "closed", "sl")
	r.RecordBacktest("BTC/USDT", models.TF1h, 7, 1.5)
	r.RecordEvaluation("ok")
	r.RecordEvaluation("ok")
	r.RecordStoreRetry("job_update")
	r.RecordError("tick")

	assert.Equal(t, 1.0, testutil.ToFloat64(r.botTicks.WithLabelValues("BTC/USDT", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.trades.WithLabelValues("BTC/USDT", "closed", "sl")))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.backtests.WithLabelValues("BTC/USDT", "1h")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.evaluations.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.storeRetries.WithLabelValues("job_update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errorsTotal.WithLabelValues("tick")))
}
