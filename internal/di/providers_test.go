package di

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MTFTrader/internal/domain/models"
	"MTFTrader/internal/repository"
	"MTFTrader/internal/repository/memory"
	"MTFTrader/internal/services/model"
	"MTFTrader/pkg/cache"
	"MTFTrader/pkg/config"
	applogger "MTFTrader/pkg/logger"
	"MTFTrader/pkg/queue"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.StatusCache.Dir = t.TempDir()
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestProvideWeights(t *testing.T) {
	tests := map[string]struct {
		raw     map[string]float64
		want    map[models.Timeframe]float64
		wantErr bool
	}{
		"normalized keys": {
			raw:  map[string]float64{"1H": 1.2, "4h": 1.4},
			want: map[models.Timeframe]float64{models.TF1h: 1.2, models.TF4h: 1.4},
		},
		"unknown timeframe": {
			raw:     map[string]float64{"7m": 1},
			wantErr: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Signal.HierarchyWeights = tc.raw

			w, err := ProvideWeights(cfg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			for tf, v := range tc.want {
				assert.Equal(t, v, w[tf])
			}
		})
	}
}

func TestProvideTimeframes_SortedFastToSlow(t *testing.T) {
	cfg := testConfig(t)
	cfg.Market.Timeframes = []string{"1d", "15m", "4h"}

	tfs, err := ProvideTimeframes(cfg)
	require.NoError(t, err)
	assert.Equal(t, []models.Timeframe{models.TF15m, models.TF4h, models.TF1d}, tfs)
}

func TestProvideSignalParams_FromConfig(t *testing.T) {
	cfg := testConfig(t)
	off := false
	cfg.Signal.ExitOnFlip = &off
	cfg.Backtest.MaxBars = 50

	p := ProvideSignalParams(cfg)
	assert.False(t, p.ExitOnFlip)
	assert.Equal(t, 50, p.MaxBarsInTrade)
	assert.Equal(t, 0.60, p.EntryThreshold)
	assert.Equal(t, 2.0, p.TPATRMult)
}

func TestProvideBackends_MemoryDefaults(t *testing.T) {
	cfg := testConfig(t)
	l := applogger.Nop()

	ch, err := ProvideClickHouse(cfg)
	require.NoError(t, err)
	assert.Nil(t, ch)
	assert.IsType(t, &memory.CandleStore{}, ProvideCandleStore(nil, l))

	stores, err := ProvideStores(cfg, l)
	require.NoError(t, err)
	assert.IsType(t, &memory.Store{}, stores.Jobs)
	assert.Nil(t, stores.Closer)

	status, err := ProvideStatusCache(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &repository.FileStatusCache{}, status)

	assert.IsType(t, &cache.MemoryCache{}, ProvideCache(nil))
	assert.IsType(t, &queue.LocalQueue{}, ProvideDispatcher(cfg, nil, l))
	assert.IsType(t, &repository.LogEventPublisher{}, ProvideEventPublisher(cfg, nil, l))
}

func TestProvideTrainer(t *testing.T) {
	cfg := testConfig(t)
	assert.IsType(t, &model.LocalTrainer{}, ProvideTrainer(cfg))

	cfg.ModelService.URL = "http://trainer:8000"
	assert.IsType(t, &model.RemoteTrainer{}, ProvideTrainer(cfg))
}

func TestProvideOptionalComponents_Disabled(t *testing.T) {
	cfg := testConfig(t)
	l := applogger.Nop()

	producer, err := ProvideKafkaProducer(cfg)
	require.NoError(t, err)
	assert.Nil(t, producer)

	consumer, err := ProvideKafkaConsumer(cfg, memory.NewCandleStore(), nil, l)
	require.NoError(t, err)
	assert.Nil(t, consumer)

	rc, err := ProvideRedis(cfg)
	require.NoError(t, err)
	assert.Nil(t, rc)

	tfs, err := ProvideTimeframes(cfg)
	require.NoError(t, err)
	assert.Nil(t, ProvideQuoteCollector(cfg, tfs, ProvideQuoteCache(cfg), memory.NewCandleStore(), nil, nil, l))

	cfg.Metrics.Enabled = false
	assert.Nil(t, ProvideHTTPMetrics(cfg))
}

func TestInitializeApp_InMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Metrics.Enabled = false

	app, err := InitializeApp(cfg)
	require.NoError(t, err)
	assert.NotNil(t, app)
}
