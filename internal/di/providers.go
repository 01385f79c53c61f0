package di

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"MTFTrader/internal/domain/models"
	domrepo "MTFTrader/internal/domain/repository"
	"MTFTrader/internal/domain/service"
	"MTFTrader/internal/handler/api"
	mid "MTFTrader/internal/middleware"
	internalrepo "MTFTrader/internal/repository"
	"MTFTrader/internal/repository/memory"
	"MTFTrader/internal/repository/postgres"
	"MTFTrader/internal/service/binance"
	"MTFTrader/internal/service/quotes"
	"MTFTrader/internal/services/backtest"
	"MTFTrader/internal/services/model"
	"MTFTrader/internal/services/optimizer"
	"MTFTrader/internal/services/precompute"
	"MTFTrader/internal/services/signal"
	"MTFTrader/internal/usecase"
	"MTFTrader/pkg/cache"
	pkgch "MTFTrader/pkg/clickhouse"
	"MTFTrader/pkg/config"
	xhttp "MTFTrader/pkg/http"
	"MTFTrader/pkg/http/middleware"
	pkgkafka "MTFTrader/pkg/kafka"
	applogger "MTFTrader/pkg/logger"
	"MTFTrader/pkg/metrics"
	"MTFTrader/pkg/queue"
	"MTFTrader/pkg/server"
)

const initTimeout = 10 * time.Second

// ProvideKafkaProducer creates the shared producer, or nil when Kafka is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithBatch(cfg.Kafka.Producer.BatchSize, cfg.Kafka.Producer.BatchTimeout),
		pkgkafka.WithWriteTimeout(cfg.Kafka.Producer.WriteTimeout),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideLogger builds the application logger. Error logs are aggregated and
// shipped to the log topic when collection is enabled and Kafka is available.
func ProvideLogger(cfg *config.Config, producer *pkgkafka.Producer) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	if cfg.Log.Collect.Enabled && producer != nil {
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   cfg.Log.Collect.Interval,
			CountThreshold: cfg.Log.Collect.Threshold,
			Topic:          cfg.Kafka.Topics.Logs,
			Publisher:      producer,
			CollectWarn:    cfg.Log.Collect.Warn,
		})
	}
	return l, nil
}

// ProvideMetrics registers the domain metrics on the default registry served at /metrics.
func ProvideMetrics() *metrics.Recorder {
	return metrics.New(prometheus.DefaultRegisterer)
}

func ProvideHTTPMetrics(cfg *config.Config) *middleware.HTTPMetrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return middleware.NewHTTPMetrics(prometheus.DefaultRegisterer)
}

// ProvideRedis connects to Redis, or returns nil when it is disabled.
func ProvideRedis(cfg *config.Config) (*cache.RedisCache, error) {
	if !cfg.Redis.Enabled {
		return nil, nil
	}
	rc, err := cache.NewRedisCache(
		cache.WithRedisAddr(cfg.Redis.Addr),
		cache.WithRedisPassword(cfg.Redis.Password),
		cache.WithRedisDB(cfg.Redis.DB),
		cache.WithRedisPrefix(cfg.Redis.Prefix),
	)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rc, nil
}

// ProvideCache backs model caching and pipeline locks. Locks must be shared
// across processes, so a configured Redis always sits underneath.
func ProvideCache(rc *cache.RedisCache) cache.Service {
	if rc == nil {
		return cache.NewMemoryCache(cache.WithMemoryMaxSize(1000))
	}
	return cache.NewLayeredCache(rc, 1000, 30*time.Second)
}

// ProvideClickHouse connects when candles live in ClickHouse.
func ProvideClickHouse(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Backend.Candles != "clickhouse" {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	client, err := pkgch.NewClient(ctx,
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, true),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	if err := client.InitSchema(ctx, internalrepo.CandleSchema(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

func ProvideCandleStore(ch *pkgch.Client, l *applogger.Logger) domrepo.CandleStore {
	if ch == nil {
		return memory.NewCandleStore()
	}
	return internalrepo.NewCHCandleStore(ch, l)
}

// Stores groups the relational stores. One backend implements all of them.
type Stores struct {
	Models   domrepo.ModelStore
	Params   domrepo.ParamStore
	Trades   domrepo.TradeStore
	Jobs     domrepo.JobStore
	Settings domrepo.SettingsStore
	Bots     domrepo.BotStore
	Closer   io.Closer
}

func ProvideStores(cfg *config.Config, l *applogger.Logger) (*Stores, error) {
	if cfg.Backend.Store != "postgres" {
		s := memory.NewStore()
		return &Stores{Models: s, Params: s, Trades: s, Jobs: s, Settings: s, Bots: s}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()
	pg, err := postgres.Connect(ctx, postgres.Options{
		DSN:             cfg.Postgres.DSN,
		MaxOpenConns:    cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
	}, l)
	if err != nil {
		return nil, err
	}
	return &Stores{Models: pg, Params: pg, Trades: pg, Jobs: pg, Settings: pg, Bots: pg, Closer: pg}, nil
}

func ProvideStatusCache(cfg *config.Config, rc *cache.RedisCache) (domrepo.StatusCache, error) {
	if cfg.StatusCache.Backend == "redis" && rc != nil {
		return internalrepo.NewRedisStatusCache(rc.Client(), cfg.Redis.Prefix, cfg.StatusCache.TTL), nil
	}
	fc, err := internalrepo.NewFileStatusCache(cfg.StatusCache.Dir)
	if err != nil {
		return nil, fmt.Errorf("status cache: %w", err)
	}
	return fc, nil
}

// ProvideEventPublisher sends events to Kafka, or to the log without a broker.
func ProvideEventPublisher(cfg *config.Config, producer *pkgkafka.Producer, l *applogger.Logger) domrepo.EventPublisher {
	if producer == nil {
		return internalrepo.NewLogEventPublisher(l)
	}
	return internalrepo.NewKafkaEventPublisher(producer, cfg.Kafka.Topics.Events)
}

// ProvideDispatcher runs jobs through Redis when the durable queue is enabled.
func ProvideDispatcher(cfg *config.Config, rc *cache.RedisCache, l *applogger.Logger) queue.Dispatcher {
	if cfg.Queue.Enabled && rc != nil {
		return queue.NewRedisQueue(l, &queue.QueueConfig{
			Workers:    cfg.Queue.Workers,
			RetryLimit: cfg.Queue.RetryLimit,
			RetryDelay: cfg.Queue.RetryDelay,
		}, rc.Client(), queue.WithKeyPrefix(cfg.Redis.Prefix+":jobs"))
	}
	return queue.NewLocalQueue(l, &queue.QueueConfig{
		Workers:    cfg.Jobs.Executors,
		RetryLimit: cfg.Queue.RetryLimit,
		RetryDelay: cfg.Queue.RetryDelay,
	})
}

func ProvideTimeframes(cfg *config.Config) ([]models.Timeframe, error) {
	tfs, err := models.ParseTimeframes(cfg.Market.Timeframes)
	if err != nil {
		return nil, fmt.Errorf("market.timeframes: %w", err)
	}
	return models.SortFastToSlow(tfs), nil
}

func ProvideWeights(cfg *config.Config) (signal.Weights, error) {
	w := make(signal.Weights, len(cfg.Signal.HierarchyWeights))
	for raw, v := range cfg.Signal.HierarchyWeights {
		tf, err := models.NormalizeTimeframe(raw)
		if err != nil {
			return nil, fmt.Errorf("signal.hierarchy_weights: %w", err)
		}
		w[tf] = v
	}
	return w, nil
}

// ProvideSignalParams is the configured default every profile starts from.
func ProvideSignalParams(cfg *config.Config) models.SignalParams {
	return models.SignalParams{
		EntryThreshold: cfg.Signal.EntryThreshold,
		ExitThreshold:  cfg.Signal.ExitThreshold,
		MinSupport:     cfg.Signal.MinSupport,
		HoldMarginMin:  cfg.Signal.HoldMarginMin,
		ExitOnFlip:     cfg.ExitOnFlip(),
		SLATRMult:      cfg.Backtest.SLATR,
		TPATRMult:      cfg.Backtest.TPATR,
		MaxBarsInTrade: cfg.Backtest.MaxBars,
	}
}

func ProvideHistoryFetcher(cfg *config.Config, l *applogger.Logger) service.HistoryFetcher {
	return binance.NewRESTClient(cfg.Binance.RESTURL, l,
		binance.WithRateLimit(cfg.Binance.RateLimit),
		binance.WithPageSize(cfg.Binance.PageSize),
		binance.WithRetry(cfg.Binance.RetryDelay, 0),
		binance.WithTimeout(cfg.Binance.Timeout),
	)
}

func ProvidePredictor(stores *Stores, c cache.Service, cfg *config.Config, l *applogger.Logger) *model.Predictor {
	return model.NewPredictor(stores.Models, c, cfg.ModelService.CacheTTL, l)
}

// ProvideTrainer fits in-process unless a model service URL is configured.
func ProvideTrainer(cfg *config.Config) service.ModelTrainer {
	tc := model.DefaultTrainerConfig()
	if cfg.ModelService.URL == "" {
		return model.NewLocalTrainer(tc)
	}
	return model.NewRemoteTrainer(cfg.ModelService.URL, cfg.ModelService.Timeout, cfg.ModelService.Attempts, tc)
}

func ProvidePrecomputeBuilder(candles domrepo.CandleStore, predictor *model.Predictor, tfs []models.Timeframe, l *applogger.Logger) *precompute.Builder {
	return precompute.NewBuilder(candles, predictor, tfs, l)
}

func ProvideBacktestRunner(cfg *config.Config, candles domrepo.CandleStore, builder *precompute.Builder, weights signal.Weights, rec *metrics.Recorder, l *applogger.Logger) *backtest.Runner {
	return backtest.NewRunner(candles, builder, l,
		backtest.WithOptions(backtest.Options{
			Weights:    weights,
			MinSupport: cfg.Signal.MinSupport,
			ExitOnFlip: cfg.ExitOnFlip(),
			ATRPeriod:  cfg.Backtest.ATRPeriod,
		}),
		backtest.WithLookback(cfg.Signal.Lookback),
		backtest.WithMetrics(rec),
	)
}

func ProvideOptimizer(cfg *config.Config, runner *backtest.Runner, stores *Stores, rec *metrics.Recorder, l *applogger.Logger) *optimizer.Optimizer {
	return optimizer.New(runner, stores.Params, l,
		optimizer.WithWorkers(cfg.Optimizer.Workers),
		optimizer.WithMetrics(rec),
	)
}

func ProvideQuoteCache(cfg *config.Config) *quotes.Cache {
	return quotes.NewCache(cfg.Live.CacheMax)
}

func ProvideProfiles(stores *Stores, defaults models.SignalParams, l *applogger.Logger) *usecase.ProfilesService {
	return usecase.NewProfilesService(stores.Settings, defaults, l)
}

func ProvideBotManager(
	cfg *config.Config,
	tfs []models.Timeframe,
	weights signal.Weights,
	defaults models.SignalParams,
	candles domrepo.CandleStore,
	qc *quotes.Cache,
	predictor *model.Predictor,
	stores *Stores,
	profiles *usecase.ProfilesService,
	publisher domrepo.EventPublisher,
	rec *metrics.Recorder,
	l *applogger.Logger,
) *usecase.BotManager {
	return usecase.NewBotManager(usecase.BotConfig{
		Network:         cfg.Bots.Network,
		StopTimeout:     cfg.Bots.StopTimeout,
		DefaultInterval: cfg.Bots.DefaultInterval,
		MinInterval:     cfg.Bots.MinInterval,
		Timeframes:      tfs,
		Weights:         weights,
		ATRPeriod:       cfg.Backtest.ATRPeriod,
		Params:          defaults,
	}, candles, qc, predictor, stores.Trades, stores.Bots, profiles, publisher, rec, l)
}

func ProvideCandleSync(cfg *config.Config, fetcher service.HistoryFetcher, candles domrepo.CandleStore, l *applogger.Logger) *usecase.CandleSync {
	return usecase.NewCandleSync(fetcher, candles, cfg.Market.HistoryYears, l)
}

func ProvideMarketService(cfg *config.Config, tfs []models.Timeframe, cs *usecase.CandleSync, candles domrepo.CandleStore, stores *Stores, l *applogger.Logger) *usecase.MarketService {
	return usecase.NewMarketService(cs, candles, stores.Models, cfg.Market.Symbols, tfs, l)
}

func ProvideJobRunner(
	cfg *config.Config,
	tfs []models.Timeframe,
	stores *Stores,
	status domrepo.StatusCache,
	sync *usecase.CandleSync,
	candles domrepo.CandleStore,
	trainer service.ModelTrainer,
	predictor *model.Predictor,
	opt *optimizer.Optimizer,
	runner *backtest.Runner,
	dispatcher queue.Dispatcher,
	locks cache.Service,
	publisher domrepo.EventPublisher,
	rec *metrics.Recorder,
	l *applogger.Logger,
) *usecase.JobRunner {
	return usecase.NewJobRunner(usecase.JobConfig{
		Timeframes:      tfs,
		OptimizeDefault: cfg.Jobs.OptimizeDefault,
		TrainWorkers:    cfg.Jobs.TrainWorkers,
		OptimizeLimit:   cfg.Optimizer.Limit,
		BacktestLimit:   cfg.Backtest.DefaultLimit,
		BacktestWorkers: cfg.Jobs.BacktestWorkers,
		BacktestTimeout: cfg.Jobs.BacktestTimeout,
		LockTTL:         cfg.Jobs.LockTTL,
	}, usecase.JobDeps{
		Jobs:        stores.Jobs,
		Status:      status,
		Sync:        sync,
		Candles:     candles,
		Trainer:     trainer,
		Models:      stores.Models,
		Invalidator: predictor,
		Optimizer:   opt,
		Backtester:  runner,
		Params:      stores.Params,
		Dispatcher:  dispatcher,
		Locks:       locks,
		Publisher:   publisher,
		Metrics:     rec,
	}, l)
}

// ProvideQuoteCollector wires the live stream into the quote cache. Closed
// candles go to Kafka when a producer exists and straight to the store otherwise.
func ProvideQuoteCollector(
	cfg *config.Config,
	tfs []models.Timeframe,
	qc *quotes.Cache,
	candles domrepo.CandleStore,
	producer *pkgkafka.Producer,
	rec *metrics.Recorder,
	l *applogger.Logger,
) *usecase.QuoteCollector {
	if !cfg.Live.Enabled {
		return nil
	}
	var sink mid.CandleSink = mid.StoreSink{Store: candles}
	if producer != nil {
		sink = internalrepo.NewKafkaCandlePublisher(producer, cfg.Kafka.Topics.Candles)
	}
	pipe := mid.NewCandlePipeline(qc, sink, rec, l,
		mid.WithBufferSize(cfg.Live.BufferSize),
		mid.WithBackoff(50*time.Millisecond, cfg.Live.ReconnectDelay),
	)
	stream := binance.NewStream(cfg.Live.WebSocketURL, cfg.Live.ReconnectDelay, cfg.Live.PingInterval, cfg.Live.BufferSize, l)
	return usecase.NewQuoteCollector(stream, pipe, rec, l, cfg.Market.Symbols, tfs)
}

// ProvideKafkaConsumer persists candles from the candles topic. Without Kafka
// the collector writes to the store directly and no consumer runs.
func ProvideKafkaConsumer(cfg *config.Config, candles domrepo.CandleStore, rec *metrics.Recorder, l *applogger.Logger) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(l,
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	consumer.RegisterHandler(usecase.NewKafkaCandlesHandler(cfg.Kafka.Topics.Candles, candles, rec))
	return consumer, nil
}

// ProvideRoutes assembles the API.
func ProvideRoutes(
	l *applogger.Logger,
	stores *Stores,
	bots *usecase.BotManager,
	jobs *usecase.JobRunner,
	runner *backtest.Runner,
	opt *optimizer.Optimizer,
	profiles *usecase.ProfilesService,
	market *usecase.MarketService,
	qc *quotes.Cache,
	collector *usecase.QuoteCollector,
) xhttp.Handler {
	return api.Routes{
		api.NewTradesHandler(l, stores.Trades),
		api.NewBotsHandler(l, bots),
		api.NewJobsHandler(l, jobs),
		api.NewAnalysisHandler(l, runner, opt, stores.Params, profiles),
		api.NewProfilesHandler(l, profiles),
		api.NewMarketHandler(l, market),
		api.NewQuotesHandler(l, qc, collector),
	}
}

func ProvideHTTPServer(cfg *config.Config, l *applogger.Logger, routes xhttp.Handler, hm *middleware.HTTPMetrics) *xhttp.Server {
	opts := []xhttp.ServerOption{
		xhttp.WithPort(cfg.Server.Port),
		xhttp.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
	}
	if hm != nil {
		opts = append(opts, xhttp.WithMetrics(hm, cfg.Metrics.Path))
	}
	return xhttp.NewServer(l, routes, opts...)
}

// ProvideApp hands every long-running component and closable client to the app.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	srv *xhttp.Server,
	dispatcher queue.Dispatcher,
	consumer *pkgkafka.Consumer,
	collector *usecase.QuoteCollector,
	bots *usecase.BotManager,
	producer *pkgkafka.Producer,
	stores *Stores,
	ch *pkgch.Client,
	c cache.Service,
	rc *cache.RedisCache,
) *server.App {
	comp := server.Components{
		HTTP:       srv,
		Dispatcher: dispatcher,
		Bots:       bots,
	}
	if consumer != nil {
		comp.Consumer = consumer
	}
	if collector != nil {
		comp.Collector = collector
	}
	if producer != nil {
		comp.Closers = append(comp.Closers, server.NamedCloser{Name: "kafka producer", Closer: producer})
	}
	if stores.Closer != nil {
		comp.Closers = append(comp.Closers, server.NamedCloser{Name: "postgres", Closer: stores.Closer})
	}
	if ch != nil {
		comp.Closers = append(comp.Closers, server.NamedCloser{Name: "clickhouse", Closer: ch})
	}
	comp.Closers = append(comp.Closers, server.NamedCloser{Name: "cache", Closer: c})
	if rc != nil {
		comp.Closers = append(comp.Closers, server.NamedCloser{Name: "redis", Closer: rc})
	}
	return server.New(cfg, l, comp)
}
