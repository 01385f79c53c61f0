package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Log struct {
		Level   string `yaml:"level"`
		Format  string `yaml:"format"`
		Output  string `yaml:"output"`
		Collect struct {
			Enabled   bool          `yaml:"enabled"`
			Topic     string        `yaml:"topic"`
			Interval  time.Duration `yaml:"interval"`
			Threshold int           `yaml:"threshold"`
			Warn      bool          `yaml:"warn"`
		} `yaml:"collect"`
	} `yaml:"log"`
	// Backend selects storage implementations.
	Backend struct {
		Candles string `yaml:"candles"` // memory | clickhouse
		Store   string `yaml:"store"`   // memory | postgres
	} `yaml:"backend"`
	Market struct {
		Symbols      []string `yaml:"symbols"`
		Timeframes   []string `yaml:"timeframes"`
		HistoryYears int      `yaml:"history_years"`
	} `yaml:"market"`
	Signal struct {
		HierarchyWeights map[string]float64 `yaml:"hierarchy_weights"`
		EntryThreshold   float64            `yaml:"entry_threshold"`
		ExitThreshold    float64            `yaml:"exit_threshold"`
		MinSupport       float64            `yaml:"min_support"`
		Lookback         int                `yaml:"lookback"`
		ExitOnFlip       *bool              `yaml:"exit_on_flip"`
		HoldMarginMin    float64            `yaml:"hold_margin_min"`
	} `yaml:"signal"`
	Backtest struct {
		SLATR        float64 `yaml:"sl_atr"`
		TPATR        float64 `yaml:"tp_atr"`
		MaxBars      int     `yaml:"max_bars"`
		ATRPeriod    int     `yaml:"atr_period"`
		DefaultLimit int     `yaml:"default_limit"`
	} `yaml:"backtest"`
	Optimizer struct {
		Workers int `yaml:"workers"` // 0 = auto
		Limit   int `yaml:"limit"`
	} `yaml:"optimizer"`
	Jobs struct {
		BacktestTimeout time.Duration `yaml:"backtest_timeout"`
		BacktestWorkers int           `yaml:"backtest_workers"` // 0 = auto
		TrainWorkers    int           `yaml:"train_workers"`
		Executors       int           `yaml:"executors"`
		LockTTL         time.Duration `yaml:"lock_ttl"`
		LogDir          string        `yaml:"log_dir"`
		OptimizeDefault bool          `yaml:"optimize_default"`
	} `yaml:"jobs"`
	Bots struct {
		Network         string        `yaml:"network"`
		StopTimeout     time.Duration `yaml:"stop_timeout"`
		DefaultInterval time.Duration `yaml:"default_interval"`
		MinInterval     time.Duration `yaml:"min_interval"`
		Autostart       []string      `yaml:"autostart"`
	} `yaml:"bots"`
	Live struct {
		Enabled        bool          `yaml:"enabled"`
		WebSocketURL   string        `yaml:"websocket_url"`
		CacheMax       int           `yaml:"cache_max"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay"`
		PingInterval   time.Duration `yaml:"ping_interval"`
		BufferSize     int           `yaml:"buffer_size"`
	} `yaml:"live"`
	Binance struct {
		RESTURL    string        `yaml:"rest_url"`
		Timeout    time.Duration `yaml:"timeout"`
		RateLimit  int           `yaml:"rate_limit"` // requests per second
		PageSize   int           `yaml:"page_size"`
		RetryDelay time.Duration `yaml:"retry_delay"`
	} `yaml:"binance"`
	ModelService struct {
		URL      string        `yaml:"url"` // empty trains in-process
		Timeout  time.Duration `yaml:"timeout"`
		Attempts int           `yaml:"attempts"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"model_service"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks"`
		Compression  string   `yaml:"compression"`
		Topics       struct {
			Events  string `yaml:"events"`
			Candles string `yaml:"candles"`
			Logs    string `yaml:"logs"`
		} `yaml:"topics"`
		Producer struct {
			MaxAttempts  int           `yaml:"max_attempts"`
			BatchSize    int           `yaml:"batch_size"`
			BatchTimeout time.Duration `yaml:"batch_timeout"`
			WriteTimeout time.Duration `yaml:"write_timeout"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id"`
			Workers    int           `yaml:"workers"`
			BufferSize int           `yaml:"buffer_size"`
			RetryMax   int           `yaml:"retry_max"`
			BackoffMin time.Duration `yaml:"backoff_min"`
			BackoffMax time.Duration `yaml:"backoff_max"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host         string        `yaml:"host"`
		Port         int           `yaml:"port"`
		Database     string        `yaml:"database"`
		User         string        `yaml:"user"`
		Password     string        `yaml:"password"`
		UseHTTP      bool          `yaml:"use_http"`
		AsyncInsert  bool          `yaml:"async_insert"`
		DialTimeout  time.Duration `yaml:"dial_timeout"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"clickhouse"`
	Postgres struct {
		DSN             string        `yaml:"dsn"`
		MaxOpenConns    int           `yaml:"max_open_conns"`
		MaxIdleConns    int           `yaml:"max_idle_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	} `yaml:"postgres"`
	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
	} `yaml:"redis"`
	Queue struct {
		Enabled    bool          `yaml:"enabled"`
		Workers    int           `yaml:"workers"`
		RetryLimit int           `yaml:"retry_limit"`
		RetryDelay time.Duration `yaml:"retry_delay"`
	} `yaml:"queue"`
	StatusCache struct {
		Backend string        `yaml:"backend"` // file | redis
		Dir     string        `yaml:"dir"`
		TTL     time.Duration `yaml:"ttl"`
	} `yaml:"status_cache"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.ApplyDefaults()

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Market.Symbols = splitList(v)
	}
	if v := os.Getenv("TIMEFRAMES"); v != "" {
		c.Market.Timeframes = splitList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = splitList(v)
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Postgres.DSN = v
		c.Backend.Store = "postgres"
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.Backend.Candles = "clickhouse"
	}
	if v := os.Getenv("MODEL_SERVICE_URL"); v != "" {
		c.ModelService.URL = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	return c, c.Validate()
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ExitOnFlip resolves the optional flag.
func (c *Config) ExitOnFlip() bool {
	return c.Signal.ExitOnFlip == nil || *c.Signal.ExitOnFlip
}

// ApplyDefaults fills every unset field with its documented default.
func (c *Config) ApplyDefaults() {
	if c.Environment == "" {
		c.Environment = "development"
	}
	setInt(&c.Server.Port, 8080)
	setDur(&c.Server.ReadTimeout, 15*time.Second)
	setDur(&c.Server.WriteTimeout, 60*time.Second)
	setDur(&c.Server.ShutdownTimeout, 10*time.Second)
	setStr(&c.Metrics.Path, "/metrics")
	setStr(&c.Log.Level, "info")
	setStr(&c.Log.Format, "console")
	setStr(&c.Log.Output, "stdout")
	setStr(&c.Log.Collect.Topic, "log_topic")
	setDur(&c.Log.Collect.Interval, 30*time.Second)
	setInt(&c.Log.Collect.Threshold, 100)
	setStr(&c.Backend.Candles, "memory")
	setStr(&c.Backend.Store, "memory")

	if len(c.Market.Symbols) == 0 {
		c.Market.Symbols = []string{"BTC/USDT"}
	}
	if len(c.Market.Timeframes) == 0 {
		c.Market.Timeframes = []string{"15m", "1h", "4h", "1d", "1w"}
	}
	setInt(&c.Market.HistoryYears, 2)

	if len(c.Signal.HierarchyWeights) == 0 {
		c.Signal.HierarchyWeights = map[string]float64{"15m": 1.0, "1h": 1.2, "4h": 1.4, "1d": 1.6, "1w": 1.8}
	}
	setFloat(&c.Signal.EntryThreshold, 0.60)
	setFloat(&c.Signal.ExitThreshold, 0.40)
	setFloat(&c.Signal.MinSupport, 0.30)
	setInt(&c.Signal.Lookback, 2)
	setFloat(&c.Signal.HoldMarginMin, 0.05)

	setFloat(&c.Backtest.SLATR, 1.0)
	setFloat(&c.Backtest.TPATR, 2.0)
	setInt(&c.Backtest.MaxBars, 200)
	setInt(&c.Backtest.ATRPeriod, 14)
	setInt(&c.Backtest.DefaultLimit, 500)

	setInt(&c.Optimizer.Limit, 3000)

	setDur(&c.Jobs.BacktestTimeout, 180*time.Second)
	setInt(&c.Jobs.TrainWorkers, 2)
	setInt(&c.Jobs.Executors, 2)
	setDur(&c.Jobs.LockTTL, 2*time.Hour)
	setStr(&c.Jobs.LogDir, "logs/training")

	setStr(&c.Bots.Network, "testnet")
	setDur(&c.Bots.StopTimeout, 5*time.Second)
	setDur(&c.Bots.DefaultInterval, 60*time.Second)
	setDur(&c.Bots.MinInterval, 10*time.Second)

	setStr(&c.Live.WebSocketURL, "wss://stream.binance.com:9443/stream")
	setInt(&c.Live.CacheMax, 3000)
	setDur(&c.Live.ReconnectDelay, 2*time.Second)
	setDur(&c.Live.PingInterval, 30*time.Second)
	setInt(&c.Live.BufferSize, 1000)

	setStr(&c.Binance.RESTURL, "https://api.binance.com")
	setDur(&c.Binance.Timeout, 15*time.Second)
	setInt(&c.Binance.RateLimit, 10)
	setInt(&c.Binance.PageSize, 1000)
	setDur(&c.Binance.RetryDelay, time.Second)

	setDur(&c.ModelService.Timeout, 5*time.Minute)
	setInt(&c.ModelService.Attempts, 3)
	setDur(&c.ModelService.CacheTTL, 10*time.Minute)

	setInt(&c.Kafka.RequiredAcks, -1)
	setStr(&c.Kafka.Compression, "gzip")
	setStr(&c.Kafka.Topics.Events, "mtf.events")
	setStr(&c.Kafka.Topics.Candles, "mtf.candles")
	setStr(&c.Kafka.Topics.Logs, c.Log.Collect.Topic)
	setInt(&c.Kafka.Producer.MaxAttempts, 3)
	setInt(&c.Kafka.Producer.BatchSize, 100)
	setDur(&c.Kafka.Producer.BatchTimeout, time.Second)
	setDur(&c.Kafka.Producer.WriteTimeout, 10*time.Second)
	setStr(&c.Kafka.Consumer.GroupID, "mtf-candles")
	setInt(&c.Kafka.Consumer.Workers, 2)
	setInt(&c.Kafka.Consumer.BufferSize, 100)
	setInt(&c.Kafka.Consumer.RetryMax, 3)
	setDur(&c.Kafka.Consumer.BackoffMin, 50*time.Millisecond)
	setDur(&c.Kafka.Consumer.BackoffMax, 2*time.Second)

	setStr(&c.ClickHouse.Host, "localhost")
	setInt(&c.ClickHouse.Port, 9000)
	setStr(&c.ClickHouse.Database, "mtf")
	setStr(&c.ClickHouse.User, "default")
	setDur(&c.ClickHouse.DialTimeout, 5*time.Second)
	setDur(&c.ClickHouse.ReadTimeout, 30*time.Second)
	setDur(&c.ClickHouse.WriteTimeout, 30*time.Second)

	setInt(&c.Postgres.MaxOpenConns, 20)
	setInt(&c.Postgres.MaxIdleConns, 5)
	setDur(&c.Postgres.ConnMaxLifetime, 30*time.Minute)

	setStr(&c.Redis.Addr, "localhost:6379")
	setStr(&c.Redis.Prefix, "mtf")

	setInt(&c.Queue.Workers, 2)
	setInt(&c.Queue.RetryLimit, 5)
	setDur(&c.Queue.RetryDelay, 30*time.Second)

	setStr(&c.StatusCache.Backend, "file")
	setStr(&c.StatusCache.Dir, c.Jobs.LogDir)
	setDur(&c.StatusCache.TTL, 24*time.Hour)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Market.Symbols) == 0 {
		return fmt.Errorf("market.symbols cannot be empty")
	}
	if len(c.Market.Timeframes) == 0 {
		return fmt.Errorf("market.timeframes cannot be empty")
	}
	switch c.Backend.Candles {
	case "memory", "clickhouse":
	default:
		return fmt.Errorf("backend.candles must be 'memory' or 'clickhouse', got '%s'", c.Backend.Candles)
	}
	switch c.Backend.Store {
	case "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required when backend.store is postgres")
		}
	default:
		return fmt.Errorf("backend.store must be 'memory' or 'postgres', got '%s'", c.Backend.Store)
	}
	switch c.StatusCache.Backend {
	case "file":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("status_cache.backend redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("status_cache.backend must be 'file' or 'redis', got '%s'", c.StatusCache.Backend)
	}
	if c.Queue.Enabled && !c.Redis.Enabled {
		return fmt.Errorf("queue.enabled requires redis.enabled")
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Signal.EntryThreshold < 0 || c.Signal.EntryThreshold > 1 {
		return fmt.Errorf("signal.entry_threshold must be in [0,1], got %v", c.Signal.EntryThreshold)
	}
	if c.Signal.MinSupport < 0 || c.Signal.MinSupport > 1 {
		return fmt.Errorf("signal.min_support must be in [0,1], got %v", c.Signal.MinSupport)
	}
	return nil
}

func setStr(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}

func setFloat(dst *float64, v float64) {
	if *dst == 0 {
		*dst = v
	}
}

func setDur(dst *time.Duration, v time.Duration) {
	if *dst == 0 {
		*dst = v
	}
}
