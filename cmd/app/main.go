package main

import (
	"flag"
	"log"
	"os"

	"MTFTrader/internal/di"
	"MTFTrader/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s candles=%s store=%s symbols=%v timeframes=%v",
		cfg.Environment, cfg.Backend.Candles, cfg.Backend.Store, cfg.Market.Symbols, cfg.Market.Timeframes)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	if cfg.Kafka.Enabled {
		log.Printf("kafka: brokers=%v events=%s candles=%s", cfg.Kafka.Brokers, cfg.Kafka.Topics.Events, cfg.Kafka.Topics.Candles)
	}

	// Blocks until SIGINT or SIGTERM.
	if err := app.Run(); err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
