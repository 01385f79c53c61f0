package server

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"MTFTrader/internal/domain/models"
	"MTFTrader/pkg/config"
	applogger "MTFTrader/pkg/logger"
)

// HTTPServer is the API server.
type HTTPServer interface {
	Start() error
	Stop(ctx context.Context) error
}

// Dispatcher runs queued jobs.
type Dispatcher interface {
	Start() error
	Stop(ctx context.Context) error
}

// Consumer reads Kafka topics until stopped.
type Consumer interface {
	Start() error
	Stop(ctx context.Context) error
}

// Collector feeds the live quote cache.
type Collector interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Bots is the bot manager as seen by the lifecycle.
type Bots interface {
	Start(ctx context.Context, symbol string, intervalSec int, tfs []models.Timeframe) (models.BotStatus, error)
	StopAll(ctx context.Context)
}

type NamedCloser struct {
	Name   string
	Closer io.Closer
}

// Components are the long-running parts of the process. Consumer and
// Collector are optional.
type Components struct {
	HTTP       HTTPServer
	Dispatcher Dispatcher
	Consumer   Consumer
	Collector  Collector
	Bots       Bots
	Closers    []NamedCloser
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg  *config.Config
	l    *applogger.Logger
	comp Components
}

func New(cfg *config.Config, l *applogger.Logger, comp Components) *App {
	return &App{cfg: cfg, l: l, comp: comp}
}

// Run starts every component and blocks until SIGINT or SIGTERM.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		_ = a.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()
	a.l.Info("shutdown signal received")
	return a.Shutdown(context.Background())
}

// Start brings components up in dependency order and autostarts bots.
func (a *App) Start(ctx context.Context) error {
	if err := a.comp.Dispatcher.Start(); err != nil {
		return err
	}
	a.l.Info("job dispatcher started")

	if a.comp.Consumer != nil {
		go func() {
			if err := a.comp.Consumer.Start(); err != nil {
				a.l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.l.Info("kafka consumer started")
	}

	if a.comp.Collector != nil {
		if err := a.comp.Collector.Start(ctx); err != nil {
			// The stream reconnects by itself; the API stays useful without it.
			a.l.Warn("quote collector start failed", applogger.Error(err))
		} else {
			a.l.Info("quote collector started", applogger.Strings("symbols", a.cfg.Market.Symbols))
		}
	}

	if err := a.comp.HTTP.Start(); err != nil {
		a.l.Error("http server start error", applogger.Error(err))
		return err
	}

	for _, symbol := range a.cfg.Bots.Autostart {
		if _, err := a.comp.Bots.Start(ctx, symbol, 0, nil); err != nil {
			a.l.Warn("bot autostart failed", applogger.String("symbol", symbol), applogger.Error(err))
			continue
		}
		a.l.Info("bot autostarted", applogger.String("symbol", symbol))
	}
	return nil
}

// Shutdown stops components in reverse order, then closes clients.
func (a *App) Shutdown(ctx context.Context) error {
	a.l.Info("shutting down...")
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var errs []error
	a.comp.Bots.StopAll(ctx)

	if a.comp.Collector != nil {
		if err := a.comp.Collector.Shutdown(ctx); err != nil {
			a.l.Warn("collector stop error", applogger.Error(err))
		}
	}
	if err := a.comp.HTTP.Stop(ctx); err != nil {
		a.l.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}
	if a.comp.Consumer != nil {
		if err := a.comp.Consumer.Stop(ctx); err != nil {
			a.l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}
	if err := a.comp.Dispatcher.Stop(ctx); err != nil {
		a.l.Warn("dispatcher stop error", applogger.Error(err))
	}

	for _, c := range a.comp.Closers {
		if err := c.Closer.Close(); err != nil {
			a.l.Warn("close error", applogger.String("component", c.Name), applogger.Error(err))
		}
	}

	a.l.Info("shutdown complete")
	a.l.RemoveCollector()
	return errors.Join(errs...)
}
