package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/Sunil0809/nautier-tradetron/internal/alert"
	"github.com/Sunil0809/nautier-tradetron/internal/broker"
	"github.com/Sunil0809/nautier-tradetron/internal/bus"
	"github.com/Sunil0809/nautier-tradetron/internal/config"
	"github.com/Sunil0809/nautier-tradetron/internal/engine"
	"github.com/Sunil0809/nautier-tradetron/internal/execution"
	"github.com/Sunil0809/nautier-tradetron/internal/feed"
	"github.com/Sunil0809/nautier-tradetron/internal/observability"
	"github.com/Sunil0809/nautier-tradetron/internal/risk"
	"github.com/Sunil0809/nautier-tradetron/internal/rules"
	"github.com/Sunil0809/nautier-tradetron/internal/store"
)

func main() {
	app := &cli.App{
		Name:  "nautier-engine",
		Usage: "event-driven rule trading engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config/config.yaml",
				Usage:   "path to the configuration file",
			},
			&cli.BoolFlag{
				Name:  "paper",
				Usage: "force paper execution for every strategy",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override the configured log level",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.General.LogLevel = lvl
	}
	setupLogging(cfg.General)

	forcePaper := c.Bool("paper")
	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Str("environment", cfg.General.Environment).
		Bool("force_paper", forcePaper).
		Int("strategies", len(cfg.Strategies)).
		Msg("configuration loaded")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("shutdown signal received")
		cancel()
	}()

	// Persistence.
	var st store.Store
	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return err
		}
	default:
		st = store.NewMemory(cfg.Store.MemoryCap)
	}
	defer st.Close()

	// Executors.
	paperExec := execution.NewPaperExecutor(execution.PaperConfig{
		SlippagePct:     cfg.Execution.Paper.SlippagePct,
		MinDelay:        time.Duration(cfg.Execution.Paper.MinDelayMs) * time.Millisecond,
		MaxDelay:        time.Duration(cfg.Execution.Paper.MaxDelayMs) * time.Millisecond,
		PartialFillProb: cfg.Execution.Paper.PartialFillProb,
		CommissionBps:   cfg.Execution.Paper.CommissionBps,
	}, nil)

	var brokerClient *broker.REST
	var liveExec execution.Executor
	if cfg.Broker.BaseURL != "" {
		brokerClient = broker.NewREST(broker.RESTConfig{
			BaseURL:      cfg.Broker.BaseURL,
			Token:        cfg.Broker.Token,
			RateLimitRPS: cfg.Broker.RateLimitRPS,
			Timeout:      time.Duration(cfg.Broker.TimeoutMs) * time.Millisecond,
		})
		liveExec = execution.NewLiveExecutor(brokerClient,
			time.Duration(cfg.Execution.PollIntervalMs)*time.Millisecond)
	}

	// Pipeline.
	registry := observability.NewRegistry()
	metrics := observability.NewPipeline(registry)
	eventBus := bus.New(cfg.Bus.Capacity)
	ruleEngine := rules.NewEngine()
	gate := risk.NewGate()

	deps := engine.Deps{
		Bus:     eventBus,
		Rules:   ruleEngine,
		Gate:    gate,
		Paper:   paperExec,
		Live:    liveExec,
		Store:   st,
		Alerter: alert.NewLogNotifier(),
		Metrics: metrics,
	}
	if brokerClient != nil {
		deps.Broker = brokerClient
	}
	eng := engine.New(engine.Config{
		Workers:        cfg.Engine.Workers,
		OrderQueueSize: cfg.Engine.OrderQueueSize,
		DefaultQty:     decimal.NewFromFloat(cfg.Engine.DefaultQty),
	}, deps)

	for _, s := range cfg.Strategies {
		src, err := s.RuleSource()
		if err != nil {
			return err
		}
		paper := forcePaper || !s.Live
		if err := eng.RegisterStrategy(s.ID, s.UserID, s.Risk, src, paper, decimal.NewFromFloat(s.Qty)); err != nil {
			return err
		}
	}

	eng.Start(ctx)
	defer eng.Stop()

	// Restore only after Start: re-published orders need the handlers
	// subscribed to resume execution.
	if restored, err := eng.RestoreOpenOrders(ctx); err != nil {
		log.Error().Err(err).Msg("restore open orders")
	} else if restored > 0 {
		log.Info().Int("count", restored).Msg("resumed persisted orders")
	}

	// Market data.
	if cfg.Feed.Enabled {
		f := feed.New(feed.Config{
			URL:     cfg.Feed.URL,
			Symbols: cfg.Feed.Symbols,
			UserID:  cfg.Feed.UserID,
		}, eng)
		go f.Run(ctx)
	}

	// Health and the ops HTTP surface.
	monitor := observability.NewHealthMonitor(
		time.Duration(cfg.Ops.HealthIntervalMs) * time.Millisecond)
	monitor.Register("engine", func(context.Context) observability.ComponentHealth {
		h := eng.Health()
		status := observability.StatusHealthy
		msg := ""
		if !h.Running {
			status = observability.StatusUnhealthy
			msg = "engine not running"
		} else if h.BusDepth > h.BusCapacity*9/10 {
			status = observability.StatusDegraded
			msg = "bus near capacity"
		}
		return observability.ComponentHealth{Status: status, Message: msg}
	})
	go monitor.Start(ctx)

	ops := observability.NewServer(observability.ServerConfig{
		ListenAddr:   cfg.Ops.ListenAddr,
		Registry:     registry,
		Monitor:      monitor,
		Report:       func() observability.HealthReport { return eng.Health() },
		Positions:    func() any { return eng.Positions() },
		ActiveOrders: func() any { return eng.ActiveOrders() },
	})
	go func() {
		if err := ops.Start(); err != nil {
			log.Error().Err(err).Msg("ops server failed")
			cancel()
		}
	}()

	if cfg.Engine.DailyReset {
		go dailyResetLoop(ctx, eng)
	}

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = ops.Shutdown(shutdownCtx)

	log.Info().Msg("shutdown complete")
	return nil
}

// dailyResetLoop zeroes the risk counters at each UTC midnight.
func dailyResetLoop(ctx context.Context, eng *engine.Engine) {
	for {
		now := time.Now().UTC()
		next := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
		select {
		case <-ctx.Done():
			return
		case <-time.After(next.Sub(now)):
			eng.ResetDaily()
			log.Info().Msg("daily risk counters reset")
		}
	}
}

func setupLogging(general config.GeneralConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "nautier-engine").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "nautier-engine").
			Str("instance", general.InstanceID).Logger()
	}
}
