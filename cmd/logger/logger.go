package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexflint/go-arg"
	"github.com/fako1024/perchscale/pkg/api"
	"github.com/fako1024/perchscale/pkg/config"
	"github.com/fako1024/perchscale/pkg/metrics"
	"github.com/fako1024/perchscale/pkg/monitor"
	"github.com/fako1024/perchscale/pkg/reconnect"
	"github.com/fako1024/perchscale/pkg/scale"
)

func main() {
	var args Args
	arg.MustParse(&args)

	if err := run(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args Args) error {

	cfg, err := config.Load(args.Config)
	if err != nil {
		return err
	}
	args.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := scale.NewDefaultLogger(cfg.Debug)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	// Cancelled on SIGINT / SIGTERM, triggering a graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Fail early if alerts are requested but cannot be delivered
	notifier, err := newNotifier(cfg)
	if err != nil {
		return fmt.Errorf("failed to set up battery alerts: %w", err)
	}
	if notifier == nil && !cfg.Alerts.Disabled {
		logger.Info("no alert recipient configured, low battery will only be logged")
	}

	factory, err := newFactory(ctx, cfg, args.Discover, logger)
	if err != nil {
		return err
	}

	sink, err := openSink(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Errorf("failed to close event log: %s", err)
		}
	}()

	led := newIndicator(cfg, logger)
	defer func() {
		if err := led.Close(); err != nil {
			logger.Warnf("failed to release occupancy indicator: %s", err)
		}
	}()

	m := metrics.New()
	supervisor := reconnect.New(factory,
		reconnect.WithBackoff(cfg.Reconnect.BaseDelay, cfg.Reconnect.MaxDelay),
		reconnect.WithConnectTimeout(cfg.Device.ConnectTimeout),
		reconnect.WithObserver(m.ObserveConnectAttempt),
		reconnect.WithLogger(logger),
	)

	loopCfg := monitor.DefaultConfig(cfg.Monitor.Bounds)
	loopCfg.PollInterval = cfg.Monitor.PollInterval
	loopCfg.Health = cfg.Battery
	loopCfg.Recipient = cfg.Alerts.Recipient

	loop := monitor.New(loopCfg, supervisor, sink,
		monitor.WithNotifier(notifier),
		monitor.WithLogger(logger),
		monitor.WithMetrics(m),
		monitor.WithIndicator(led),
	)

	if cfg.HTTP != "" {
		server := api.New(loop, m, api.WithLogger(logger))
		server.Start(cfg.HTTP)
		defer func() {
			if err := server.Shutdown(); err != nil {
				logger.Warnf("failed to stop api server: %s", err)
			}
		}()
		logger.Infof("status api listening on %s", cfg.HTTP)
	}

	logger.Infof("logging events to %s", cfg.Output.LogFile)
	if err := loop.Run(ctx); err != nil {
		return err
	}
	logger.Info("monitoring stopped")

	return nil
}
