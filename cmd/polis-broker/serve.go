package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-broker/pkg/config"
	"github.com/polisai/polis-broker/pkg/logging"
	"github.com/polisai/polis-broker/pkg/server"
	"github.com/polisai/polis-broker/pkg/stream"
	"github.com/polisai/polis-broker/pkg/telemetry"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve feeds over HTTP",
		RunE:  runServe,
	}
	cmd.Flags().String("listen", "", "Address to listen on (overrides server.listen_addr)")
	cmd.Flags().Bool("watch-config", true, "Reload the configuration file when it changes")
	cmd.Flags().Duration("heartbeat", 15*time.Second, "Idle interval between SSE keepalive comments")
	return cmd
}

// runServe is the main entry point for the serve command
func runServe(cmd *cobra.Command, _ []string) error {
	cfg, configPath, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	listen, err := cmd.Flags().GetString("listen")
	if err != nil {
		return fmt.Errorf("failed to get listen flag: %w", err)
	}
	if listen != "" {
		cfg.Server.ListenAddr = listen
	}
	watchConfig, err := cmd.Flags().GetBool("watch-config")
	if err != nil {
		return fmt.Errorf("failed to get watch-config flag: %w", err)
	}
	heartbeat, err := cmd.Flags().GetDuration("heartbeat")
	if err != nil {
		return fmt.Errorf("failed to get heartbeat flag: %w", err)
	}

	a := newApp(cfg, logging.Config{Pretty: cfg.Logging.Pretty, Output: cmd.ErrOrStderr()})
	logger := a.logger

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.SetupProvider(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer flushCancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", "error", err)
		}
	}()

	opts := []server.Option{
		server.WithLogger(logger),
		server.WithTracing(a.tracing),
		server.WithStreamOptions(stream.WithHeartbeat(heartbeat)),
	}
	if a.metrics != nil {
		opts = append(opts, server.WithMetrics(a.metrics))
	}
	srv := server.New(server.Config{
		ListenAddr:      cfg.Server.ListenAddr,
		MetricsPath:     cfg.Metrics.Path,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, a.svc, opts...)

	if configPath != "" {
		stopReload, err := a.startReloading(ctx, configPath, watchConfig)
		if err != nil {
			return err
		}
		defer stopReload()
	}

	go func() {
		if err := a.sim.Drive(ctx, cfg.Simulator.Interval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Simulator stopped", "error", err)
		}
	}()
	defer a.sim.Shutdown()

	logger.Info("Starting polis-broker",
		"listen_addr", cfg.Server.ListenAddr,
		"tags", len(a.sim.Tags()),
		"queue_capacity", cfg.Broker.QueueCapacity,
		"metrics", cfg.Metrics.Enabled,
	)

	if err := srv.Start(ctx); err != nil {
		logger.Error("Server error", "error", err)
		return err
	}

	logger.Info("Broker stopped")
	return nil
}

// startReloading applies configuration changes on SIGHUP and, when watch is
// set, whenever the file changes. The returned func stops both.
func (a *app) startReloading(ctx context.Context, path string, watch bool) (func(), error) {
	var observer config.ReloadObserver
	if a.metrics != nil {
		observer = a.metrics
	}
	reloader := config.NewReloader(a.config, a.applyConfig, observer, a.logger)

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-sighup:
				a.logger.Info("Received SIGHUP, reloading configuration")
				if err := reloader.Reload(path); err != nil {
					a.logger.Error("Configuration reload failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	stop := func() { signal.Stop(sighup) }
	if !watch {
		return stop, nil
	}

	watcher, err := config.NewWatcher(path, reloader.Reload, a.logger)
	if err != nil {
		signal.Stop(sighup)
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Start(ctx); err != nil {
		signal.Stop(sighup)
		return nil, fmt.Errorf("failed to start config watcher: %w", err)
	}

	return func() {
		stop()
		if err := watcher.Stop(); err != nil {
			a.logger.Warn("Failed to stop config watcher", "error", err)
		}
	}, nil
}
