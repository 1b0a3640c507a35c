package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/polisai/polis-broker/pkg/automation"
	"github.com/polisai/polis-broker/pkg/bridge"
	"github.com/polisai/polis-broker/pkg/broker"
	"github.com/polisai/polis-broker/pkg/config"
	"github.com/polisai/polis-broker/pkg/domain"
	"github.com/polisai/polis-broker/pkg/logging"
	"github.com/polisai/polis-broker/pkg/metrics"
	"github.com/polisai/polis-broker/pkg/subscription"
	"github.com/polisai/polis-broker/pkg/telemetry"
)

// defaultTags seeds the simulator when the configuration defines none.
var defaultTags = []config.TagSeed{
	{Name: "line1/temp", Value: 21.5},
	{Name: "line1/pressure", Value: 1.2},
	{Name: "line1/state", Value: "running"},
	{Name: "line2/temp", Value: 19.0},
}

// app holds the components shared by serve and watch.
type app struct {
	config   *config.Config
	logger   *slog.Logger
	levelVar *slog.LevelVar
	sim      *automation.Simulator
	svc      *subscription.Service
	metrics  *metrics.Metrics
	tracing  *telemetry.TracingManager
}

// loadConfig reads the config file and applies CLI flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}

	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get log-level flag: %w", err)
	}
	if logLevel != "" {
		if _, err := logging.ParseLevel(logLevel); err != nil {
			return nil, "", err
		}
		cfg.Logging.Level = logLevel
	}

	return cfg, path, nil
}

// newApp wires the simulator, broker and subscription service.
func newApp(cfg *config.Config, logCfg logging.Config) *app {
	levelVar := &slog.LevelVar{}
	logCfg.Level = cfg.Logging.Level
	logCfg.LevelVar = levelVar
	logger := logging.NewLogger(logCfg)

	a := &app{
		config:   cfg,
		logger:   logger,
		levelVar: levelVar,
		tracing:  telemetry.NewTracingManager(nil),
	}

	a.sim = automation.NewSimulator(automation.WithSimulatorLogger(logger.With("component", "simulator")))
	tags := cfg.Simulator.Tags
	if len(tags) == 0 {
		tags = defaultTags
	}
	for _, tag := range tags {
		a.sim.Define(tag.Name, tag.Value)
	}

	brokerOpts := []broker.Option[domain.Event]{
		broker.WithLogger[domain.Event](logger),
		broker.WithQueueFactory(broker.QueueFactoryFor[domain.Event](cfg.Broker.QueueCapacity)),
	}
	bridgeOpts := []bridge.Option{
		bridge.WithLookupRecorder(telemetry.LookupRecorder{}),
		bridge.WithTracer(a.tracing.Tracer()),
	}
	svcOpts := []subscription.Option{
		subscription.WithLogger(logger),
		subscription.WithTracer(a.tracing.Tracer()),
	}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.New()
		brokerOpts = append(brokerOpts, broker.WithObserver[domain.Event](a.metrics))
		bridgeOpts = append(bridgeOpts, bridge.WithObserver(a.metrics))
		svcOpts = append(svcOpts, subscription.WithRequestObserver(a.metrics))
	}

	svcOpts = append(svcOpts,
		subscription.WithBroker(broker.New(brokerOpts...)),
		subscription.WithBridgeOptions(bridgeOpts...),
	)
	a.svc = subscription.NewService(a.sim, a.sim, cfg.Bridge, svcOpts...)
	return a
}

// applyConfig applies the settings that can change without a restart and
// logs the ones that cannot.
func (a *app) applyConfig(next, previous *config.Config) error {
	level, err := logging.ParseLevel(next.Logging.Level)
	if err != nil {
		return err
	}
	a.levelVar.Set(level)
	a.svc.SetQueueCapacity(next.Broker.QueueCapacity)

	var restart []string
	if next.Server.ListenAddr != previous.Server.ListenAddr {
		restart = append(restart, "server.listen_addr")
	}
	if next.Bridge != previous.Bridge {
		restart = append(restart, "bridge")
	}
	if next.Metrics != previous.Metrics {
		restart = append(restart, "metrics")
	}
	if next.Telemetry.Endpoint != previous.Telemetry.Endpoint {
		restart = append(restart, "telemetry.otlp_endpoint")
	}
	if len(restart) > 0 {
		a.logger.Warn("Configuration changes require restart", "fields", restart)
	}

	a.logger.Info("Configuration reloaded",
		"log_level", level.String(),
		"queue_capacity", next.Broker.QueueCapacity,
	)
	return nil
}
