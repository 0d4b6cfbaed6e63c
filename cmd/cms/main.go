// Package main implements the entry point for the cattle telemetry core.
// The core ingests collar telemetry over NATS, evaluates safety boundaries,
// persists readings to MongoDB and fans enriched events out over WebSocket.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"golang.org/x/sync/errgroup"

	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/config"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/fanout"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/health"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/ingest"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/metric"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/natsclient"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/pkg/retry"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/query"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/safety"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/statecache"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/store"
	"github.com/mrismy/e20-3yp-Cattle-Management-System-sub000/thresholdstore"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "cms-core"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	ctx := context.Background()
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	core, err := buildCore(signalCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer core.closeClients(ctx)

	if err := core.start(signalCtx); err != nil {
		return err
	}
	slog.Info("Telemetry core started",
		"nats", cfg.NATS.URL,
		"database", cfg.Mongo.Database,
		"websocket_port", cfg.WebSocket.Port)

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	return core.shutdown(cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting cattle telemetry core",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, logger, false, nil
}

// initializeConfiguration loads and validates configuration
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	cfg, err := loader.LoadFile(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// core bundles the long-lived components so startup and shutdown can walk
// them in order.
type core struct {
	cfg    *config.Config
	logger *slog.Logger

	natsClient *natsclient.Client
	mongoStore *store.Store
	thresholds *thresholdstore.Store

	metricsRegistry *metric.MetricsRegistry
	metricsServer   *metric.Server
	monitor         *health.Monitor

	cache    *statecache.Cache
	pipeline *ingest.Pipeline
	fanout   *fanout.Server
	queries  *query.Service

	reportCancel context.CancelFunc
}

// buildCore creates and connects every component. Nothing is started yet
// except the broker and database connections the components need.
func buildCore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*core, error) {
	natsClient, err := connectNATS(ctx, cfg)
	if err != nil {
		return nil, err
	}

	mongoStore, err := connectMongo(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	thresholds, err := setupThresholdStore(ctx, cfg, natsClient, logger)
	if err != nil {
		return nil, err
	}

	metricsRegistry := metric.NewMetricsRegistry()
	cache := statecache.New()
	evaluator := safety.NewEvaluator(safety.Policy{
		OutsideZonesIsDanger: cfg.Safety.OutsideZonesIsDanger,
	})

	publisher, err := ingest.NewPublisher(natsClient, ingest.PublisherOptions{
		QueueCapacity: cfg.Ingest.PublishQueueCapacity,
		FlushInterval: cfg.Ingest.PublishFlushInterval,
		Logger:        logger,
		Metrics:       metricsRegistry.CoreMetrics(),
	})
	if err != nil {
		return nil, fmt.Errorf("create event publisher: %w", err)
	}

	// Flush the buffered publish queue as soon as the broker comes back
	// instead of waiting out the ticker interval.
	natsClient.OnHealthChange(func(healthy bool) {
		if healthy {
			publisher.TriggerFlush()
		}
	})

	notifier := ingest.NewNotifier(mongoStore, publisher, cfg.Ingest.NotificationInterval, logger)

	pipeline := ingest.NewPipeline(natsClient, mongoStore, thresholds,
		evaluator, cache, publisher, notifier, ingest.Options{
			Shards:            cfg.Ingest.Shards,
			QueueSize:         cfg.Ingest.QueueSize,
			DownstreamTimeout: cfg.Mongo.Timeout,
			Logger:            logger,
			Metrics:           metricsRegistry.CoreMetrics(),
		})

	fanoutServer := fanout.NewServer(natsClient, fanout.Options{
		Port:            cfg.WebSocket.Port,
		Path:            cfg.WebSocket.Path,
		PingInterval:    cfg.WebSocket.PingInterval,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
		Logger:          logger,
		MetricsRegistry: metricsRegistry,
	})

	queries := query.NewService(cache, mongoStore, thresholds, query.Options{
		ReportingInterval: cfg.Service.ReportingInterval,
		Logger:            logger,
	})

	c := &core{
		cfg:             cfg,
		logger:          logger,
		natsClient:      natsClient,
		mongoStore:      mongoStore,
		thresholds:      thresholds,
		metricsRegistry: metricsRegistry,
		monitor:         health.NewMonitor(),
		cache:           cache,
		pipeline:        pipeline,
		fanout:          fanoutServer,
		queries:         queries,
	}

	if cfg.Metrics.Enabled {
		c.metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
	}
	return c, nil
}

// connectNATS establishes the broker connection and waits for it to be
// ready.
func connectNATS(ctx context.Context, cfg *config.Config) (*natsclient.Client, error) {
	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.Service.Name),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}

	client, err := natsclient.NewClient(cfg.NATS.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	slog.Info("Connecting to NATS", "url", cfg.NATS.URL)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	return client, nil
}

// connectMongo connects the persistence gateway and ensures indexes. The
// database regularly comes up after the core under orchestration, so the
// dial retries with backoff instead of failing startup.
func connectMongo(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store.Store, error) {
	slog.Info("Connecting to MongoDB", "database", cfg.Mongo.Database)
	client, err := retry.DoWithResult(ctx, retry.Persistent(), func() (*mongo.Client, error) {
		return store.Connect(ctx, cfg.Mongo.URI)
	})
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}

	mongoStore := store.New(client, cfg.Mongo.Database, store.Options{
		Location: cfg.Location(),
		Logger:   logger,
	})

	indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := mongoStore.EnsureIndexes(indexCtx); err != nil {
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	return mongoStore, nil
}

// setupThresholdStore creates the KV buckets, loads the current snapshots
// and starts the remote-update watchers.
func setupThresholdStore(ctx context.Context, cfg *config.Config,
	client *natsclient.Client, logger *slog.Logger) (*thresholdstore.Store, error) {

	thresholdBucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.NATS.ThresholdBucket,
		Description: "safety threshold configuration",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("create threshold bucket: %w", err)
	}

	zoneBucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      cfg.NATS.ZoneBucket,
		Description: "geofence zone definitions",
		History:     5,
	})
	if err != nil {
		return nil, fmt.Errorf("create zone bucket: %w", err)
	}

	thresholds := thresholdstore.New(
		client.NewKVStore(thresholdBucket),
		client.NewKVStore(zoneBucket),
		logger,
	)

	if err := thresholds.Load(ctx); err != nil {
		return nil, fmt.Errorf("load threshold snapshots: %w", err)
	}
	if err := thresholds.Watch(ctx); err != nil {
		return nil, fmt.Errorf("watch threshold buckets: %w", err)
	}
	return thresholds, nil
}

// start brings the components up in parallel and launches the reporting
// loop.
func (c *core) start(ctx context.Context) error {
	// The subscription context must outlive startup, so the group only
	// collects errors.
	var g errgroup.Group

	g.Go(func() error {
		if err := c.pipeline.Initialize(); err != nil {
			return fmt.Errorf("initialize pipeline: %w", err)
		}
		if err := c.pipeline.Start(ctx); err != nil {
			return fmt.Errorf("start pipeline: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := c.fanout.Initialize(); err != nil {
			return fmt.Errorf("initialize fan-out: %w", err)
		}
		if err := c.fanout.Start(ctx); err != nil {
			return fmt.Errorf("start fan-out: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	if c.metricsServer != nil {
		go func() {
			slog.Info("Metrics server listening", "address", c.metricsServer.Address())
			if err := c.metricsServer.Start(); err != nil {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	reportCtx, cancel := context.WithCancel(ctx)
	c.reportCancel = cancel
	go c.reportLoop(reportCtx)

	return nil
}

// reportLoop periodically records component health and logs a fleet
// summary from the merged latest snapshot.
func (c *core) reportLoop(ctx context.Context) {
	interval := c.cfg.Service.ReportingInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.reportOnce(ctx)
		}
	}
}

func (c *core) reportOnce(ctx context.Context) {
	metrics := c.metricsRegistry.CoreMetrics()

	pipelineHealth := c.pipeline.Health()
	fanoutHealth := c.fanout.Health()
	natsStatus := c.natsClient.GetStatus()
	natsConnected := natsStatus.Status == natsclient.StatusConnected

	metrics.RecordHealthStatus("pipeline", pipelineHealth.Healthy)
	metrics.RecordHealthStatus("fanout", fanoutHealth.Healthy)
	metrics.RecordNATSStatus(natsConnected)
	metrics.RecordNATSRTT(natsStatus.RTT)

	c.monitor.Record(health.FromComponentHealth("pipeline", pipelineHealth))
	c.monitor.Record(health.FromComponentHealth("fanout", fanoutHealth))
	switch {
	case natsConnected:
		c.monitor.UpdateHealthy("nats", "connected")
	case natsStatus.Status == natsclient.StatusReconnecting:
		c.monitor.UpdateDegraded("nats",
			fmt.Sprintf("reconnecting, %d failures", natsStatus.FailureCount))
	default:
		c.monitor.UpdateUnhealthy("nats", natsStatus.Status.String())
	}

	snapCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	snapshots, err := c.queries.LatestSnapshot(snapCtx)
	if err != nil {
		c.logger.Warn("fleet snapshot unavailable", "error", err)
		return
	}

	var danger, stale int
	for _, snap := range snapshots {
		switch snap.Status {
		case safety.StatusDanger:
			danger++
		case safety.StatusNoData:
			stale++
		}
	}
	c.logger.Info("fleet status",
		"health", string(c.monitor.Overall()),
		"devices", len(snapshots),
		"danger", danger,
		"no_data", stale,
		"ws_clients", c.fanout.ClientCount())
}

// shutdown stops components in reverse dependency order: ingestion first
// so the publish queue flushes, then the fan-out surface, then watchers
// and servers.
func (c *core) shutdown(timeout time.Duration) error {
	if c.reportCancel != nil {
		c.reportCancel()
	}

	var firstErr error
	if err := c.pipeline.Stop(timeout); err != nil {
		c.logger.Error("pipeline stop failed", "error", err)
		firstErr = err
	}
	if err := c.fanout.Stop(timeout); err != nil {
		c.logger.Error("fan-out stop failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	c.thresholds.Stop()

	if c.metricsServer != nil {
		if err := c.metricsServer.Stop(); err != nil {
			c.logger.Warn("metrics server stop failed", "error", err)
		}
	}

	slog.Info("Telemetry core shutdown complete")
	return firstErr
}

// closeClients closes the broker and database connections. Runs after
// shutdown so queued publishes have been flushed.
func (c *core) closeClients(ctx context.Context) {
	closeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if c.natsClient != nil {
		if err := c.natsClient.Close(closeCtx); err != nil {
			c.logger.Warn("NATS close failed", "error", err)
		}
	}
	if c.mongoStore != nil {
		if err := c.mongoStore.Close(closeCtx); err != nil {
			c.logger.Warn("MongoDB close failed", "error", err)
		}
	}
}
