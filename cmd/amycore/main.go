// Command amycore runs the AMY telemetry core: it consumes device
// messages from the MQTT broker, turns them into canonical medical
// readings, writes them to MongoDB, and streams the processing trail to
// monitoring clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/amycare/telemetry-core/internal/api"
	"github.com/amycare/telemetry-core/internal/audit"
	"github.com/amycare/telemetry-core/internal/dataflow"
	"github.com/amycare/telemetry-core/internal/emergency"
	"github.com/amycare/telemetry-core/internal/infrastructure/config"
	"github.com/amycare/telemetry-core/internal/infrastructure/influxdb"
	"github.com/amycare/telemetry-core/internal/infrastructure/logging"
	"github.com/amycare/telemetry-core/internal/infrastructure/mongo"
	"github.com/amycare/telemetry-core/internal/listener"
	"github.com/amycare/telemetry-core/internal/resolver"
	"github.com/amycare/telemetry-core/internal/writer"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "amycore: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("starting telemetry core", "version", version)

	db, err := mongo.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to mongodb: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.Close(closeCtx); err != nil {
			logger.Error("closing mongodb", "error", err)
		}
	}()

	auditSink := audit.NewMongoSink(db)
	if err := auditSink.EnsureIndexes(ctx); err != nil {
		// The TTL index matters for retention, not correctness; start anyway.
		logger.Warn("audit index setup failed", "error", err)
	}

	metricsSink, err := influxdb.New(cfg.InfluxDB)
	if err != nil {
		return fmt.Errorf("creating metrics sink: %w", err)
	}
	defer metricsSink.Close()

	counters := &dataflow.Counters{}
	hub := api.NewHub(cfg.WebSocket, cfg.DataFlow.ReplayCount, logger)
	collector := dataflow.NewCollectorClient(cfg.DataFlow.CollectorURL)
	emitter := dataflow.NewEmitter(
		cfg.DataFlow.ChannelCapacity,
		cfg.DataFlow.RingBufferSize,
		collector,
		hub,
		metricsSink,
		counters,
		logger,
	)
	defer emitter.Close(cfg.EventFlushDeadline())
	hub.SetReplaySource(emitter.Recent)

	res := resolver.New(
		resolver.NewMongoRepository(db),
		time.Duration(cfg.Resolver.CacheTTL)*time.Second,
		logger,
	)
	store := writer.New(db, auditSink, cfg.Writer, logger)
	if metricsSink != nil {
		store.SetMetrics(metricsSink)
	}
	alarms := emergency.New(emitter, logger)
	listeners := listener.NewManager(cfg, res, store, emitter, alarms, logger)

	server := api.NewServer(cfg, api.Deps{
		Counters:   counters,
		Recent:     emitter.Recent,
		Hub:        hub,
		FlushCache: res.Flush,
		Health:     listeners.Health,
	}, logger)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return listeners.Run(ctx)
	})
	g.Go(func() error {
		return server.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("telemetry core running")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("telemetry core stopped")
	return nil
}
