package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/cascadehq/cascade/pkg/cmd"
	"github.com/cascadehq/cascade/pkg/config"
	"github.com/cascadehq/cascade/pkg/engine"
	"github.com/cascadehq/cascade/pkg/log"
	"github.com/cascadehq/cascade/pkg/metrics"
	"github.com/cascadehq/cascade/pkg/otelhelper"
)

// loadConfig merges the optional YAML config file with flag and
// environment overrides.
func loadConfig(command *cli.Command) (config.WorkerConfig, error) {
	cfg := config.Defaults()

	if path := command.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}

		cfg = loaded
	}

	if v := command.String("worker-id"); v != "" {
		cfg.WorkerID = v
	}

	if v := command.String("database-url"); v != "" {
		cfg.DatabaseURL = v
	}

	if v := command.String("broker"); v != "" {
		cfg.Broker = v
	}

	if v := command.StringSlice("kafka-brokers"); len(v) > 0 {
		cfg.Kafka.Brokers = v
	}

	if v := command.String("kafka-consumer-group"); v != "" {
		cfg.Kafka.ConsumerGroup = v
	}

	if v := command.String("redis-url"); v != "" {
		cfg.Redis.URL = v
	}

	if v := command.String("tracing-endpoint"); v != "" {
		cfg.TracingEndpoint = v
	}

	if v := command.String("log-level"); v != "" {
		cfg.LogLevel = v
	}

	if v := command.String("log-format"); v != "" {
		cfg.LogFormat = v
	}

	return cfg, nil
}

func runWorker(ctx context.Context, command *cli.Command) error {
	cfg, err := loadConfig(command)
	if err != nil {
		return err
	}

	log.Setup(cfg.LogLevel, cfg.LogFormat)

	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("cascade-worker").With("worker_id", workerID)
	logger.InfoContext(ctx, "initializing cascade worker")

	collector := metrics.Collector(metrics.NoopCollector{})

	var tracer trace.Tracer

	if cfg.TracingEndpoint != "" {
		os.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.TracingEndpoint)

		if t, err := otelhelper.NewTracer(ctx, "cascade-worker"); err != nil {
			logger.WarnContext(ctx, "tracing disabled", "error", err)
		} else {
			tracer = t

			if otelCollector, err := metrics.NewOtelCollector("cascade-worker"); err == nil {
				collector = otelCollector
			}
		}
	}

	q, err := cmd.NewQueue(logger, cfg)
	if err != nil {
		return err
	}

	defer func() {
		if err := q.Close(); err != nil {
			logger.ErrorContext(ctx, "failed to close queue", "error", err)
		}
	}()

	store, err := cmd.NewPersistence(ctx, logger, cfg.DatabaseURL)
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(ctx); err != nil {
			logger.ErrorContext(ctx, "failed to close persistence", "error", err)
		}
	}()

	eng, err := engine.NewEngine(engine.Config{
		WorkerID:    workerID,
		Logger:      logger,
		Queue:       q,
		Persistence: store,
		Registry:    cmd.NewRegistry(logger, nil),
		Metrics:     collector,
		Tracer:      tracer,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := eng.Start(runCtx); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.InfoContext(ctx, "shutting down worker")
	cancel()

	return nil
}
