package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/cascadehq/cascade/pkg/cmd"
	"github.com/cascadehq/cascade/pkg/config"
	"github.com/cascadehq/cascade/pkg/engine"
	"github.com/cascadehq/cascade/pkg/log"
	"github.com/cascadehq/cascade/pkg/models"
	"github.com/cascadehq/cascade/pkg/queue"
)

func defaultTriggerTypes() []string {
	return []string{
		models.TriggerFormSubmitted,
		models.TriggerTagApplied,
		models.TriggerTagRemoved,
		models.TriggerContactCreated,
		models.TriggerContactUpdated,
		models.TriggerAppointmentBooked,
		models.TriggerOpportunityStage,
		models.TriggerEmailOpened,
		models.TriggerEmailClicked,
		models.TriggerSMSReplied,
		models.TriggerCallCompleted,
		models.TriggerPaymentReceived,
		models.TriggerWebhookReceived,
		models.TriggerManualEnrollment,
	}
}

func loadDispatcherConfig(command *cli.Command) (config.WorkerConfig, error) {
	cfg := config.Defaults()

	if path := command.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return cfg, err
		}

		cfg = loaded
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

	if v := command.String("redis-url"); v != "" {
		cfg.Redis.URL = v
	}

	if v := command.StringSlice("trigger-types"); len(v) > 0 {
		cfg.TriggerTypes = v
	}

	if v := command.String("log-level"); v != "" {
		cfg.LogLevel = v
	}

	if v := command.String("log-format"); v != "" {
		cfg.LogFormat = v
	}

	return cfg, nil
}

func runDispatcher(ctx context.Context, command *cli.Command) error {
	cfg, err := loadDispatcherConfig(command)
	if err != nil {
		return err
	}

	log.Setup(cfg.LogLevel, cfg.LogFormat)

	dispatcherID := command.String("dispatcher-id")
	if dispatcherID == "" {
		dispatcherID = "dispatcher-" + uuid.New().String()[:8]
	}

	logger := log.WithModule("cascade-trigger").With("dispatcher_id", dispatcherID)
	logger.InfoContext(ctx, "initializing trigger dispatcher")

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
		WorkerID:    dispatcherID,
		Logger:      logger,
		Queue:       q,
		Persistence: store,
		Registry:    cmd.NewRegistry(logger, nil),
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dispatcher := &Dispatcher{
		logger: logger,
		queue:  q,
		engine: eng,
	}

	triggerTypes := cfg.TriggerTypes
	if len(triggerTypes) == 0 {
		triggerTypes = defaultTriggerTypes()
	}

	if err := dispatcher.Start(runCtx, triggerTypes); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.InfoContext(ctx, "shutting down dispatcher")
	cancel()

	return nil
}

// Dispatcher consumes inbound trigger events and enrolls matching
// contacts. Enrollment is the only engine surface it uses; execution
// stays on cascade-worker processes.
type Dispatcher struct {
	logger *slog.Logger
	queue  queue.MessageQueue
	engine *engine.Engine
}

// Start subscribes to one topic per trigger type.
func (d *Dispatcher) Start(ctx context.Context, triggerTypes []string) error {
	for _, triggerType := range triggerTypes {
		topic := queue.TriggerTopic(triggerType)

		if err := d.queue.Subscribe(ctx, topic, d.handleTrigger); err != nil {
			return err
		}

		d.logger.InfoContext(ctx, "subscribed to trigger topic", "topic", topic)
	}

	return nil
}

func (d *Dispatcher) handleTrigger(ctx context.Context, payload []byte) error {
	var event models.TriggerEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		d.logger.ErrorContext(ctx, "discarding malformed trigger event", "error", err)

		return nil
	}

	if event.Type == "" || event.ContactID == "" {
		d.logger.ErrorContext(ctx, "discarding trigger event without type or contact",
			"trigger_type", event.Type,
		)

		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	enrolled, err := d.engine.InitiateFromTrigger(ctx, &event)
	if err != nil {
		d.logger.ErrorContext(ctx, "trigger enrollment failed",
			"trigger_type", event.Type,
			"contact_id", event.ContactID,
			"error", err,
		)

		return err
	}

	d.logger.InfoContext(ctx, "trigger processed",
		"trigger_type", event.Type,
		"contact_id", event.ContactID,
		"enrolled", len(enrolled),
	)

	return nil
}
