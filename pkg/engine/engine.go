// Package engine drives workflow executions: it enrolls contacts from
// trigger events, advances executions step by step, and suspends and
// resumes them around waits, retries and goals.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/cascadehq/cascade/pkg/branching"
	"github.com/cascadehq/cascade/pkg/events"
	"github.com/cascadehq/cascade/pkg/goals"
	"github.com/cascadehq/cascade/pkg/metrics"
	"github.com/cascadehq/cascade/pkg/persistence"
	"github.com/cascadehq/cascade/pkg/queue"
	"github.com/cascadehq/cascade/pkg/registry"
	"github.com/cascadehq/cascade/pkg/stepexec"
	"github.com/cascadehq/cascade/pkg/waits"
)

// EventListener receives every lifecycle event the engine emits.
// Listeners run synchronously on the execution path and must be fast.
type EventListener func(ctx context.Context, event events.Event)

// StartMessage rides the execution start and resume topics.
type StartMessage struct {
	ExecutionID string `json:"execution_id"`
}

// Config wires an Engine. Queue, Persistence and Registry are
// required; the rest default.
type Config struct {
	WorkerID    string
	Logger      *slog.Logger
	Queue       queue.MessageQueue
	Persistence persistence.Persistence
	Registry    *registry.Registry
	Metrics     metrics.Collector
	Tracer      trace.Tracer

	StepExecutor *stepexec.StepExecutor
}

// Engine is the workflow execution engine. One engine instance runs
// per worker process; executions are claimed through optimistic store
// updates so running several workers is safe.
type Engine struct {
	workerID  string
	logger    *slog.Logger
	queue     queue.MessageQueue
	store     persistence.Persistence
	registry  *registry.Registry
	steps     *stepexec.StepExecutor
	branching *branching.Engine
	goals     *goals.Tracker
	waits     *waits.Scheduler
	metrics   metrics.Collector
	tracer    trace.Tracer
	validate  *validator.Validate

	listeners []EventListener

	// active guards against the same worker racing itself when a
	// resume message lands while the execution is still looping.
	activeMu sync.Mutex
	active   map[string]struct{}
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Queue == nil || cfg.Persistence == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("engine requires a queue, persistence and a registry")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger = logger.With("module", "engine")

	collector := cfg.Metrics
	if collector == nil {
		collector = metrics.NoopCollector{}
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer("cascade-engine")
	}

	stepExecutor := cfg.StepExecutor
	if stepExecutor == nil {
		stepExecutor = stepexec.NewStepExecutor(stepexec.Config{
			Registry: cfg.Registry,
			Logger:   logger,
		})
	}

	return &Engine{
		workerID:  cfg.WorkerID,
		logger:    logger,
		queue:     cfg.Queue,
		store:     cfg.Persistence,
		registry:  cfg.Registry,
		steps:     stepExecutor,
		branching: branching.NewEngine(logger),
		goals:     goals.NewTracker(logger),
		waits:     waits.NewScheduler(logger, cfg.Queue),
		metrics:   collector,
		tracer:    tracer,
		validate:  validator.New(),
		active:    make(map[string]struct{}),
	}, nil
}

// AddListener registers a lifecycle event listener.
func (e *Engine) AddListener(listener EventListener) {
	e.listeners = append(e.listeners, listener)
}

// Start subscribes the engine to its transport topics. It returns once
// the subscriptions are established; message handling runs on the
// transport's goroutines until ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.queue.Subscribe(ctx, queue.TopicExecutionStart, e.handleStart); err != nil {
		return fmt.Errorf("subscribing to execution start: %w", err)
	}

	if err := e.queue.Subscribe(ctx, queue.TopicExecutionResume, e.handleStart); err != nil {
		return fmt.Errorf("subscribing to execution resume: %w", err)
	}

	if err := e.queue.Subscribe(ctx, queue.TopicWaitResume, e.handleWaitResume); err != nil {
		return fmt.Errorf("subscribing to wait resume: %w", err)
	}

	if err := e.queue.Subscribe(ctx, queue.TopicWaitTimeout, e.handleWaitTimeout); err != nil {
		return fmt.Errorf("subscribing to wait timeout: %w", err)
	}

	e.logger.Info("engine started", "worker_id", e.workerID)

	return nil
}

func (e *Engine) handleStart(ctx context.Context, payload []byte) error {
	var msg StartMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		e.logger.Error("discarding malformed start message", "error", err)

		return nil
	}

	return e.ExecuteWorkflow(ctx, msg.ExecutionID)
}

func (e *Engine) handleWaitResume(ctx context.Context, payload []byte) error {
	var msg waits.ResumeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		e.logger.Error("discarding malformed resume message", "error", err)

		return nil
	}

	return e.resumeFromWait(ctx, &msg, false)
}

func (e *Engine) handleWaitTimeout(ctx context.Context, payload []byte) error {
	var msg waits.ResumeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		e.logger.Error("discarding malformed timeout message", "error", err)

		return nil
	}

	return e.resumeFromWait(ctx, &msg, true)
}

// emit delivers the event to listeners and publishes it on the
// outbound event topic. Event delivery failures never fail the
// execution.
func (e *Engine) emit(ctx context.Context, event events.Event) {
	for _, listener := range e.listeners {
		listener(ctx, event)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.Error("failed to encode event", "event_type", event.GetType(), "error", err)

		return
	}

	if err := e.queue.Publish(ctx, queue.EventTopic(string(event.GetType())), payload); err != nil {
		e.logger.Error("failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

func (e *Engine) claim(executionID string) bool {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()

	if _, ok := e.active[executionID]; ok {
		return false
	}

	e.active[executionID] = struct{}{}

	return true
}

func (e *Engine) release(executionID string) {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()

	delete(e.active, executionID)
}
