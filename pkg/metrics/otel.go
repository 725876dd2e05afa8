package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cascadehq/cascade/pkg/models"
)

// OtelCollector reports measurements through the global OpenTelemetry
// meter provider.
type OtelCollector struct {
	enrollments        metric.Int64Counter
	enrollmentsBlocked metric.Int64Counter
	executions         metric.Int64Counter
	executionDuration  metric.Float64Histogram
	steps              metric.Int64Counter
	stepDuration       metric.Float64Histogram
	retries            metric.Int64Counter
	goals              metric.Int64Counter
}

func NewOtelCollector(serviceName string) (*OtelCollector, error) {
	meter := otel.GetMeterProvider().Meter(serviceName)

	c := &OtelCollector{}

	var err error

	if c.enrollments, err = meter.Int64Counter("cascade.enrollments",
		metric.WithDescription("Contacts enrolled into workflows")); err != nil {
		return nil, fmt.Errorf("creating enrollments counter: %w", err)
	}

	if c.enrollmentsBlocked, err = meter.Int64Counter("cascade.enrollments.blocked",
		metric.WithDescription("Enrollment attempts rejected by eligibility rules")); err != nil {
		return nil, fmt.Errorf("creating blocked enrollments counter: %w", err)
	}

	if c.executions, err = meter.Int64Counter("cascade.executions",
		metric.WithDescription("Execution terminal transitions by status")); err != nil {
		return nil, fmt.Errorf("creating executions counter: %w", err)
	}

	if c.executionDuration, err = meter.Float64Histogram("cascade.execution.duration",
		metric.WithDescription("Execution wall time from enrollment to terminal status"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("creating execution duration histogram: %w", err)
	}

	if c.steps, err = meter.Int64Counter("cascade.steps",
		metric.WithDescription("Step executions by action type and status")); err != nil {
		return nil, fmt.Errorf("creating steps counter: %w", err)
	}

	if c.stepDuration, err = meter.Float64Histogram("cascade.step.duration",
		metric.WithDescription("Step execution time"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("creating step duration histogram: %w", err)
	}

	if c.retries, err = meter.Int64Counter("cascade.step.retries",
		metric.WithDescription("Step retry attempts scheduled")); err != nil {
		return nil, fmt.Errorf("creating retries counter: %w", err)
	}

	if c.goals, err = meter.Int64Counter("cascade.goals.achieved",
		metric.WithDescription("Goal achievements recorded")); err != nil {
		return nil, fmt.Errorf("creating goals counter: %w", err)
	}

	return c, nil
}

func (c *OtelCollector) RecordEnrollment(ctx context.Context, workflowID string) {
	c.enrollments.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_id", workflowID),
	))
}

func (c *OtelCollector) RecordEnrollmentBlocked(ctx context.Context, workflowID, reason string) {
	c.enrollmentsBlocked.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.String("reason", reason),
	))
}

func (c *OtelCollector) RecordExecution(ctx context.Context, workflowID string, status models.ExecutionStatus, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.String("status", string(status)),
	)

	c.executions.Add(ctx, 1, attrs)
	c.executionDuration.Record(ctx, duration.Seconds(), attrs)
}

func (c *OtelCollector) RecordStep(ctx context.Context, workflowID string, actionType models.ActionType, status models.StepStatus, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.String("action_type", string(actionType)),
		attribute.String("status", string(status)),
	)

	c.steps.Add(ctx, 1, attrs)
	c.stepDuration.Record(ctx, duration.Seconds(), attrs)
}

func (c *OtelCollector) RecordRetry(ctx context.Context, workflowID string, actionType models.ActionType) {
	c.retries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.String("action_type", string(actionType)),
	))
}

func (c *OtelCollector) RecordGoal(ctx context.Context, workflowID, goalID string) {
	c.goals.Add(ctx, 1, metric.WithAttributes(
		attribute.String("workflow_id", workflowID),
		attribute.String("goal_id", goalID),
	))
}
