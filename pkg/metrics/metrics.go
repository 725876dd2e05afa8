// Package metrics records engine-level counters for enrollments, step
// executions and goal achievements.
package metrics

import (
	"context"
	"time"

	"github.com/cascadehq/cascade/pkg/models"
)

// Collector receives measurement callbacks from the engine. All
// methods must be safe for concurrent use and must never block the
// execution loop.
type Collector interface {
	RecordEnrollment(ctx context.Context, workflowID string)
	RecordEnrollmentBlocked(ctx context.Context, workflowID, reason string)
	RecordExecution(ctx context.Context, workflowID string, status models.ExecutionStatus, duration time.Duration)
	RecordStep(ctx context.Context, workflowID string, actionType models.ActionType, status models.StepStatus, duration time.Duration)
	RecordRetry(ctx context.Context, workflowID string, actionType models.ActionType)
	RecordGoal(ctx context.Context, workflowID, goalID string)
}

// NoopCollector discards all measurements.
type NoopCollector struct{}

func (NoopCollector) RecordEnrollment(context.Context, string)        {}
func (NoopCollector) RecordEnrollmentBlocked(context.Context, string, string) {}
func (NoopCollector) RecordExecution(context.Context, string, models.ExecutionStatus, time.Duration) {
}
func (NoopCollector) RecordStep(context.Context, string, models.ActionType, models.StepStatus, time.Duration) {
}
func (NoopCollector) RecordRetry(context.Context, string, models.ActionType) {}
func (NoopCollector) RecordGoal(context.Context, string, string)             {}
