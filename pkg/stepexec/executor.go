// Package stepexec wraps single action invocations with timeout, retry
// decision, circuit breaking and rate limiting.
package stepexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/cascadehq/cascade/pkg/conditions"
	"github.com/cascadehq/cascade/pkg/models"
	"github.com/cascadehq/cascade/pkg/registry"
)

const DefaultTimeout = 30 * time.Second

// ErrNoExecutor marks a missing executor registration. It is a
// workflow-integrity error: fatal, never retried.
var ErrNoExecutor = errors.New("no executor registered for action type")

// Config configures a StepExecutor.
type Config struct {
	Registry       *registry.Registry
	Logger         *slog.Logger
	DefaultTimeout time.Duration

	// RateLimiter, when set, is consulted per action type before any
	// side effect.
	RateLimiter *RateLimiter

	// Breaker, when set, wraps executor invocations with a circuit
	// breaker per action type.
	Breaker *BreakerSettings
}

// StepExecutor executes single workflow steps.
type StepExecutor struct {
	registry       *registry.Registry
	logger         *slog.Logger
	defaultTimeout time.Duration
	rateLimiter    *RateLimiter

	breakerSettings *BreakerSettings
	breakersMu      sync.Mutex
	breakers        map[models.ActionType]*CircuitBreaker
}

func NewStepExecutor(cfg Config) *StepExecutor {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StepExecutor{
		registry:        cfg.Registry,
		logger:          logger.With("module", "step_executor"),
		defaultTimeout:  timeout,
		rateLimiter:     cfg.RateLimiter,
		breakerSettings: cfg.Breaker,
		breakers:        make(map[models.ActionType]*CircuitBreaker),
	}
}

// ExecuteStep runs one action against the execution context. A
// SKIPPED result is returned without side effects when the action's
// executeIf condition is not met. The returned error is non-nil only
// for workflow-integrity failures (missing executor, unevaluable
// executeIf); ordinary step failures are reported through the result.
func (e *StepExecutor) ExecuteStep(ctx context.Context, execution *models.WorkflowExecution, action *models.WorkflowAction) (models.StepResult, error) {
	startedAt := time.Now()

	if action.ExecuteIf != nil {
		met, err := conditions.Evaluate(action.ExecuteIf, &execution.Context)
		if err != nil {
			return models.StepResult{}, fmt.Errorf("executeIf condition on action %s: %w", action.ID, err)
		}

		if !met {
			completedAt := time.Now()

			return models.StepResult{
				Status:      models.StepSkipped,
				StartedAt:   startedAt,
				CompletedAt: &completedAt,
			}, nil
		}
	}

	executor, err := e.registry.Executor(action.Type)
	if err != nil {
		return models.StepResult{}, fmt.Errorf("%w: %s", ErrNoExecutor, action.Type)
	}

	if e.rateLimiter != nil && !e.rateLimiter.Allow(string(action.Type)) {
		return e.failedResult(execution, action, startedAt,
			&codedError{code: "429", message: "rate limit exceeded for " + string(action.Type)}), nil
	}

	run := func() (any, error) {
		return e.executeWithTimeout(ctx, executor.Execute, action, &execution.Context)
	}

	var output any

	if breaker := e.breakerFor(action.Type); breaker != nil {
		output, err = breaker.Execute(run)
	} else {
		output, err = run()
	}

	if err != nil {
		return e.failedResult(execution, action, startedAt, err), nil
	}

	completedAt := time.Now()

	return models.StepResult{
		Status:      models.StepCompleted,
		Output:      output,
		StartedAt:   startedAt,
		CompletedAt: &completedAt,
		DurationMs:  completedAt.Sub(startedAt).Milliseconds(),
	}, nil
}

type executeFunc func(ctx context.Context, action *models.WorkflowAction, execCtx *models.ExecutionContext) (any, error)

func (e *StepExecutor) executeWithTimeout(ctx context.Context, execute executeFunc, action *models.WorkflowAction, execCtx *models.ExecutionContext) (any, error) {
	timeout := action.Timeout()
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output any
		err    error
	}

	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &panicError{value: r, stack: string(debug.Stack())}}
			}
		}()

		output, err := execute(ctx, action, execCtx)
		done <- outcome{output: output, err: err}
	}()

	select {
	case result := <-done:
		return result.output, result.err
	case <-ctx.Done():
		return nil, fmt.Errorf("execution timeout after %s", timeout)
	}
}

func (e *StepExecutor) failedResult(execution *models.WorkflowExecution, action *models.WorkflowAction, startedAt time.Time, err error) models.StepResult {
	completedAt := time.Now()

	stepError := &models.ExecutionError{
		StepID:     action.ID,
		Timestamp:  completedAt,
		Message:    err.Error(),
		ErrorCode:  ErrorCode(err),
		Retryable:  IsRetryableError(err),
		RetryCount: execution.RetryCount,
	}

	var pErr *panicError
	if errors.As(err, &pErr) {
		stepError.StackTrace = pErr.stack
	}

	e.logger.Warn("Step execution failed",
		"execution_id", execution.ID,
		"step_id", action.ID,
		"action_type", action.Type,
		"error", err,
		"retryable", stepError.Retryable,
	)

	return models.StepResult{
		Status:      models.StepFailed,
		Error:       stepError,
		StartedAt:   startedAt,
		CompletedAt: &completedAt,
		DurationMs:  completedAt.Sub(startedAt).Milliseconds(),
	}
}

func (e *StepExecutor) breakerFor(actionType models.ActionType) *CircuitBreaker {
	if e.breakerSettings == nil {
		return nil
	}

	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()

	breaker, ok := e.breakers[actionType]
	if !ok {
		breaker = NewCircuitBreaker(*e.breakerSettings)
		e.breakers[actionType] = breaker
	}

	return breaker
}

// ShouldRetry decides whether a failed step gets another attempt.
// Requires retries enabled, attempts remaining, and a retryable error:
// an explicit retryableErrors allow-list takes precedence over the
// transient-failure signature match.
func ShouldRetry(action *models.WorkflowAction, result models.StepResult, attempt int) bool {
	cfg := action.RetryConfig
	if cfg == nil || !cfg.Enabled {
		return false
	}

	if attempt >= cfg.MaxAttempts {
		return false
	}

	if result.Error == nil {
		return false
	}

	if len(cfg.RetryableErrors) > 0 {
		for _, code := range cfg.RetryableErrors {
			if result.Error.ErrorCode == code {
				return true
			}
		}

		return false
	}

	return result.Error.Retryable
}

var (
	httpStatusPattern = regexp.MustCompile(`\b([45]\d{2})\b`)

	// Transient-failure signatures: timeouts, connection resets, DNS
	// failures, and retryable HTTP statuses.
	retryableSignatures = []string{
		"timeout",
		"timed out",
		"connection reset",
		"connection refused",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"temporary failure",
	}

	retryableStatuses = map[string]bool{
		"429": true,
		"500": true,
		"502": true,
		"503": true,
		"504": true,
	}
)

// IsRetryableError reports whether an error matches the fixed set of
// transient-failure signatures.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	message := strings.ToLower(err.Error())

	for _, signature := range retryableSignatures {
		if strings.Contains(message, signature) {
			return true
		}
	}

	if match := httpStatusPattern.FindStringSubmatch(err.Error()); match != nil {
		return retryableStatuses[match[1]]
	}

	return false
}

// ErrorCode extracts a stable error code: an embedded HTTP status, an
// explicit code from a Coded error, or UNKNOWN_ERROR.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var coded Coded
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}

	if match := httpStatusPattern.FindStringSubmatch(err.Error()); match != nil {
		return match[1]
	}

	return "UNKNOWN_ERROR"
}

// Coded is implemented by errors carrying an explicit error code, used
// by retryableErrors allow-list matching.
type Coded interface {
	error
	ErrorCode() string
}

// NewCodedError builds an error with an explicit error code.
func NewCodedError(code, message string) error {
	return &codedError{code: code, message: message}
}

type codedError struct {
	code    string
	message string
}

func (e *codedError) Error() string {
	return e.message
}

func (e *codedError) ErrorCode() string {
	return e.code
}

type panicError struct {
	value any
	stack string
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic during step execution: %v", e.value)
}
