package stepexec

import (
	"context"
	"sync"

	"github.com/cascadehq/cascade/pkg/models"
)

// BulkExecutor runs batches of independent actions through a
// StepExecutor.
type BulkExecutor struct {
	stepExecutor *StepExecutor
	concurrency  int
}

func NewBulkExecutor(stepExecutor *StepExecutor, concurrency int) *BulkExecutor {
	if concurrency <= 0 {
		concurrency = 5
	}

	return &BulkExecutor{
		stepExecutor: stepExecutor,
		concurrency:  concurrency,
	}
}

// ExecuteParallel runs each branch concurrently with a bounded pool.
// Within a branch, actions run in order and the branch stops at its
// first failure; other branches are unaffected.
func (b *BulkExecutor) ExecuteParallel(ctx context.Context, execution *models.WorkflowExecution, branches [][]*models.WorkflowAction) (map[string]models.StepResult, error) {
	results := make(map[string]models.StepResult)

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)

	sem := make(chan struct{}, b.concurrency)

	for _, branch := range branches {
		wg.Add(1)

		go func(actions []*models.WorkflowAction) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			for _, action := range actions {
				result, err := b.stepExecutor.ExecuteStep(ctx, execution, action)

				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()

					return
				}

				results[action.ID] = result
				failed := result.Status == models.StepFailed
				mu.Unlock()

				if failed {
					return
				}
			}
		}(branch)
	}

	wg.Wait()

	return results, firstErr
}

// ExecuteSequential runs actions in order, stopping the whole batch at
// the first failure.
func (b *BulkExecutor) ExecuteSequential(ctx context.Context, execution *models.WorkflowExecution, actions []*models.WorkflowAction) (map[string]models.StepResult, error) {
	results := make(map[string]models.StepResult, len(actions))

	for _, action := range actions {
		result, err := b.stepExecutor.ExecuteStep(ctx, execution, action)
		if err != nil {
			return results, err
		}

		results[action.ID] = result

		if result.Status == models.StepFailed {
			break
		}
	}

	return results, nil
}
