package models

import (
	"encoding/json"
	"time"
)

// ExecutionStatus is the lifecycle state of a workflow execution.
// Completed, failed and cancelled are terminal: the state machine never
// re-enters a terminal execution.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionWaiting   ExecutionStatus = "waiting"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// StepStatus is the outcome of a single step execution.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// WorkflowExecution is one run of a workflow for one contact.
type WorkflowExecution struct {
	ID              string `json:"id"               validate:"required"`
	WorkflowID      string `json:"workflow_id"      validate:"required"`
	WorkflowVersion int    `json:"workflow_version"`
	ContactID       string `json:"contact_id"       validate:"required"`
	OrganizationID  string `json:"organization_id"`

	Status  ExecutionStatus  `json:"status" validate:"required"`
	State   WorkflowState    `json:"state"`
	Context ExecutionContext `json:"context"`

	GoalsAchieved []string         `json:"goals_achieved,omitempty"`
	Errors        []ExecutionError `json:"errors,omitempty"`
	RetryCount    int              `json:"retry_count"`

	EnrolledAt  time.Time  `json:"enrolled_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// StoreVersion is the optimistic-locking counter bumped by the
	// execution store on every update.
	StoreVersion int64 `json:"store_version"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// WorkflowState is the resumable position of an execution inside the
// workflow graph.
type WorkflowState struct {
	CurrentNodeID  string              `json:"current_node_id"`
	VisitedNodes   []string            `json:"visited_nodes,omitempty"`
	ExecutionPath  []ExecutionPathNode `json:"execution_path,omitempty"`
	WaitingUntil   *time.Time          `json:"waiting_until,omitempty"`
	WaitReason     string              `json:"wait_reason,omitempty"`
	ActiveBranches []string            `json:"active_branches,omitempty"`
	StepResults    StepResultSet       `json:"step_results"`
}

// ExecutionPathNode records one completed step in path order.
type ExecutionPathNode struct {
	StepID    string     `json:"step_id"`
	StepType  ActionType `json:"step_type"`
	Timestamp time.Time  `json:"timestamp"`
	Result    StepResult `json:"result"`
}

// StepResult is the outcome of executing one action.
type StepResult struct {
	Status      StepStatus      `json:"status"`
	Output      any             `json:"output,omitempty"`
	Error       *ExecutionError `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
}

// ExecutionError is a recorded step or execution failure.
type ExecutionError struct {
	StepID     string    `json:"step_id"`
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Retryable  bool      `json:"retryable"`
	RetryCount int       `json:"retry_count"`
	StackTrace string    `json:"stack_trace,omitempty"`
}

func (e ExecutionError) Error() string {
	return e.Message
}

// ExecutionContext is the data visible to conditions and actions. The
// contact snapshot and trigger data are immutable after creation;
// variables and action results accumulate as steps run.
type ExecutionContext struct {
	Contact       ContactSnapshot `json:"contact"`
	TriggerData   map[string]any  `json:"trigger_data,omitempty"`
	Variables     map[string]any  `json:"variables,omitempty"`
	ActionResults map[string]any  `json:"action_results,omitempty"`
}

// SetVariable stores a variable, allocating the map on first use.
func (c *ExecutionContext) SetVariable(name string, value any) {
	if c.Variables == nil {
		c.Variables = make(map[string]any)
	}

	c.Variables[name] = value
}

// SetActionResult stores an action output keyed by action id.
func (c *ExecutionContext) SetActionResult(actionID string, value any) {
	if c.ActionResults == nil {
		c.ActionResults = make(map[string]any)
	}

	c.ActionResults[actionID] = value
}

// ContactSnapshot is the immutable-at-creation view of the enrolled
// contact.
type ContactSnapshot struct {
	ID           string         `json:"id" validate:"required"`
	Email        string         `json:"email,omitempty"`
	Phone        string         `json:"phone,omitempty"`
	FirstName    string         `json:"first_name,omitempty"`
	LastName     string         `json:"last_name,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
	DND          bool           `json:"dnd"`
	CapturedAt   time.Time      `json:"captured_at"`
}

// HasTag reports whether the snapshot carries the tag.
func (c *ContactSnapshot) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}

	return false
}

// StepResultSet is an ordered association of action id to step result.
// It preserves replay order while keeping id lookup constant time; a
// plain map would lose the ordering guarantee across serialization.
type StepResultSet struct {
	entries []StepResultEntry
	index   map[string]int
}

// StepResultEntry is one (id, result) pair in insertion order.
type StepResultEntry struct {
	StepID string     `json:"step_id"`
	Result StepResult `json:"result"`
}

// Get returns the result recorded for the step id.
func (s *StepResultSet) Get(stepID string) (StepResult, bool) {
	if s.index == nil {
		return StepResult{}, false
	}

	i, ok := s.index[stepID]
	if !ok {
		return StepResult{}, false
	}

	return s.entries[i].Result, true
}

// Set records a result, replacing any previous result for the same id
// without disturbing its position.
func (s *StepResultSet) Set(stepID string, result StepResult) {
	if s.index == nil {
		s.index = make(map[string]int)
	}

	if i, ok := s.index[stepID]; ok {
		s.entries[i].Result = result

		return
	}

	s.index[stepID] = len(s.entries)
	s.entries = append(s.entries, StepResultEntry{StepID: stepID, Result: result})
}

// Delete removes the entry for the step id, preserving the order of the
// remaining entries.
func (s *StepResultSet) Delete(stepID string) {
	i, ok := s.index[stepID]
	if !ok {
		return
	}

	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	delete(s.index, stepID)

	for j := i; j < len(s.entries); j++ {
		s.index[s.entries[j].StepID] = j
	}
}

// Len returns the number of recorded results.
func (s *StepResultSet) Len() int {
	return len(s.entries)
}

// Entries returns the recorded results in insertion order.
func (s *StepResultSet) Entries() []StepResultEntry {
	out := make([]StepResultEntry, len(s.entries))
	copy(out, s.entries)

	return out
}

func (s StepResultSet) MarshalJSON() ([]byte, error) {
	if s.entries == nil {
		return []byte("[]"), nil
	}

	return json.Marshal(s.entries)
}

func (s *StepResultSet) UnmarshalJSON(data []byte) error {
	var entries []StepResultEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}

	s.entries = entries
	s.index = make(map[string]int, len(entries))

	for i, e := range entries {
		s.index[e.StepID] = i
	}

	return nil
}
