package shared

import "time"

// Category defines which handler family interprets a node's type and config
type Category string

const (
	CategoryService      Category = "service"
	CategoryLogic        Category = "logic"
	CategoryData         Category = "data"
	CategoryNotification Category = "notification"
)

// Node types interpreted by the logic and data categories.
// Service and notification nodes accept any type string.
const (
	NodeTypeCondition   = "condition"
	NodeTypeSwitch      = "switch"
	NodeTypeLoop        = "loop"
	NodeTypeSetVariable = "set_variable"
	NodeTypeTransform   = "transform"
	NodeTypeInput       = "input"
)

// Node represents a single step in a workflow graph
type Node struct {
	Ref        string                 `json:"ref" yaml:"ref"` // Unique within its workflow
	Name       string                 `json:"name" yaml:"name"`
	Category   Category               `json:"category" yaml:"category"`
	Type       string                 `json:"type" yaml:"type"`
	Config     map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
	OrderIndex int                    `json:"order_index" yaml:"order_index"`
}

// Edge is a directed link between two nodes, optionally gated by a condition or a boolean label
type Edge struct {
	SourceRef string `json:"source_ref" yaml:"source_ref"`
	TargetRef string `json:"target_ref" yaml:"target_ref"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"` // Expression evaluated against (context, last)
	Label     string `json:"label,omitempty" yaml:"label,omitempty"`         // "true"/"false" when following a condition node
	IsDefault bool   `json:"is_default,omitempty" yaml:"is_default,omitempty"`
}

// Workflow is one version of a tenant-owned workflow definition
type Workflow struct {
	ID       int64  `json:"id" yaml:"id"`
	TenantID int64  `json:"tenant_id" yaml:"tenant_id"`
	Name     string `json:"name" yaml:"name"`
	Version  int    `json:"version" yaml:"version"` // Increments on structural edit
	IsActive bool   `json:"is_active" yaml:"is_active"`
	Nodes    []Node `json:"nodes" yaml:"nodes"`
	Edges    []Edge `json:"edges" yaml:"edges"`
}

// RunStatus defines the lifecycle state of a workflow run
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusPartial   RunStatus = "partial" // Some nodes skipped, none failed
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusPartial, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// StepStatus defines the state of a node within a run
type StepStatus string

const (
	StepStatusQueued  StepStatus = "queued"
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// IsTerminal reports whether the step can no longer change
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusSuccess || s == StepStatusFailed || s == StepStatusSkipped
}

// CanTransition reports whether a step may move from one status to another.
// Allowed: queued->running, running->success|failed, queued->skipped.
func CanTransition(from, to StepStatus) bool {
	switch from {
	case StepStatusQueued:
		return to == StepStatusRunning || to == StepStatusSkipped
	case StepStatusRunning:
		return to == StepStatusSuccess || to == StepStatusFailed
	}
	return false
}

// Run is one execution of a specific workflow version
type Run struct {
	ID              int64                  `json:"id"`
	WorkflowID      int64                  `json:"workflow_id"`
	WorkflowVersion int                    `json:"workflow_version"`
	TenantID        int64                  `json:"tenant_id"`
	TriggeredBy     string                 `json:"triggered_by"` // Actor identity forwarded to service jobs
	Status          RunStatus              `json:"status"`
	Inputs          map[string]interface{} `json:"inputs,omitempty"`
	Outputs         map[string]interface{} `json:"outputs,omitempty"` // node ref -> node output
	Context         map[string]interface{} `json:"context,omitempty"`
	Error           string                 `json:"error,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	StartedAt       time.Time              `json:"started_at"`
	FinishedAt      time.Time              `json:"finished_at"`
}

// Step is the per-node execution record within a run
type Step struct {
	ID         int64                  `json:"id"`
	RunID      int64                  `json:"run_id"`
	NodeRef    string                 `json:"node_ref"`
	Status     StepStatus             `json:"status"`
	Output     map[string]interface{} `json:"output,omitempty"` // Present only on success
	Error      string                 `json:"error,omitempty"`  // Present only on failure
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
}

// LogLevel is the severity of a run log entry
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry is one append-only line of a run's audit timeline
type LogEntry struct {
	ID        int64                  `json:"id"`
	RunID     int64                  `json:"run_id"`
	NodeRef   string                 `json:"node_ref,omitempty"`
	Timestamp time.Time              `json:"ts"`
	Level     LogLevel               `json:"level"`
	Message   string                 `json:"message"`
	Context   map[string]interface{} `json:"context,omitempty"`
}

// RunResult is returned to whoever triggered a run
type RunResult struct {
	RunID  int64     `json:"run_id"`
	Status RunStatus `json:"status"`
}

// CloneMap returns a shallow copy of m. Nil stays nil.
func CloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
