package orchestrator

import "time"

// Workflow names understood by the orchestrator.
const (
	WorkflowInstall   = "install"
	WorkflowRunJobs   = "run_jobs"
	WorkflowUninstall = "uninstall"
)

// Event types the classifier reacts to. Anything else in the event log is
// ignored.
const (
	EventSendingTask    = "sending_task"
	EventTaskSucceeded  = "task_succeeded"
	EventWorkflowFailed = "workflow_failed"
)

// BlueprintInfo describes one blueprint as reported by the orchestrator.
type BlueprintInfo struct {
	ID           string
	Description  string
	MainFileName string
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DeploymentInfo describes one deployment as reported by the orchestrator.
type DeploymentInfo struct {
	ID          string
	BlueprintID string
	Description string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ExecutionHandle identifies a workflow run just started.
type ExecutionHandle struct {
	ID           string
	WorkflowID   string
	DeploymentID string
	Status       string
}

// ExecutionSummary is the orchestrator's view of one execution.
type ExecutionSummary struct {
	ID           string
	Status       string
	WorkflowID   string
	BlueprintID  string
	DeploymentID string
	Error        string
	CreatedAt    time.Time
	EndedAt      *time.Time
}

// RawEvent is one entry of the append-only event log of an execution.
type RawEvent struct {
	ExecutionID    string
	NodeInstanceID string
	NodeName       string
	EventType      string
	Operation      string
	Timestamp      time.Time
}

// InputSpec describes one declared blueprint input.
type InputSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Default     string `json:"default"`
	Description string `json:"description"`
}

// DeploymentInput is one concrete input value of a deployment.
type DeploymentInput struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}
