package models

import (
	"strings"
	"time"
)

// Execution statuses as persisted locally. The remote orchestrator reports
// them lowercase; StatusFromRemote normalizes.
const (
	StatusPending         = "PENDING"
	StatusStarted         = "STARTED"
	StatusCancelling      = "CANCELLING"
	StatusForceCancelling = "FORCE_CANCELLING"
	StatusCancelled       = "CANCELLED"
	StatusTerminated      = "TERMINATED"
	StatusFailed          = "FAILED"
	StatusQueued          = "QUEUED"
	StatusScheduled       = "SCHEDULED"
)

// Execution is one tracked workflow run against an AppInstance. Rows are
// created when the workflow is launched, mutated only by the reconciler and
// never deleted.
type Execution struct {
	// ID is the opaque run identifier assigned by the orchestrator.
	ID string `gorm:"primary_key;size:50" json:"id"`

	InstanceID uint        `json:"-"`
	Instance   AppInstance `gorm:"foreignkey:InstanceID" json:"instance"`

	Owner string `gorm:"index;size:50" json:"owner"`

	Created  time.Time  `json:"created"`
	Finished *time.Time `json:"finished,omitempty"`
	// ExecutionTime is the elapsed run time in seconds. A live estimate
	// while running, frozen once the run ends.
	ExecutionTime *int `json:"execution_time,omitempty"`

	Status      string  `gorm:"size:17;default:'PENDING'" json:"status"`
	HasErrors   bool    `json:"has_errors"`
	NumErrors   int     `json:"num_errors"`
	CurrentTask string  `gorm:"size:50" json:"current_task"`
	Progress    float64 `json:"progress"`
}

// StatusFromRemote maps an orchestrator-reported status onto the persisted
// enumeration.
func StatusFromRemote(status string) string {
	return strings.ToUpper(status)
}

// HasEnded reports whether status is terminal.
func HasEnded(status string) bool {
	switch status {
	case StatusTerminated, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsFinished reports whether status is the successful terminal state.
func IsFinished(status string) bool {
	return status == StatusTerminated
}

// IsWrong reports whether status is terminal but not successful.
func IsWrong(status string) bool {
	return HasEnded(status) && status != StatusTerminated
}

// Settled reports whether the execution needs no further polling: a terminal
// status with the finish time durably recorded.
func (e *Execution) Settled() bool {
	return HasEnded(e.Status) && e.Finished != nil
}
