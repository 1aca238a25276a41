// Package events reduces an ordered orchestration event log to a progress
// snapshot for one execution.
package events

import (
	"errors"
	"strings"

	"github.com/ari-apc-lab/croupier-backend/internal/orchestrator"
)

// TaskNone is the sentinel for "no task/operation in flight".
const TaskNone = "none"

// OperationExecuting is reported between a job leaving the queue and its
// publish phase starting.
const OperationExecuting = "Executing task"

// Per-task sub-progress calibration for the three-phase job lifecycle
// (queue, publish, cleanup), each phase a fixed share of one task's budget.
const (
	subProgressQueued     = 8.0
	subProgressPublishing = 88.0
	subProgressCleaning   = 94.0
)

// ErrEmptyJobPlan rejects classification when the blueprint declares no job
// nodes; the progress denominator would be zero.
var ErrEmptyJobPlan = errors.New("blueprint plan declares no job nodes")

// Snapshot is the derived state of one execution at the end of its event
// log.
type Snapshot struct {
	CurrentTask         string
	CurrentOperation    string
	TasksCompleted      map[string]bool
	OperationsCompleted map[string]bool
	TaskProgress        float64
	ErrorCount          int
}

// Classify reduces events, which must be ordered by ascending timestamp, to
// a Snapshot against the given job plan. It is pure: identical inputs yield
// identical snapshots and neither argument is mutated. Unknown event types
// are ignored.
func Classify(plan []string, evs []orchestrator.RawEvent) (Snapshot, error) {
	totalJobs := len(plan)
	if totalJobs == 0 {
		return Snapshot{}, ErrEmptyJobPlan
	}

	snap := Snapshot{
		CurrentTask:         TaskNone,
		CurrentOperation:    TaskNone,
		TasksCompleted:      make(map[string]bool),
		OperationsCompleted: make(map[string]bool),
	}

	// subProgress tracks the in-flight task only; it resets to zero when
	// the task enters the completed set, whose numerator bump absorbs it.
	var subProgress float64

	for _, ev := range evs {
		switch ev.EventType {
		case orchestrator.EventSendingTask:
			snap.CurrentTask = ev.NodeName
			snap.CurrentOperation = ev.Operation
			switch {
			case strings.HasSuffix(ev.Operation, ".publish"):
				subProgress = subProgressPublishing
			case strings.HasSuffix(ev.Operation, ".cleanup"):
				subProgress = subProgressCleaning
			}

		case orchestrator.EventTaskSucceeded:
			snap.OperationsCompleted[ev.Operation] = true
			if strings.HasSuffix(ev.Operation, ".queue") {
				snap.CurrentOperation = OperationExecuting
				subProgress = subProgressQueued
			} else {
				snap.CurrentOperation = TaskNone
				if strings.HasSuffix(ev.Operation, ".cleanup") {
					snap.TasksCompleted[ev.NodeName] = true
					snap.CurrentTask = TaskNone
					subProgress = 0
				}
			}

		case orchestrator.EventWorkflowFailed:
			snap.ErrorCount++
		}
	}

	progress := (100/float64(totalJobs))*float64(len(snap.TasksCompleted)) + subProgress/float64(totalJobs)
	if progress > 100 {
		progress = 100
	} else if progress < 0 {
		progress = 0
	}
	snap.TaskProgress = progress

	return snap, nil
}
