// Package reconciler keeps persisted execution records eventually consistent
// with the orchestrator, the system of record. Polling is piggybacked on
// read requests; settled executions are skipped so the cost stays bounded.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ari-apc-lab/croupier-backend/internal/events"
	"github.com/ari-apc-lab/croupier-backend/internal/metrics"
	"github.com/ari-apc-lab/croupier-backend/internal/models"
	"github.com/ari-apc-lab/croupier-backend/internal/orchestrator"
	"github.com/ari-apc-lab/croupier-backend/internal/store"
)

// ErrRemoteNotFound is returned when the orchestrator no longer knows the
// execution. The local record is left untouched; callers decide whether to
// treat the run as abandoned.
var ErrRemoteNotFound = errors.New("execution unknown to the orchestrator")

// Adapter is the slice of the orchestrator client the reconciler needs.
type Adapter interface {
	ExecutionSummary(ctx context.Context, executionID string) (*orchestrator.ExecutionSummary, error)
	JobPlan(ctx context.Context, blueprintID string) ([]string, error)
	AllEvents(ctx context.Context, executionID string) ([]orchestrator.RawEvent, error)
}

// Result is the outcome of one reconciliation pass. CurrentOperation is
// derived per pass and not persisted on the record.
type Result struct {
	Execution        models.Execution
	CurrentOperation string
}

// Reconciler merges classifier snapshots into execution records.
type Reconciler struct {
	store   *store.ExecutionStore
	adapter Adapter
	log     *zap.SugaredLogger
	now     func() time.Time

	// plans caches the job plan per blueprint; plans are immutable for the
	// lifetime of a run.
	plansMu sync.Mutex
	plans   map[string][]string

	// locks serializes writes per execution id; independent executions
	// reconcile concurrently.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New builds a reconciler over the given store and adapter.
func New(s *store.ExecutionStore, adapter Adapter, log *zap.SugaredLogger) *Reconciler {
	return &Reconciler{
		store:   s,
		adapter: adapter,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
		plans:   make(map[string][]string),
		locks:   make(map[string]*sync.Mutex),
	}
}

// ReconcileOne refreshes a single execution record from the orchestrator.
// Settled executions short-circuit without any remote call. All remote
// fetches complete before the record is touched, so a cancelled request
// never leaves a partial merge behind.
func (r *Reconciler) ReconcileOne(ctx context.Context, executionID string) (*Result, error) {
	exec, err := r.store.Get(executionID)
	if err != nil {
		return nil, err
	}
	if exec.Settled() {
		metrics.ReconcilePasses.WithLabelValues(metrics.ResultSettled).Inc()
		return &Result{Execution: *exec, CurrentOperation: events.TaskNone}, nil
	}

	lock := r.lockFor(executionID)
	lock.Lock()
	defer lock.Unlock()

	timer := time.Now()
	result, err := r.reconcile(ctx, exec)
	metrics.ReconcileDuration.Observe(time.Since(timer).Seconds())
	if err != nil {
		metrics.ReconcilePasses.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}
	return result, nil
}

// ReconcileMany refreshes every unsettled execution owned by owner. It is
// best-effort: one failing execution is logged and does not abort its
// siblings.
func (r *Reconciler) ReconcileMany(ctx context.Context, owner string) error {
	execs, err := r.store.ListUnsettled(owner)
	if err != nil {
		return err
	}
	for i := range execs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := r.ReconcileOne(ctx, execs[i].ID); err != nil {
			r.log.Warnw("reconciliation failed, keeping last known state",
				"execution", execs[i].ID, "owner", owner, "error", err)
		}
	}

	if counts, err := r.store.CountByStatus(); err == nil {
		for status, n := range counts {
			metrics.ExecutionsByStatus.WithLabelValues(status).Set(float64(n))
		}
	}
	return nil
}

func (r *Reconciler) reconcile(ctx context.Context, exec *models.Execution) (*Result, error) {
	summary, err := r.adapter.ExecutionSummary(ctx, exec.ID)
	if err != nil {
		metrics.AdapterErrors.WithLabelValues("execution_summary").Inc()
		if orchestrator.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrRemoteNotFound, exec.ID)
		}
		return nil, fmt.Errorf("failed to fetch execution summary: %w", err)
	}

	plan, err := r.jobPlan(ctx, summary.BlueprintID)
	if err != nil {
		metrics.AdapterErrors.WithLabelValues("job_plan").Inc()
		return nil, fmt.Errorf("failed to fetch job plan for blueprint %s: %w", summary.BlueprintID, err)
	}

	evs, err := r.adapter.AllEvents(ctx, exec.ID)
	if err != nil {
		metrics.AdapterErrors.WithLabelValues("events").Inc()
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}

	snap, err := events.Classify(plan, evs)
	if err != nil {
		return nil, fmt.Errorf("blueprint %s: %w", summary.BlueprintID, err)
	}

	if changed := r.merge(exec, summary, &snap); changed {
		if err := r.store.Update(exec); err != nil {
			return nil, err
		}
		metrics.ReconcilePasses.WithLabelValues(metrics.ResultUpdated).Inc()
	} else {
		metrics.ReconcilePasses.WithLabelValues(metrics.ResultUnchanged).Inc()
	}

	return &Result{Execution: *exec, CurrentOperation: snap.CurrentOperation}, nil
}

// merge overwrites the record's derived fields from the remote summary and
// the classifier snapshot, reporting whether anything changed.
func (r *Reconciler) merge(exec *models.Execution, summary *orchestrator.ExecutionSummary, snap *events.Snapshot) bool {
	status := models.StatusFromRemote(summary.Status)

	progress := snap.TaskProgress
	if models.IsFinished(status) {
		progress = 100
	}

	start := summary.CreatedAt
	if start.IsZero() {
		start = exec.Created
	}
	var elapsed int
	if summary.EndedAt != nil {
		elapsed = int(summary.EndedAt.Sub(start).Seconds())
	} else {
		elapsed = int(r.now().Sub(start).Seconds())
	}

	var finished *time.Time
	if models.HasEnded(status) {
		if summary.EndedAt != nil {
			finished = summary.EndedAt
		} else {
			t := r.now()
			finished = &t
		}
	}

	changed := exec.Status != status ||
		exec.Progress != progress ||
		exec.NumErrors != snap.ErrorCount ||
		exec.CurrentTask != snap.CurrentTask ||
		!timePtrEqual(exec.Finished, finished) ||
		exec.ExecutionTime == nil || *exec.ExecutionTime != elapsed

	exec.Status = status
	exec.Progress = progress
	exec.NumErrors = snap.ErrorCount
	exec.HasErrors = snap.ErrorCount > 0
	exec.CurrentTask = snap.CurrentTask
	exec.ExecutionTime = &elapsed
	exec.Finished = finished

	return changed
}

func (r *Reconciler) jobPlan(ctx context.Context, blueprintID string) ([]string, error) {
	r.plansMu.Lock()
	plan, ok := r.plans[blueprintID]
	r.plansMu.Unlock()
	if ok {
		return plan, nil
	}

	plan, err := r.adapter.JobPlan(ctx, blueprintID)
	if err != nil {
		return nil, err
	}

	r.plansMu.Lock()
	r.plans[blueprintID] = plan
	r.plansMu.Unlock()
	return plan, nil
}

func (r *Reconciler) lockFor(id string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()
	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	return lock
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
