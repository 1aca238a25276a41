// Package store persists execution records. Records are created when a
// workflow launches, updated in place by the reconciler and never deleted.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/jinzhu/gorm"

	"github.com/ari-apc-lab/croupier-backend/internal/models"
)

// ErrNotFound is returned when no execution record matches the given id.
var ErrNotFound = errors.New("execution not found")

// ErrTerminalRollback rejects updates that would move an execution out of a
// terminal status.
var ErrTerminalRollback = errors.New("execution status cannot leave a terminal state")

// ExecutionStore is the query surface over execution records.
type ExecutionStore struct {
	db *gorm.DB
}

// NewExecutionStore wraps the shared database handle.
func NewExecutionStore(db *gorm.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// Filter narrows List results. Zero-valued fields are ignored; set fields
// combine conjunctively.
type Filter struct {
	Owner        string
	Instance     string // substring match on the instance name
	Status       string // substring match on the status
	CreatedAfter *time.Time
}

// Create inserts a freshly launched execution record.
func (s *ExecutionStore) Create(exec *models.Execution) error {
	if exec.Status == "" {
		exec.Status = models.StatusPending
	}
	if err := s.db.Create(exec).Error; err != nil {
		return fmt.Errorf("failed to create execution %s: %w", exec.ID, err)
	}
	return nil
}

// Get loads one execution with its instance preloaded.
func (s *ExecutionStore) Get(id string) (*models.Execution, error) {
	var exec models.Execution
	err := s.db.Preload("Instance").Preload("Instance.App").First(&exec, "id = ?", id).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", id, err)
	}
	return &exec, nil
}

// Update saves a reconciled record. Terminal statuses never roll back.
func (s *ExecutionStore) Update(exec *models.Execution) error {
	var prior models.Execution
	err := s.db.Select("status").First(&prior, "id = ?", exec.ID).Error
	if gorm.IsRecordNotFoundError(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load execution %s: %w", exec.ID, err)
	}
	if models.HasEnded(prior.Status) && prior.Status != exec.Status {
		return ErrTerminalRollback
	}
	if err := s.db.Save(exec).Error; err != nil {
		return fmt.Errorf("failed to update execution %s: %w", exec.ID, err)
	}
	return nil
}

// List returns the executions matching the filter, newest first.
func (s *ExecutionStore) List(f Filter) ([]models.Execution, error) {
	query := s.db.Preload("Instance").Preload("Instance.App").
		Joins("JOIN app_instances ON app_instances.id = executions.instance_id").
		Order("executions.created DESC")

	if f.Owner != "" {
		query = query.Where("executions.owner = ?", f.Owner)
	}
	if f.Instance != "" {
		query = query.Where("app_instances.name LIKE ?", "%"+f.Instance+"%")
	}
	if f.Status != "" {
		query = query.Where("executions.status LIKE ?", "%"+f.Status+"%")
	}
	if f.CreatedAfter != nil {
		query = query.Where("executions.created >= ?", *f.CreatedAfter)
	}

	var execs []models.Execution
	if err := query.Find(&execs).Error; err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	return execs, nil
}

// CountByStatus returns how many execution records sit in each status.
func (s *ExecutionStore) CountByStatus() (map[string]int, error) {
	rows, err := s.db.Model(&models.Execution{}).
		Select("status, count(*)").
		Group("status").
		Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to count executions by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to count executions by status: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ListUnsettled returns the owner's executions that still need polling.
func (s *ExecutionStore) ListUnsettled(owner string) ([]models.Execution, error) {
	var execs []models.Execution
	err := s.db.
		Where("owner = ?", owner).
		Where("finished IS NULL OR status NOT IN (?)",
			[]string{models.StatusTerminated, models.StatusFailed, models.StatusCancelled}).
		Find(&execs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list unsettled executions: %w", err)
	}
	return execs, nil
}
