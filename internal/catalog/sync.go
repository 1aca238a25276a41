// Package catalog mirrors the orchestrator's blueprint and deployment lists
// into the local Application and AppInstance tables. The remote list is
// authoritative: vanished entries are retired, missing ones created and
// stale ones refreshed.
package catalog

import (
	"fmt"
	"time"

	"github.com/jinzhu/gorm"
	"go.uber.org/zap"

	"github.com/ari-apc-lab/croupier-backend/internal/metrics"
	"github.com/ari-apc-lab/croupier-backend/internal/models"
	"github.com/ari-apc-lab/croupier-backend/internal/orchestrator"
)

// newFlagWindow is how long a freshly mirrored entry advertises itself as
// new.
const newFlagWindow = 10 * 24 * time.Hour

// Synchronizer reconciles the local catalog against remote listings.
type Synchronizer struct {
	db  *gorm.DB
	log *zap.SugaredLogger
	now func() time.Time
}

// New builds a synchronizer over the shared database handle.
func New(db *gorm.DB, log *zap.SugaredLogger) *Synchronizer {
	return &Synchronizer{
		db:  db,
		log: log,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// SyncApplications reconciles the Application mirror against the remote
// blueprint list. The whole pass runs in one transaction so concurrent
// readers never observe a torn catalog. Running it twice with the same
// remote list leaves the second run a no-op.
func (s *Synchronizer) SyncApplications(remote []orchestrator.BlueprintInfo) error {
	metrics.CatalogSyncs.WithLabelValues("applications").Inc()

	byID := make(map[string]orchestrator.BlueprintInfo, len(remote))
	for _, bp := range remote {
		byID[bp.ID] = bp
	}

	now := s.now()
	tx := s.db.Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin catalog transaction: %w", tx.Error)
	}

	var local []models.Application
	if err := tx.Find(&local).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to list local applications: %w", err)
	}

	for i := range local {
		app := &local[i]
		bp, ok := byID[app.BlueprintID()]
		if !ok {
			// Vanished remotely; the mirror follows.
			if err := tx.Delete(app).Error; err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to retire application %s: %w", app.Name, err)
			}
			s.log.Infow("retired application no longer present remotely", "name", app.Name)
			continue
		}
		delete(byID, app.BlueprintID())

		changed := false
		if bp.UpdatedAt.After(app.Updated) {
			app.Description = bp.Description
			app.MainBlueprintFile = bp.MainFileName
			app.Updated = bp.UpdatedAt
			app.IsUpdated = true
			changed = true
		}
		if app.IsNew && now.Sub(app.Included) >= newFlagWindow {
			app.IsNew = false
			changed = true
		}
		if changed {
			if err := tx.Save(app).Error; err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to refresh application %s: %w", app.Name, err)
			}
		}
	}

	for _, bp := range byID {
		app := models.Application{
			Name:              bp.ID,
			Description:       bp.Description,
			MainBlueprintFile: bp.MainFileName,
			Owner:             bp.CreatedBy,
			Created:           bp.CreatedAt,
			Included:          now,
			Updated:           bp.UpdatedAt,
			IsNew:             true,
		}
		if err := tx.Create(&app).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to mirror application %s: %w", bp.ID, err)
		}
		s.log.Infow("mirrored new application", "name", bp.ID)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit catalog sync: %w", err)
	}
	return nil
}

// SyncInstances reconciles the AppInstance mirror against the remote
// deployment list, same contract as SyncApplications.
func (s *Synchronizer) SyncInstances(remote []orchestrator.DeploymentInfo) error {
	metrics.CatalogSyncs.WithLabelValues("instances").Inc()

	byID := make(map[string]orchestrator.DeploymentInfo, len(remote))
	for _, d := range remote {
		byID[d.ID] = d
	}

	now := s.now()
	tx := s.db.Begin()
	if tx.Error != nil {
		return fmt.Errorf("failed to begin catalog transaction: %w", tx.Error)
	}

	var local []models.AppInstance
	if err := tx.Find(&local).Error; err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to list local instances: %w", err)
	}

	for i := range local {
		inst := &local[i]
		d, ok := byID[inst.DeploymentID()]
		if !ok {
			if err := tx.Delete(inst).Error; err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to retire instance %s: %w", inst.Name, err)
			}
			s.log.Infow("retired instance no longer present remotely", "name", inst.Name)
			continue
		}
		delete(byID, inst.DeploymentID())

		changed := false
		if d.UpdatedAt.After(inst.Updated) {
			inst.Description = d.Description
			inst.Updated = d.UpdatedAt
			changed = true
		}
		if inst.IsNew && now.Sub(inst.Included) >= newFlagWindow {
			inst.IsNew = false
			changed = true
		}
		if changed {
			if err := tx.Save(inst).Error; err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to refresh instance %s: %w", inst.Name, err)
			}
		}
	}

	for _, d := range byID {
		var app models.Application
		err := tx.First(&app, "name = ?", d.BlueprintID).Error
		if gorm.IsRecordNotFoundError(err) {
			// Deployment of a blueprint we do not mirror; skip until the
			// application sync picks it up.
			s.log.Debugw("skipping deployment without a mirrored application",
				"deployment", d.ID, "blueprint", d.BlueprintID)
			continue
		}
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to resolve application for deployment %s: %w", d.ID, err)
		}

		inst := models.AppInstance{
			Name:        d.ID,
			Description: d.Description,
			Owner:       d.CreatedBy,
			AppID:       app.ID,
			Created:     d.CreatedAt,
			Included:    now,
			Updated:     d.UpdatedAt,
			IsNew:       true,
		}
		if err := tx.Create(&inst).Error; err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to mirror instance %s: %w", d.ID, err)
		}
		s.log.Infow("mirrored new instance", "name", d.ID)
	}

	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("failed to commit catalog sync: %w", err)
	}
	return nil
}
