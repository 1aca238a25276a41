package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"

	"github.com/ari-apc-lab/croupier-backend/internal/auth"
	"github.com/ari-apc-lab/croupier-backend/internal/models"
	"github.com/ari-apc-lab/croupier-backend/internal/orchestrator"
)

type createInstanceRequest struct {
	Name        string                 `json:"name" binding:"required"`
	App         string                 `json:"app" binding:"required"`
	Description string                 `json:"description"`
	Inputs      map[string]interface{} `json:"inputs"`
}

// listInstances refreshes the mirror from the remote deployment list and
// returns the caller's instances.
func (s *Server) listInstances(c *gin.Context) {
	deployments, err := s.orch.ListDeployments(c.Request.Context())
	if err != nil {
		s.log.Warnw("deployment listing failed, serving local catalog", "error", err)
	} else if err := s.sync.SyncInstances(deployments); err != nil {
		s.log.Errorw("instance catalog sync failed", "error", err)
	}

	var instances []models.AppInstance
	err = s.db.Preload("App").
		Where("owner = ?", auth.Username(c)).
		Order("name").
		Find(&instances).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, instances)
}

// createInstance deploys the application and launches its install workflow.
// The execution record is created at launch so the reconciler can track the
// run from its first poll.
func (s *Server) createInstance(c *gin.Context) {
	var req createInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user := auth.Username(c)

	var app models.Application
	err := s.db.First(&app, "name = ?", req.App).Error
	if gorm.IsRecordNotFoundError(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Application not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if s.market != nil {
		purchased, err := s.market.HasPurchased(c.Request.Context(), user, app.Name)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		if !purchased {
			c.JSON(http.StatusForbidden, gin.H{"error": "Application not purchased"})
			return
		}
	}

	deploymentID := models.CreateDeploymentID(req.Name)
	ctx := c.Request.Context()

	if _, err := s.orch.CreateDeployment(ctx, deploymentID, app.BlueprintID(), req.Inputs); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	handle, err := s.orch.StartWorkflow(ctx, deploymentID, orchestrator.WorkflowInstall, nil, false)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	instance := models.AppInstance{
		Name:          deploymentID,
		Description:   req.Description,
		Owner:         user,
		AppID:         app.ID,
		LastExecution: handle.ID,
		Created:       now,
		Included:      now,
		Updated:       now,
		IsNew:         true,
	}
	if err := s.db.Create(&instance).Error; err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	if err := s.execs.Create(&models.Execution{
		ID:         handle.ID,
		InstanceID: instance.ID,
		Owner:      user,
		Created:    now,
	}); err != nil {
		s.log.Errorw("failed to record install execution", "execution", handle.ID, "error", err)
	}

	c.JSON(http.StatusCreated, instance)
}

// getInstance returns one instance with its deployment inputs.
func (s *Server) getInstance(c *gin.Context) {
	instance, ok := s.findInstance(c)
	if !ok {
		return
	}

	inputs, err := s.orch.DeploymentInputs(c.Request.Context(), instance.DeploymentID())
	if err != nil {
		s.log.Warnw("deployment inputs unavailable", "deployment", instance.DeploymentID(), "error", err)
	}

	c.JSON(http.StatusOK, struct {
		models.AppInstance
		Inputs []orchestrator.DeploymentInput `json:"inputs"`
	}{*instance, inputs})
}

// executeInstance launches the run_jobs workflow, guarded by the state of
// the previous execution: a wrong install blocks with 424, a still-running
// workflow with 423.
func (s *Server) executeInstance(c *gin.Context) {
	instance, ok := s.findInstance(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	remoteStatus, workflowID, err := s.orch.ExecutionStatus(ctx, instance.LastExecution)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	status := models.StatusFromRemote(remoteStatus)

	if workflowID == orchestrator.WorkflowInstall && models.IsWrong(status) {
		c.Status(http.StatusFailedDependency)
		return
	}
	if !models.HasEnded(status) {
		c.Status(http.StatusLocked)
		return
	}

	handle, err := s.orch.StartWorkflow(ctx, instance.DeploymentID(), orchestrator.WorkflowRunJobs, nil, false)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	instance.LastExecution = handle.ID
	if err := s.db.Save(instance).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := s.execs.Create(&models.Execution{
		ID:         handle.ID,
		InstanceID: instance.ID,
		Owner:      instance.Owner,
		Created:    time.Now().UTC(),
	}); err != nil {
		s.log.Errorw("failed to record execution", "execution", handle.ID, "error", err)
	}

	c.JSON(http.StatusOK, instance)
}

type instanceEventsRequest struct {
	Offset int `json:"offset"`
}

// instanceEvents returns one raw page of the latest execution's event log.
func (s *Server) instanceEvents(c *gin.Context) {
	instance, ok := s.findInstance(c)
	if !ok {
		return
	}

	var req instanceEventsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	status, _, err := s.orch.ExecutionStatus(ctx, instance.LastExecution)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	logs, total, err := s.orch.RawEvents(ctx, instance.LastExecution, req.Offset, 100)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"logs": logs, "last": total, "status": status})
}

// deleteInstance uninstalls the deployment, removes it remotely and retires
// the mirror row.
func (s *Server) deleteInstance(c *gin.Context) {
	instance, ok := s.findInstance(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if _, err := s.orch.StartWorkflow(ctx, instance.DeploymentID(), orchestrator.WorkflowUninstall, nil, true); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err := s.orch.DeleteDeployment(ctx, instance.DeploymentID(), true); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err := s.db.Delete(instance).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// findInstance loads the named instance and enforces ownership.
func (s *Server) findInstance(c *gin.Context) (*models.AppInstance, bool) {
	var instance models.AppInstance
	err := s.db.Preload("App").First(&instance, "name = ?", c.Param("name")).Error
	if gorm.IsRecordNotFoundError(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Instance not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if instance.Owner != auth.Username(c) {
		c.Status(http.StatusForbidden)
		return nil, false
	}
	return &instance, true
}
