package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ari-apc-lab/croupier-backend/internal/auth"
	"github.com/ari-apc-lab/croupier-backend/internal/events"
	"github.com/ari-apc-lab/croupier-backend/internal/models"
	"github.com/ari-apc-lab/croupier-backend/internal/reconciler"
	"github.com/ari-apc-lab/croupier-backend/internal/store"
)

// executionView is an execution record plus the per-pass derived fields.
type executionView struct {
	models.Execution
	CurrentOperation string `json:"current_operation"`
	// ReconcileError is set when the latest reconciliation attempt failed
	// and the record shown is the last known-good state.
	ReconcileError string `json:"reconcile_error,omitempty"`
}

// listExecutions reconciles the caller's unsettled executions and returns
// the filtered history. Reconciliation is best-effort; listing never fails
// because a single execution cannot be refreshed.
func (s *Server) listExecutions(c *gin.Context) {
	user := auth.Username(c)

	if err := s.rec.ReconcileMany(c.Request.Context(), user); err != nil {
		s.log.Warnw("batch reconciliation incomplete", "owner", user, "error", err)
	}

	filter := store.Filter{
		Owner:    user,
		Instance: c.Query("instance"),
		Status:   c.Query("status"),
	}
	if after := c.Query("created_after"); after != "" {
		t, err := time.Parse(time.RFC3339, after)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "created_after must be RFC 3339"})
			return
		}
		filter.CreatedAfter = &t
	}

	execs, err := s.execs.List(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, execs)
}

// getExecution reconciles one execution and returns it. A failed
// reconciliation degrades to the stored state with an explicit error
// indicator instead of failing the read.
func (s *Server) getExecution(c *gin.Context) {
	id := c.Param("id")

	result, err := s.rec.ReconcileOne(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Execution not found"})
		return
	}

	view := executionView{CurrentOperation: events.TaskNone}
	switch {
	case err == nil:
		view.Execution = result.Execution
		view.CurrentOperation = result.CurrentOperation
	case errors.Is(err, reconciler.ErrRemoteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Execution unknown to the orchestrator"})
		return
	default:
		stored, loadErr := s.execs.Get(id)
		if loadErr != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": loadErr.Error()})
			return
		}
		view.Execution = *stored
		view.ReconcileError = err.Error()
	}

	if view.Execution.Owner != auth.Username(c) {
		c.Status(http.StatusForbidden)
		return
	}
	c.JSON(http.StatusOK, view)
}
