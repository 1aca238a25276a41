// Package api exposes the REST surface of the backend: catalog CRUD over
// applications and instances, workflow launches and the reconciled
// execution views.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jinzhu/gorm"
	"go.uber.org/zap"

	"github.com/ari-apc-lab/croupier-backend/internal/catalog"
	"github.com/ari-apc-lab/croupier-backend/internal/marketplace"
	"github.com/ari-apc-lab/croupier-backend/internal/orchestrator"
	"github.com/ari-apc-lab/croupier-backend/internal/reconciler"
	"github.com/ari-apc-lab/croupier-backend/internal/store"
	"github.com/ari-apc-lab/croupier-backend/internal/vault"
)

// Orchestrator is the slice of the adapter the handlers need.
type Orchestrator interface {
	ListBlueprints(ctx context.Context) ([]orchestrator.BlueprintInfo, error)
	UploadBlueprint(ctx context.Context, blueprintID, archivePath, mainFileName string) error
	DeleteBlueprint(ctx context.Context, blueprintID string) error
	BlueprintInputs(ctx context.Context, blueprintID string) ([]orchestrator.InputSpec, error)
	ListDeployments(ctx context.Context) ([]orchestrator.DeploymentInfo, error)
	CreateDeployment(ctx context.Context, deploymentID, blueprintID string, inputs map[string]interface{}) (*orchestrator.DeploymentInfo, error)
	DeploymentInputs(ctx context.Context, deploymentID string) ([]orchestrator.DeploymentInput, error)
	DeleteDeployment(ctx context.Context, deploymentID string, force bool) error
	StartWorkflow(ctx context.Context, deploymentID, workflow string, params map[string]interface{}, force bool) (*orchestrator.ExecutionHandle, error)
	ExecutionStatus(ctx context.Context, executionID string) (status, workflowID string, err error)
	RawEvents(ctx context.Context, executionID string, offset, pageSize int) ([]orchestrator.RawEvent, int, error)
}

// Server wires the handlers to their collaborators.
type Server struct {
	router *gin.Engine
	db     *gorm.DB
	orch   Orchestrator
	rec    *reconciler.Reconciler
	execs  *store.ExecutionStore
	sync   *catalog.Synchronizer
	vault  *vault.Client
	market *marketplace.Client
	log    *zap.SugaredLogger
}

// Deps carries the collaborators of a Server.
type Deps struct {
	DB           *gorm.DB
	Orchestrator Orchestrator
	Reconciler   *reconciler.Reconciler
	Executions   *store.ExecutionStore
	Catalog      *catalog.Synchronizer
	Vault        *vault.Client
	Marketplace  *marketplace.Client
	AuthHandler  gin.HandlerFunc
	Log          *zap.SugaredLogger
}

// NewServer builds the gin engine and registers all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		router: gin.New(),
		db:     deps.DB,
		orch:   deps.Orchestrator,
		rec:    deps.Reconciler,
		execs:  deps.Executions,
		sync:   deps.Catalog,
		vault:  deps.Vault,
		market: deps.Marketplace,
		log:    deps.Log,
	}

	s.router.Use(gin.Recovery(), requestID())

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api")
	api.Use(deps.AuthHandler)
	{
		api.GET("/applications", s.listApplications)
		api.POST("/applications", s.createApplication)
		api.GET("/applications/:name", s.getApplication)
		api.PUT("/applications/:name", s.forbidden)
		api.PATCH("/applications/:name", s.forbidden)
		api.DELETE("/applications/:name", s.deleteApplication)

		api.GET("/instances", s.listInstances)
		api.POST("/instances", s.createInstance)
		api.GET("/instances/:name", s.getInstance)
		api.PUT("/instances/:name", s.forbidden)
		api.PATCH("/instances/:name", s.forbidden)
		api.DELETE("/instances/:name", s.deleteInstance)
		api.POST("/instances/:name/execute", s.executeInstance)
		api.POST("/instances/:name/events", s.instanceEvents)

		api.GET("/executions", s.listExecutions)
		api.GET("/executions/:id", s.getExecution)

		api.GET("/credentials", s.listCredentials)
		api.POST("/credentials", s.uploadCredentials)
		api.DELETE("/credentials/:key", s.deleteCredential)

		api.GET("/ws/executions/:id", s.executionSocket)
	}

	return s
}

// Router returns the gin engine for mounting in an http.Server.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) forbidden(c *gin.Context) {
	c.Status(http.StatusForbidden)
}

// requestID tags every request for log correlation.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}
