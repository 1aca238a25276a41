package api

import (
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jinzhu/gorm"

	"github.com/ari-apc-lab/croupier-backend/internal/auth"
	"github.com/ari-apc-lab/croupier-backend/internal/models"
	"github.com/ari-apc-lab/croupier-backend/internal/orchestrator"
)

// listApplications refreshes the mirror from the remote blueprint list and
// returns the catalog. A failed remote listing degrades to the local mirror.
func (s *Server) listApplications(c *gin.Context) {
	blueprints, err := s.orch.ListBlueprints(c.Request.Context())
	if err != nil {
		s.log.Warnw("blueprint listing failed, serving local catalog", "error", err)
	} else if err := s.sync.SyncApplications(blueprints); err != nil {
		s.log.Errorw("application catalog sync failed", "error", err)
	}

	var apps []models.Application
	if err := s.db.Order("name").Find(&apps).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, apps)
}

// createApplication uploads the posted blueprint package and mirrors the
// application locally.
func (s *Server) createApplication(c *gin.Context) {
	name := c.PostForm("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	mainFile := c.PostForm("main_blueprint_file")

	file, err := c.FormFile("blueprint_package")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "blueprint_package is required"})
		return
	}

	// Spool the package so the adapter can stream it to the orchestrator.
	tmpPath := filepath.Join(os.TempDir(), uuid.NewString()+".tar.gz")
	if err := saveUpload(file, tmpPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer os.Remove(tmpPath)

	blueprintID := models.CreateBlueprintID(name)
	if err := s.orch.UploadBlueprint(c.Request.Context(), blueprintID, tmpPath, mainFile); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	app := models.Application{
		Name:              name,
		Description:       c.PostForm("description"),
		MainBlueprintFile: mainFile,
		Owner:             auth.Username(c),
		Created:           now,
		Included:          now,
		Updated:           now,
		IsNew:             true,
	}
	if err := s.db.Create(&app).Error; err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, app)
}

// getApplication returns one application with its declared inputs.
func (s *Server) getApplication(c *gin.Context) {
	app, ok := s.findApplication(c)
	if !ok {
		return
	}

	inputs, err := s.orch.BlueprintInputs(c.Request.Context(), app.BlueprintID())
	if err != nil {
		s.log.Warnw("blueprint inputs unavailable", "blueprint", app.BlueprintID(), "error", err)
	}

	c.JSON(http.StatusOK, struct {
		models.Application
		Inputs []orchestrator.InputSpec `json:"inputs"`
	}{*app, inputs})
}

// deleteApplication removes the blueprint remotely, then the mirror row.
func (s *Server) deleteApplication(c *gin.Context) {
	app, ok := s.findApplication(c)
	if !ok {
		return
	}
	if app.Owner != auth.Username(c) {
		c.Status(http.StatusForbidden)
		return
	}

	if err := s.orch.DeleteBlueprint(c.Request.Context(), app.BlueprintID()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err := s.db.Delete(app).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) findApplication(c *gin.Context) (*models.Application, bool) {
	var app models.Application
	err := s.db.First(&app, "name = ?", c.Param("name")).Error
	if gorm.IsRecordNotFoundError(err) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Application not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return &app, true
}

func saveUpload(file *multipart.FileHeader, dst string) error {
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, src)
	return err
}
