package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ari-apc-lab/croupier-backend/internal/auth"
)

// listCredentials forwards the caller's stored secrets from the vault.
func (s *Server) listCredentials(c *gin.Context) {
	data, err := s.vault.List(c.Request.Context(), auth.Token(c))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// uploadCredentials stores a credential set for the caller.
func (s *Server) uploadCredentials(c *gin.Context) {
	var credentials map[string]string
	if err := c.ShouldBindJSON(&credentials); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	data, err := s.vault.Upload(c.Request.Context(), auth.Token(c), credentials)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusCreated, "application/json", data)
}

// deleteCredential removes one stored secret by key.
func (s *Server) deleteCredential(c *gin.Context) {
	if err := s.vault.Delete(c.Request.Context(), auth.Token(c), c.Param("key")); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
