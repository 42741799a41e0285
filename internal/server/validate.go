package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type validateRequest struct {
	APIKey string `json:"apiKey"`
}

type validateResponse struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
	KeyName string `json:"keyName,omitempty"`
}

// ValidateKey answers whether a key exists. An unknown key is a normal
// outcome, not an error, and the response never carries the owner identity.
func (s *Server) ValidateKey(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.APIKey) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "API key is required"})
		return
	}

	key, err := s.apiKeySvc.FindByKey(c.Request.Context(), req.APIKey)
	if err != nil {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordKeyValidation(c.Request.Context(), "error")
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate API key"})
		return
	}
	if key == nil {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordKeyValidation(c.Request.Context(), "invalid")
		}
		c.JSON(http.StatusOK, validateResponse{
			Valid:   false,
			Message: "Invalid API key",
		})
		return
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordKeyValidation(c.Request.Context(), "valid")
	}
	c.JSON(http.StatusOK, validateResponse{
		Valid:   true,
		Message: "Valid API key",
		KeyName: key.Name,
	})
}
