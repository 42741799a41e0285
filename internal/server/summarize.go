package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/chamomilehq/chamomile/internal/summarize"
	"github.com/gin-gonic/gin"
)

type summarizeRequest struct {
	GithubURL string `json:"githubUrl"`
}

// Summarize validates the caller's key, fetches the repository README and
// returns the model's summary. The key check happens before any outbound
// request is made.
func (s *Server) Summarize(c *gin.Context) {
	apiKey := strings.TrimSpace(c.GetHeader("x-api-key"))
	if apiKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "API key is required"})
		return
	}

	var req summarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.GithubURL) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "GitHub URL is required"})
		return
	}

	key, err := s.apiKeySvc.FindByKey(c.Request.Context(), apiKey)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to validate API key"})
		return
	}
	if key == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid API key"})
		return
	}

	summary, err := s.summarizeSvc.Summarize(c.Request.Context(), req.GithubURL)
	if err != nil {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordSummary(c.Request.Context(), "error")
		}
		switch {
		case errors.Is(err, summarize.ErrInvalidURL):
			c.JSON(http.StatusBadRequest, gin.H{"error": "A github.com repository URL is required"})
		case errors.Is(err, summarize.ErrReadmeNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "README not found"})
		case errors.Is(err, summarize.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded, try again later"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate summary"})
		}
		return
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordSummary(c.Request.Context(), "success")
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"summary": summary.Text,
	})
}
