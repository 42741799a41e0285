package server

import (
	"net/http"
	"strings"

	authdomain "github.com/chamomilehq/chamomile/internal/auth/domain"
	"github.com/gin-gonic/gin"
)

type loginRequest struct {
	Email string `json:"email"`
}

// RequestLoginLink starts a passwordless sign-in. The account is created on
// first use and the answer is the same whether or not the address was known.
func (s *Server) RequestLoginLink(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.authsvc.RequestLink(c.Request.Context(), authdomain.RequestLinkRequest{
		Email: req.Email,
	}); err != nil {
		AbortWithError(c, err)
		return
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordLoginLink(c.Request.Context())
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

// AuthCallback exchanges the emailed code for a session. Failures land back
// on the login page rather than an error payload; the link is all the user
// has in hand at this point.
func (s *Server) AuthCallback(c *gin.Context) {
	code := strings.TrimSpace(c.Query("code"))
	if code == "" {
		c.Redirect(http.StatusFound, "/login")
		return
	}

	result, err := s.authsvc.ExchangeCode(c.Request.Context(), authdomain.ExchangeRequest{
		Code:      code,
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
	})
	if err != nil {
		c.Redirect(http.StatusFound, "/login")
		return
	}

	s.sessions.Set(c, result.RawToken, result.ExpiresAt)
	c.Redirect(http.StatusFound, "/dashboards")
}

func (s *Server) Logout(c *gin.Context) {
	token, ok := s.sessions.ReadToken(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.authsvc.Logout(c.Request.Context(), token); err != nil {
		AbortWithError(c, err)
		return
	}

	s.sessions.Clear(c)
	c.Status(http.StatusNoContent)
}

func (s *Server) Me(c *gin.Context) {
	token, ok := s.sessions.ReadToken(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	session, err := s.authsvc.Authenticate(c.Request.Context(), token)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	user, err := s.authsvc.CurrentUser(c.Request.Context(), session.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"id":         user.ID.String(),
			"email":      user.Email,
			"created_at": user.CreatedAt,
		},
	})
}
