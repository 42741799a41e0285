package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	obscontext "github.com/chamomilehq/chamomile/internal/observability/context"
	"github.com/gin-gonic/gin"
)

const contextUserIDKey = "user_id"

func serveIndex(c *gin.Context) {
	c.File("./public/index.html")
}

// requireSession guards the dashboard surface. Requests without a live
// session are sent to the login page; the session itself is never mutated.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}

		session, err := s.authsvc.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.Redirect(http.StatusFound, "/login")
			c.Abort()
			return
		}

		c.Set(contextUserIDKey, session.UserID)
		ctx := obscontext.WithUserID(c.Request.Context(), session.UserID.String())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// redirectIfLoggedIn keeps signed-in users off the login page.
func (s *Server) redirectIfLoggedIn() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			c.Next()
			return
		}
		if _, err := s.authsvc.Authenticate(c.Request.Context(), token); err != nil {
			c.Next()
			return
		}
		c.Redirect(http.StatusFound, "/dashboards")
		c.Abort()
	}
}

func currentUserID(c *gin.Context) (snowflake.ID, bool) {
	v, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(snowflake.ID)
	return id, ok
}
