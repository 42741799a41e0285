package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	apikeydomain "github.com/chamomilehq/chamomile/internal/apikey/domain"
	"github.com/chamomilehq/chamomile/internal/events"
	"github.com/gin-gonic/gin"
)

type apiKeyNameRequest struct {
	Name string `json:"name"`
}

func (s *Server) ListAPIKeys(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	reg, err := s.registries.Acquire(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer s.registries.Release(userID)

	keys, state, _ := reg.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"api_keys": keys,
		"state":    state,
	})
}

func (s *Server) CreateAPIKey(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req apiKeyNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	reg, err := s.registries.Acquire(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer s.registries.Release(userID)

	key, err := reg.Create(c.Request.Context(), apikeydomain.CreateRequest{Name: req.Name})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordKeyMutation(c.Request.Context(), events.OpInsert)
	}

	c.JSON(http.StatusCreated, gin.H{"api_key": key})
}

func (s *Server) RenameAPIKey(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	keyID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req apiKeyNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	reg, err := s.registries.Acquire(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer s.registries.Release(userID)

	key, err := reg.Rename(c.Request.Context(), keyID, apikeydomain.RenameRequest{Name: req.Name})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordKeyMutation(c.Request.Context(), events.OpUpdate)
	}

	c.JSON(http.StatusOK, gin.H{"api_key": key})
}

func (s *Server) DeleteAPIKey(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	keyID, err := snowflake.ParseString(c.Param("id"))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	reg, err := s.registries.Acquire(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	defer s.registries.Release(userID)

	if err := reg.Delete(c.Request.Context(), keyID); err != nil {
		AbortWithError(c, err)
		return
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordKeyMutation(c.Request.Context(), events.OpDelete)
	}

	c.Status(http.StatusNoContent)
}

// StreamAPIKeyEvents streams the signed-in user's key changes over SSE. The
// dashboard refetches its table on every event.
func (s *Server) StreamAPIKeyEvents(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	subscription, backlog, err := s.bus.Subscribe(userID.String())
	if err != nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	defer subscription.Close()

	writer := c.Writer
	headers := writer.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	flusher, ok := writer.(http.Flusher)
	if !ok {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	if _, err := io.WriteString(writer, "retry: 2000\n\n"); err != nil {
		return
	}

	for _, event := range backlog {
		if err := writeChangeEvent(writer, event); err != nil {
			return
		}
	}
	flusher.Flush()

	ctx := c.Request.Context()
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event := <-subscription.Events():
			if err := writeChangeEvent(writer, event); err != nil {
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := io.WriteString(writer, ": heartbeat\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeChangeEvent(w io.Writer, event events.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
	return err
}
