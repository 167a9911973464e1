package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/roach88/dropcart/internal/confirm"
	"github.com/roach88/dropcart/internal/events"
	"github.com/roach88/dropcart/internal/purchase"
	"github.com/roach88/dropcart/internal/store"
	"github.com/roach88/dropcart/internal/worker"
)

// manualProduct labels triggered requests that carry no product name.
const manualProduct = "Manual trigger"

func (s *Server) health(c *gin.Context) {
	status := "healthy"
	if !s.ready() {
		status = "initializing"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": s.now().UTC(),
	})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctl.Status())
}

func (s *Server) history(c *gin.Context) {
	limit, err := limitParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.events.History(limit))
}

// stream replays recent history and then follows the bus. Events already
// replayed are skipped when they also arrive live.
func (s *Server) stream(c *gin.Context) {
	sub := s.events.Subscribe()
	defer sub.Close()

	var last int64
	for _, ev := range s.events.History(0) {
		c.SSEvent(string(ev.Kind), ev)
		last = ev.Seq
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-sub.C():
			if !ok {
				return false
			}
			if ev.Seq <= last {
				return true
			}
			c.SSEvent(string(ev.Kind), ev)
			return true
		}
	})
}

func (s *Server) listActivity(c *gin.Context) {
	if s.activity == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "activity store not configured"})
		return
	}
	limit, err := limitParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	items, err := s.activity.History(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, items)
}

func (s *Server) getActivity(c *gin.Context) {
	if s.activity == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "activity store not configured"})
		return
	}
	a, err := s.activity.Get(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, a)
	}
}

func (s *Server) trigger(c *gin.Context) {
	if !s.ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "browser not initialized"})
		return
	}

	var in purchase.Inbound
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}
	if strings.TrimSpace(in.MessageID) == "" {
		in.MessageID = fmt.Sprintf("manual-trigger-%d", s.now().UnixMilli())
	}
	if strings.TrimSpace(in.Product) == "" {
		in.Product = manualProduct
	}

	req, err := s.ctl.Trigger(in)
	switch {
	case errors.Is(err, purchase.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, worker.ErrQueueFull):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
		return
	case errors.Is(err, worker.ErrQueueClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":     "queued",
		"request_id": req.ID,
		"key":        req.Key,
		"url":        req.URL,
		"message_id": req.SourceMessageID,
	})
}

func (s *Server) pause(c *gin.Context) {
	changed := s.ctl.Pause()
	c.JSON(http.StatusOK, gin.H{"status": "paused", "changed": changed})
}

func (s *Server) resume(c *gin.Context) {
	changed := s.ctl.Resume()
	c.JSON(http.StatusOK, gin.H{"status": "resumed", "changed": changed})
}

func (s *Server) confirm(c *gin.Context) {
	id := c.Param("id")
	err := s.ctl.Confirm(id)
	switch {
	case errors.Is(err, confirm.ErrNotPending):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "confirmed", "request_id": id})
	}
}

func limitParam(c *gin.Context) (int, error) {
	raw := c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit))
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer, got %q", raw)
	}
	return n, nil
}

var _ EventSource = (*events.Bus)(nil)
