package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/danmuck/rfidctl/internal/auth"
	"github.com/danmuck/rfidctl/internal/discovery"
	"github.com/danmuck/rfidctl/internal/protocol/frame"
	"github.com/danmuck/rfidctl/internal/reader"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultTagLimit = 100

type commandRequest struct {
	Command string `json:"command"`
}

func (s *Server) registerRoutes() {
	r := s.router

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": s.cfg.Name,
			"version": Version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/status", s.handleStatus)
	r.GET("/tags", s.handleTags)
	r.GET("/readers", s.handleReaders)

	validator := s.cfg.Token
	if validator == nil {
		validator = auth.StaticToken{}
	}
	r.POST("/command", auth.RequireBearer(validator), s.handleCommand)
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.supervisor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no reader configured"})
		return
	}
	last := s.supervisor.LastStatus()
	body := gin.H{
		"address":   s.supervisor.Address(),
		"connected": s.supervisor.Connected(),
		"last_event": gin.H{
			"kind": last.Kind.String(),
			"at":   last.At,
		},
	}
	if last.Err != nil {
		body["last_error"] = last.Err.Error()
	}
	if cur := s.supervisor.Current(); cur != nil {
		body["session"] = gin.H{
			"id":             cur.ID(),
			"state":          cur.State().String(),
			"last_keepalive": cur.LastKeepalive(),
		}
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleTags(c *gin.Context) {
	if s.tags == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "tag store disabled"})
		return
	}
	limit := defaultTagLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	ctx := c.Request.Context()
	list, err := s.tags.List(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	total, err := s.tags.Count(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "tags": list})
}

func (s *Server) handleReaders(c *gin.Context) {
	readers := []discovery.ReaderInfo{}
	if s.readers != nil {
		readers = s.readers.Readers()
	}
	c.JSON(http.StatusOK, gin.H{"readers": readers})
}

func (s *Server) handleCommand(c *gin.Context) {
	var req commandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var sess *reader.Session
	if s.supervisor != nil {
		sess = s.supervisor.Current()
	}
	if sess == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "reader not connected"})
		return
	}

	resp, err := sess.API().Command(req.Command)
	if err != nil {
		var cmdErr *reader.CommandError
		switch {
		case errors.As(err, &cmdErr):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "response": cmdErr.Response})
		case errors.Is(err, reader.ErrNotReady), errors.Is(err, reader.ErrClosed):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		case errors.Is(err, frame.ErrConnectionLost):
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		s.log.Warn().Msgf("server.Server command=%q err=%v", req.Command, err)
		return
	}
	s.log.Info().Msgf("server.Server command=%q ok", req.Command)
	c.JSON(http.StatusOK, gin.H{"status": "ok", "response": resp})
}
