// Package api serves the operator HTTP interface: status, trade history,
// stop controls and Prometheus metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"triarb/internal/model"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// Controls is the operator surface of the trading controller.
type Controls interface {
	Status() model.Status
	History(limit int) []model.Outcome
	Stop()
	EmergencyStop(ctx context.Context, reason string)
}

// Archive serves outcomes persisted beyond the in-memory history.
type Archive interface {
	RecentOutcomes(ctx context.Context, limit int) ([]model.Outcome, error)
}

type Server struct {
	logger  *slog.Logger
	ctrl    Controls
	archive Archive
	router  *gin.Engine
	http    *http.Server
}

// NewServer builds the router. archive may be nil.
func NewServer(logger *slog.Logger, addr string, ctrl Controls, archive Archive, gatherer prometheus.Gatherer) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	s := &Server{logger: logger, ctrl: ctrl, archive: archive, router: router}

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})))

	g := router.Group("/api")
	g.GET("/status", s.getStatus)
	g.GET("/trades", s.getTrades)
	g.POST("/stop", s.postStop)
	g.POST("/emergency-stop", s.postEmergencyStop)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API: server starting", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("API: shutdown error", "error", err)
		return err
	}
	s.logger.Info("API: server stopped")
	return nil
}

func (s *Server) getStatus(c *gin.Context) {
	st := s.ctrl.Status()
	c.JSON(http.StatusOK, gin.H{
		"status":  st,
		"summary": st.String(),
	})
}

func (s *Server) getTrades(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw, ok := c.GetQuery("limit"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	if c.Query("source") == "journal" {
		if s.archive == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no journal configured"})
			return
		}
		outcomes, err := s.archive.RecentOutcomes(c.Request.Context(), limit)
		if err != nil {
			s.logger.Error("API: journal query failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "journal unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"trades": outcomes})
		return
	}

	c.JSON(http.StatusOK, gin.H{"trades": s.ctrl.History(limit)})
}

func (s *Server) postStop(c *gin.Context) {
	s.logger.Info("API: stop requested by operator", "remote", c.ClientIP())
	s.ctrl.Stop()
	c.JSON(http.StatusAccepted, gin.H{"status": s.ctrl.Status()})
}

func (s *Server) postEmergencyStop(c *gin.Context) {
	s.logger.Warn("API: emergency stop requested by operator", "remote", c.ClientIP())
	s.ctrl.EmergencyStop(c.Request.Context(), "operator request")
	c.JSON(http.StatusAccepted, gin.H{"status": s.ctrl.Status()})
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("API: request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}
