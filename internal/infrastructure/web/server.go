// Package web exposes the ingestion trigger and the ranked item list over HTTP.
package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/usecase"
)

const (
	defaultItemLimit = 20
	maxItemLimit     = 100
)

// Trigger starts an ingestion run.
type Trigger interface {
	Run(ctx context.Context, opts usecase.RunOptions) (domain.RunSummary, error)
}

// ItemReader lists committed items.
type ItemReader interface {
	TopItems(ctx context.Context, query domain.ItemQuery) ([]domain.Item, error)
}

// Options configure the HTTP surface.
type Options struct {
	Addr       string
	CronSecret string
	Gatherer   prometheus.Gatherer
	// Ping reports whether the repository is reachable; nil means always.
	Ping func(ctx context.Context) error
}

// Server owns the gin engine and the listening http.Server.
type Server struct {
	engine  *gin.Engine
	trigger Trigger
	items   ItemReader
	opts    Options
	logger  *slog.Logger
	srv     *http.Server
}

// NewServer registers every route.
func NewServer(trigger Trigger, items ItemReader, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:  engine,
		trigger: trigger,
		items:   items,
		opts:    opts,
		logger:  logger,
	}

	engine.GET("/api/health", s.handleHealth)
	engine.GET("/api/cron/ingest", s.handleIngest)
	engine.POST("/api/cron/ingest", s.handleIngest)
	engine.GET("/api/items", s.handleItems)
	if opts.Gatherer != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return s
}

// Handler returns the routed engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.opts.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleIngest(c *gin.Context) {
	if !s.authorized(c) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	if s.opts.Ping != nil {
		if err := s.opts.Ping(c.Request.Context()); err != nil {
			s.logger.Error("repository unavailable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "repository unavailable"})
			return
		}
	}

	summary, err := s.trigger.Run(c.Request.Context(), usecase.RunOptions{})
	switch {
	case errors.Is(err, usecase.ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case domain.KindOf(err) == domain.KindStorage:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "repository unavailable"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, summary)
	}
}

func (s *Server) authorized(c *gin.Context) bool {
	provided := c.GetHeader("X-Cron-Secret")
	if provided == "" {
		provided = c.Query("secret")
	}
	if provided == "" || s.opts.CronSecret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(s.opts.CronSecret)) == 1
}

func (s *Server) handleItems(c *gin.Context) {
	limit := defaultItemLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxItemLimit)
	}
	unique := true
	if raw := c.Query("unique"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unique must be a boolean"})
			return
		}
		unique = v
	}

	items, err := s.items.TopItems(c.Request.Context(), domain.ItemQuery{Limit: limit, UniqueOnly: unique})
	if err != nil {
		s.logger.Error("list items", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "repository unavailable"})
		return
	}

	out := make([]itemView, 0, len(items))
	for _, item := range items {
		out = append(out, newItemView(item))
	}
	c.JSON(http.StatusOK, gin.H{"items": out, "count": len(out)})
}
