// Package api exposes the guidekit services over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"guidekit/pkg/auth"
	"guidekit/pkg/config"
	"guidekit/pkg/docs"
	"guidekit/pkg/logx"
	"guidekit/pkg/metrics"
	"guidekit/pkg/prd"
	"guidekit/pkg/prompts"
	"guidekit/pkg/rules"
)

const (
	maxBodyBytes    = 1 << 20 // 1 MiB
	shutdownTimeout = 15 * time.Second
)

// Services are the feature services behind the routes.
type Services struct {
	Prompts *prompts.Service
	PRDs    *prd.Service
	Rules   *rules.Service
	Docs    *docs.Service
}

// Options configures the server.
type Options struct {
	Server      config.ServerConfig
	Verifier    auth.Verifier
	Registry    *metrics.Registry // nil disables /metrics and request metrics
	MetricsPath string
	Health      func(ctx context.Context) error
}

// Server routes HTTP requests to the services.
type Server struct {
	svc    Services
	opts   Options
	router *gin.Engine
	logger *logx.Logger
}

// NewServer builds the router.
func NewServer(svc Services, opts Options) *Server {
	if opts.Verifier == nil {
		opts.Verifier = auth.Disabled{}
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = "/metrics"
	}
	s := &Server{
		svc:    svc,
		opts:   opts,
		router: gin.New(),
		logger: logx.NewLogger("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(gin.Recovery(), s.requestLog(), s.observe(), s.cors(), limitBody(maxBodyBytes), s.authenticate())

	r.GET("/healthz", s.handleHealth)
	if s.opts.Registry != nil {
		r.GET(s.opts.MetricsPath, gin.WrapH(s.opts.Registry.Handler()))
	}

	api := r.Group("/api")
	{
		api.GET("/logs", s.handleLogs)

		p := api.Group("/prompts")
		p.GET("", s.listPrompts)
		p.POST("", s.createPrompt)
		p.GET("/categories", s.promptCategories)
		p.POST("/enhance", s.enhancePrompt)
		p.GET("/:id", s.getPrompt)
		p.PUT("/:id", s.updatePrompt)
		p.DELETE("/:id", s.deletePrompt)
		p.POST("/:id/use", s.usePrompt)
		p.POST("/:id/favorite", s.favoritePrompt(true))
		p.DELETE("/:id/favorite", s.favoritePrompt(false))

		d := api.Group("/prd")
		d.POST("/questions", s.prdQuestions)
		d.POST("", s.generatePRD)
		d.GET("", s.listPRDs)
		d.GET("/:id", s.getPRD)
		d.PUT("/:id", s.updatePRD)
		d.DELETE("/:id", s.deletePRD)
		d.GET("/:id/export", s.exportPRD)

		rl := api.Group("/rules")
		rl.GET("/targets", s.ruleTargets)
		rl.POST("", s.generateRules)
		rl.GET("", s.listRules)
		rl.GET("/:id", s.getRules)
		rl.DELETE("/:id", s.deleteRules)
		rl.GET("/:id/download", s.downloadRules)

		g := api.Group("/guides")
		g.POST("", s.submitGuide)
		g.GET("", s.listGuides)
		g.GET("/:id", s.getGuide)
		g.DELETE("/:id", s.deleteGuide)
		g.GET("/:id/search", s.searchGuide)
		g.POST("/:id/chat", s.chatGuide)
		g.GET("/:id/messages", s.guideMessages)
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Duration(s.opts.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(s.opts.Server.WriteTimeoutSeconds) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.opts.Health != nil {
		if err := s.opts.Health(c.Request.Context()); err != nil {
			s.logger.Warn("Health check failed: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleLogs(c *gin.Context) {
	if _, ok := s.requireUser(c); !ok {
		return
	}
	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.fail(c, invalidParam("since", "must be an RFC3339 timestamp"))
			return
		}
		since = t
	}
	entries := logx.GetRecentLogEntries(c.Query("domain"), since)
	ok(c, http.StatusOK, entries)
}
