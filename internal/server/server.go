// Package server exposes the inspection service over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pcb-inspect/internal/inspect"
)

// DefaultMaxUploadMB caps a multipart inspection request.
const DefaultMaxUploadMB = 32

// Options configures a Server.
type Options struct {
	Addr            string
	MaxUploadMB     int
	ShutdownTimeout time.Duration
}

// Server holds the HTTP routes around one inspect.Service.
type Server struct {
	svc       *inspect.Service
	logger    *zap.Logger
	maxUpload int64
	opts      Options
	engine    *gin.Engine
}

// New builds the router and registers stage metrics on svc.
func New(svc *inspect.Service, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = DefaultMaxUploadMB
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		svc:       svc,
		logger:    logger,
		maxUpload: int64(opts.MaxUploadMB) << 20,
		opts:      opts,
	}
	svc.Observe(ObserveStage)
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestMetrics(), requestLogger(s.logger))
	r.MaxMultipartMemory = s.maxUpload

	api := r.Group("/api")
	api.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	api.GET("/layouts", s.listLayouts)
	api.GET("/layouts/:code", s.getLayout)
	api.POST("/inspect", s.inspect)
	api.POST("/verify", s.verify)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on opts.Addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.opts.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
