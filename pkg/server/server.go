// Package server exposes retrieval over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lorekeeper/recall/pkg/core"
	"github.com/lorekeeper/recall/pkg/logging"
	"github.com/lorekeeper/recall/pkg/memory"
)

// Retriever is the part of core.Client the server calls.
type Retriever interface {
	Retrieve(ctx context.Context, userID string, opts ...core.RetrieveOption) *core.MemoryContext
	Search(ctx context.Context, userID, query string, opts ...core.SearchOption) ([]memory.Scored, error)
}

// Server is the recall HTTP server.
type Server struct {
	retriever Retriever
	router    *gin.Engine
	logger    *slog.Logger
}

// New creates a server. A nil logger uses the default one.
func New(retriever Retriever, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Default()
	}
	router := gin.New()

	s := &Server{
		retriever: retriever,
		router:    router,
		logger:    logger,
	}
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")
	{
		api.POST("/retrieve", s.handleRetrieve)
		api.GET("/search", s.handleSearch)
	}

	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Request = c.Request.WithContext(logging.With(c.Request.Context(), s.logger))
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}
}
