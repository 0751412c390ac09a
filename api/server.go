package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bunshop/bunshop-backend/pkg/config"
	"github.com/bunshop/bunshop-backend/pkg/logger"
)

// Server wraps the HTTP listener with sane timeouts.
type Server struct {
	httpServer *http.Server
	logg       *logger.Logger
}

func NewServer(cfg config.AppConfig, router chi.Router, logg *logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logg: logg,
	}
}

// Start blocks serving requests until the listener closes.
func (s *Server) Start(ctx context.Context) error {
	if s.logg != nil {
		s.logg.Info(ctx, fmt.Sprintf("http server listening on %s", s.httpServer.Addr))
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
