// Package server exposes a document replica over HTTP so that remote
// stores can list, fetch and ingest signed documents.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

type Server struct {
	config *Config
	server *http.Server
}

func New(config *Config, backend Backend) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}

	handler, err := SetupRoutes(config, backend)
	if err != nil {
		return nil, err
	}

	return &Server{
		config: config,
		server: &http.Server{
			Addr:    config.Addr,
			Handler: handler,
		},
	}, nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	slog.Info("docsync server start", "addr", s.config.Addr)
	defer slog.Info("docsync server stop")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.runHttpServer()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server start error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("docsync shutdown signal")
	if err := s.Stop(context.WithoutCancel(ctx)); err != nil {
		slog.Error("docsync shutdown error", "error", err)
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) runHttpServer() error {
	if s.config.TLS() {
		slog.Info("server start tls", "addr", s.config.Addr, "cert", s.config.CertFile, "key", s.config.KeyFile)
		return s.server.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
	}
	slog.Info("server start http", "addr", s.config.Addr)
	return s.server.ListenAndServe()
}
