package worker

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// Server runs the ops HTTP handler until its context is cancelled.
type Server struct {
	logger          *slog.Logger
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewServer wraps handler. A zero shutdownTimeout means five seconds.
func NewServer(addr string, handler http.Handler, logger *slog.Logger, shutdownTimeout time.Duration) *Server {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	return &Server{
		logger: logger,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
	}
}

// Start listens on the configured address and serves. See Serve.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		s.logger.Error("ops server listen failed", slog.String("addr", s.server.Addr), slog.Any("error", err))
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve blocks until ctx is cancelled or the listener fails. On
// cancellation in-flight requests get shutdownTimeout to finish and
// http.ErrServerClosed is returned.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server starting", slog.String("addr", ln.Addr().String()))
		errCh <- s.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		s.logger.Info("ops server shutting down")
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("ops server shutdown failed", slog.Any("error", err))
			return err
		}
		s.logger.Info("ops server stopped")
		return http.ErrServerClosed

	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("ops server failed", slog.Any("error", err))
		}
		return err
	}
}
