package proxy

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/ballast/pkg/log"
)

// DefaultDrainTimeout bounds how long Shutdown waits for in-flight
// requests to complete before cancelling whatever remains.
const DefaultDrainTimeout = 30 * time.Second

// Server binds the well-known listening port and runs every accepted
// request through an Engine. Shutdown is cooperative: stop accepting,
// let in-flight requests finish up to DrainTimeout, then cancel.
type Server struct {
	httpServer   *http.Server
	DrainTimeout time.Duration
	logger       zerolog.Logger
}

// NewServer binds addr and dispatches every request to engine.
func NewServer(addr string, engine *Engine) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: engine,
		},
		DrainTimeout: DefaultDrainTimeout,
		logger:       log.WithComponent("proxy-server"),
	}
}

// ListenAndServe blocks serving requests until Shutdown is called.
// Returns http.ErrServerClosed on a clean shutdown.
func (s *Server) ListenAndServe() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown stops accepting new connections and waits up to
// s.DrainTimeout for in-flight requests to finish before cancelling
// whatever remains.
func (s *Server) Shutdown(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, s.DrainTimeout)
	defer cancel()
	err := s.httpServer.Shutdown(drainCtx)
	if err != nil {
		s.httpServer.Close()
	}
	return err
}
