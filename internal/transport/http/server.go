package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"calsieve/internal/platform/logger"
)

// Server is a thin wrapper over the stdlib http.Server with graceful shutdown
type Server struct {
	addr string
	srv  *stdhttp.Server
}

// NewServer binds a handler to an address
func NewServer(addr string, handler stdhttp.Handler) *Server {
	return &Server{
		addr: addr,
		srv: &stdhttp.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Addr returns the listening address
func (s *Server) Addr() string { return s.addr }

// Run starts the server and blocks until it is shut down
func (s *Server) Run() error {
	logger.Named("http").Info().Str("addr", s.addr).Msg("http listening")
	err := s.srv.ListenAndServe()
	if err == stdhttp.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
