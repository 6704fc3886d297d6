package api

import (
	"context"
	"net/http"
	"time"
)

// Server wires the outer VAU tunnel and the admin/health mux into the two
// listeners spec.md §6 describes: one for the encrypted FHIR traffic, one
// for operational endpoints that must stay reachable even if the tunnel
// itself is unhealthy.
type Server struct {
	tunnel *Tunnel
	admin  *AdminServer

	main     *http.Server
	adminSrv *http.Server
}

// ServerConfig carries the listen addresses and timeouts. Field names
// mirror internal/config.ServerConfig so callers can pass it through
// directly.
type ServerConfig struct {
	ListenAddr      string
	AdminAddr       string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer builds a Server ready to Start. tunnel carries the VAU
// decrypt/dispatch/encrypt logic; admin serves /health, /ready, /metrics.
func NewServer(cfg ServerConfig, tunnel *Tunnel, admin *AdminServer) *Server {
	return &Server{
		tunnel: tunnel,
		admin:  admin,
		main: &http.Server{
			Addr:         cfg.ListenAddr,
			Handler:      tunnel.Handler(),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		adminSrv: &http.Server{
			Addr:         cfg.AdminAddr,
			Handler:      admin.Handler(),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
	}
}

// Start runs both listeners until one of them fails or the process is
// asked to shut down. It blocks; callers run it in a goroutine and use
// Shutdown to stop it.
func (s *Server) Start() error {
	errCh := make(chan error, 2)
	go func() { errCh <- s.main.ListenAndServe() }()
	go func() { errCh <- s.adminSrv.ListenAndServe() }()

	first := <-errCh
	if first != nil && first != http.ErrServerClosed {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	}

	second := <-errCh
	if first != nil && first != http.ErrServerClosed {
		return first
	}
	if second != nil && second != http.ErrServerClosed {
		return second
	}
	return nil
}

// Shutdown gracefully stops both listeners, each bounded by cfg's
// ShutdownTimeout through the passed context.
func (s *Server) Shutdown(ctx context.Context) error {
	mainErr := s.main.Shutdown(ctx)
	adminErr := s.adminSrv.Shutdown(ctx)
	if mainErr != nil {
		return mainErr
	}
	return adminErr
}
