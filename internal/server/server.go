// ============================================================================
// Cranium Server - gRPC health service
// ============================================================================
//
// Package: internal/server
// File: server.go
// Function: Serves grpc.health.v1 and keeps it in sync with the runtime.
//
// Services reported:
//   ""                      SERVING while the core is started
//   "cranium"               same as ""
//   "cranium.pool.<name>"   SERVING while that pool is started
//
// Statuses are refreshed every RefreshInterval and once more on shutdown,
// when everything turns NOT_SERVING.
//
// ============================================================================

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/opencranium/cranium/internal/core"
)

var log = slog.Default()

// ServiceName is the health service name of the runtime as a whole.
const ServiceName = "cranium"

// DefaultRefreshInterval is how often statuses are recomputed.
const DefaultRefreshInterval = time.Second

// StatusSource reports the runtime state. *core.Core implements it.
type StatusSource interface {
	Status() core.Status
}

// PoolService returns the health service name of a pool.
func PoolService(pool string) string { return ServiceName + ".pool." + pool }

// Server is a gRPC server exposing the health of a StatusSource.
type Server struct {
	src      StatusSource
	health   *health.Server
	grpc     *grpc.Server
	interval time.Duration
}

// New creates a server. interval <= 0 uses DefaultRefreshInterval.
func New(src StatusSource, interval time.Duration) *Server {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	s := &Server{
		src:      src,
		health:   health.NewServer(),
		grpc:     grpc.NewServer(),
		interval: interval,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

// Refresh recomputes every status from the source.
func (s *Server) Refresh() {
	st := s.src.Status()

	overall := healthpb.HealthCheckResponse_NOT_SERVING
	if st.Started {
		overall = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", overall)
	s.health.SetServingStatus(ServiceName, overall)

	for _, p := range st.Pools {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if p.Started {
			status = healthpb.HealthCheckResponse_SERVING
		}
		s.health.SetServingStatus(PoolService(p.Name), status)
	}
}

// Serve serves on lis until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Refresh()

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.grpc.Serve(lis)
	}()
	log.Info("Health server listening", "addr", lis.Addr().String())

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Refresh()

		case err := <-errCh:
			if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("health server failed: %w", err)
			}
			return nil

		case <-ctx.Done():
			s.health.Shutdown()
			s.grpc.GracefulStop()
			<-errCh
			log.Info("Health server stopped")
			return nil
		}
	}
}

// ListenAndServe listens on port (0 picks a free one) and serves until
// ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}
	return s.Serve(ctx, lis)
}
