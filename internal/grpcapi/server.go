package grpcapi

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tokengate.org/internal/auth"
	"tokengate.org/internal/obs"
)

// HealthMethods are the health service methods, public by default in cmd/api.
var HealthMethods = []string{
	healthpb.Health_Check_FullMethodName,
	healthpb.Health_Watch_FullMethodName,
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Server wraps a grpc.Server whose every RPC passes through the guard.
type Server struct {
	grpc      *grpc.Server
	health    *health.Server
	readiness readinessChecker
}

// NewServer builds the gRPC server with the guard interceptors installed and
// the standard health service registered. Callers register their own
// services on GRPC() before Serve.
func NewServer(guard *auth.Guard, readiness readinessChecker, publicMethods []string, opts ...grpc.ServerOption) *Server {
	ic := NewInterceptor(guard, publicMethods...)
	opts = append(opts,
		grpc.ChainUnaryInterceptor(ic.Unary()),
		grpc.ChainStreamInterceptor(ic.Stream()),
	)
	s := &Server{
		grpc:      grpc.NewServer(opts...),
		health:    health.NewServer(),
		readiness: readiness,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	return s
}

func (s *Server) GRPC() *grpc.Server { return s.grpc }

// RefreshHealth sets the overall serving status from the readiness check.
func (s *Server) RefreshHealth(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			obs.Log(ctx, obs.LevelWarn, "grpc_readiness_failed", map[string]any{"error": err.Error()})
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", st)
}

func (s *Server) Serve(lis net.Listener) error {
	s.RefreshHealth(context.Background())
	return s.grpc.Serve(lis)
}

func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
