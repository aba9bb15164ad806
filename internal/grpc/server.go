package grpc

import (
	"context"
	"net"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"messaging-service/internal/observability"
)

// ServiceName is the health service name reported for the messaging core.
const ServiceName = "messaging.v1.Messaging"

// Checker reports whether a dependency is reachable.
type Checker func(ctx context.Context) error

// Server exposes the standard gRPC health service. Serving status follows
// the registered dependency checkers.
type Server struct {
	srv      *grpc.Server
	health   *health.Server
	checkers map[string]Checker
	interval time.Duration
	log      *zap.Logger
}

// NewServer builds the gRPC server with tracing and metrics interceptors.
func NewServer(checkers map[string]Checker, interval time.Duration, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.UnaryInterceptor(observability.GRPCServerMetricsUnaryInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	reflection.Register(srv)

	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{srv: srv, health: hs, checkers: checkers, interval: interval, log: log}
}

// Check runs every checker once and updates the serving status.
func (s *Server) Check(ctx context.Context) bool {
	ok := true
	for name, check := range s.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check(checkCtx)
		cancel()
		if err != nil {
			ok = false
			s.log.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
		}
	}
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return ok
}

// Serve listens on addr and refreshes health until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.Check(ctx)
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Check(ctx)
			}
		}
	}()
	s.log.Info("grpc server listening", zap.String("addr", addr))
	return s.srv.Serve(lis)
}

// Stop marks the service as not serving and drains in-flight calls.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}

// HealthServer exposes the underlying health implementation.
func (s *Server) HealthServer() healthpb.HealthServer {
	return s.health
}
