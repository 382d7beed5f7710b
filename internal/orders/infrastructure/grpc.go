package infrastructure

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// NewGRPCServer builds the internal gRPC server. It carries the standard
// health service, fed by the HealthMonitor, so orchestrators and sidecars
// can health check the process over the same mTLS channel other services use.
func NewGRPCServer(healthServer *health.Server, opts ...grpc.ServerOption) *grpc.Server {
	server := grpc.NewServer(opts...)
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	return server
}
