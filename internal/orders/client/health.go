package client

import (
	"context"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"go-fulfillment/pkg/errors"
	grpcpkg "go-fulfillment/pkg/grpc"
)

// HealthClient asks the fulfillment gRPC endpoint whether it is serving
type HealthClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// DialHealth connects to addr. A nil files dials without TLS.
func DialHealth(addr string, timeout time.Duration, files *grpcpkg.TLSFiles) (*HealthClient, error) {
	opts, err := grpcpkg.DialOptions(timeout, files)
	if err != nil {
		return nil, err
	}
	conn, err := grpc.Dial(addr, opts...)
	if err != nil {
		return nil, errors.NewInternal("failed to dial "+addr, err)
	}
	return NewHealthClient(conn), nil
}

// NewHealthClient wraps an existing connection
func NewHealthClient(conn *grpc.ClientConn) *HealthClient {
	return &HealthClient{conn: conn, health: healthpb.NewHealthClient(conn)}
}

// Serving reports whether service is SERVING. An empty service asks about
// the process as a whole.
func (c *HealthClient) Serving(ctx context.Context, service string) (bool, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return false, errors.FromGRPCStatus(err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// Close closes the connection
func (c *HealthClient) Close() error {
	return c.conn.Close()
}
