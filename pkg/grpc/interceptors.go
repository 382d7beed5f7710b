package grpc

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"go-fulfillment/pkg/errors"
	"go-fulfillment/pkg/logger"
)

const (
	// TraceIDMetadataKey is the metadata key for trace ID
	TraceIDMetadataKey = "x-trace-id"
)

// UnaryServerInterceptor creates a server interceptor for logging, tracing, and error handling
func UnaryServerInterceptor(log *logger.Logger, timeout time.Duration) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		ctx, traceID := withTraceID(ctx)

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		resp, err := handler(ctx, req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
			zap.String("trace_id", traceID),
		}
		if err != nil {
			err = toStatus(err)
			code := status.Code(err)
			fields = append(fields, zap.String("grpc_code", code.String()), zap.Error(err))
			if isServerFault(code) {
				log.WithContext(ctx).Error("grpc request failed", fields...)
			} else {
				log.WithContext(ctx).Warn("grpc request refused", fields...)
			}
			return nil, err
		}

		log.WithContext(ctx).Debug("grpc request completed", fields...)
		return resp, nil
	}
}

// UnaryClientInterceptor creates a client interceptor for tracing and timeout
func UnaryClientInterceptor(timeout time.Duration) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		if traceID := logger.GetTraceID(ctx); traceID != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, TraceIDMetadataKey, traceID)
		}

		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}

		if err := invoker(ctx, method, req, reply, cc, opts...); err != nil {
			return errors.FromGRPCStatus(err)
		}
		return nil
	}
}

// StreamServerInterceptor creates a stream server interceptor. Health Watch
// streams go through here and may stay open for the life of the client.
func StreamServerInterceptor(log *logger.Logger) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		ctx, traceID := withTraceID(ss.Context())

		err := handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})

		log.WithContext(ctx).Debug("grpc stream closed",
			zap.String("method", info.FullMethod),
			zap.Duration("duration", time.Since(start)),
			zap.String("trace_id", traceID),
			zap.Error(err),
		)
		return err
	}
}

// tracedStream carries the trace id into stream handlers
type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }

func withTraceID(ctx context.Context) (context.Context, string) {
	traceID := extractTraceID(ctx)
	if traceID == "" {
		traceID = uuid.New().String()
	}
	return logger.WithTraceIDContext(ctx, traceID), traceID
}

func extractTraceID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}

	values := md.Get(TraceIDMetadataKey)
	if len(values) > 0 {
		return values[0]
	}
	return ""
}

// toStatus keeps statuses returned by library services such as health and
// maps application errors onto gRPC codes
func toStatus(err error) error {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return errors.GRPCStatus(err)
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return errors.GRPCStatus(err)
}

func isServerFault(code codes.Code) bool {
	switch code {
	case codes.Internal, codes.Unknown, codes.DataLoss, codes.Unavailable, codes.DeadlineExceeded:
		return true
	default:
		return false
	}
}
