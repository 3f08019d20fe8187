// Package server provides the HTTP query API and the gRPC health endpoint,
// with request logging and panic recovery middleware.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// HealthServiceName is the service name reported alongside the server-wide status.
const HealthServiceName = "paperqa.v1.PaperQA"

// GRPCServer wraps a gRPC server serving the standard health service
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	logger   *slog.Logger
	port     int
}

// GRPCServerConfig holds configuration for the gRPC server
type GRPCServerConfig struct {
	Port   int
	Logger *slog.Logger
}

// NewGRPCServer creates a new gRPC server with interceptors. Services start
// NOT_SERVING until SetServing or MonitorHealth reports otherwise.
func NewGRPCServer(cfg GRPCServerConfig) (*GRPCServer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Create gRPC server with interceptors
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			recoveryUnaryInterceptor(logger),
			loggingUnaryInterceptor(logger),
		),
		grpc.ChainStreamInterceptor(
			recoveryStreamInterceptor(logger),
			loggingStreamInterceptor(logger),
		),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthServer.SetServingStatus(HealthServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	logger.Info("registered health service")

	// Enable reflection for development/debugging
	reflection.Register(server)

	return &GRPCServer{
		server: server,
		health: healthServer,
		logger: logger,
		port:   cfg.Port,
	}, nil
}

// Start starts the gRPC server
func (s *GRPCServer) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.logger.Info("starting gRPC server", "address", addr)
	return s.Serve(listener)
}

// Serve accepts connections on listener until the server stops
func (s *GRPCServer) Serve(listener net.Listener) error {
	s.listener = listener
	if err := s.server.Serve(listener); err != nil {
		return fmt.Errorf("gRPC server error: %w", err)
	}
	return nil
}

// SetServing updates the reported health status
func (s *GRPCServer) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(HealthServiceName, st)
}

// MonitorHealth runs check immediately and then every interval, publishing
// the result until ctx is done.
func (s *GRPCServer) MonitorHealth(ctx context.Context, interval time.Duration, check func(context.Context) bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		healthy := check(checkCtx)
		cancel()

		s.SetServing(healthy)
		if cur := boolToInt(healthy); cur != last {
			s.logger.Info("health status changed", "serving", healthy)
			last = cur
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Shutdown gracefully shuts down the gRPC server
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gRPC server")
	s.health.Shutdown()

	// Create a channel to signal when GracefulStop completes
	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	// Wait for graceful stop or context cancellation
	select {
	case <-stopped:
		s.logger.Info("gRPC server stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("graceful shutdown timeout, forcing stop")
		s.server.Stop()
		return ctx.Err()
	}
}

// loggingUnaryInterceptor logs unary RPC calls
func loggingUnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		code := codes.OK
		if err != nil {
			if st, ok := status.FromError(err); ok {
				code = st.Code()
			} else {
				code = codes.Unknown
			}
		}

		// Log the request
		logger.Info("gRPC request",
			"method", info.FullMethod,
			"code", code.String(),
			"duration", duration,
			"error", err,
		)

		return resp, err
	}
}

// loggingStreamInterceptor logs streaming RPC calls
func loggingStreamInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()

		err := handler(srv, ss)

		duration := time.Since(start)
		code := codes.OK
		if err != nil {
			if st, ok := status.FromError(err); ok {
				code = st.Code()
			} else {
				code = codes.Unknown
			}
		}

		logger.Info("gRPC stream",
			"method", info.FullMethod,
			"code", code.String(),
			"duration", duration,
			"error", err,
		)

		return err
	}
}

// recoveryUnaryInterceptor recovers from panics in unary handlers
func recoveryUnaryInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger.Error("panic recovered in gRPC handler",
					"method", info.FullMethod,
					"panic", r,
					"stack", string(stack),
				)
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()

		return handler(ctx, req)
	}
}

// recoveryStreamInterceptor recovers from panics in stream handlers
func recoveryStreamInterceptor(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger.Error("panic recovered in gRPC stream handler",
					"method", info.FullMethod,
					"panic", r,
					"stack", string(stack),
				)
				err = status.Errorf(codes.Internal, "internal server error")
			}
		}()

		return handler(srv, ss)
	}
}
