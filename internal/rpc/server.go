package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/life-stream-dev/life-stream-go-mqtt-core/internal/logger"
)

// NewServer returns a gRPC server with the Admin service registered.
func NewServer(srv AdminServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(loggingInterceptor)}, opts...)
	s := grpc.NewServer(opts...)
	RegisterAdminServer(s, srv)
	return s
}

func loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	logger.Debug("rpc call",
		"method", info.FullMethod,
		"code", status.Code(err).String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, err
}

// ShutdownCallback stops a gRPC server when the process exits.
type ShutdownCallback struct {
	server *grpc.Server
}

func NewShutdownCallback(server *grpc.Server) *ShutdownCallback {
	return &ShutdownCallback{server: server}
}

func (c *ShutdownCallback) Invoke(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		c.server.Stop()
	}
	logger.InfoF("gRPC server stopped")
	return nil
}
