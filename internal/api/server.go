package api

import (
	"context"
	"fmt"
	"net"
	"time"

	"dayroll/internal/config"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"
)

type GRPCServer struct {
	cfg      *config.APIConfig
	server   *grpc.Server
	listener net.Listener
	log      zerolog.Logger
}

func NewGRPCServer(cfg *config.APIConfig, sync SyncController, logger *zerolog.Logger) (*GRPCServer, error) {
	addr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	return NewGRPCServerWithListener(cfg, sync, lis, logger), nil
}

// NewGRPCServerWithListener serves on an existing listener.
func NewGRPCServerWithListener(cfg *config.APIConfig, sync SyncController, lis net.Listener, logger *zerolog.Logger) *GRPCServer {
	auth := NewAuthInterceptor(cfg)
	unary := ChainUnaryInterceptors(
		LoggingUnaryInterceptor(logger),
		auth.Unary(),
	)
	stream := ChainStreamInterceptors(
		LoggingStreamInterceptor(logger),
		auth.Stream(),
	)

	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(unary), grpc.StreamInterceptor(stream))
	grpcServer.RegisterService(&SyncService_ServiceDesc, NewSyncService(sync))
	reflection.Register(grpcServer)

	return &GRPCServer{
		cfg:      cfg,
		server:   grpcServer,
		listener: lis,
		log:      grpcLogger(logger),
	}
}

func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC API listening")
	return s.server.Serve(s.listener)
}

func (s *GRPCServer) Shutdown(ctx context.Context) {
	if s.server == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
		return
	case <-time.After(10 * time.Second):
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
		return
	}
}
