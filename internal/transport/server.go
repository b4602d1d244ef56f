package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"glusterd/internal/configuration"
	"glusterd/internal/metrics"
	"glusterd/internal/transport/mgmtrpc"
)

// Server serves the management and CLI services on one listener.
type Server struct {
	network              string
	addr                 string
	timeout              time.Duration
	maxConcurrentStreams uint32

	intake Intake

	grpc *grpc.Server
	lis  net.Listener
}

func NewServer(cfg *configuration.TransportConfigurationProperties, i Intake) *Server {
	return &Server{
		network:              cfg.Network,
		addr:                 cfg.ListenAddr(),
		timeout:              cfg.RequestTimeout(),
		maxConcurrentStreams: cfg.MaxConcurrentStreams,
		intake:               i,
	}
}

func (s *Server) Start() error {
	lis, err := net.Listen(s.network, s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.Serve(lis)
	return nil
}

// Serve serves on an already bound listener.
func (s *Server) Serve(lis net.Listener) {
	s.lis = lis

	timeout := s.timeout
	if timeout <= 0 {
		slog.Warn("request timeout must be positive, using 1s")
		timeout = time.Second
	}

	var opts []grpc.ServerOption
	if s.maxConcurrentStreams > 0 {
		opts = append(opts, grpc.MaxConcurrentStreams(s.maxConcurrentStreams))
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(
		metrics.UnaryServerInterceptor(),
		timeoutInterceptor(timeout),
	))

	s.grpc = grpc.NewServer(opts...)
	mgmtrpc.RegisterMgmtServer(s.grpc, NewMgmtHandler(s.intake))
	mgmtrpc.RegisterCLIServer(s.grpc, NewCLIHandler(s.intake))
	reflection.Register(s.grpc)

	slog.Info("transport listening", "addr", lis.Addr(), "timeout", timeout)

	go func() {
		if err := s.grpc.Serve(lis); err != nil {
			slog.Error("failed to serve listener", "error", err)
		}
	}()
}

func (s *Server) Addr() net.Addr {
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}

func timeoutInterceptor(d time.Duration) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()

		return handler(ctx, req)
	}
}
