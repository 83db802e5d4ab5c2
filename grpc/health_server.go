package grpc

import (
	"fmt"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Service names reported by the health server besides the overall "".
const (
	ServiceScanner  = "station.Scanner"
	ServiceRealtime = "station.Realtime"
)

type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	logger   *zap.Logger
}

// StartHealthServer serves the standard gRPC health service on addr.
func StartHealthServer(addr string, logger *zap.Logger) (*HealthServer, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on gRPC port: %w", err)
	}

	server := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceScanner, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceRealtime, healthpb.HealthCheckResponse_SERVING)

	hs := &HealthServer{server: server, health: healthServer, listener: listener, logger: logger}

	go func() {
		if err := server.Serve(listener); err != nil {
			logger.Error("gRPC server stopped", zap.Error(err))
		}
	}()

	logger.Info("gRPC health server started", zap.String("addr", listener.Addr().String()))
	return hs, nil
}

func (s *HealthServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *HealthServer) SetServing(service string, serving bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !serving {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(service, status)
	s.logger.Info("Health status updated", zap.String("service", service), zap.String("status", status.String()))
}

func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
