// Package grpc serves the standard gRPC health protocol for the generator.
package grpc

import (
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the server-wide status.
const ServiceName = "talkinghead.v1.TalkingHead"

// Server is a gRPC server exposing grpc.health.v1.Health.
type Server struct {
	srv    *grpc.Server
	health *health.Server
}

// NewServer creates a server that starts NOT_SERVING.
func NewServer() *Server {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{srv: srv, health: hs}
	s.SetServing(false)
	return s
}

// SetServing updates the reported status.
func (s *Server) SetServing(ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Serve blocks serving on lis until Stop or GracefulStop.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("gRPC health server listening", "addr", lis.Addr().String())
	return s.srv.Serve(lis)
}

// GracefulStop marks every service NOT_SERVING and waits for in-flight RPCs.
func (s *Server) GracefulStop() {
	s.health.Shutdown()
	s.srv.GracefulStop()
}
