// Package rpc provides the gRPC health endpoint for orchestrators.
package rpc

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported for the SIWA endpoints.
const ServiceName = "siwa.v1.Auth"

// RegisterServices registers health and reflection with the server.
// The SIWA service reports NOT_SERVING until SetServing(true) is called.
func RegisterServices(server *grpc.Server) *health.Server {
	// Register reflection for grpcurl/debugging
	reflection.Register(server)

	// Register health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	return healthServer
}

// SetServing reports whether the SIWA endpoints can serve. A server without
// its secret is alive but not serving.
func SetServing(healthServer *health.Server, serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	healthServer.SetServingStatus(ServiceName, status)
}
