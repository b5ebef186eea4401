package udfc

import (
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServingStatus maps a client state to a gRPC health status
func ServingStatus(s State) grpc_health_v1.HealthCheckResponse_ServingStatus {
	switch s {
	case StateReady:
		return grpc_health_v1.HealthCheckResponse_SERVING
	case StateInitial:
		return grpc_health_v1.HealthCheckResponse_UNKNOWN
	default:
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
}

// HealthObserver publishes client state on a gRPC health server.
// Register Observe with WithStateObserver.
type HealthObserver struct {
	server  *health.Server
	service string
}

// NewHealthObserver reports under service on server. The initial status
// is UNKNOWN.
func NewHealthObserver(server *health.Server, service string) *HealthObserver {
	server.SetServingStatus(service, grpc_health_v1.HealthCheckResponse_UNKNOWN)
	return &HealthObserver{server: server, service: service}
}

// Observe is a StateObserver
func (h *HealthObserver) Observe(_, to State) {
	h.server.SetServingStatus(h.service, ServingStatus(to))
}
