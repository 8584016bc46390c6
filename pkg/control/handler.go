package control

import (
	"context"

	"github.com/core-tools/hsu-memcached/pkg/domain"
	"github.com/core-tools/hsu-memcached/pkg/logging"
	"github.com/core-tools/hsu-memcached/pkg/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is accepted by Check alongside the empty server-wide name
const ServiceName = "memcached"

func RegisterGRPCServerHandler(grpcServerRegistrar grpc.ServiceRegistrar, handler domain.Contract, logger logging.Logger) {
	grpc_health_v1.RegisterHealthServer(grpcServerRegistrar, &grpcServerHandler{
		handler: handler,
		logger:  logger,
	})
}

type grpcServerHandler struct {
	grpc_health_v1.UnimplementedHealthServer
	handler domain.Contract
	logger  logging.Logger
}

func (h *grpcServerHandler) Check(ctx context.Context, request *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	if name := request.GetService(); name != "" && name != ServiceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", name)
	}

	value, err := h.handler.Status(ctx)
	if err != nil {
		h.logger.Errorf("Check server handler: %v", err)
		return nil, status.Error(codes.Internal, err.Error())
	}

	health, ok := service.ParseHealthStatus(value)
	if !ok {
		h.logger.Errorf("Check server handler, unexpected status: %s", value)
		return nil, status.Errorf(codes.Internal, "unexpected status %q", value)
	}

	h.logger.Debugf("Check server handler done, status: %s", value)
	return &grpc_health_v1.HealthCheckResponse{Status: toServingStatus(health)}, nil
}

func toServingStatus(health service.HealthStatus) grpc_health_v1.HealthCheckResponse_ServingStatus {
	switch health {
	case service.StatusRunning:
		return grpc_health_v1.HealthCheckResponse_SERVING
	case service.StatusBroken:
		return grpc_health_v1.HealthCheckResponse_NOT_SERVING
	default:
		return grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN
	}
}

func fromServingStatus(serving grpc_health_v1.HealthCheckResponse_ServingStatus) service.HealthStatus {
	switch serving {
	case grpc_health_v1.HealthCheckResponse_SERVING:
		return service.StatusRunning
	case grpc_health_v1.HealthCheckResponse_NOT_SERVING:
		return service.StatusBroken
	default:
		return service.StatusNotRunning
	}
}
