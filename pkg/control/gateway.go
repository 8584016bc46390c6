package control

import (
	"context"

	"github.com/core-tools/hsu-memcached/pkg/domain"
	"github.com/core-tools/hsu-memcached/pkg/logging"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

func NewGRPCClientGateway(grpcClientConnection grpc.ClientConnInterface, logger logging.Logger) domain.Contract {
	grpcClient := grpc_health_v1.NewHealthClient(grpcClientConnection)
	return &grpcClientGateway{
		grpcClient: grpcClient,
		logger:     logger,
	}
}

type grpcClientGateway struct {
	grpcClient grpc_health_v1.HealthClient
	logger     logging.Logger
}

func (gw *grpcClientGateway) Status(ctx context.Context) (string, error) {
	response, err := gw.grpcClient.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		gw.logger.Errorf("Status client gateway: %v", err)
		return "", err
	}
	gw.logger.Debugf("Status client gateway done, serving_status: %s", response.GetStatus())
	return fromServingStatus(response.GetStatus()).String(), nil
}
