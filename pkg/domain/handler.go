package domain

import (
	"context"

	"github.com/core-tools/hsu-memcached/pkg/logging"
	"github.com/core-tools/hsu-memcached/pkg/service"
)

// StatusSource is the part of a service the status surface reads
type StatusSource interface {
	Status(ctx context.Context) service.HealthStatus
	Port() int
}

func NewServiceHandler(source StatusSource, logger logging.Logger) Contract {
	return &serviceHandler{
		source: source,
		logger: logger,
	}
}

type serviceHandler struct {
	source StatusSource
	logger logging.Logger
}

func (h *serviceHandler) Status(ctx context.Context) (string, error) {
	status := h.source.Status(ctx)
	h.logger.Debugf("Status computed, port: %d, status: %s", h.source.Port(), status)
	return status.String(), nil
}
