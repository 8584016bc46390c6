package domain

import (
	"context"
	"testing"

	"github.com/core-tools/hsu-memcached/pkg/logging"
	"github.com/core-tools/hsu-memcached/pkg/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedSource struct {
	status service.HealthStatus
}

func (s fixedSource) Status(ctx context.Context) service.HealthStatus { return s.status }
func (s fixedSource) Port() int                                      { return 11211 }

func TestServiceHandler_Status(t *testing.T) {
	for _, status := range []service.HealthStatus{service.StatusRunning, service.StatusBroken, service.StatusNotRunning} {
		handler := NewServiceHandler(fixedSource{status: status}, logging.NewNopLogger())

		result, err := handler.Status(context.Background())
		require.NoError(t, err)
		assert.Equal(t, status.String(), result)
	}
}
