//go:build unix

package main

import (
	"context"
	"testing"

	"github.com/core-tools/hsu-memcached/pkg/errors"
	"github.com/core-tools/hsu-memcached/pkg/logging"
	"github.com/core-tools/hsu-memcached/pkg/master"
	"github.com/core-tools/hsu-memcached/pkg/service"

	"github.com/phayes/freeport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedContract struct {
	value string
}

func (c fixedContract) Status(ctx context.Context) (string, error) {
	return c.value, nil
}

func TestRemoteStatus(t *testing.T) {
	for _, health := range []service.HealthStatus{service.StatusRunning, service.StatusBroken, service.StatusNotRunning} {
		t.Run(health.String(), func(t *testing.T) {
			port, err := freeport.GetFreePort()
			require.NoError(t, err)

			m, err := master.NewMaster(master.MasterOptions{Port: port}, fixedContract{value: health.String()},
				logging.NewNopLogger(), logging.NewNopLogger())
			require.NoError(t, err)
			require.NoError(t, m.Start(context.Background()))
			defer m.Stop(context.Background())

			status, err := remoteStatus(context.Background(), port)
			require.NoError(t, err)
			assert.Equal(t, health, status)
		})
	}
}

func TestRemoteStatus_Unreachable(t *testing.T) {
	port, err := freeport.GetFreePort()
	require.NoError(t, err)

	_, err = remoteStatus(context.Background(), port)
	assert.True(t, errors.IsIOError(err))
	assert.Equal(t, 1, exitStatus(err))
}
