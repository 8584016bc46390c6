package service

import (
	"context"

	"github.com/core-tools/hsu-memcached/pkg/daemon"

	"github.com/stretchr/testify/mock"
)

type MockController struct {
	mock.Mock
}

func (m *MockController) Launch(ctx context.Context, opts daemon.LaunchOptions) error {
	args := m.Called(ctx, opts)
	return args.Error(0)
}

func (m *MockController) IsAlive(pidFile string) bool {
	args := m.Called(pidFile)
	return args.Bool(0)
}

func (m *MockController) Terminate(ctx context.Context, pidFile string) error {
	args := m.Called(ctx, pidFile)
	return args.Error(0)
}

type MockProber struct {
	mock.Mock
}

func (m *MockProber) Probe(ctx context.Context, host string, port int) bool {
	args := m.Called(ctx, host, port)
	return args.Bool(0)
}
