package master

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/core-tools/hsu-memcached/pkg/control"
	"github.com/core-tools/hsu-memcached/pkg/domain"
	"github.com/core-tools/hsu-memcached/pkg/errors"
	"github.com/core-tools/hsu-memcached/pkg/logging"
	"github.com/core-tools/hsu-memcached/pkg/monitoring"

	corecontrol "github.com/core-tools/hsu-core/pkg/control"
	coredomain "github.com/core-tools/hsu-core/pkg/domain"
	corelogging "github.com/core-tools/hsu-core/pkg/logging"
)

const DefaultForceShutdownTimeout = 30 * time.Second

type MasterOptions struct {
	Port                 int
	ForceShutdownTimeout time.Duration

	// WatchInterval enables the status monitor when positive
	WatchInterval time.Duration
}

// MasterState represents the current state of the status server
type MasterState string

const (
	MasterStateNotStarted MasterState = "not_started"
	MasterStateRunning    MasterState = "running"
	MasterStateStopping   MasterState = "stopping"
	MasterStateStopped    MasterState = "stopped"
)

// Master exposes a memcached service's health over gRPC on 127.0.0.1. It
// reports status only; starting and stopping memcached stays with the CLI.
type Master struct {
	options     MasterOptions
	server      corecontrol.Server
	monitor     monitoring.StatusMonitor
	logger      logging.Logger
	masterState MasterState
	mutex       sync.Mutex
}

func NewMaster(options MasterOptions, handler domain.Contract, coreLogger corelogging.Logger, logger logging.Logger) (*Master, error) {
	if options.Port <= 0 || options.Port > 65535 {
		return nil, errors.NewValidationError("port must be between 1 and 65535", nil).WithContext("port", options.Port)
	}

	server, err := corecontrol.NewServer(corecontrol.ServerOptions{Port: options.Port}, coreLogger)
	if err != nil {
		return nil, errors.NewInternalError("failed to create server", err).WithContext("port", options.Port)
	}

	// Core ping lets clients check reachability before asking for status
	corecontrol.RegisterGRPCServerHandler(server.GRPC(), coredomain.NewDefaultHandler(coreLogger), coreLogger)
	control.RegisterGRPCServerHandler(server.GRPC(), handler, logger)

	var monitor monitoring.StatusMonitor
	if options.WatchInterval > 0 {
		monitor = monitoring.NewStatusMonitor(monitoring.MonitorOptions{Interval: options.WatchInterval}, handler, logger)
	}

	return &Master{
		options:     options,
		server:      server,
		monitor:     monitor,
		logger:      logger,
		masterState: MasterStateNotStarted,
	}, nil
}

func (m *Master) Start(ctx context.Context) error {
	m.logger.Infof("Starting master...")

	if m.monitor != nil {
		if err := m.monitor.Start(ctx); err != nil {
			m.server.Shutdown(ctx)
			return err
		}
	}

	m.server.Start(ctx)
	m.setMasterState(MasterStateRunning)

	m.logger.Infof("Master started, address: %s", m.Addr())
	return nil
}

func (m *Master) Stop(ctx context.Context) {
	m.logger.Infof("Stopping master...")

	m.setMasterState(MasterStateStopping)

	forcedShutdownTimeout := m.options.ForceShutdownTimeout
	if forcedShutdownTimeout <= 0 {
		forcedShutdownTimeout = DefaultForceShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, forcedShutdownTimeout)
	defer cancel()

	m.server.Shutdown(ctx)

	if m.monitor != nil {
		m.monitor.Stop()
	}

	m.setMasterState(MasterStateStopped)

	m.logger.Infof("Master stopped")
}

func (m *Master) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", m.options.Port)
}

// GetMasterState returns the current state of the master
func (m *Master) GetMasterState() MasterState {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.masterState
}

// MonitorState reports the last observed status, ok is false without a monitor
func (m *Master) MonitorState() (monitoring.MonitorState, bool) {
	if m.monitor == nil {
		return monitoring.MonitorState{}, false
	}
	return m.monitor.State(), true
}

func (m *Master) setMasterState(state MasterState) {
	m.mutex.Lock()
	m.masterState = state
	m.mutex.Unlock()
}
