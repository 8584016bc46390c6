package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/core-tools/hsu-memcached/pkg/domain"
	"github.com/core-tools/hsu-memcached/pkg/errors"
	"github.com/core-tools/hsu-memcached/pkg/logging"
)

const runningStatus = "running"

type MonitorOptions struct {
	Interval     time.Duration
	InitialDelay time.Duration
}

type MonitorState struct {
	Status               string
	LastCheck            time.Time
	Message              string
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
}

type StatusMonitor interface {
	Start(ctx context.Context) error
	Stop()
	State() MonitorState
}

type statusMonitor struct {
	options  MonitorOptions
	source   domain.Contract
	state    MonitorState
	stopChan chan struct{}
	wg       sync.WaitGroup
	mutex    sync.Mutex
	logger   logging.Logger
}

// NewStatusMonitor periodically recomputes the status through source and
// logs every transition.
func NewStatusMonitor(options MonitorOptions, source domain.Contract, logger logging.Logger) StatusMonitor {
	return &statusMonitor{
		options:  options,
		source:   source,
		state:    MonitorState{Status: "unknown"},
		stopChan: make(chan struct{}),
		logger:   logger,
	}
}

func (m *statusMonitor) Start(ctx context.Context) error {
	if m.options.Interval <= 0 {
		return errors.NewValidationError("monitor interval must be positive", nil).
			WithContext("interval", m.options.Interval)
	}

	m.logger.Infof("Starting status monitor, interval: %v", m.options.Interval)

	m.wg.Add(1)
	go m.loop(ctx)
	return nil
}

func (m *statusMonitor) Stop() {
	m.logger.Infof("Stopping status monitor")
	close(m.stopChan)
	m.wg.Wait()
	m.logger.Infof("Status monitor stopped")
}

func (m *statusMonitor) State() MonitorState {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.state
}

func (m *statusMonitor) loop(ctx context.Context) {
	defer m.wg.Done()

	if m.options.InitialDelay > 0 {
		select {
		case <-time.After(m.options.InitialDelay):
		case <-m.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(m.options.Interval)
	defer ticker.Stop()

	m.performCheck(ctx)

	for {
		select {
		case <-ticker.C:
			m.performCheck(ctx)
		case <-m.stopChan:
			m.logger.Debugf("Status monitor loop stopping")
			return
		case <-ctx.Done():
			m.logger.Debugf("Status monitor loop cancelled")
			return
		}
	}
}

func (m *statusMonitor) performCheck(ctx context.Context) {
	status, err := m.source.Status(ctx)
	message := ""
	if err != nil {
		status = "unknown"
		message = err.Error()
	}
	m.updateState(status, message)
}

func (m *statusMonitor) updateState(status, message string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	previous := m.state.Status
	m.state.LastCheck = time.Now()
	m.state.Message = message

	if status == runningStatus {
		m.state.ConsecutiveSuccesses++
		m.state.ConsecutiveFailures = 0
	} else {
		m.state.ConsecutiveFailures++
		m.state.ConsecutiveSuccesses = 0
	}

	if previous == status {
		m.logger.Debugf("Status unchanged, status: %s, consecutive_failures: %d", status, m.state.ConsecutiveFailures)
		return
	}

	m.state.Status = status
	if status == runningStatus {
		m.logger.Infof("Status changed, status: %s->%s", previous, status)
	} else {
		m.logger.Warnf("Status changed, status: %s->%s, consecutive_failures: %d, message: %s",
			previous, status, m.state.ConsecutiveFailures, message)
	}
}
