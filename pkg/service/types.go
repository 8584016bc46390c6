package service

import (
	"context"
	"time"

	"github.com/core-tools/hsu-memcached/pkg/daemon"
)

// State is the service's own view of where it is in its lifecycle
type State string

const (
	StateStopped     State = "stopped"
	StateStarting    State = "starting"
	StateRunning     State = "running"
	StateStopping    State = "stopping"
	StateStartFailed State = "start_failed"
)

// HealthStatus is the three-way answer to "is memcached serving?"
type HealthStatus int

const (
	// StatusNotRunning: no live process matches the pid file
	StatusNotRunning HealthStatus = iota
	// StatusBroken: the process exists but the probe failed
	StatusBroken
	// StatusRunning: the process exists and the probe succeeded
	StatusRunning
)

func (s HealthStatus) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusBroken:
		return "broken"
	default:
		return "not running"
	}
}

// ParseHealthStatus is the inverse of HealthStatus.String
func ParseHealthStatus(value string) (HealthStatus, bool) {
	switch value {
	case "running":
		return StatusRunning, true
	case "broken":
		return StatusBroken, true
	case "not running":
		return StatusNotRunning, true
	default:
		return StatusNotRunning, false
	}
}

// StartResult tags a StartOutcome
type StartResult string

const (
	// ResultStarting: launched, health not yet confirmed; retry Status
	ResultStarting StartResult = "starting"
	// ResultStarted: launched and confirmed healthy
	ResultStarted StartResult = "started"
	// ResultAlreadyRunning: a live process already owned the pid file
	ResultAlreadyRunning StartResult = "already running"
)

// Retry tells a supervisor how to poll Status after a deferred start
type Retry struct {
	Step   time.Duration
	Trials int
}

// StartOutcome is produced once per Start call
type StartOutcome struct {
	Result  StartResult
	Elapsed time.Duration

	// Retry is set for ResultStarting
	Retry Retry
}

// StartPolicy selects how Start confirms health
type StartPolicy string

const (
	// PolicyDeferred returns right after launch; health is confirmed by the
	// caller polling Status with the returned Retry parameters
	PolicyDeferred StartPolicy = "deferred"

	// PolicySync polls the probe inside Start with linear backoff
	PolicySync StartPolicy = "sync"
)

var (
	DefaultRetry = Retry{Step: 100 * time.Millisecond, Trials: 10}

	DefaultSyncTrials      = 10
	DefaultSyncBackoffUnit = 100 * time.Millisecond
)

// Controller is the process-level contract the service drives
type Controller interface {
	Launch(ctx context.Context, opts daemon.LaunchOptions) error
	IsAlive(pidFile string) bool
	Terminate(ctx context.Context, pidFile string) error
}
