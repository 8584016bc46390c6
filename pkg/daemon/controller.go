//go:build unix

package daemon

import (
	stderrors "errors"
	"os"
	"time"

	"github.com/core-tools/hsu-memcached/pkg/logging"
	"github.com/core-tools/hsu-memcached/pkg/processfile"
	"github.com/core-tools/hsu-memcached/pkg/processstate"
	"github.com/core-tools/hsu-memcached/pkg/resourcelimits"
)

const (
	DefaultLaunchGrace     = 200 * time.Millisecond
	DefaultLaunchTimeout   = 5 * time.Second
	DefaultGracefulTimeout = 5 * time.Second
	DefaultKillTimeout     = 5 * time.Second
	DefaultPollInterval    = 50 * time.Millisecond
)

// Config tunes the controller's timing and trampoline binary
type Config struct {
	// Self is the binary re-executed as the resource limit trampoline;
	// defaults to the running executable
	Self string

	// LaunchGrace is how long a freshly launched process must stay alive
	LaunchGrace time.Duration

	// LaunchTimeout bounds the wait for the trampoline to exec
	LaunchTimeout time.Duration

	// GracefulTimeout is how long Terminate waits after SIGTERM
	GracefulTimeout time.Duration

	// KillTimeout is how long Terminate waits after SIGKILL
	KillTimeout time.Duration

	PollInterval time.Duration
}

// LaunchOptions describes one process to launch in the background
type LaunchOptions struct {
	Argv    []string
	PIDFile string

	// Stdout and Stderr are appended to; empty means /dev/null
	Stdout string
	Stderr string

	// Limits are applied in the child before exec; empty means no trampoline
	Limits resourcelimits.Limits

	// SupervisorLog receives structured launch events when set
	SupervisorLog string
}

// Controller launches, checks and terminates daemons tracked by pid files
type Controller struct {
	config Config
	logger logging.Logger
}

func NewController(config Config, logger logging.Logger) *Controller {
	setDefaults(&config)
	return &Controller{
		config: config,
		logger: logger,
	}
}

func setDefaults(config *Config) {
	if config.LaunchGrace <= 0 {
		config.LaunchGrace = DefaultLaunchGrace
	}
	if config.LaunchTimeout <= 0 {
		config.LaunchTimeout = DefaultLaunchTimeout
	}
	if config.GracefulTimeout <= 0 {
		config.GracefulTimeout = DefaultGracefulTimeout
	}
	if config.KillTimeout <= 0 {
		config.KillTimeout = DefaultKillTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
}

// IsAlive reports whether the pid file names a running process that is
// still the one recorded at launch.
func (c *Controller) IsAlive(pidFilePath string) bool {
	_, alive := c.lookup(processfile.NewPIDFile(pidFilePath, c.logger))
	return alive
}

// lookup resolves the pid file to a pid and whether that pid is the live,
// recorded process.
func (c *Controller) lookup(pidFile *processfile.PIDFile) (int, bool) {
	pid, err := pidFile.Read()
	if err != nil {
		if !stderrors.Is(err, os.ErrNotExist) {
			c.logger.Warnf("Unreadable PID file, path: %s, error: %v", pidFile.Path(), err)
		}
		return 0, false
	}

	running, err := processstate.IsProcessRunning(pid)
	if err != nil {
		c.logger.Warnf("Failed to check process, pid: %d, error: %v", pid, err)
		return pid, false
	}
	if !running {
		c.logger.Debugf("Process not running, pid: %d, path: %s", pid, pidFile.Path())
		return pid, false
	}

	recorded, ok, err := pidFile.ReadIdentity()
	if err != nil {
		c.logger.Warnf("Ignoring unreadable identity file, path: %s, error: %v", pidFile.IdentityPath(), err)
		return pid, true
	}
	if !ok {
		return pid, true
	}

	current, err := processstate.ProcessIdentity(pid)
	if err != nil {
		// Exited between the liveness check and now
		return pid, false
	}
	if !current.Matches(processstate.Identity{StartTime: recorded.StartTime}) {
		c.logger.Warnf("PID reused by another process, pid: %d, recorded start: %s, current start: %s",
			pid, recorded.StartTime, current.StartTime)
		return pid, false
	}
	return pid, true
}
