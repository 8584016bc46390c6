//go:build unix

package daemon

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/core-tools/hsu-memcached/pkg/errors"
	"github.com/core-tools/hsu-memcached/pkg/processfile"
	"github.com/core-tools/hsu-memcached/pkg/processstate"

	"golang.org/x/sys/unix"
)

// Terminate stops the process recorded in pidFilePath: SIGTERM, then SIGKILL
// once GracefulTimeout passes. It succeeds when nothing is running, and
// removes the pid file either way.
func (c *Controller) Terminate(ctx context.Context, pidFilePath string) error {
	pidFile := processfile.NewPIDFile(pidFilePath, c.logger)

	pid, alive := c.lookup(pidFile)
	if !alive {
		c.logger.Debugf("Nothing to terminate, pid_file: %s", pidFilePath)
		if err := pidFile.Remove(); err != nil {
			c.logger.Warnf("Failed to remove PID file, path: %s, error: %v", pidFilePath, err)
		}
		return nil
	}

	c.logger.Infof("Terminating process, pid: %d, timeout: %v", pid, c.config.GracefulTimeout)

	if err := signalGroup(pid, unix.SIGTERM); err != nil {
		return errors.NewProcessError("failed to send SIGTERM", err).WithContext("pid", pid)
	}

	exited, err := c.waitForExit(ctx, pid, c.config.GracefulTimeout)
	if err != nil {
		return err
	}

	if !exited {
		c.logger.Warnf("Process did not exit after SIGTERM, sending SIGKILL, pid: %d", pid)
		if err := signalGroup(pid, unix.SIGKILL); err != nil {
			return errors.NewProcessError("failed to send SIGKILL", err).WithContext("pid", pid)
		}

		exited, err = c.waitForExit(ctx, pid, c.config.KillTimeout)
		if err != nil {
			return err
		}
		if !exited {
			return errors.NewTimeoutError(fmt.Sprintf("process did not exit within %v after SIGKILL", c.config.KillTimeout), nil).
				WithContext("pid", pid)
		}
	}

	if err := pidFile.Remove(); err != nil {
		return errors.NewIOError("failed to remove PID file", err).WithContext("pid_file", pidFilePath)
	}

	c.logger.Infof("Process terminated, pid: %d", pid)
	return nil
}

// waitForExit polls until pid is gone, the timeout passes (false) or ctx is
// cancelled.
func (c *Controller) waitForExit(ctx context.Context, pid int, timeout time.Duration) (bool, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		if running, err := processstate.IsProcessRunning(pid); err == nil && !running {
			return true, nil
		}

		select {
		case <-ctx.Done():
			return false, errors.NewCancelledError("terminate cancelled", ctx.Err()).WithContext("pid", pid)
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		}
	}
}

// signalGroup signals the process group led by pid, falling back to pid alone
// for processes that are not group leaders.
func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if stderrors.Is(err, unix.ESRCH) {
		err = unix.Kill(pid, sig)
	}
	if stderrors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}

// killGroup is used on launch failure paths where the error is already known.
func (c *Controller) killGroup(pid int) {
	if err := signalGroup(pid, unix.SIGKILL); err != nil {
		c.logger.Warnf("Failed to kill process, pid: %d, error: %v", pid, err)
	}
}
