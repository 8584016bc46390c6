//go:build unix

package daemon

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/core-tools/hsu-memcached/pkg/errors"
	"github.com/core-tools/hsu-memcached/pkg/logging"
	"github.com/core-tools/hsu-memcached/pkg/processfile"
	"github.com/core-tools/hsu-memcached/pkg/processstate"
	"github.com/core-tools/hsu-memcached/pkg/resourcelimits"

	"github.com/google/uuid"
)

// Launch starts opts.Argv detached from the caller, records its pid and
// identity in opts.PIDFile and confirms it survives the launch grace period.
// Any failure after the process was spawned kills it before returning.
func (c *Controller) Launch(ctx context.Context, opts LaunchOptions) (err error) {
	if len(opts.Argv) == 0 {
		return errors.NewLaunchError("no command to launch", nil)
	}
	if opts.PIDFile == "" {
		return errors.NewLaunchError("PID file path is required", nil)
	}

	launchID := uuid.NewString()
	events := c.openSupervisorLog(opts.SupervisorLog)
	defer events.Close()
	defer func() {
		if err != nil {
			events.Errorf("Launch failed, launch_id: %s, binary: %s, error: %v", launchID, opts.Argv[0], err)
		}
	}()

	if err := checkExecutable(opts.Argv[0]); err != nil {
		return err
	}

	pidFile := processfile.NewPIDFile(opts.PIDFile, c.logger)
	if pid, alive := c.lookup(pidFile); alive {
		return errors.NewLaunchError("process already running", nil).
			WithContext("pid", pid).WithContext("pid_file", opts.PIDFile)
	}
	if pidFile.Exists() {
		c.logger.Infof("Removing stale PID file, path: %s", opts.PIDFile)
		if err := pidFile.Remove(); err != nil {
			return errors.NewLaunchError("failed to remove stale PID file", err)
		}
	}
	if err := processfile.ValidatePIDFileDirectory(opts.PIDFile); err != nil {
		return errors.NewLaunchError("PID file cannot be written", err).WithContext("pid_file", opts.PIDFile)
	}

	cmd, files, err := c.prepareCommand(opts)
	if err != nil {
		return err
	}

	var statusReader *os.File
	if len(opts.Limits) > 0 {
		var statusWriter *os.File
		statusReader, statusWriter, err = os.Pipe()
		if err != nil {
			closeAll(files)
			return errors.NewLaunchError("failed to create status pipe", err)
		}
		cmd.ExtraFiles = []*os.File{statusWriter}
		files = append(files, statusWriter)
	}

	c.logger.Infof("Launching process, argv: %v, pid_file: %s, limits: %v", opts.Argv, opts.PIDFile, opts.Limits)
	events.Infof("Launching, argv: %v, launch_id: %s", opts.Argv, launchID)

	startErr := cmd.Start()
	closeAll(files)
	if startErr != nil {
		if statusReader != nil {
			statusReader.Close()
		}
		return errors.NewLaunchError("failed to start process", startErr).WithContext("binary", opts.Argv[0])
	}
	pid := cmd.Process.Pid

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	if statusReader != nil {
		if err := c.awaitExec(ctx, pid, statusReader, exited); err != nil {
			return err
		}
	}

	identity, err := processstate.ProcessIdentity(pid)
	if err != nil {
		c.killGroup(pid)
		return errors.NewLaunchError("process exited immediately", err).WithContext("pid", pid)
	}

	if err := pidFile.Write(pid, processfile.Identity{
		StartTime: identity.StartTime,
		Binary:    opts.Argv[0],
		LaunchID:  launchID,
	}); err != nil {
		c.killGroup(pid)
		return errors.NewLaunchError("failed to write PID file", err).WithContext("pid", pid)
	}

	select {
	case waitErr := <-exited:
		_ = pidFile.Remove()
		return errors.NewLaunchError("process exited during startup", waitErr).
			WithContext("pid", pid).WithContext("exit_code", cmd.ProcessState.ExitCode())
	case <-ctx.Done():
		c.killGroup(pid)
		_ = pidFile.Remove()
		return errors.NewCancelledError("launch cancelled", ctx.Err()).WithContext("pid", pid)
	case <-time.After(c.config.LaunchGrace):
	}

	c.logger.Infof("Process launched, pid: %d, pid_file: %s", pid, opts.PIDFile)
	events.Infof("Launched, pid: %d, pid_file: %s, launch_id: %s", pid, opts.PIDFile, launchID)
	return nil
}

func (c *Controller) prepareCommand(opts LaunchOptions) (*exec.Cmd, []*os.File, error) {
	argv := opts.Argv
	if len(opts.Limits) > 0 {
		self := c.config.Self
		if self == "" {
			executable, err := os.Executable()
			if err != nil {
				return nil, nil, errors.NewLaunchError("failed to locate trampoline executable", err)
			}
			self = executable
		}
		argv = resourcelimits.TrampolineArgv(self, opts.Limits, opts.Argv)
	}

	// Not bound to a context: the daemon must outlive the caller
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	var files []*os.File
	open := func(path string, flag int) (*os.File, error) {
		file, err := os.OpenFile(path, flag, 0644)
		if err != nil {
			closeAll(files)
			return nil, errors.NewLaunchError("failed to open redirect file", err).WithContext("path", path)
		}
		files = append(files, file)
		return file, nil
	}

	stdin, err := open(os.DevNull, os.O_RDONLY)
	if err != nil {
		return nil, nil, err
	}
	cmd.Stdin = stdin

	outputFlags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	stdoutPath := opts.Stdout
	if stdoutPath == "" {
		stdoutPath = os.DevNull
	}
	stdout, err := open(stdoutPath, outputFlags)
	if err != nil {
		return nil, nil, err
	}
	cmd.Stdout = stdout

	stderrPath := opts.Stderr
	if stderrPath == "" {
		stderrPath = os.DevNull
	}
	if stderrPath == stdoutPath {
		cmd.Stderr = stdout
	} else {
		stderr, err := open(stderrPath, outputFlags)
		if err != nil {
			return nil, nil, err
		}
		cmd.Stderr = stderr
	}

	return cmd, files, nil
}

// awaitExec waits for the trampoline's status pipe to close. Data on the pipe
// is a failure report, after which the trampoline exits on its own; EOF alone
// means the target was exec'd. A trampoline that hangs is killed.
func (c *Controller) awaitExec(ctx context.Context, pid int, statusReader *os.File, exited <-chan error) error {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		data, err := io.ReadAll(statusReader)
		done <- result{data, err}
	}()
	defer statusReader.Close()

	select {
	case r := <-done:
		if r.err != nil {
			c.killGroup(pid)
			return errors.NewLaunchError("failed to read trampoline status", r.err)
		}
		if err := resourcelimits.DecodeStatus(r.data); err != nil {
			<-exited
			return err
		}
		return nil
	case <-ctx.Done():
		c.killGroup(pid)
		return errors.NewCancelledError("launch cancelled", ctx.Err())
	case <-time.After(c.config.LaunchTimeout):
		c.killGroup(pid)
		return errors.NewLaunchError(fmt.Sprintf("trampoline did not exec within %v", c.config.LaunchTimeout), nil)
	}
}

// checkExecutable reports a missing or non-executable binary before spawning.
func checkExecutable(path string) error {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return errors.NewLaunchError("executable not found: "+path, err).WithContext("binary", path)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return errors.NewLaunchError("executable not accessible: "+path, err).WithContext("binary", path)
	}
	if info.IsDir() || info.Mode()&0111 == 0 {
		return errors.NewLaunchError("file is not executable: "+path, nil).WithContext("binary", path)
	}
	return nil
}

// openSupervisorLog returns a logger for launch events, discarding them when
// no supervisor log is configured or it cannot be opened.
func (c *Controller) openSupervisorLog(path string) supervisorLog {
	if path == "" {
		return supervisorLog{Logger: logging.NewNopLogger()}
	}
	zapLogger, err := logging.NewZapLogger(logging.DefaultFileConfig(path))
	if err != nil {
		c.logger.Warnf("Failed to open supervisor log, path: %s, error: %v", path, err)
		return supervisorLog{Logger: logging.NewNopLogger()}
	}
	return supervisorLog{Logger: zapLogger, closer: zapLogger.Close}
}

type supervisorLog struct {
	logging.Logger
	closer func() error
}

func (l supervisorLog) Close() {
	if l.closer != nil {
		_ = l.closer()
	}
}

func closeAll(files []*os.File) {
	for _, file := range files {
		file.Close()
	}
}
