//go:build unix

package resourcelimits

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/core-tools/hsu-memcached/pkg/errors"

	"golang.org/x/sys/unix"
)

// Go cannot run code between fork and exec, so limits are applied by
// re-executing the controlling binary with TrampolineCommand. The trampoline
// applies the limits to itself and then execs the target in place, keeping
// the pid the launcher recorded.

const (
	// TrampolineCommand is the hidden CLI subcommand running RunTrampoline.
	TrampolineCommand = "exec-limited"

	// StatusFD is the descriptor the trampoline reports failures on. It is
	// closed on a successful exec, so the launcher reading EOF with no data
	// means the target is running.
	StatusFD = 3
)

// TrampolineArgv builds the command line re-executing self as a trampoline.
func TrampolineArgv(self string, limits Limits, argv []string) []string {
	result := []string{self, TrampolineCommand}
	for _, arg := range FormatArgs(limits) {
		result = append(result, "--ulimit", arg)
	}
	result = append(result, "--")
	return append(result, argv...)
}

// RunTrampoline applies limits and execs argv. It only returns on failure,
// after writing the failure to status.
func RunTrampoline(enforcer ResourceEnforcer, limits Limits, argv []string, status *os.File) error {
	if len(argv) == 0 {
		return reportStatus(status, errors.NewLaunchError("no command to execute", nil))
	}

	if err := enforcer.ApplyLimits(limits); err != nil {
		return reportStatus(status, err)
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		return reportStatus(status, errors.NewLaunchError("executable not found: "+argv[0], err))
	}

	if status != nil {
		unix.CloseOnExec(int(status.Fd()))
	}

	err = unix.Exec(path, argv, os.Environ())
	return reportStatus(status, errors.NewLaunchError("exec failed: "+path, err))
}

func reportStatus(status *os.File, err error) error {
	if status == nil {
		return err
	}
	errorType := errors.ErrorTypeLaunch
	if errors.IsResourceLimitError(err) {
		errorType = errors.ErrorTypeResourceLimit
	}
	message := strings.ReplaceAll(err.Error(), "\n", " ")
	fmt.Fprintf(status, "%s\t%s\n", errorType, message)
	return err
}

// DecodeStatus turns what the trampoline wrote on its status descriptor into
// an error; no data means the exec succeeded.
func DecodeStatus(data []byte) error {
	line := strings.TrimSpace(string(data))
	if line == "" {
		return nil
	}

	errorType, message, found := strings.Cut(line, "\t")
	if !found {
		return errors.NewLaunchError(line, nil)
	}
	if errors.ErrorType(errorType) == errors.ErrorTypeResourceLimit {
		return errors.NewResourceLimitError(message, nil)
	}
	return errors.NewLaunchError(message, nil)
}
