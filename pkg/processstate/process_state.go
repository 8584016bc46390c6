//go:build unix

package processstate

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// IsProcessRunning reports whether pid names a live process. A process owned
// by another user (EPERM) counts as running; a zombie does not.
func IsProcessRunning(pid int) (bool, error) {
	if pid <= 0 {
		return false, fmt.Errorf("invalid PID: %d", pid)
	}

	// On Unix FindProcess always succeeds; signal 0 does the existence check.
	process, err := os.FindProcess(pid)
	if err != nil {
		return false, err
	}

	err = process.Signal(syscall.Signal(0))
	switch {
	case err == nil, errors.Is(err, syscall.EPERM):
		return !isZombie(pid), nil
	case errors.Is(err, os.ErrProcessDone), errors.Is(err, syscall.ESRCH):
		return false, nil
	}
	return false, err
}

// Identity describes a process instance beyond its pid, so a recycled pid is
// not mistaken for the process that was recorded. An empty identity means the
// platform cannot tell instances apart.
type Identity struct {
	StartTime string `yaml:"start_time,omitempty"`
}

// Matches compares two identities; unknown identities match anything.
func (i Identity) Matches(other Identity) bool {
	if i.StartTime == "" || other.StartTime == "" {
		return true
	}
	return i.StartTime == other.StartTime
}

// ProcessIdentity returns the identity of a running process.
func ProcessIdentity(pid int) (Identity, error) {
	startTime, err := processStartTime(pid)
	if err != nil {
		return Identity{}, err
	}
	return Identity{StartTime: startTime}, nil
}
