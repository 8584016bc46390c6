package processfile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-memcached/pkg/errors"
	"github.com/core-tools/hsu-memcached/pkg/logging"

	"gopkg.in/yaml.v3"
)

// ServiceContext selects the conventional runtime directory for pid files
type ServiceContext string

const (
	// SystemService runs as a system daemon
	SystemService ServiceContext = "system"

	// UserService runs under an unprivileged user
	UserService ServiceContext = "user"
)

// DerivePIDFilePath returns "<baseDir>/<port>.pid".
func DerivePIDFilePath(baseDir string, port int) string {
	return filepath.Join(baseDir, strconv.Itoa(port)+".pid")
}

// IdentityFilePath returns the sidecar path for a pid file: the ".pid"
// suffix, if any, is replaced by ".ident".
func IdentityFilePath(pidFile string) string {
	return strings.TrimSuffix(pidFile, ".pid") + ".ident"
}

// DefaultBaseDirectory returns the OS-appropriate runtime directory for pid
// files of the given service context.
func DefaultBaseDirectory(serviceContext ServiceContext) string {
	if serviceContext == UserService {
		if runtimeDir := os.Getenv("XDG_RUNTIME_DIR"); runtimeDir != "" {
			return runtimeDir
		}
		return os.TempDir()
	}

	if runtime.GOOS == "darwin" {
		return "/var/run"
	}
	// Modern standard is /run, with fallback to /var/run
	if _, err := os.Stat("/run"); err == nil {
		return "/run"
	}
	return "/var/run"
}

// Identity is the sidecar record written next to the pid file at launch.
type Identity struct {
	PID       int    `yaml:"pid"`
	StartTime string `yaml:"start_time,omitempty"`
	Binary    string `yaml:"binary,omitempty"`

	// LaunchID correlates the sidecar with supervisor log events
	LaunchID string `yaml:"launch_id,omitempty"`
}

// PIDFile manages one pid file and its identity sidecar.
type PIDFile struct {
	path   string
	logger logging.Logger
}

func NewPIDFile(path string, logger logging.Logger) *PIDFile {
	return &PIDFile{
		path:   path,
		logger: logger,
	}
}

func (f *PIDFile) Path() string {
	return f.path
}

func (f *PIDFile) IdentityPath() string {
	return IdentityFilePath(f.path)
}

// Write stores the pid as decimal text followed by a newline, then the
// identity sidecar. Both files are replaced atomically.
func (f *PIDFile) Write(pid int, identity Identity) error {
	f.logger.Debugf("Writing PID file, pid: %d, path: %s", pid, f.path)

	if err := ValidatePIDFileDirectory(f.path); err != nil {
		f.logger.Errorf("PID file directory validation failed, path: %s, error: %v", f.path, err)
		return err
	}

	if err := writeFileAtomic(f.path, []byte(fmt.Sprintf("%d\n", pid))); err != nil {
		f.logger.Errorf("Failed to write PID file, pid: %d, path: %s, error: %v", pid, f.path, err)
		return errors.NewIOError("failed to write PID file", err).WithContext("pid_file", f.path).WithContext("pid", pid)
	}

	identity.PID = pid
	data, err := yaml.Marshal(&identity)
	if err != nil {
		return errors.NewInternalError("failed to encode process identity", err)
	}
	if err := writeFileAtomic(f.IdentityPath(), data); err != nil {
		f.logger.Errorf("Failed to write identity file, pid: %d, path: %s, error: %v", pid, f.IdentityPath(), err)
		os.Remove(f.path)
		return errors.NewIOError("failed to write identity file", err).WithContext("identity_file", f.IdentityPath())
	}

	f.logger.Infof("PID file written, pid: %d, path: %s", pid, f.path)
	return nil
}

// Read returns the pid stored in the file. A missing file is reported as an
// IO error wrapping os.ErrNotExist.
func (f *PIDFile) Read() (int, error) {
	content, err := os.ReadFile(f.path)
	if err != nil {
		return 0, errors.NewIOError("failed to read PID file", err).WithContext("pid_file", f.path)
	}
	return ParsePID(strings.TrimSpace(string(content)))
}

// ReadIdentity returns the sidecar record. ok is false when there is none.
func (f *PIDFile) ReadIdentity() (identity Identity, ok bool, err error) {
	data, err := os.ReadFile(f.IdentityPath())
	if os.IsNotExist(err) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, errors.NewIOError("failed to read identity file", err).WithContext("identity_file", f.IdentityPath())
	}
	if err := yaml.Unmarshal(data, &identity); err != nil {
		return Identity{}, false, errors.NewValidationError("invalid identity file", err).WithContext("identity_file", f.IdentityPath())
	}
	return identity, true, nil
}

// Exists reports whether the pid file is present.
func (f *PIDFile) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Remove deletes the pid file and the sidecar. Missing files are not an error.
func (f *PIDFile) Remove() error {
	collection := errors.NewErrorCollection()
	for _, path := range []string{f.path, f.IdentityPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			collection.Add(errors.NewIOError("failed to remove file", err).WithContext("path", path))
		}
	}
	if collection.HasErrors() {
		return collection
	}
	f.logger.Debugf("PID file removed, path: %s", f.path)
	return nil
}

// ParsePID validates a textual pid.
func ParsePID(pidStr string) (int, error) {
	if pidStr == "" {
		return 0, errors.NewValidationError("PID cannot be empty", nil)
	}

	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, errors.NewValidationError("invalid PID format: "+pidStr, err)
	}

	if pid <= 0 {
		return 0, errors.NewValidationError("PID must be positive: "+pidStr, nil)
	}

	return pid, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Chmod(0644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// ValidatePIDFileDirectory checks that the pid file directory exists (creating
// it if needed) and is writable.
func ValidatePIDFileDirectory(pidFilePath string) error {
	dir := filepath.Dir(pidFilePath)

	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.NewIOError("failed to access PID file directory", err).WithContext("directory", dir)
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.NewIOError("failed to create PID file directory", err).WithContext("directory", dir)
		}
	} else if !info.IsDir() {
		return errors.NewValidationError("PID file path is not a directory", nil).WithContext("path", dir)
	}

	testFile, err := os.CreateTemp(dir, ".write_test")
	if err != nil {
		return errors.NewPermissionError("PID file directory is not writable", err).WithContext("directory", dir)
	}
	testFile.Close()
	os.Remove(testFile.Name())

	return nil
}
