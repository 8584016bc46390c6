package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/core-tools/hsu-memcached/pkg/errors"
	"github.com/core-tools/hsu-memcached/pkg/resourcelimits"
)

// validateParams checks every field and aggregates all violations.
func validateParams(params *Params) error {
	collection := errors.NewErrorCollection()

	collection.Add(validatePort(params.Port))
	collection.Add(validatePIDFile(params.PIDFile))
	collection.Add(validateBinary(params.Binary))
	collection.Add(validateAbsolutePath("logfile", params.LogFile, true))
	collection.Add(validateAbsolutePath("supervisor_log", params.SupervisorLog, true))
	collection.Add(validateAbsolutePath("pid_dir", params.PIDDir, true))

	if *params.MaxSizeMB <= 0 {
		collection.Add(errors.NewValidationError(
			fmt.Sprintf("maxsize must be positive, got %d", *params.MaxSizeMB), nil))
	}
	if params.Verbose != nil && (*params.Verbose < 0 || *params.Verbose > 2) {
		collection.Add(errors.NewValidationError(
			fmt.Sprintf("verbose must be 0, 1 or 2, got %d", *params.Verbose), nil))
	}
	if params.MaxConnections != nil && *params.MaxConnections <= 0 {
		collection.Add(errors.NewValidationError(
			fmt.Sprintf("max_connections must be positive, got %d", *params.MaxConnections), nil))
	}
	if len(params.Ulimit) > 0 {
		collection.Add(resourcelimits.ValidateLimits(params.Ulimit))
	}

	if !collection.HasErrors() {
		return nil
	}
	return errors.NewValidationError("invalid service configuration", collection).
		WithContext("violations", len(collection.Errors))
}

func validatePort(port int) error {
	if port <= 0 || port > 65535 {
		return errors.NewValidationError(fmt.Sprintf("port must be between 1 and 65535, got %d", port), nil)
	}
	return nil
}

func validatePIDFile(pidFile string) error {
	if pidFile == "" {
		return errors.NewValidationError("pidfile is required when no pid directory is configured", nil)
	}
	if !filepath.IsAbs(pidFile) {
		return errors.NewValidationError("pidfile must be absolute: "+pidFile, nil)
	}
	return nil
}

// validateBinary accepts an absolute path or a bare command name looked up
// in PATH at launch. Relative paths would depend on the launcher's cwd.
func validateBinary(binary string) error {
	if binary == "" {
		return errors.NewValidationError("binary is required", nil)
	}
	if filepath.IsAbs(binary) || !strings.ContainsRune(binary, filepath.Separator) {
		return nil
	}
	return errors.NewValidationError("binary must be absolute or a command name: "+binary, nil)
}

func validateAbsolutePath(field, path string, optional bool) error {
	if path == "" {
		if optional {
			return nil
		}
		return errors.NewValidationError(field+" is required", nil)
	}
	if !filepath.IsAbs(path) {
		return errors.NewValidationError(field+" must be absolute: "+path, nil)
	}
	return nil
}
