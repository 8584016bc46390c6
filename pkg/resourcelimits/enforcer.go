//go:build unix

package resourcelimits

import (
	"fmt"

	"github.com/core-tools/hsu-memcached/pkg/errors"
	"github.com/core-tools/hsu-memcached/pkg/logging"

	"golang.org/x/sys/unix"
)

// resourceEnforcer implements ResourceEnforcer with setrlimit(2)
type resourceEnforcer struct {
	logger logging.Logger
}

func NewResourceEnforcer(logger logging.Logger) ResourceEnforcer {
	return &resourceEnforcer{
		logger: logger,
	}
}

// ApplyLimits sets soft and hard limits of the calling process. Limits are
// applied in name order; the first failure aborts the rest.
func (re *resourceEnforcer) ApplyLimits(limits Limits) error {
	if len(limits) == 0 {
		return nil
	}

	for _, name := range limits.Names() {
		value := limits[name]

		resource, ok := resourceFor(name)
		if !ok {
			return errors.NewResourceLimitError(fmt.Sprintf("unsupported resource limit %s", name), nil).
				WithContext("limit", name).WithContext("value", value)
		}

		rlimit := unix.Rlimit{Cur: value, Max: value}
		if err := unix.Setrlimit(resource, &rlimit); err != nil {
			re.logger.Errorf("Failed to set resource limit, limit: %s, value: %d, error: %v", name, value, err)
			return errors.NewResourceLimitError(fmt.Sprintf("failed to set %s to %d", name, value), err).
				WithContext("limit", name).WithContext("value", value)
		}

		re.logger.Debugf("Resource limit applied, limit: %s, value: %d", name, value)
	}

	return nil
}

func (re *resourceEnforcer) SupportsLimit(name string) bool {
	_, ok := resourceFor(name)
	return ok
}
