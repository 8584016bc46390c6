package resourcelimits

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/core-tools/hsu-memcached/pkg/errors"
)

// Limits maps an OS resource limit name (e.g. "nofile") to a value applied
// as both the soft and the hard limit.
type Limits map[string]uint64

// ResourceEnforcer applies resource limits to the current process.
type ResourceEnforcer interface {
	// ApplyLimits applies every limit, failing on the first one that cannot be set
	ApplyLimits(limits Limits) error

	// SupportsLimit checks if a limit name is known on the current platform
	SupportsLimit(name string) bool
}

// CanonicalName normalizes "RLIMIT_NOFILE", "Nofile" and "nofile" to "nofile".
func CanonicalName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.TrimPrefix(name, "rlimit_")
}

// resourceFor returns the platform resource id for a limit name.
func resourceFor(name string) (int, bool) {
	resource, ok := platformResources[CanonicalName(name)]
	return resource, ok
}

// SupportedNames returns the limit names known on this platform, sorted.
func SupportedNames() []string {
	names := make([]string, 0, len(platformResources))
	for name := range platformResources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Names returns the limit names in deterministic order.
func (l Limits) Names() []string {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateLimits reports every unknown limit name.
func ValidateLimits(limits Limits) error {
	collection := errors.NewErrorCollection()
	for _, name := range limits.Names() {
		if _, ok := resourceFor(name); !ok {
			collection.Add(errors.NewValidationError(
				fmt.Sprintf("unsupported resource limit: %s", name), nil,
			).WithContext("supported", strings.Join(SupportedNames(), ", ")))
		}
	}
	if !collection.HasErrors() {
		return nil
	}
	return errors.NewValidationError("invalid resource limits", collection)
}

// FormatArgs renders limits as "name=value" pairs in deterministic order.
func FormatArgs(limits Limits) []string {
	args := make([]string, 0, len(limits))
	for _, name := range limits.Names() {
		args = append(args, fmt.Sprintf("%s=%d", CanonicalName(name), limits[name]))
	}
	return args
}

// ParseArgs is the inverse of FormatArgs.
func ParseArgs(args []string) (Limits, error) {
	limits := make(Limits, len(args))
	for _, arg := range args {
		name, value, found := strings.Cut(arg, "=")
		if !found || name == "" {
			return nil, errors.NewValidationError("resource limit must be name=value: "+arg, nil)
		}
		parsed, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return nil, errors.NewValidationError("invalid resource limit value: "+arg, err)
		}
		limits[CanonicalName(name)] = parsed
	}
	return limits, nil
}
