package config

import (
	"os"
	"os/user"
	"runtime"

	"github.com/core-tools/hsu-memcached/pkg/errors"
	"github.com/core-tools/hsu-memcached/pkg/processfile"
	"github.com/core-tools/hsu-memcached/pkg/resourcelimits"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBinary    = "/usr/bin/memcached"
	DefaultHost      = "127.0.0.1"
	DefaultMaxSizeMB = 640
	DefaultUser      = "root"
	RootUser         = "root"
)

// Params is the raw, user-facing parameter set, as read from YAML or flags.
// Optional integers are pointers to distinguish unset from zero.
type Params struct {
	Binary         string            `yaml:"binary,omitempty"`
	Host           string            `yaml:"host,omitempty"`
	Port           int               `yaml:"port"`
	PIDFile        string            `yaml:"pidfile,omitempty"`
	MaxSizeMB      *int              `yaml:"maxsize,omitempty"`
	Verbose        *int              `yaml:"verbose,omitempty"`
	MaxConnections *int              `yaml:"max_connections,omitempty"`
	LogFile        string            `yaml:"logfile,omitempty"`
	UbicLog        string            `yaml:"ubic_log,omitempty"`
	SupervisorLog  string            `yaml:"supervisor_log,omitempty"`
	User           string            `yaml:"user,omitempty"`
	Group          string            `yaml:"group,omitempty"`
	Ulimit         map[string]uint64 `yaml:"ulimit,omitempty"`
	OtherArgv      string            `yaml:"other_argv,omitempty"`
	PIDDir         string            `yaml:"pid_dir,omitempty"`
}

// Options carries construction inputs that do not belong to one service,
// e.g. the base directory pid files are derived under.
type Options struct {
	PIDDir        string
	DefaultBinary string
}

// ServiceConfig is the validated, immutable configuration of one memcached
// instance. Construct it with New or LoadFromFile.
type ServiceConfig struct {
	binary         string
	host           string
	port           int
	pidFile        string
	maxSizeMB      int
	verbose        int
	maxConnections int
	logFile        string
	supervisorLog  string
	user           string
	group          string
	ulimit         resourcelimits.Limits
	otherArgv      string
}

// New validates params and returns the resulting configuration. Every
// violated constraint is reported in a single validation error.
func New(params Params, opts Options) (*ServiceConfig, error) {
	setDefaults(&params, opts)

	if err := validateParams(&params); err != nil {
		return nil, err
	}

	cfg := &ServiceConfig{
		binary:        params.Binary,
		host:          params.Host,
		port:          params.Port,
		pidFile:       params.PIDFile,
		maxSizeMB:     *params.MaxSizeMB,
		logFile:       params.LogFile,
		supervisorLog: params.SupervisorLog,
		user:          params.User,
		group:         params.Group,
		otherArgv:     params.OtherArgv,
	}
	if params.Verbose != nil {
		cfg.verbose = *params.Verbose
	}
	if params.MaxConnections != nil {
		cfg.maxConnections = *params.MaxConnections
	}
	if len(params.Ulimit) > 0 {
		cfg.ulimit = make(resourcelimits.Limits, len(params.Ulimit))
		for name, value := range params.Ulimit {
			cfg.ulimit[resourcelimits.CanonicalName(name)] = value
		}
	}
	return cfg, nil
}

// LoadFromFile reads YAML parameters from filename and builds a configuration
func LoadFromFile(filename string, opts Options) (*ServiceConfig, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var params Params
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	return New(params, opts)
}

// setDefaults fills unset fields. The pid file is derived from the pid
// directory (params first, then options) and the port when not given.
func setDefaults(params *Params, opts Options) {
	if params.Binary == "" {
		params.Binary = opts.DefaultBinary
	}
	if params.Binary == "" {
		params.Binary = DefaultBinary
	}
	if params.Host == "" {
		params.Host = DefaultHost
	}
	if params.MaxSizeMB == nil {
		maxSize := DefaultMaxSizeMB
		params.MaxSizeMB = &maxSize
	}
	if params.SupervisorLog == "" {
		params.SupervisorLog = params.UbicLog
	}
	if params.User == "" {
		params.User = DefaultUser
	}
	if params.PIDDir == "" {
		params.PIDDir = opts.PIDDir
	}
	if params.PIDFile == "" && params.PIDDir != "" && params.Port > 0 {
		params.PIDFile = processfile.DerivePIDFilePath(params.PIDDir, params.Port)
	}
}

func (c *ServiceConfig) Binary() string    { return c.binary }
func (c *ServiceConfig) Host() string      { return c.host }
func (c *ServiceConfig) Port() int         { return c.port }
func (c *ServiceConfig) PIDFile() string   { return c.pidFile }
func (c *ServiceConfig) MaxSizeMB() int    { return c.maxSizeMB }
func (c *ServiceConfig) Verbose() int      { return c.verbose }
func (c *ServiceConfig) LogFile() string   { return c.logFile }
func (c *ServiceConfig) OtherArgv() string { return c.otherArgv }
func (c *ServiceConfig) User() string      { return c.user }

// MaxConnections returns the configured connection limit; ok is false when unset.
func (c *ServiceConfig) MaxConnections() (limit int, ok bool) {
	return c.maxConnections, c.maxConnections > 0
}

// SupervisorLog is the path the supervisor writes its own launch events to.
func (c *ServiceConfig) SupervisorLog() string { return c.supervisorLog }

// Ulimit returns a copy of the configured resource limits (nil when none).
func (c *ServiceConfig) Ulimit() resourcelimits.Limits {
	if len(c.ulimit) == 0 {
		return nil
	}
	limits := make(resourcelimits.Limits, len(c.ulimit))
	for name, value := range c.ulimit {
		limits[name] = value
	}
	return limits
}

// Group returns the configured group, or the platform default group of the
// configured user when none was given.
func (c *ServiceConfig) Group() string {
	if c.group != "" {
		return c.group
	}
	return DefaultGroup(c.user)
}

// DefaultGroup resolves the primary group of username, falling back to the
// superuser group of the platform.
func DefaultGroup(username string) string {
	if u, err := user.Lookup(username); err == nil {
		if g, err := user.LookupGroupId(u.Gid); err == nil {
			return g.Name
		}
	}
	if runtime.GOOS == "darwin" {
		return "wheel"
	}
	return "root"
}
