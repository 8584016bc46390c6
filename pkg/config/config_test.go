package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/core-tools/hsu-memcached/pkg/errors"
	"github.com/core-tools/hsu-memcached/pkg/resourcelimits"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func violations(t *testing.T, err error) []error {
	t.Helper()
	require.True(t, errors.IsValidationError(err), "expected validation error, got %v", err)

	var collection *errors.ErrorCollection
	require.True(t, stderrors.As(err, &collection))
	return collection.Errors
}

func TestNew_Defaults(t *testing.T) {
	cfg, err := New(Params{Port: 11211, PIDFile: "/run/memcached/11211.pid"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, DefaultBinary, cfg.Binary())
	assert.Equal(t, DefaultHost, cfg.Host())
	assert.Equal(t, 11211, cfg.Port())
	assert.Equal(t, "/run/memcached/11211.pid", cfg.PIDFile())
	assert.Equal(t, 640, cfg.MaxSizeMB())
	assert.Equal(t, 0, cfg.Verbose())
	assert.Equal(t, "root", cfg.User())
	assert.Empty(t, cfg.LogFile())
	assert.Empty(t, cfg.SupervisorLog())
	assert.Empty(t, cfg.OtherArgv())
	assert.Nil(t, cfg.Ulimit())

	_, ok := cfg.MaxConnections()
	assert.False(t, ok)
}

func TestNew_AllFields(t *testing.T) {
	cfg, err := New(Params{
		Binary:         "/opt/memcached/bin/memcached",
		Host:           "10.0.0.5",
		Port:           1358,
		PIDFile:        "/tmp/test.pid",
		MaxSizeMB:      intPtr(10),
		Verbose:        intPtr(2),
		MaxConnections: intPtr(2048),
		LogFile:        "/tmp/memcached.log",
		UbicLog:        "/tmp/ubic.log",
		User:           "nobody",
		Group:          "nogroup",
		Ulimit:         map[string]uint64{"RLIMIT_NOFILE": 4096},
		OtherArgv:      "-U 0 -t 4",
	}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "/opt/memcached/bin/memcached", cfg.Binary())
	assert.Equal(t, "10.0.0.5", cfg.Host())
	assert.Equal(t, 10, cfg.MaxSizeMB())
	assert.Equal(t, 2, cfg.Verbose())
	limit, ok := cfg.MaxConnections()
	assert.True(t, ok)
	assert.Equal(t, 2048, limit)
	assert.Equal(t, "/tmp/memcached.log", cfg.LogFile())
	assert.Equal(t, "/tmp/ubic.log", cfg.SupervisorLog())
	assert.Equal(t, "nobody", cfg.User())
	assert.Equal(t, "nogroup", cfg.Group())
	assert.Equal(t, resourcelimits.Limits{"nofile": 4096}, cfg.Ulimit())
	assert.Equal(t, "-U 0 -t 4", cfg.OtherArgv())
}

func TestNew_SupervisorLogOverridesUbicLog(t *testing.T) {
	cfg, err := New(Params{
		Port:          1,
		PIDFile:       "/tmp/1.pid",
		UbicLog:       "/tmp/a.log",
		SupervisorLog: "/tmp/b.log",
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/b.log", cfg.SupervisorLog())
}

func TestNew_DerivesPIDFile(t *testing.T) {
	t.Run("from options", func(t *testing.T) {
		cfg, err := New(Params{Port: 11211}, Options{PIDDir: "/run/memcached"})
		require.NoError(t, err)
		assert.Equal(t, "/run/memcached/11211.pid", cfg.PIDFile())
	})

	t.Run("params win over options", func(t *testing.T) {
		cfg, err := New(Params{Port: 11211, PIDDir: "/var/run/mc"}, Options{PIDDir: "/run/memcached"})
		require.NoError(t, err)
		assert.Equal(t, "/var/run/mc/11211.pid", cfg.PIDFile())
	})

	t.Run("explicit pidfile wins", func(t *testing.T) {
		cfg, err := New(Params{Port: 11211, PIDFile: "/tmp/x.pid"}, Options{PIDDir: "/run/memcached"})
		require.NoError(t, err)
		assert.Equal(t, "/tmp/x.pid", cfg.PIDFile())
	})

	t.Run("not derivable", func(t *testing.T) {
		_, err := New(Params{Port: 11211}, Options{})
		errs := violations(t, err)
		require.Len(t, errs, 1)
		assert.Contains(t, errs[0].Error(), "pidfile is required")
	})
}

func TestNew_AggregatesViolations(t *testing.T) {
	_, err := New(Params{
		Port:           70000,
		PIDFile:        "relative.pid",
		MaxSizeMB:      intPtr(0),
		Verbose:        intPtr(3),
		MaxConnections: intPtr(-1),
		LogFile:        "memcached.log",
		Ulimit:         map[string]uint64{"bogus": 1},
	}, Options{})

	errs := violations(t, err)
	assert.Len(t, errs, 7)
	assert.Contains(t, err.Error(), "port must be between 1 and 65535")
	assert.Contains(t, err.Error(), "pidfile must be absolute")
	assert.Contains(t, err.Error(), "maxsize must be positive")
	assert.Contains(t, err.Error(), "verbose must be 0, 1 or 2")
	assert.Contains(t, err.Error(), "max_connections must be positive")
	assert.Contains(t, err.Error(), "logfile must be absolute")
	assert.Contains(t, err.Error(), "unsupported resource limit: bogus")
}

func TestNew_Binary(t *testing.T) {
	tests := []struct {
		binary string
		valid  bool
	}{
		{"/usr/local/bin/memcached", true},
		{"memcached", true},
		{"bin/memcached", false},
		{"./memcached", false},
	}

	for _, tt := range tests {
		t.Run(tt.binary, func(t *testing.T) {
			cfg, err := New(Params{Port: 11211, PIDFile: "/run/11211.pid", Binary: tt.binary}, Options{})
			if tt.valid {
				require.NoError(t, err)
				assert.Equal(t, tt.binary, cfg.Binary())
				return
			}
			errs := violations(t, err)
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0].Error(), "binary must be absolute or a command name")
		})
	}
}

func TestNew_ZeroPortIsInvalid(t *testing.T) {
	_, err := New(Params{PIDFile: "/tmp/x.pid"}, Options{})
	errs := violations(t, err)
	require.Len(t, errs, 1)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memcached.yaml")
	content := `
port: 1358
maxsize: 10
verbose: 2
logfile: /tmp/memcached-1358.log
ubic_log: /tmp/ubic-1358.log
user: nobody
ulimit:
  nofile: 1024
other_argv: "-U 0"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path, Options{PIDDir: "/tmp/pids"})
	require.NoError(t, err)

	assert.Equal(t, 1358, cfg.Port())
	assert.Equal(t, "/tmp/pids/1358.pid", cfg.PIDFile())
	assert.Equal(t, 10, cfg.MaxSizeMB())
	assert.Equal(t, 2, cfg.Verbose())
	assert.Equal(t, "/tmp/ubic-1358.log", cfg.SupervisorLog())
	assert.Equal(t, resourcelimits.Limits{"nofile": 1024}, cfg.Ulimit())
	assert.Equal(t, "-U 0", cfg.OtherArgv())
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"), Options{})
	assert.True(t, errors.IsIOError(err))

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [1, 2"), 0644))
	_, err = LoadFromFile(path, Options{})
	assert.True(t, errors.IsValidationError(err))
}

func TestUlimitReturnsCopy(t *testing.T) {
	cfg, err := New(Params{Port: 1, PIDFile: "/tmp/1.pid", Ulimit: map[string]uint64{"nofile": 10}}, Options{})
	require.NoError(t, err)

	limits := cfg.Ulimit()
	limits["nofile"] = 20
	assert.Equal(t, uint64(10), cfg.Ulimit()["nofile"])
}

func TestGroup(t *testing.T) {
	cfg, err := New(Params{Port: 1, PIDFile: "/tmp/1.pid", Group: "memcache"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, "memcache", cfg.Group())

	cfg, err = New(Params{Port: 1, PIDFile: "/tmp/1.pid", User: "no-such-user-hsu"}, Options{})
	require.NoError(t, err)
	if runtime.GOOS == "darwin" {
		assert.Equal(t, "wheel", cfg.Group())
	} else {
		assert.Equal(t, "root", cfg.Group())
	}
}
