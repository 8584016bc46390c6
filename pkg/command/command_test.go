package command

import (
	"testing"

	"github.com/core-tools/hsu-memcached/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func mustConfig(t *testing.T, params config.Params) *config.ServiceConfig {
	t.Helper()
	if params.PIDFile == "" {
		params.PIDFile = "/tmp/memcached-test.pid"
	}
	cfg, err := config.New(params, config.Options{})
	require.NoError(t, err)
	return cfg
}

func TestBuild(t *testing.T) {
	tests := []struct {
		name     string
		params   config.Params
		expected []string
	}{
		{
			name:     "defaults",
			params:   config.Params{Port: 11211},
			expected: []string{"-u", "root", "-p", "11211", "-m", "640"},
		},
		{
			name:     "non-root user",
			params:   config.Params{Port: 11211, User: "memcache"},
			expected: []string{"-p", "11211", "-m", "640"},
		},
		{
			name: "verbose 1 with max connections",
			params: config.Params{
				Port: 1358, MaxSizeMB: intPtr(10), Verbose: intPtr(1), MaxConnections: intPtr(512), User: "nobody",
			},
			expected: []string{"-p", "1358", "-m", "10", "-c", "512", "-v"},
		},
		{
			name:     "verbose 2",
			params:   config.Params{Port: 1358, MaxSizeMB: intPtr(10), Verbose: intPtr(2)},
			expected: []string{"-u", "root", "-p", "1358", "-m", "10", "-vv"},
		},
		{
			name:     "verbose 0 adds nothing",
			params:   config.Params{Port: 1358, Verbose: intPtr(0), User: "nobody"},
			expected: []string{"-p", "1358", "-m", "640"},
		},
		{
			name:     "other argv appended verbatim and unsplit",
			params:   config.Params{Port: 1358, User: "nobody", Verbose: intPtr(2), OtherArgv: "-U 0 -t 4"},
			expected: []string{"-p", "1358", "-m", "640", "-vv", "-U 0 -t 4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Build(mustConfig(t, tt.params)))
		})
	}
}

func TestBuild_UserFlagOnlyForRoot(t *testing.T) {
	for _, user := range []string{"nobody", "memcache", "Root", "admin"} {
		args := Build(mustConfig(t, config.Params{Port: 11211, User: user}))
		assert.NotContains(t, args, "-u", "user %s", user)
	}

	args := Build(mustConfig(t, config.Params{Port: 11211, User: "root"}))
	require.GreaterOrEqual(t, len(args), 2)
	assert.Equal(t, []string{"-u", "root"}, args[:2])
}

func TestBuild_IsPure(t *testing.T) {
	cfg := mustConfig(t, config.Params{Port: 1358, Verbose: intPtr(2), MaxConnections: intPtr(64), OtherArgv: "-U 0"})

	first := Build(cfg)
	first[0] = "mutated"
	second := Build(cfg)

	assert.Equal(t, "-u", second[0])
	assert.Equal(t, Build(cfg), second)
}

func TestArgv(t *testing.T) {
	cfg := mustConfig(t, config.Params{Binary: "/opt/bin/memcached", Port: 1358, User: "nobody"})

	assert.Equal(t, []string{"/opt/bin/memcached", "-p", "1358", "-m", "640"}, Argv(cfg))
}
