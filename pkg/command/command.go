package command

import (
	"strconv"

	"github.com/core-tools/hsu-memcached/pkg/config"
)

// Build renders the memcached arguments for cfg, without the binary path.
//
// Order is fixed: -u, -p, -m, -c, verbosity, then other_argv as a single
// trailing argument. -u is passed only for root: memcached refuses to run as
// root without it, and for any other user it cannot switch identity anyway.
func Build(cfg *config.ServiceConfig) []string {
	args := make([]string, 0, 10)

	if cfg.User() == config.RootUser {
		args = append(args, "-u", cfg.User())
	}

	args = append(args,
		"-p", strconv.Itoa(cfg.Port()),
		"-m", strconv.Itoa(cfg.MaxSizeMB()),
	)

	if limit, ok := cfg.MaxConnections(); ok {
		args = append(args, "-c", strconv.Itoa(limit))
	}

	switch {
	case cfg.Verbose() >= 2:
		args = append(args, "-vv")
	case cfg.Verbose() == 1:
		args = append(args, "-v")
	}

	if cfg.OtherArgv() != "" {
		args = append(args, cfg.OtherArgv())
	}

	return args
}

// Argv is Build prefixed with the binary path, ready for exec.
func Argv(cfg *config.ServiceConfig) []string {
	return append([]string{cfg.Binary()}, Build(cfg)...)
}
