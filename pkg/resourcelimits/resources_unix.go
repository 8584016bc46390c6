//go:build unix && !linux

package resourcelimits

import "golang.org/x/sys/unix"

// POSIX subset; memlock, nproc and rss are not portable.
var platformResources = map[string]int{
	"as":     unix.RLIMIT_AS,
	"core":   unix.RLIMIT_CORE,
	"cpu":    unix.RLIMIT_CPU,
	"data":   unix.RLIMIT_DATA,
	"fsize":  unix.RLIMIT_FSIZE,
	"nofile": unix.RLIMIT_NOFILE,
	"stack":  unix.RLIMIT_STACK,
}
