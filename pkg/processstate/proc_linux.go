//go:build linux

package processstate

import (
	"fmt"
	"os"
	"strings"
)

// readStat returns the fields of /proc/<pid>/stat that follow the command
// name; index 0 is the state, index 19 the start time in clock ticks.
func readStat(pid int) ([]string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return nil, err
	}

	// The command name is parenthesized and may itself contain spaces or ')'
	stat := string(data)
	end := strings.LastIndexByte(stat, ')')
	if end < 0 {
		return nil, fmt.Errorf("malformed stat for PID %d", pid)
	}

	fields := strings.Fields(stat[end+1:])
	if len(fields) < 20 {
		return nil, fmt.Errorf("short stat for PID %d", pid)
	}
	return fields, nil
}

func isZombie(pid int) bool {
	fields, err := readStat(pid)
	if err != nil {
		return false
	}
	return fields[0] == "Z" || fields[0] == "X"
}

func processStartTime(pid int) (string, error) {
	fields, err := readStat(pid)
	if err != nil {
		return "", err
	}
	return fields[19], nil
}
