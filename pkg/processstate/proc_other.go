//go:build unix && !linux

package processstate

// Without procfs neither zombies nor start times are observable; the empty
// identity matches any process.

func isZombie(pid int) bool {
	return false
}

func processStartTime(pid int) (string, error) {
	return "", nil
}
