//go:build !windows

package process

import (
	"syscall"
)

func defaultTerminationStrategy() TerminationStrategy {
	return TerminationStrategyGracefulThenForceful
}

// terminateProcessTree sends SIGTERM to the process group (negative PID)
// so the entire process tree gets the signal
func terminateProcessTree(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// killProcessTree sends SIGKILL to the process group
func killProcessTree(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
