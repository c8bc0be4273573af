//go:build windows

package process

import (
	"os/exec"
	"strconv"
)

func defaultTerminationStrategy() TerminationStrategy {
	return TerminationStrategyForcefulTreeKill
}

// terminateProcessTree has no graceful form on Windows, both escalation
// steps take down the whole tree at once
func terminateProcessTree(pid int) error {
	return killProcessTree(pid)
}

// killProcessTree forcefully terminates the process and all of its children
func killProcessTree(pid int) error {
	return exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").Run()
}
