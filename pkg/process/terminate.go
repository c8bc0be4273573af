package process

import (
	"context"
	"time"

	"github.com/core-tools/hsu-devsession/pkg/errors"
	"github.com/core-tools/hsu-devsession/pkg/logging"
)

// TerminationStrategy selects how a child process tree is brought down
type TerminationStrategy string

const (
	// TerminationStrategyGracefulThenForceful signals the process group and
	// escalates to a kill after the graceful timeout
	TerminationStrategyGracefulThenForceful TerminationStrategy = "graceful_then_forceful"
	// TerminationStrategyForcefulTreeKill kills the whole process tree at once
	TerminationStrategyForcefulTreeKill TerminationStrategy = "forceful_tree_kill"
)

const (
	DefaultGracefulTimeout = 1000 * time.Millisecond

	// forcedExitTimeout caps how long we wait for the process to disappear
	// after a forceful kill
	forcedExitTimeout = 5 * time.Second
)

type TerminatorOptions struct {
	Strategy        TerminationStrategy `yaml:"strategy,omitempty"`
	GracefulTimeout time.Duration       `yaml:"graceful_timeout,omitempty"`
}

// Terminator brings down a child process tree. The done channel must be
// closed once the process has been reaped.
type Terminator interface {
	Terminate(ctx context.Context, pid int, done <-chan struct{}) error
}

func NewTerminator(options TerminatorOptions, logger logging.Logger) Terminator {
	strategy := options.Strategy
	if strategy == "" {
		strategy = defaultTerminationStrategy()
	}
	gracefulTimeout := options.GracefulTimeout
	if gracefulTimeout <= 0 {
		gracefulTimeout = DefaultGracefulTimeout
	}
	switch strategy {
	case TerminationStrategyForcefulTreeKill:
		return &forcefulTreeKill{logger: logger}
	default:
		return &gracefulThenForceful{gracefulTimeout: gracefulTimeout, logger: logger}
	}
}

type gracefulThenForceful struct {
	gracefulTimeout time.Duration
	logger          logging.Logger
}

func (t *gracefulThenForceful) Terminate(ctx context.Context, pid int, done <-chan struct{}) error {
	if running, _ := IsProcessRunning(pid); !running {
		t.logger.Debugf("Process is not running, nothing to terminate, PID: %d", pid)
		return nil
	}

	t.logger.Infof("Terminating process, PID: %d, graceful timeout: %v", pid, t.gracefulTimeout)

	if err := terminateProcessTree(pid); err != nil {
		t.logger.Warnf("Failed to send termination signal, PID: %d, error: %v", pid, err)
	} else {
		select {
		case <-done:
			t.logger.Infof("Process terminated gracefully, PID: %d", pid)
			return nil
		case <-time.After(t.gracefulTimeout):
			t.logger.Warnf("Process did not exit within %v, escalating to kill, PID: %d", t.gracefulTimeout, pid)
		case <-ctx.Done():
			t.logger.Warnf("Termination wait interrupted, escalating to kill, PID: %d", pid)
		}
	}

	return forceKill(pid, done, t.logger)
}

type forcefulTreeKill struct {
	logger logging.Logger
}

func (t *forcefulTreeKill) Terminate(ctx context.Context, pid int, done <-chan struct{}) error {
	if running, _ := IsProcessRunning(pid); !running {
		t.logger.Debugf("Process is not running, nothing to terminate, PID: %d", pid)
		return nil
	}

	t.logger.Infof("Killing process tree, PID: %d", pid)

	return forceKill(pid, done, t.logger)
}

func forceKill(pid int, done <-chan struct{}, logger logging.Logger) error {
	if err := killProcessTree(pid); err != nil {
		// The tree may have exited between the signal and the kill
		if running, _ := IsProcessRunning(pid); !running {
			logger.Debugf("Process exited before kill, PID: %d", pid)
			return nil
		}
		logger.Errorf("Failed to kill process tree, PID: %d, error: %v", pid, err)
		return errors.NewProcessError("failed to kill process tree", err).WithContext("pid", pid)
	}

	select {
	case <-done:
		logger.Infof("Process killed, PID: %d", pid)
		return nil
	case <-time.After(forcedExitTimeout):
		logger.Errorf("Process still present after kill, PID: %d", pid)
		return errors.NewTimeoutError("process did not exit after kill", nil).WithContext("pid", pid)
	}
}
