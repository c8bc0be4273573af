package process

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/core-tools/hsu-devsession/pkg/errors"
	"github.com/core-tools/hsu-devsession/pkg/logging"
)

type ExecutionConfig struct {
	ExecutablePath   string        `yaml:"executable_path"`
	Args             []string      `yaml:"args,omitempty"`
	Environment      []string      `yaml:"environment,omitempty"`
	WorkingDirectory string        `yaml:"working_directory,omitempty"`
	WaitDelay        time.Duration `yaml:"wait_delay,omitempty"`
}

// StdioMode selects what happens to a child's output streams
type StdioMode string

const (
	// StdioModeVerbose inherits the parent's stdout and stderr
	StdioModeVerbose StdioMode = "verbose"
	// StdioModeQuiet discards stdout and pipes stderr back for filtering
	StdioModeQuiet StdioMode = "quiet"
)

type StdExecuteCmd func(ctx context.Context) (*os.Process, io.ReadCloser, error)

// NewStdExecuteCmd returns a closure that starts the configured executable.
// In quiet mode the returned ReadCloser is the child's stderr pipe, in
// verbose mode it is nil.
func NewStdExecuteCmd(execution ExecutionConfig, stdio StdioMode, id string, logger logging.Logger) StdExecuteCmd {
	return func(ctx context.Context) (*os.Process, io.ReadCloser, error) {
		// Validate context
		if ctx == nil {
			logger.Errorf("Context cannot be nil, id: %s", id)
			return nil, nil, errors.NewValidationError("context cannot be nil", nil).WithContext("id", id)
		}

		// Validate execution configuration
		if err := ValidateExecutionConfig(execution); err != nil {
			logger.Errorf("Execution configuration validation failed, id: %s, error: %v", id, err)
			return nil, nil, errors.NewValidationError("invalid execution configuration", err).WithContext("id", id)
		}

		// Check if the process is executable, and make it executable if it's not
		if err := ensureExecutable(execution.ExecutablePath); err != nil {
			return nil, nil, errors.NewPermissionError("failed to ensure process is executable", err).WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
		}

		workDir := execution.WorkingDirectory
		if workDir == "" {
			absPath, err := filepath.Abs(execution.ExecutablePath)
			if err != nil {
				return nil, nil, errors.NewIOError("failed to get absolute path", err).WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
			}
			workDir = filepath.Dir(absPath)
		}

		logger.Debugf("Executing process: id: %s, executable path: '%s', args: %v, working directory: '%s', stdio: %s",
			id, execution.ExecutablePath, execution.Args, workDir, stdio)

		env := os.Environ()
		for _, e := range execution.Environment {
			env = append(env, e)
		}

		cmd := exec.CommandContext(ctx, execution.ExecutablePath, execution.Args...)
		cmd.Dir = workDir
		cmd.Env = env

		// Platform-specific setup is handled in execute_windows.go or execute_unix.go
		setupProcessAttributes(cmd)

		// wait after sending the interrupt signal, before sending the kill signal
		cmd.WaitDelay = execution.WaitDelay

		var stderr io.ReadCloser
		switch stdio {
		case StdioModeVerbose:
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr
		default:
			// Stdout left nil goes to the null device
			pipe, err := cmd.StderrPipe()
			if err != nil {
				return nil, nil, errors.NewProcessError("failed to create stderr pipe", err).WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
			}
			stderr = pipe
		}

		err := cmd.Start()
		if err != nil {
			return nil, nil, errors.NewProcessError("failed to start the process", err).WithContext("id", id).WithContext("executable_path", execution.ExecutablePath)
		}

		logger.Infof("Successfully executed process, id: %s, PID: %d", id, cmd.Process.Pid)

		return cmd.Process, stderr, nil
	}
}

// ensureExecutable checks if a file is executable and makes it executable if it's not
func ensureExecutable(path string) error {
	// Check if file exists
	info, err := os.Stat(path)
	if err != nil {
		return errors.NewIOError("file does not exist", err).WithContext("path", path)
	}

	// On Windows, files with .exe, .bat, .cmd extensions are inherently executable
	if runtime.GOOS == "windows" {
		ext := filepath.Ext(path)
		if ext == ".exe" || ext == ".bat" || ext == ".cmd" {
			return nil // Already executable
		}
	}

	// Check if file is already executable
	mode := info.Mode()
	if mode&0111 != 0 { // Check if any execute bit is set
		return nil // Already executable
	}

	// Try to make it executable (only on Unix systems)
	if runtime.GOOS != "windows" {
		if err := os.Chmod(path, mode|0111); err != nil {
			return errors.NewPermissionError("failed to make file executable", err).WithContext("path", path)
		}
	}

	return nil
}
