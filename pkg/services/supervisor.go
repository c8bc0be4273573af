package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/core-tools/hsu-devsession/pkg/errors"
	"github.com/core-tools/hsu-devsession/pkg/logging"
	"github.com/core-tools/hsu-devsession/pkg/process"
)

// Handle tracks one spawned service process. It is owned by the Supervisor
// that created it.
type Handle struct {
	kind        UnitKind
	pid         int
	processInfo *os.Process
	done        chan struct{}

	mutex      sync.Mutex
	exitState  *os.ProcessState
	exitErr    error
	exited     bool
	terminated bool
}

func (h *Handle) Kind() UnitKind {
	return h.kind
}

func (h *Handle) PID() int {
	return h.pid
}

// Done is closed once the process has exited and been reaped
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exited reports whether the process exit has been observed
func (h *Handle) Exited() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.exited
}

// Terminated reports whether termination was requested for this handle
func (h *Handle) Terminated() bool {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return h.terminated
}

// ExitError returns what Wait recorded at exit, nil for a clean exit
func (h *Handle) ExitError() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if !h.exited {
		return nil
	}
	if h.exitErr != nil {
		return h.exitErr
	}
	if h.exitState != nil && !h.exitState.Success() {
		return fmt.Errorf("%s", h.exitState.String())
	}
	return nil
}

type SupervisorOptions struct {
	Stdio               process.StdioMode           `yaml:"stdio,omitempty"`
	TerminationStrategy process.TerminationStrategy `yaml:"termination_strategy,omitempty"`
	GracefulTimeout     time.Duration               `yaml:"graceful_timeout,omitempty"`
}

// Supervisor spawns and terminates the session's service processes
type Supervisor struct {
	options    SupervisorOptions
	terminator process.Terminator
	logger     logging.Logger
}

func NewSupervisor(options SupervisorOptions, logger logging.Logger) *Supervisor {
	if options.Stdio == "" {
		options.Stdio = process.StdioModeQuiet
	}
	terminator := process.NewTerminator(process.TerminatorOptions{
		Strategy:        options.TerminationStrategy,
		GracefulTimeout: options.GracefulTimeout,
	}, logger)
	return &Supervisor{
		options:    options,
		terminator: terminator,
		logger:     logger,
	}
}

// SpawnApplication starts the application service with the assigned port
// passed both as a trailing argument pair and in the environment
func (s *Supervisor) SpawnApplication(ctx context.Context, unit ApplicationUnit, port int) (*Handle, error) {
	portArg := unit.PortArg
	if portArg == "" {
		portArg = DefaultPortArg
	}
	portEnv := unit.PortEnv
	if portEnv == "" {
		portEnv = DefaultPortEnv
	}

	execution := unit.Execution
	execution.Args = append(append([]string{}, execution.Args...), portArg, strconv.Itoa(port))
	execution.Environment = append(append([]string{}, execution.Environment...), portEnv+"="+strconv.Itoa(port))

	return s.spawn(ctx, UnitKindApplication, execution)
}

// SpawnSupport starts the support service with its port, the bind host and
// the configured pass-through variables in the environment
func (s *Supervisor) SpawnSupport(ctx context.Context, unit SupportUnit, host string, port int) (*Handle, error) {
	portEnv := unit.PortEnv
	if portEnv == "" {
		portEnv = DefaultPortEnv
	}
	hostEnv := unit.HostEnv
	if hostEnv == "" {
		hostEnv = DefaultHostEnv
	}

	execution := unit.Execution
	env := append([]string{}, execution.Environment...)
	env = append(env, portEnv+"="+strconv.Itoa(port))
	env = append(env, hostEnv+"="+host)
	for _, name := range unit.PassEnvironment {
		// Absent variables are forwarded as empty, never an error
		env = append(env, name+"="+os.Getenv(name))
	}
	execution.Environment = env

	return s.spawn(ctx, UnitKindSupport, execution)
}

func (s *Supervisor) spawn(ctx context.Context, kind UnitKind, execution process.ExecutionConfig) (*Handle, error) {
	s.logger.Infof("Spawning %s service, executable: %s", kind, execution.ExecutablePath)

	executeCmd := process.NewStdExecuteCmd(execution, s.options.Stdio, string(kind), s.logger)
	proc, stderr, err := executeCmd(ctx)
	if err != nil {
		return nil, errors.NewSpawnError(fmt.Sprintf("failed to spawn %s service", kind), err).
			WithContext("executable_path", execution.ExecutablePath)
	}

	handle := &Handle{
		kind:        kind,
		pid:         proc.Pid,
		processInfo: proc,
		done:        make(chan struct{}),
	}

	if stderr != nil {
		go s.relayErrorLines(kind, stderr)
	}

	go func() {
		state, waitErr := proc.Wait()
		handle.mutex.Lock()
		handle.exited = true
		handle.exitState = state
		handle.exitErr = waitErr
		handle.mutex.Unlock()
		close(handle.done)
		s.logger.Debugf("Exit observed for %s service, PID: %d", kind, handle.pid)
	}()

	return handle, nil
}

// Terminate stops the handle's process. Calling it again, or on a handle
// whose process has already exited, is a no-op.
func (s *Supervisor) Terminate(ctx context.Context, handle *Handle) error {
	if handle == nil {
		return nil
	}

	handle.mutex.Lock()
	alreadyDown := handle.terminated || handle.exited
	handle.terminated = true
	handle.mutex.Unlock()

	if alreadyDown {
		s.logger.Debugf("%s service is already down, PID: %d", handle.kind, handle.pid)
		return nil
	}

	s.logger.Infof("Terminating %s service, PID: %d", handle.kind, handle.pid)
	return s.terminator.Terminate(ctx, handle.pid, handle.done)
}

func (s *Supervisor) relayErrorLines(kind UnitKind, stderr io.ReadCloser) {
	defer stderr.Close()
	if err := FilterErrorLines(stderr, os.Stderr, "["+string(kind)+"] "); err != nil {
		s.logger.Debugf("Stopped reading %s service stderr: %v", kind, err)
	}
}
