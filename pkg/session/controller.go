package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/core-tools/hsu-devsession/pkg/errors"
	"github.com/core-tools/hsu-devsession/pkg/logging"
	"github.com/core-tools/hsu-devsession/pkg/ports"
	"github.com/core-tools/hsu-devsession/pkg/process"
	"github.com/core-tools/hsu-devsession/pkg/proxy"
	"github.com/core-tools/hsu-devsession/pkg/readiness"
	"github.com/core-tools/hsu-devsession/pkg/services"
)

// SessionState represents the current lifecycle phase of a session
type SessionState string

const (
	// SessionStateIdle is the initial state before Start() is called
	SessionStateIdle SessionState = "idle"

	// SessionStateAllocating means the session is resolving its port set
	SessionStateAllocating SessionState = "allocating"

	// SessionStateSpawning means the child services are being started
	SessionStateSpawning SessionState = "spawning"

	// SessionStateProbing means the session is waiting for the services to answer
	SessionStateProbing SessionState = "probing"

	// SessionStateProxyStarting means the proxy gateway is binding its listener
	SessionStateProxyStarting SessionState = "proxy_starting"

	// SessionStateRunning means the session is serving through the proxy
	SessionStateRunning SessionState = "running"

	// SessionStateShuttingDown means the session is tearing everything down
	SessionStateShuttingDown SessionState = "shutting_down"

	// SessionStateStopped means the session has stopped cleanly
	SessionStateStopped SessionState = "stopped"

	// SessionStateFailed means the session gave up, reachable from any state
	SessionStateFailed SessionState = "failed"
)

// PortAssignment is the set of ports resolved for one session run
type PortAssignment struct {
	Proxy       int
	Support     int
	Application int
}

const defaultForceShutdownTimeout = 30 * time.Second

// Controller drives one development session through its lifecycle: resolve
// ports, spawn the services, wait for readiness, put the gateway in front.
type Controller struct {
	config     *SessionConfig
	allocator  *ports.Allocator
	probe      *readiness.Probe
	supervisor *services.Supervisor
	logger     logging.Logger

	mutex       sync.Mutex
	state       SessionState
	assignment  PortAssignment
	gateway     *proxy.Gateway
	application *services.Handle
	support     *services.Handle
	shutdown    bool
}

func NewController(config *SessionConfig, stdio process.StdioMode, logger logging.Logger) (*Controller, error) {
	if config == nil {
		return nil, errors.NewValidationError("configuration cannot be nil", nil)
	}

	allocator := ports.NewAllocator(ports.AllocatorOptions{
		Host: config.Session.Host,
	}, subLogger("ports", logger))

	probe := readiness.NewProbe(readiness.ProbeOptions{
		Timeout: config.Session.ReadinessTimeout,
	}, subLogger("readiness", logger))

	supervisor := services.NewSupervisor(services.SupervisorOptions{
		Stdio:           stdio,
		GracefulTimeout: config.Session.GracefulTimeout,
	}, subLogger("services", logger))

	return &Controller{
		config:     config,
		allocator:  allocator,
		probe:      probe,
		supervisor: supervisor,
		logger:     logger,
		state:      SessionStateIdle,
	}, nil
}

// subLogger derives a component logger from the session logger
func subLogger(component string, logger logging.Logger) logging.Logger {
	return logging.NewLogger(component+": ", logging.LogFuncs{
		Debugf: logger.Debugf,
		Infof:  logger.Infof,
		Warnf:  logger.Warnf,
		Errorf: logger.Errorf,
	})
}

// Start brings the session up. On any failure it cleans up whatever was
// already started and returns the root error.
func (c *Controller) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mutex.Lock()
	if c.state != SessionStateIdle {
		currentState := c.state
		c.mutex.Unlock()
		return errors.NewValidationError(
			fmt.Sprintf("session can only be started from idle state, current state: %s", currentState),
			nil,
		)
	}
	c.state = SessionStateAllocating
	c.mutex.Unlock()

	c.logger.Infof("Starting development session...")

	// 1. Resolve the port set, preferred ports may be taken
	assignment, err := c.allocatePorts()
	if err != nil {
		return c.fail(err)
	}

	c.mutex.Lock()
	c.assignment = assignment
	c.mutex.Unlock()

	c.logger.Infof("Ports resolved, proxy: %d, support: %d, application: %d",
		assignment.Proxy, assignment.Support, assignment.Application)

	// 2. Spawn the child services concurrently
	c.setState(SessionStateSpawning)

	host := c.config.Session.Host

	var (
		spawnWg        sync.WaitGroup
		support        *services.Handle
		supportErr     error
		application    *services.Handle
		applicationErr error
	)
	spawnWg.Add(2)
	go func() {
		defer spawnWg.Done()
		support, supportErr = c.supervisor.SpawnSupport(ctx, c.config.Support, host, assignment.Support)
	}()
	go func() {
		defer spawnWg.Done()
		application, applicationErr = c.supervisor.SpawnApplication(ctx, c.config.Application, assignment.Application)
	}()
	spawnWg.Wait()

	// Record whatever came up before inspecting the errors, a half-spawned
	// session still needs its cleanup
	c.setSupport(support)
	c.setApplication(application)

	if supportErr != nil {
		return c.fail(supportErr)
	}
	if applicationErr != nil {
		return c.fail(applicationErr)
	}

	// 3. Wait until both services answer
	c.setState(SessionStateProbing)

	if err := c.probeServices(ctx, assignment); err != nil {
		return c.fail(err)
	}

	// 4. Put the gateway in front
	c.setState(SessionStateProxyStarting)

	gateway, err := proxy.NewGateway(proxy.Configuration{
		BindHost:      host,
		TargetOrigin:  originURL(host, assignment.Application),
		SupportOrigin: originURL(host, assignment.Support),
		AssetPaths:    c.config.Proxy.AssetPaths,
		Fragments:     c.config.Proxy.Fragments,
	}, subLogger("proxy", c.logger))
	if err != nil {
		return c.fail(err)
	}
	c.setGateway(gateway)

	if err := gateway.Start(assignment.Proxy); err != nil {
		return c.fail(err)
	}

	c.setState(SessionStateRunning)
	c.logger.Infof("Development session is running, proxy: %s", c.ProxyURL())
	return nil
}

// Shutdown tears the session down: gateway first so nothing reaches the
// services while they exit, then both child services. Calling Shutdown
// again is a no-op.
func (c *Controller) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mutex.Lock()
	if c.shutdown {
		c.mutex.Unlock()
		c.logger.Debugf("Session shutdown already done")
		return nil
	}
	c.shutdown = true
	c.state = SessionStateShuttingDown
	c.mutex.Unlock()

	c.logger.Infof("Shutting down development session...")

	// Bound the whole teardown, an unresponsive child must not hang the exit
	ctx, cancel := context.WithTimeout(ctx, c.forceShutdownTimeout())
	defer cancel()

	err := c.cleanup(ctx)

	c.setState(SessionStateStopped)

	if err != nil {
		c.logger.Errorf("Session shutdown finished with errors: %v", err)
		return err
	}

	c.logger.Infof("Development session stopped")
	return nil
}

// Watch reports a failure of a running session: a service exiting on its
// own or the gateway dropping its listener. Watchers stop when ctx is
// cancelled, nothing is reported for a session being shut down.
func (c *Controller) Watch(ctx context.Context) <-chan error {
	watch := make(chan error, 1)

	c.mutex.Lock()
	gateway := c.gateway
	application := c.application
	support := c.support
	c.mutex.Unlock()

	notify := func(err error) {
		select {
		case watch <- err:
		default:
		}
	}

	watchHandle := func(handle *services.Handle) {
		select {
		case <-handle.Done():
			if handle.Terminated() {
				return
			}
			err := errors.NewProcessError(
				fmt.Sprintf("%s service exited unexpectedly", handle.Kind()),
				handle.ExitError(),
			).WithContext("pid", handle.PID())
			notify(err)
		case <-ctx.Done():
		}
	}

	if application != nil {
		go watchHandle(application)
	}
	if support != nil {
		go watchHandle(support)
	}
	if gateway != nil {
		go func() {
			select {
			case err := <-gateway.ServeError():
				notify(err)
			case <-ctx.Done():
			}
		}()
	}

	return watch
}

// GetState returns the current state of the session
func (c *Controller) GetState() SessionState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Assignment returns the resolved port set, zero before allocation
func (c *Controller) Assignment() PortAssignment {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.assignment
}

// ProxyURL returns the browser-facing URL, empty before allocation
func (c *Controller) ProxyURL() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.assignment.Proxy == 0 {
		return ""
	}
	return originURL(c.config.Session.Host, c.assignment.Proxy)
}

func (c *Controller) allocatePorts() (PortAssignment, error) {
	resolved, err := c.allocator.Allocate([]int{
		c.config.Session.ProxyPort,
		c.config.Session.SupportPort,
		c.config.Session.ApplicationPort,
	})
	if err != nil {
		return PortAssignment{}, err
	}

	return PortAssignment{
		Proxy:       resolved[0],
		Support:     resolved[1],
		Application: resolved[2],
	}, nil
}

// probeServices waits for both services concurrently. The first failure
// cancels the sibling probe, there is no point waiting out its timeout.
func (c *Controller) probeServices(ctx context.Context, assignment PortAssignment) error {
	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	host := c.config.Session.Host

	healthPath := c.config.Support.HealthPath
	if healthPath == "" {
		healthPath = services.DefaultHealthPath
	}
	healthURL := originURL(host, assignment.Support) + healthPath

	type probeResult struct {
		service string
		err     error
	}

	var wg sync.WaitGroup
	results := make(chan probeResult, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := c.probe.AwaitPort(probeCtx, host, assignment.Application); err != nil {
			cancel()
			results <- probeResult{service: "application", err: err}
		}
	}()
	go func() {
		defer wg.Done()
		if err := c.probe.AwaitHTTP(probeCtx, healthURL); err != nil {
			cancel()
			results <- probeResult{service: "support", err: err}
		}
	}()

	wg.Wait()
	close(results)

	// Prefer the root failure over the cancellation it caused on the sibling
	var probeErr error
	for result := range results {
		c.logger.Errorf("Readiness probe failed, service: %s, error: %v", result.service, result.err)
		if probeErr == nil || (errors.IsCancelledError(probeErr) && !errors.IsCancelledError(result.err)) {
			probeErr = result.err
		}
	}
	return probeErr
}

// fail cleans up whatever was already started and reports the root error.
// The start context may already be cancelled, so teardown runs on a fresh
// bounded one.
func (c *Controller) fail(err error) error {
	c.logger.Errorf("Development session start failed: %v", err)

	c.mutex.Lock()
	c.shutdown = true
	c.mutex.Unlock()

	cleanupCtx, cancel := context.WithTimeout(context.Background(), c.forceShutdownTimeout())
	defer cancel()

	if cleanupErr := c.cleanup(cleanupCtx); cleanupErr != nil {
		c.logger.Errorf("Cleanup after failed start reported errors: %v", cleanupErr)
	}

	c.setState(SessionStateFailed)
	return err
}

func (c *Controller) cleanup(ctx context.Context) error {
	c.mutex.Lock()
	gateway := c.gateway
	application := c.application
	support := c.support
	c.mutex.Unlock()

	errorCollection := errors.NewErrorCollection()

	if gateway != nil {
		if err := gateway.Stop(ctx); err != nil {
			errorCollection.Add(errors.NewNetworkError("failed to stop proxy gateway", err))
		}
	}

	if application != nil {
		if err := c.supervisor.Terminate(ctx, application); err != nil {
			errorCollection.Add(errors.NewProcessError("failed to terminate application service", err))
		}
	}
	if support != nil {
		if err := c.supervisor.Terminate(ctx, support); err != nil {
			errorCollection.Add(errors.NewProcessError("failed to terminate support service", err))
		}
	}

	return errorCollection.ToError()
}

func (c *Controller) forceShutdownTimeout() time.Duration {
	timeout := c.config.Session.ForceShutdownTimeout
	if timeout <= 0 {
		timeout = defaultForceShutdownTimeout // Timeout super-default
	}
	return timeout
}

func (c *Controller) setState(state SessionState) {
	c.mutex.Lock()
	c.state = state
	c.mutex.Unlock()

	c.logger.Debugf("Session state: %s", state)
}

func (c *Controller) setGateway(gateway *proxy.Gateway) {
	c.mutex.Lock()
	c.gateway = gateway
	c.mutex.Unlock()
}

func (c *Controller) setApplication(handle *services.Handle) {
	c.mutex.Lock()
	c.application = handle
	c.mutex.Unlock()
}

func (c *Controller) setSupport(handle *services.Handle) {
	c.mutex.Lock()
	c.support = handle
	c.mutex.Unlock()
}

func originURL(host string, port int) string {
	return "http://" + net.JoinHostPort(host, strconv.Itoa(port))
}
