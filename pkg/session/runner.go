package session

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/core-tools/hsu-devsession/pkg/errors"
	"github.com/core-tools/hsu-devsession/pkg/logging"
	"github.com/core-tools/hsu-devsession/pkg/process"
)

// Run drives a whole session from a configuration file: start everything,
// announce the proxy URL, wait for a signal or a failure, tear down.
func Run(configFile string, verbose bool, logger logging.Logger) error {
	logger.Infof("Session runner starting...")

	// Log configuration file
	logger.Infof("Using CONFIGURATION FILE: %s", configFile)

	// Load configuration
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}

	// Validate configuration
	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	logger.Infof("Configuration loaded successfully from %s", configFile)
	logger.Infof("Application: %s, support: %s",
		config.Application.Execution.ExecutablePath, config.Support.Execution.ExecutablePath)

	// Quiet by default, the children own the terminal only when asked to
	stdio := process.StdioModeQuiet
	if verbose {
		stdio = process.StdioModeVerbose
	}

	controller, err := NewController(config, stdio, logger)
	if err != nil {
		return err
	}

	logger.Infof("Enabling signal handling...")

	// Enable signal handling before the slow startup path so an early
	// Ctrl+C still cleans up
	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig) // Unix signals not implemented on Windows
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startedAt := time.Now()

	startErr := make(chan error, 1)
	go func() {
		startErr <- controller.Start(ctx)
	}()

	select {
	case err := <-startErr:
		if err != nil {
			// The controller already cleaned up after itself
			return err
		}
	case receivedSignal := <-sig:
		logger.Infof("Session runner received signal during startup: %v", receivedSignal)
		cancel()
		<-startErr
		controller.Shutdown(context.Background())
		logger.Infof("Session runner stopped")
		return nil
	}

	elapsed := time.Since(startedAt).Round(10 * time.Millisecond)
	proxyURL := controller.ProxyURL()

	logger.Infof("Session is up, proxy: %s, startup took %s", proxyURL, elapsed)
	fmt.Printf("Development session ready at %s (started in %s)\n", proxyURL, elapsed)

	// Wait for graceful shutdown or a runtime failure
	var runErr error
	select {
	case receivedSignal := <-sig:
		logger.Infof("Session runner received signal: %v", receivedSignal)
		if runtime.GOOS == "windows" {
			if receivedSignal != os.Interrupt {
				logger.Errorf("Wrong signal received: got %q, want %q\n", receivedSignal, os.Interrupt)
				os.Exit(42)
			}
		}
	case err := <-controller.Watch(ctx):
		logger.Errorf("Session failed while running: %v", err)
		runErr = err
	}

	// Reset context to background to enable graceful shutdown. The start
	// context stays alive until the children are down, cancelling it first
	// would hard-kill their commands.
	if err := controller.Shutdown(context.Background()); err != nil && runErr == nil {
		runErr = err
	}
	cancel()

	logger.Infof("Session runner stopped")

	return runErr
}

// ValidateConfigFile validates a configuration file without running it.
// This is useful for configuration testing and CI/CD validation
func ValidateConfigFile(configFile string) error {
	// Load configuration
	config, err := LoadConfigFromFile(configFile)
	if err != nil {
		return errors.NewIOError("failed to load configuration", err).WithContext("config_file", configFile)
	}

	// Validate configuration
	if err := ValidateConfig(config); err != nil {
		return errors.NewValidationError("configuration validation failed", err).WithContext("config_file", configFile)
	}

	return nil
}
