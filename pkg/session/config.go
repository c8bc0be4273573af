package session

import (
	"fmt"
	"io/ioutil"
	"time"

	"github.com/core-tools/hsu-devsession/pkg/errors"
	"github.com/core-tools/hsu-devsession/pkg/proxy"
	"github.com/core-tools/hsu-devsession/pkg/services"

	"gopkg.in/yaml.v3"
)

// SessionConfig represents the top-level configuration file structure
type SessionConfig struct {
	Session     SessionOptions           `yaml:"session"`
	Application services.ApplicationUnit `yaml:"application"`
	Support     services.SupportUnit     `yaml:"support"`
	Proxy       ProxyOptions             `yaml:"proxy,omitempty"`
}

// SessionOptions represents session-level configuration
type SessionOptions struct {
	Host                 string        `yaml:"host,omitempty"`
	ProxyPort            int           `yaml:"proxy_port,omitempty"`
	SupportPort          int           `yaml:"support_port,omitempty"`
	ApplicationPort      int           `yaml:"application_port,omitempty"`
	ReadinessTimeout     time.Duration `yaml:"readiness_timeout,omitempty"`
	GracefulTimeout      time.Duration `yaml:"graceful_timeout,omitempty"`
	ForceShutdownTimeout time.Duration `yaml:"force_shutdown_timeout,omitempty"`
	LogLevel             string        `yaml:"log_level,omitempty"`
}

// ProxyOptions represents the HTML rewriting setup of the proxy gateway
type ProxyOptions struct {
	AssetPaths []string                  `yaml:"asset_paths,omitempty"`
	Fragments  []proxy.InjectionFragment `yaml:"fragments,omitempty"`
}

// LoadConfigFromFile loads session configuration from a YAML file
func LoadConfigFromFile(filename string) (*SessionConfig, error) {
	data, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, errors.NewIOError("failed to read configuration file", err).WithContext("filename", filename)
	}

	var config SessionConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.NewValidationError("failed to parse YAML configuration", err).WithContext("filename", filename)
	}

	// Set defaults
	setConfigDefaults(&config)

	return &config, nil
}

// ValidateConfig validates the entire configuration structure
func ValidateConfig(config *SessionConfig) error {
	if config == nil {
		return errors.NewValidationError("configuration cannot be nil", nil)
	}

	// Validate session-level options
	if err := validateSessionOptions(&config.Session); err != nil {
		return errors.NewValidationError("invalid session configuration", err)
	}

	// Validate service units
	if err := services.ValidateApplicationUnit(config.Application); err != nil {
		return errors.NewValidationError("invalid application configuration", err)
	}
	if err := services.ValidateSupportUnit(config.Support); err != nil {
		return errors.NewValidationError("invalid support configuration", err)
	}

	// Validate proxy rewriting options
	if err := validateProxyOptions(&config.Proxy); err != nil {
		return errors.NewValidationError("invalid proxy configuration", err)
	}

	return nil
}

// setConfigDefaults applies default values to configuration
func setConfigDefaults(config *SessionConfig) {
	if config.Session.Host == "" {
		config.Session.Host = "localhost"
	}
	if config.Session.ProxyPort == 0 {
		config.Session.ProxyPort = 3000 // Default browser-facing port
	}
	if config.Session.SupportPort == 0 {
		config.Session.SupportPort = 3001
	}
	if config.Session.ApplicationPort == 0 {
		config.Session.ApplicationPort = 3100
	}
	if config.Session.ReadinessTimeout == 0 {
		config.Session.ReadinessTimeout = 30 * time.Second
	}
	if config.Session.GracefulTimeout == 0 {
		config.Session.GracefulTimeout = time.Second
	}
	if config.Session.LogLevel == "" {
		config.Session.LogLevel = "info"
	}

	// Set execution defaults
	if config.Application.Execution.WaitDelay == 0 {
		config.Application.Execution.WaitDelay = 10 * time.Second
	}
	if config.Support.Execution.WaitDelay == 0 {
		config.Support.Execution.WaitDelay = 10 * time.Second
	}

	if config.Application.PortArg == "" {
		config.Application.PortArg = services.DefaultPortArg
	}
	if config.Application.PortEnv == "" {
		config.Application.PortEnv = services.DefaultPortEnv
	}
	if config.Support.PortEnv == "" {
		config.Support.PortEnv = services.DefaultPortEnv
	}
	if config.Support.HostEnv == "" {
		config.Support.HostEnv = services.DefaultHostEnv
	}
	if config.Support.HealthPath == "" {
		config.Support.HealthPath = services.DefaultHealthPath
	}
}

func validateSessionOptions(options *SessionOptions) error {
	if options.Host == "" {
		return errors.NewValidationError("host cannot be empty", nil)
	}

	ports := map[string]int{
		"proxy_port":       options.ProxyPort,
		"support_port":     options.SupportPort,
		"application_port": options.ApplicationPort,
	}
	for name, port := range ports {
		if port <= 0 || port > 65535 {
			return errors.NewValidationError(
				fmt.Sprintf("invalid %s: %d", name, port),
				nil,
			).WithContext("valid_range", "1-65535")
		}
	}

	if options.ReadinessTimeout < 0 {
		return errors.NewValidationError("readiness timeout cannot be negative", nil)
	}
	if options.GracefulTimeout < 0 {
		return errors.NewValidationError("graceful timeout cannot be negative", nil)
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if options.LogLevel != "" {
		valid := false
		for _, level := range validLogLevels {
			if options.LogLevel == level {
				valid = true
				break
			}
		}
		if !valid {
			return errors.NewValidationError(
				fmt.Sprintf("invalid log level: %s", options.LogLevel),
				nil,
			).WithContext("valid_levels", "debug, info, warn, error")
		}
	}

	return nil
}

func validateProxyOptions(options *ProxyOptions) error {
	for i, path := range options.AssetPaths {
		if path == "" || path[0] != '/' {
			return errors.NewValidationError(
				fmt.Sprintf("asset path at index %d must start with '/': %s", i, path),
				nil,
			)
		}
	}

	// Check for duplicate fragment names
	seenNames := make(map[string]int)
	for i, fragment := range options.Fragments {
		if fragment.Name == "" {
			return errors.NewValidationError(
				fmt.Sprintf("injection fragment at index %d has no name", i),
				nil,
			)
		}
		if prevIndex, exists := seenNames[fragment.Name]; exists {
			return errors.NewValidationError(
				fmt.Sprintf("duplicate injection fragment name '%s' found at indices %d and %d", fragment.Name, prevIndex, i),
				nil,
			)
		}
		seenNames[fragment.Name] = i
	}

	return nil
}
