package services

import (
	"github.com/core-tools/hsu-devsession/pkg/process"
)

// UnitKind identifies which of the two session services a unit or a handle
// belongs to
type UnitKind string

const (
	UnitKindApplication UnitKind = "application"
	UnitKindSupport     UnitKind = "support"
)

const (
	DefaultPortArg    = "--port"
	DefaultPortEnv    = "PORT"
	DefaultHostEnv    = "HOST"
	DefaultHealthPath = "/healthz"
)

// ApplicationUnit describes the user-facing service. Its assigned port is
// handed over both as a command line argument and as an environment
// variable, so either convention works for the served program.
type ApplicationUnit struct {
	Execution process.ExecutionConfig `yaml:"execution"`
	PortArg   string                  `yaml:"port_arg,omitempty"`
	PortEnv   string                  `yaml:"port_env,omitempty"`
}

// SupportUnit describes the companion tooling service, configured purely
// through environment variables. PassEnvironment names parent variables to
// forward, an unset one is forwarded as the empty string.
type SupportUnit struct {
	Execution       process.ExecutionConfig `yaml:"execution"`
	PortEnv         string                  `yaml:"port_env,omitempty"`
	HostEnv         string                  `yaml:"host_env,omitempty"`
	PassEnvironment []string                `yaml:"pass_environment,omitempty"`
	HealthPath      string                  `yaml:"health_path,omitempty"`
}
