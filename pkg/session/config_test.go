package session

import (
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/core-tools/hsu-devsession/pkg/errors"
	"github.com/core-tools/hsu-devsession/pkg/process"
	"github.com/core-tools/hsu-devsession/pkg/proxy"
	"github.com/core-tools/hsu-devsession/pkg/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Simple test logger that implements logging.Logger interface
type TestLogger struct{}

func (l *TestLogger) Debugf(format string, args ...interface{}) {}
func (l *TestLogger) Infof(format string, args ...interface{})  {}
func (l *TestLogger) Warnf(format string, args ...interface{})  {}
func (l *TestLogger) Errorf(format string, args ...interface{}) {}

// getTestExecutable returns a platform-specific executable path that exists
func getTestExecutable() string {
	if runtime.GOOS == "windows" {
		return "C:\\Windows\\System32\\cmd.exe"
	}
	return "/bin/echo"
}

// escapeForYAML properly escapes a path for YAML
func escapeForYAML(path string) string {
	if runtime.GOOS == "windows" {
		result := ""
		for _, char := range path {
			if char == '\\' {
				result += "\\\\"
			} else {
				result += string(char)
			}
		}
		return result
	}
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	executablePath := getTestExecutable()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		validate    func(*testing.T, *SessionConfig)
	}{
		{
			name: "valid comprehensive config",
			configYAML: `
session:
  host: "127.0.0.1"
  proxy_port: 8080
  support_port: 8081
  application_port: 8100
  readiness_timeout: "15s"
  graceful_timeout: "2s"
  log_level: "debug"

application:
  execution:
    executable_path: "` + escapeForYAML(executablePath) + `"
    args: ["serve"]
    environment: ["NODE_ENV=development"]
    wait_delay: "5s"
  port_arg: "--listen"
  port_env: "HTTP_PORT"

support:
  execution:
    executable_path: "` + escapeForYAML(executablePath) + `"
  pass_environment: ["API_TOKEN", "EDITOR"]
  health_path: "/internal/health"

proxy:
  asset_paths: ["/client.js"]
  fragments:
    - name: "banner"
      markup: "<div id=banner></div>"
    - name: "overlay"
      markup: "<div id=overlay></div>"
`,
			expectError: false,
			validate: func(t *testing.T, config *SessionConfig) {
				assert.Equal(t, "127.0.0.1", config.Session.Host)
				assert.Equal(t, 8080, config.Session.ProxyPort)
				assert.Equal(t, 8081, config.Session.SupportPort)
				assert.Equal(t, 8100, config.Session.ApplicationPort)
				assert.Equal(t, 15*time.Second, config.Session.ReadinessTimeout)
				assert.Equal(t, 2*time.Second, config.Session.GracefulTimeout)
				assert.Equal(t, "debug", config.Session.LogLevel)

				assert.Equal(t, executablePath, config.Application.Execution.ExecutablePath)
				assert.Equal(t, []string{"serve"}, config.Application.Execution.Args)
				assert.Equal(t, 5*time.Second, config.Application.Execution.WaitDelay)
				assert.Equal(t, "--listen", config.Application.PortArg)
				assert.Equal(t, "HTTP_PORT", config.Application.PortEnv)

				assert.Equal(t, []string{"API_TOKEN", "EDITOR"}, config.Support.PassEnvironment)
				assert.Equal(t, "/internal/health", config.Support.HealthPath)

				assert.Equal(t, []string{"/client.js"}, config.Proxy.AssetPaths)
				require.Len(t, config.Proxy.Fragments, 2)
				assert.Equal(t, "banner", config.Proxy.Fragments[0].Name)
				assert.Equal(t, "overlay", config.Proxy.Fragments[1].Name)
			},
		},
		{
			name: "minimal config gets defaults",
			configYAML: `
application:
  execution:
    executable_path: "` + escapeForYAML(executablePath) + `"

support:
  execution:
    executable_path: "` + escapeForYAML(executablePath) + `"
`,
			expectError: false,
			validate: func(t *testing.T, config *SessionConfig) {
				assert.Equal(t, "localhost", config.Session.Host)
				assert.Equal(t, 3000, config.Session.ProxyPort)
				assert.Equal(t, 3001, config.Session.SupportPort)
				assert.Equal(t, 3100, config.Session.ApplicationPort)
				assert.Equal(t, 30*time.Second, config.Session.ReadinessTimeout)
				assert.Equal(t, time.Second, config.Session.GracefulTimeout)
				assert.Equal(t, "info", config.Session.LogLevel)

				assert.Equal(t, services.DefaultPortArg, config.Application.PortArg)
				assert.Equal(t, services.DefaultPortEnv, config.Application.PortEnv)
				assert.Equal(t, 10*time.Second, config.Application.Execution.WaitDelay)

				assert.Equal(t, services.DefaultPortEnv, config.Support.PortEnv)
				assert.Equal(t, services.DefaultHostEnv, config.Support.HostEnv)
				assert.Equal(t, services.DefaultHealthPath, config.Support.HealthPath)
			},
		},
		{
			name: "invalid YAML",
			configYAML: `
session:
  host: "localhost"
  invalid_yaml: [unclosed
`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Create temporary file
			tmpFile, err := os.CreateTemp("", "config-test-*.yaml")
			require.NoError(t, err)
			defer os.Remove(tmpFile.Name())

			// Write config to file
			_, err = tmpFile.WriteString(tt.configYAML)
			require.NoError(t, err)
			tmpFile.Close()

			// Load configuration
			config, err := LoadConfigFromFile(tmpFile.Name())

			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, config)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, config)
				if tt.validate != nil {
					tt.validate(t, config)
				}
			}
		})
	}
}

func validTestConfig() *SessionConfig {
	executablePath := getTestExecutable()

	config := &SessionConfig{
		Application: services.ApplicationUnit{
			Execution: process.ExecutionConfig{ExecutablePath: executablePath},
		},
		Support: services.SupportUnit{
			Execution: process.ExecutionConfig{ExecutablePath: executablePath},
		},
	}
	setConfigDefaults(config)
	return config
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*SessionConfig)
		expectError bool
	}{
		{
			name:        "valid config",
			mutate:      func(config *SessionConfig) {},
			expectError: false,
		},
		{
			name: "invalid proxy port",
			mutate: func(config *SessionConfig) {
				config.Session.ProxyPort = -1
			},
			expectError: true,
		},
		{
			name: "port out of range",
			mutate: func(config *SessionConfig) {
				config.Session.ApplicationPort = 70000
			},
			expectError: true,
		},
		{
			name: "invalid log level",
			mutate: func(config *SessionConfig) {
				config.Session.LogLevel = "loud"
			},
			expectError: true,
		},
		{
			name: "missing application executable",
			mutate: func(config *SessionConfig) {
				config.Application.Execution.ExecutablePath = ""
			},
			expectError: true,
		},
		{
			name: "missing support executable",
			mutate: func(config *SessionConfig) {
				config.Support.Execution.ExecutablePath = ""
			},
			expectError: true,
		},
		{
			name: "health path without leading slash",
			mutate: func(config *SessionConfig) {
				config.Support.HealthPath = "healthz"
			},
			expectError: true,
		},
		{
			name: "asset path without leading slash",
			mutate: func(config *SessionConfig) {
				config.Proxy.AssetPaths = []string{"client.js"}
			},
			expectError: true,
		},
		{
			name: "fragment without name",
			mutate: func(config *SessionConfig) {
				config.Proxy.Fragments = []proxy.InjectionFragment{{Markup: "<div></div>"}}
			},
			expectError: true,
		},
		{
			name: "duplicate fragment names",
			mutate: func(config *SessionConfig) {
				config.Proxy.Fragments = []proxy.InjectionFragment{
					{Name: "banner", Markup: "<div></div>"},
					{Name: "banner", Markup: "<span></span>"},
				}
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validTestConfig()
			tt.mutate(config)

			err := ValidateConfig(config)

			if tt.expectError {
				assert.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateConfig_NilConfig(t *testing.T) {
	err := ValidateConfig(nil)
	assert.Error(t, err)
	assert.True(t, errors.IsValidationError(err))
}

func TestValidateConfigFile(t *testing.T) {
	executablePath := getTestExecutable()

	validConfig := `
application:
  execution:
    executable_path: "` + escapeForYAML(executablePath) + `"

support:
  execution:
    executable_path: "` + escapeForYAML(executablePath) + `"
`

	tmpFile, err := os.CreateTemp("", "valid-config-*.yaml")
	require.NoError(t, err)
	defer os.Remove(tmpFile.Name())

	_, err = tmpFile.WriteString(validConfig)
	require.NoError(t, err)
	tmpFile.Close()

	// Test validation
	err = ValidateConfigFile(tmpFile.Name())
	assert.NoError(t, err)

	// Test with non-existent file
	err = ValidateConfigFile("/non/existent/file.yaml")
	assert.Error(t, err)
	assert.True(t, errors.IsIOError(err))
}
