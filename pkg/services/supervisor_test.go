package services

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/core-tools/hsu-devsession/pkg/errors"
	"github.com/core-tools/hsu-devsession/pkg/process"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SupervisorMockLogger is a simple mock implementation of Logger for testing
type SupervisorMockLogger struct{}

func (m *SupervisorMockLogger) Debugf(format string, args ...interface{}) {}
func (m *SupervisorMockLogger) Infof(format string, args ...interface{})  {}
func (m *SupervisorMockLogger) Warnf(format string, args ...interface{})  {}
func (m *SupervisorMockLogger) Errorf(format string, args ...interface{}) {}

func writeScript(t *testing.T, body string) string {
	path := filepath.Join(t.TempDir(), "service.sh")
	err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755)
	require.NoError(t, err)
	return path
}

func awaitExit(t *testing.T, handle *Handle) {
	select {
	case <-handle.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("service did not exit in time")
	}
}

func testSupervisor() *Supervisor {
	return NewSupervisor(SupervisorOptions{
		Stdio:           process.StdioModeQuiet,
		GracefulTimeout: 2 * time.Second,
	}, &SupervisorMockLogger{})
}

func TestSpawnApplication_PortPassedAsArgumentAndEnvironment(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix shell test")
	}

	outFile := filepath.Join(t.TempDir(), "out.txt")
	script := writeScript(t, `echo "args=$@ env=$PORT" > "$OUT_FILE"`)

	unit := ApplicationUnit{
		Execution: process.ExecutionConfig{
			ExecutablePath: script,
			Environment:    []string{"OUT_FILE=" + outFile},
		},
	}

	supervisor := testSupervisor()

	handle, err := supervisor.SpawnApplication(context.Background(), unit, 4321)
	require.NoError(t, err)
	awaitExit(t, handle)

	content, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "args=--port 4321")
	assert.Contains(t, string(content), "env=4321")
}

func TestSpawnApplication_CustomPortConventions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix shell test")
	}

	outFile := filepath.Join(t.TempDir(), "out.txt")
	script := writeScript(t, `echo "args=$@ env=$HTTP_PORT" > "$OUT_FILE"`)

	unit := ApplicationUnit{
		Execution: process.ExecutionConfig{
			ExecutablePath: script,
			Environment:    []string{"OUT_FILE=" + outFile},
		},
		PortArg: "--listen",
		PortEnv: "HTTP_PORT",
	}

	supervisor := testSupervisor()

	handle, err := supervisor.SpawnApplication(context.Background(), unit, 5555)
	require.NoError(t, err)
	awaitExit(t, handle)

	content, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "args=--listen 5555")
	assert.Contains(t, string(content), "env=5555")
}

func TestSpawnSupport_EnvironmentComposition(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix shell test")
	}

	t.Setenv("DEV_SESSION_TEST_TOKEN", "sekrit")
	os.Unsetenv("DEV_SESSION_TEST_MISSING")

	outFile := filepath.Join(t.TempDir(), "out.txt")
	script := writeScript(t, `echo "port=$PORT host=$HOST token=$DEV_SESSION_TEST_TOKEN missing=[$DEV_SESSION_TEST_MISSING]" > "$OUT_FILE"`)

	unit := SupportUnit{
		Execution: process.ExecutionConfig{
			ExecutablePath: script,
			Environment:    []string{"OUT_FILE=" + outFile},
		},
		PassEnvironment: []string{"DEV_SESSION_TEST_TOKEN", "DEV_SESSION_TEST_MISSING"},
	}

	supervisor := testSupervisor()

	handle, err := supervisor.SpawnSupport(context.Background(), unit, "localhost", 4500)
	require.NoError(t, err)
	awaitExit(t, handle)

	content, err := os.ReadFile(outFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), "port=4500")
	assert.Contains(t, string(content), "host=localhost")
	assert.Contains(t, string(content), "token=sekrit")
	assert.Contains(t, string(content), "missing=[]")
}

func TestSpawn_FailureIsSpawnError(t *testing.T) {
	unit := ApplicationUnit{
		Execution: process.ExecutionConfig{
			ExecutablePath: filepath.Join(t.TempDir(), "no-such-binary"),
		},
	}

	supervisor := testSupervisor()

	_, err := supervisor.SpawnApplication(context.Background(), unit, 3100)
	require.Error(t, err)
	assert.True(t, errors.IsSpawnError(err))
}

func TestTerminate_StopsRunningService(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix shell test")
	}

	script := writeScript(t, `sleep 30`)

	unit := ApplicationUnit{
		Execution: process.ExecutionConfig{ExecutablePath: script},
	}

	supervisor := testSupervisor()

	handle, err := supervisor.SpawnApplication(context.Background(), unit, 3100)
	require.NoError(t, err)

	err = supervisor.Terminate(context.Background(), handle)
	require.NoError(t, err)
	awaitExit(t, handle)
	assert.True(t, handle.Exited())
}

func TestTerminate_SecondCallIsNoOp(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix shell test")
	}

	script := writeScript(t, `sleep 30`)

	unit := ApplicationUnit{
		Execution: process.ExecutionConfig{ExecutablePath: script},
	}

	supervisor := testSupervisor()

	handle, err := supervisor.SpawnApplication(context.Background(), unit, 3100)
	require.NoError(t, err)

	require.NoError(t, supervisor.Terminate(context.Background(), handle))
	assert.NoError(t, supervisor.Terminate(context.Background(), handle))
}

func TestTerminate_ExitedServiceIsNoOp(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix shell test")
	}

	script := writeScript(t, `exit 0`)

	unit := ApplicationUnit{
		Execution: process.ExecutionConfig{ExecutablePath: script},
	}

	supervisor := testSupervisor()

	handle, err := supervisor.SpawnApplication(context.Background(), unit, 3100)
	require.NoError(t, err)
	awaitExit(t, handle)

	assert.NoError(t, supervisor.Terminate(context.Background(), handle))
}

func TestHandle_ExitError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix shell test")
	}

	supervisor := testSupervisor()

	cleanUnit := ApplicationUnit{
		Execution: process.ExecutionConfig{ExecutablePath: writeScript(t, `exit 0`)},
	}
	handle, err := supervisor.SpawnApplication(context.Background(), cleanUnit, 3100)
	require.NoError(t, err)
	awaitExit(t, handle)
	assert.NoError(t, handle.ExitError())

	failingUnit := ApplicationUnit{
		Execution: process.ExecutionConfig{ExecutablePath: writeScript(t, `exit 3`)},
	}
	handle, err = supervisor.SpawnApplication(context.Background(), failingUnit, 3100)
	require.NoError(t, err)
	awaitExit(t, handle)
	assert.Error(t, handle.ExitError())
}

func TestValidateApplicationUnit(t *testing.T) {
	script := writeScript(t, `exit 0`)

	tests := []struct {
		name      string
		unit      ApplicationUnit
		shouldErr bool
	}{
		{
			name: "valid",
			unit: ApplicationUnit{
				Execution: process.ExecutionConfig{ExecutablePath: script},
			},
			shouldErr: false,
		},
		{
			name:      "missing_executable",
			unit:      ApplicationUnit{},
			shouldErr: true,
		},
		{
			name: "port_arg_without_dash",
			unit: ApplicationUnit{
				Execution: process.ExecutionConfig{ExecutablePath: script},
				PortArg:   "port",
			},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateApplicationUnit(tt.unit)

			if tt.shouldErr {
				assert.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateSupportUnit(t *testing.T) {
	script := writeScript(t, `exit 0`)

	tests := []struct {
		name      string
		unit      SupportUnit
		shouldErr bool
	}{
		{
			name: "valid",
			unit: SupportUnit{
				Execution:       process.ExecutionConfig{ExecutablePath: script},
				PassEnvironment: []string{"API_TOKEN"},
				HealthPath:      "/healthz",
			},
			shouldErr: false,
		},
		{
			name:      "missing_executable",
			unit:      SupportUnit{},
			shouldErr: true,
		},
		{
			name: "health_path_without_slash",
			unit: SupportUnit{
				Execution:  process.ExecutionConfig{ExecutablePath: script},
				HealthPath: "healthz",
			},
			shouldErr: true,
		},
		{
			name: "pass_environment_entry_with_equals",
			unit: SupportUnit{
				Execution:       process.ExecutionConfig{ExecutablePath: script},
				PassEnvironment: []string{"NAME=VALUE"},
			},
			shouldErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSupportUnit(tt.unit)

			if tt.shouldErr {
				assert.Error(t, err)
				assert.True(t, errors.IsValidationError(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
