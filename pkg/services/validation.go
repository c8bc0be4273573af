package services

import (
	"strings"

	"github.com/core-tools/hsu-devsession/pkg/errors"
	"github.com/core-tools/hsu-devsession/pkg/process"
)

// ValidateApplicationUnit validates the application service definition
func ValidateApplicationUnit(unit ApplicationUnit) error {
	if unit.Execution.ExecutablePath == "" {
		return errors.NewValidationError("executable path is required for application service", nil)
	}

	if err := process.ValidateExecutionConfig(unit.Execution); err != nil {
		return err
	}

	if unit.PortArg != "" && !strings.HasPrefix(unit.PortArg, "-") {
		return errors.NewValidationError("application port argument must start with '-': "+unit.PortArg, nil)
	}

	return nil
}

// ValidateSupportUnit validates the support service definition
func ValidateSupportUnit(unit SupportUnit) error {
	if unit.Execution.ExecutablePath == "" {
		return errors.NewValidationError("executable path is required for support service", nil)
	}

	if err := process.ValidateExecutionConfig(unit.Execution); err != nil {
		return err
	}

	if unit.HealthPath != "" && !strings.HasPrefix(unit.HealthPath, "/") {
		return errors.NewValidationError("support health path must start with '/': "+unit.HealthPath, nil)
	}

	for _, name := range unit.PassEnvironment {
		if name == "" || strings.Contains(name, "=") {
			return errors.NewValidationError("invalid pass-through environment variable name: "+name, nil)
		}
	}

	return nil
}
