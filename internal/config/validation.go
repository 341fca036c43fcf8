// Package config handles configuration loading and validation for usb-moded.
package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig performs comprehensive validation of the configuration.
// A Config that fails validation makes daemon startup Fatal, per the
// core's error handling design.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateBackend(&c.Backend)...)
	errs = append(errs, validateCable(&c.Cable)...)
	errs = append(errs, validateModeStore(&c.ModeStore)...)
	errs = append(errs, validateBridge(&c.Bridge)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateBackend(b *BackendConfig) ValidationErrors {
	var errs ValidationErrors
	switch b.Kind {
	case "auto", "android", "configfs":
	default:
		errs = append(errs, ValidationError{
			Field:   "backend.kind",
			Message: fmt.Sprintf("must be one of auto, android, configfs, got %q", b.Kind),
		})
	}
	if b.AndroidRoot == "" {
		errs = append(errs, ValidationError{Field: "backend.android_root", Message: "must not be empty"})
	}
	if b.ConfigFSRoot == "" {
		errs = append(errs, ValidationError{Field: "backend.configfs_root", Message: "must not be empty"})
	}
	if b.MTPSettleMs < 0 {
		errs = append(errs, ValidationError{Field: "backend.mtp_settle_ms", Message: "must not be negative"})
	}
	return errs
}

func validateCable(c *CableConfig) ValidationErrors {
	var errs ValidationErrors
	if c.PowerSupplyRoot == "" {
		errs = append(errs, ValidationError{Field: "cable.power_supply_root", Message: "must not be empty"})
	}
	if c.PcConnectDebounceMs < 0 {
		errs = append(errs, ValidationError{Field: "cable.pc_connect_debounce_ms", Message: "must not be negative"})
	}
	return errs
}

func validateModeStore(m *ModeStoreConfig) ValidationErrors {
	var errs ValidationErrors
	if m.Dir == "" {
		errs = append(errs, ValidationError{Field: "mode_store.dir", Message: "must not be empty"})
	}
	if m.ReloadDebounceMs < 0 {
		errs = append(errs, ValidationError{Field: "mode_store.reload_debounce_ms", Message: "must not be negative"})
	}
	return errs
}

func validateBridge(b *BridgeConfig) ValidationErrors {
	var errs ValidationErrors
	if b.Enabled && b.BusName == "" {
		errs = append(errs, ValidationError{Field: "bridge.bus_name", Message: "must not be empty when bridge is enabled"})
	}
	if b.Enabled && b.ObjectPath == "" {
		errs = append(errs, ValidationError{Field: "bridge.object_path", Message: "must not be empty when bridge is enabled"})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("must be one of debug, info, warn, error, got %q", l.Level),
		})
	}
	switch l.Format {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("must be text or json, got %q", l.Format),
		})
	}
	return errs
}
