// Package logging provides structured logging with slog for usb-moded.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

// Audit event types.
const (
	AuditEventStartup        AuditEventType = "startup"
	AuditEventShutdown       AuditEventType = "shutdown"
	AuditEventConfigChange   AuditEventType = "config_change"
	AuditEventConfigReload   AuditEventType = "config_reload"
	AuditEventCableChange    AuditEventType = "cable_change"
	AuditEventModeRequested  AuditEventType = "mode_requested"
	AuditEventModeSwitched   AuditEventType = "mode_switched"
	AuditEventModeDenied     AuditEventType = "mode_denied"
	AuditEventBridgeRequest  AuditEventType = "bridge_request"
	AuditEventAuthentication AuditEventType = "authentication"
	AuditEventError          AuditEventType = "error"
)

// AuditEvent represents a security- or diagnostics-relevant event on the
// mode-switching path.
type AuditEvent struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  AuditEventType         `json:"event_type"`
	Component  string                 `json:"component"`
	UserID     string                 `json:"user_id,omitempty"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource,omitempty"`
	Result     string                 `json:"result"` // "success", "failure", "denied"
	Details    map[string]interface{} `json:"details,omitempty"`
	SourceFile string                 `json:"source_file,omitempty"`
	SourceLine int                    `json:"source_line,omitempty"`
	Error      string                 `json:"error,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
}

// AuditLoggerConfig holds configuration for the audit logger.
type AuditLoggerConfig struct {
	FilePath   string
	MaxSize    int64
	MaxAge     int
	MaxBackups int
	Compress   bool
	Component  string
}

// DefaultAuditConfig returns default audit logger configuration.
func DefaultAuditConfig() *AuditLoggerConfig {
	return &AuditLoggerConfig{
		FilePath:   defaultAuditLogPath(),
		MaxSize:    50,
		MaxAge:     90,
		MaxBackups: 10,
		Compress:   true,
		Component:  "usb-moded",
	}
}

func defaultAuditLogPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "usb-moded", "audit.log")
	default:
		if stateHome := os.Getenv("XDG_STATE_HOME"); stateHome != "" {
			return filepath.Join(stateHome, "usb-moded", "audit.log")
		}
		return filepath.Join("/var", "log", "usb-moded", "audit.log")
	}
}

// AuditLogger handles security audit logging for the mode-switching daemon.
type AuditLogger struct {
	config  *AuditLoggerConfig
	rotator *FileRotator
	logger  *slog.Logger
	mu      sync.Mutex
}

var (
	defaultAuditLogger *AuditLogger
	auditLoggerOnce    sync.Once
)

// DefaultAuditLogger returns the default global audit logger.
func DefaultAuditLogger() *AuditLogger {
	auditLoggerOnce.Do(func() {
		var err error
		defaultAuditLogger, err = NewAuditLogger(DefaultAuditConfig())
		if err != nil {
			defaultAuditLogger = &AuditLogger{
				config: DefaultAuditConfig(),
				logger: slog.Default(),
			}
		}
	})
	return defaultAuditLogger
}

// SetDefaultAuditLogger sets the default global audit logger.
func SetDefaultAuditLogger(l *AuditLogger) {
	defaultAuditLogger = l
}

// NewAuditLogger creates a new AuditLogger.
func NewAuditLogger(cfg *AuditLoggerConfig) (*AuditLogger, error) {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}

	rotatorCfg := &Config{
		FilePath:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
		Format:     FormatJSON,
		Level:      LevelInfo,
	}

	rotator, err := NewFileRotator(rotatorCfg)
	if err != nil {
		return nil, fmt.Errorf("create audit rotator: %w", err)
	}

	handler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: LevelInfo})

	return &AuditLogger{
		config:  cfg,
		rotator: rotator,
		logger:  slog.New(handler),
	}, nil
}

// Log writes an audit event.
func (a *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Component == "" {
		event.Component = a.config.Component
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}
	if event.SourceFile == "" {
		if _, file, line, ok := runtime.Caller(1); ok {
			event.SourceFile = file
			event.SourceLine = line
		}
	}

	if a.rotator == nil {
		a.logger.LogAttrs(ctx, slog.LevelInfo, string(event.EventType))
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	data = append(data, '\n')
	if _, err := a.rotator.Write(data); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// LogCableChange logs a cable-state transition.
func (a *AuditLogger) LogCableChange(ctx context.Context, from, to string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventCableChange,
		Action:    "cable_state_changed",
		Result:    "success",
		Details: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}

// LogModeRequested logs an inbound mode-change request.
func (a *AuditLogger) LogModeRequested(ctx context.Context, uid, mode string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventModeRequested,
		Action:    "mode_requested",
		Resource:  mode,
		UserID:    uid,
		Result:    "success",
	})
}

// LogModeSwitched logs a completed mode transition.
func (a *AuditLogger) LogModeSwitched(ctx context.Context, from, to string, success bool, errMsg string) error {
	result := "success"
	if !success {
		result = "failure"
	}
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventModeSwitched,
		Action:    "mode_switched",
		Resource:  to,
		Result:    result,
		Error:     errMsg,
		Details: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	})
}

// LogModeDenied logs a mode request rejected by policy.
func (a *AuditLogger) LogModeDenied(ctx context.Context, uid, mode, reason string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventModeDenied,
		Action:    "mode_denied",
		Resource:  mode,
		UserID:    uid,
		Result:    "denied",
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

// LogConfigReload logs a hot-reload of the mode descriptor directory.
func (a *AuditLogger) LogConfigReload(ctx context.Context, modeCount int, err error) error {
	result := "success"
	errMsg := ""
	if err != nil {
		result = "failure"
		errMsg = err.Error()
	}
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventConfigReload,
		Action:    "mode_config_reloaded",
		Result:    result,
		Error:     errMsg,
		Details: map[string]interface{}{
			"mode_count": modeCount,
		},
	})
}

// LogError logs an error event.
func (a *AuditLogger) LogError(ctx context.Context, operation string, err error, details map[string]interface{}) error {
	if details == nil {
		details = make(map[string]interface{})
	}
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventError,
		Action:    operation,
		Result:    "failure",
		Error:     err.Error(),
		Details:   details,
	})
}

// LogStartup logs a daemon startup event.
func (a *AuditLogger) LogStartup(ctx context.Context, version string, details map[string]interface{}) error {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["version"] = version
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventStartup,
		Action:    "daemon_started",
		Result:    "success",
		Details:   details,
	})
}

// LogShutdown logs a daemon shutdown event.
func (a *AuditLogger) LogShutdown(ctx context.Context, reason string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventShutdown,
		Action:    "daemon_stopped",
		Result:    "success",
		Details: map[string]interface{}{
			"reason": reason,
		},
	})
}

// Close closes the audit logger.
func (a *AuditLogger) Close() error {
	if a.rotator != nil {
		return a.rotator.Close()
	}
	return nil
}

// Sync flushes any buffered audit events.
func (a *AuditLogger) Sync() error {
	if a.rotator != nil {
		return a.rotator.Sync()
	}
	return nil
}

// Audit logs an audit event using the default audit logger.
func Audit(ctx context.Context, event AuditEvent) error {
	return DefaultAuditLogger().Log(ctx, event)
}
