// Package config handles configuration loading, validation, and hot-reload
// for the usb-moded daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete daemon configuration: everything that is not
// per-mode (per-mode fields live in a ModeDescriptor, loaded separately by
// internal/modeconfig).
type Config struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	Backend   BackendConfig   `toml:"backend" json:"backend" yaml:"backend"`
	Cable     CableConfig     `toml:"cable" json:"cable" yaml:"cable"`
	ModeStore ModeStoreConfig `toml:"mode_store" json:"mode_store" yaml:"mode_store"`
	Policy    PolicyConfig    `toml:"policy" json:"policy" yaml:"policy"`
	Bridge    BridgeConfig    `toml:"bridge" json:"bridge" yaml:"bridge"`
	History   HistoryConfig   `toml:"history" json:"history" yaml:"history"`
	Logging   LoggingConfig   `toml:"logging" json:"logging" yaml:"logging"`
	Daemon    DaemonConfig    `toml:"daemon" json:"daemon" yaml:"daemon"`

	mu sync.RWMutex `toml:"-" json:"-" yaml:"-"`
}

// BackendConfig selects and configures the gadget backend.
type BackendConfig struct {
	// Kind forces a backend: "auto", "android", or "configfs". "auto"
	// probes ConfigFS first, then falls back to Android-sysfs.
	Kind string `toml:"kind" json:"kind" yaml:"kind"`

	// AndroidRoot is the android_usb sysfs root.
	AndroidRoot string `toml:"android_root" json:"android_root" yaml:"android_root"`

	// ConfigFSRoot is the ConfigFS gadget root.
	ConfigFSRoot string `toml:"configfs_root" json:"configfs_root" yaml:"configfs_root"`

	// UDCRoot is where UDC names are enumerated from.
	UDCRoot string `toml:"udc_root" json:"udc_root" yaml:"udc_root"`

	// MTPSettleMs is validated and defaulted but not read by the backends;
	// they always wait a fixed 1500 ms MTP settle before enabling the UDC.
	MTPSettleMs int `toml:"mtp_settle_ms" json:"mtp_settle_ms" yaml:"mtp_settle_ms"`

	// IdVendor/IdProduct/Manufacturer/Product/Serial are the device
	// identity strings written once by InitValues at startup. Empty fields
	// are left at whatever the kernel or bootloader already set.
	IdVendor     string `toml:"id_vendor" json:"id_vendor" yaml:"id_vendor"`
	IdProduct    string `toml:"id_product" json:"id_product" yaml:"id_product"`
	Manufacturer string `toml:"manufacturer" json:"manufacturer" yaml:"manufacturer"`
	Product      string `toml:"product" json:"product" yaml:"product"`
	Serial       string `toml:"serial" json:"serial" yaml:"serial"`

	// FunctionFSPath is the MTP FunctionFS mountpoint mounted by
	// internal/sysaction before the MTP function is enabled.
	FunctionFSPath string `toml:"functionfs_path" json:"functionfs_path" yaml:"functionfs_path"`

	// MTPUnit is the systemd --user unit started/stopped around MTP mode.
	MTPUnit string `toml:"mtp_unit" json:"mtp_unit" yaml:"mtp_unit"`
}

// CableConfig configures the power-supply cable observer.
type CableConfig struct {
	// PowerSupplyPath overrides automatic power-supply discovery.
	PowerSupplyPath string `toml:"power_supply_path" json:"power_supply_path" yaml:"power_supply_path"`

	// PowerSupplyRoot is the sysfs class root to enumerate when
	// PowerSupplyPath is unset.
	PowerSupplyRoot string `toml:"power_supply_root" json:"power_supply_root" yaml:"power_supply_root"`

	// PcConnectDebounceMs is the delay before promoting a freshly-seen
	// PC-connected reading, absorbing cable-detect bounce.
	PcConnectDebounceMs int `toml:"pc_connect_debounce_ms" json:"pc_connect_debounce_ms" yaml:"pc_connect_debounce_ms"`
}

// ModeStoreConfig configures the mode-descriptor loader.
type ModeStoreConfig struct {
	// Dir is the directory scanned for one mode-descriptor file per mode.
	Dir string `toml:"dir" json:"dir" yaml:"dir"`

	// Watch enables fsnotify-based hot-reload of Dir.
	Watch bool `toml:"watch" json:"watch" yaml:"watch"`

	// ReloadDebounceMs debounces bursts of filesystem events.
	ReloadDebounceMs int `toml:"reload_debounce_ms" json:"reload_debounce_ms" yaml:"reload_debounce_ms"`

	// HiddenModes lists mode names excluded from the bridge's
	// supported_modes advertisement, e.g. diagnostic-only modes.
	HiddenModes []string `toml:"hidden_modes" json:"hidden_modes" yaml:"hidden_modes"`
}

// PolicyConfig configures the in-process permission policy: the default
// configured mode and the uid whitelist gating requests.
type PolicyConfig struct {
	// GlobalMode is the configured mode for users with no per-user
	// override.
	GlobalMode string `toml:"global_mode" json:"global_mode" yaml:"global_mode"`

	// Whitelist restricts which uids may request a mode switch. Empty
	// means every uid is permitted.
	Whitelist []int64 `toml:"whitelist" json:"whitelist" yaml:"whitelist"`
}

// BridgeConfig configures the outbound/inbound event bridge.
type BridgeConfig struct {
	// Enabled turns on the D-Bus reference adapter.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// BusName is the well-known D-Bus service name to request.
	BusName string `toml:"bus_name" json:"bus_name" yaml:"bus_name"`

	// ObjectPath is the exported object path.
	ObjectPath string `toml:"object_path" json:"object_path" yaml:"object_path"`

	// System selects the system bus instead of the session bus.
	System bool `toml:"system" json:"system" yaml:"system"`
}

// HistoryConfig configures the write-only transition history sink.
type HistoryConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
}

// DaemonConfig holds process lifecycle settings.
type DaemonConfig struct {
	PidFile      string        `toml:"pid_file" json:"pid_file" yaml:"pid_file"`
	WakelockPath string        `toml:"wakelock_path" json:"wakelock_path" yaml:"wakelock_path"`
	ShutdownGrace time.Duration `toml:"shutdown_grace" json:"shutdown_grace" yaml:"shutdown_grace"`
}

// DefaultConfig returns a configuration with sensible defaults for a
// stock Android/Sailfish-style gadget setup.
func DefaultConfig() *Config {
	dir := DataDir()

	return &Config{
		Version: Version,
		Backend: BackendConfig{
			Kind:           "auto",
			AndroidRoot:    "/sys/class/android_usb/android0",
			ConfigFSRoot:   "/config/usb_gadget/g1",
			UDCRoot:        "/sys/class/udc",
			MTPSettleMs:    1500,
			FunctionFSPath: "/dev/usb-moded/ffs-mtp",
			MTPUnit:        "buteo-mtp.service",
		},
		Cable: CableConfig{
			PowerSupplyPath:     "",
			PowerSupplyRoot:     "/sys/class/power_supply",
			PcConnectDebounceMs: 1500,
		},
		ModeStore: ModeStoreConfig{
			Dir:              "/etc/usb-moded/dyn-modes",
			Watch:            true,
			ReloadDebounceMs: 100,
		},
		Policy: PolicyConfig{
			GlobalMode: "",
		},
		Bridge: BridgeConfig{
			Enabled:    true,
			BusName:    "com.meego.usb_moded",
			ObjectPath: "/com/meego/usb_moded",
			System:     true,
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "history.db"),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "usb-moded.log"),
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Daemon: DaemonConfig{
			PidFile:       "/run/usb-moded.pid",
			WakelockPath:  "/sys/power",
			ShutdownGrace: 2 * time.Second,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join("/etc/usb-moded", "usb-moded.toml")
}

// DataDir returns the base state directory, honoring USB_MODED_DATA_DIR.
func DataDir() string {
	if v := os.Getenv("USB_MODED_DATA_DIR"); v != "" {
		return v
	}
	return "/var/lib/usb-moded"
}

// Load reads configuration from path, falling back to defaults if the file
// does not exist. Format is chosen by extension (.toml, .json, .yaml/.yml),
// auto-detected for unrecognized extensions; see loader.go.
func Load(path string) (*Config, error) {
	cfg, err := loadConfigFromFile(normalizePath(path))
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func normalizePath(path string) string {
	if path == "" {
		return ConfigPath()
	}
	return path
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates all directories the daemon writes to.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.History.Path),
		filepath.Dir(c.Logging.FilePath),
		filepath.Dir(c.Daemon.PidFile),
	}
	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ApplyEnvOverrides applies USB_MODED_-prefixed environment overrides.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("USB_MODED_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("USB_MODED_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("USB_MODED_MODE_DIR"); v != "" {
		c.ModeStore.Dir = v
	}
	if v := os.Getenv("USB_MODED_ANDROID_ROOT"); v != "" {
		c.Backend.AndroidRoot = v
	}
	if v := os.Getenv("USB_MODED_CONFIGFS_ROOT"); v != "" {
		c.Backend.ConfigFSRoot = v
	}
	if v := os.Getenv("USB_MODED_POWER_SUPPLY_PATH"); v != "" {
		c.Cable.PowerSupplyPath = v
	}
	if v := os.Getenv("USB_MODED_PID_FILE"); v != "" {
		c.Daemon.PidFile = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clone := &Config{
		Version:   c.Version,
		Backend:   c.Backend,
		Cable:     c.Cable,
		ModeStore: c.ModeStore,
		Policy:    c.Policy,
		Bridge:    c.Bridge,
		History:   c.History,
		Logging:   c.Logging,
		Daemon:    c.Daemon,
	}
	return clone
}
