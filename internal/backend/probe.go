package backend

import "fmt"

// ProbeConfig names the roots a Probe call checks, taken directly from
// config.BackendConfig so this package stays independent of the config
// package.
type ProbeConfig struct {
	Kind         string // "auto", "android", or "configfs"
	AndroidRoot  string
	ConfigFSRoot string
	UDCRoot      string
}

// Probe selects the backend to drive for this boot. When Kind is "auto" it
// prefers ConfigFS (the modern path) and falls back to Android-sysfs,
// matching how recent kernels expose ConfigFS even when the legacy android0
// node also exists.
func Probe(cfg ProbeConfig) (Backend, error) {
	switch cfg.Kind {
	case "android":
		b := NewAndroidBackend(cfg.AndroidRoot)
		if !b.InUse() {
			return nil, WrapConfigAbsent("android backend requested but "+cfg.AndroidRoot+" is absent", nil)
		}
		return b, nil
	case "configfs":
		b := NewConfigFsBackend(cfg.ConfigFSRoot, cfg.UDCRoot)
		if !b.InUse() {
			return nil, WrapConfigAbsent("configfs backend requested but "+cfg.ConfigFSRoot+" is absent", nil)
		}
		return b, nil
	case "", "auto":
		if cf := NewConfigFsBackend(cfg.ConfigFSRoot, cfg.UDCRoot); cf.InUse() {
			return cf, nil
		}
		if a := NewAndroidBackend(cfg.AndroidRoot); a.InUse() {
			return a, nil
		}
		return nil, WrapConfigAbsent(fmt.Sprintf("no usable gadget backend found (checked %s, %s)", cfg.ConfigFSRoot, cfg.AndroidRoot), nil)
	default:
		return nil, fmt.Errorf("backend: unknown kind %q", cfg.Kind)
	}
}
