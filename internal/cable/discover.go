package cable

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PowerSupplyRoot is the default sysfs class root enumerated when no
// explicit device path is configured.
const PowerSupplyRoot = "/sys/class/power_supply"

// score ranks a power-supply device's likelihood of being the one that
// reports cable state: name-based hints plus which of PRESENT/ONLINE/TYPE
// the device exposes, with an outright disqualification for battery
// devices.
func score(name string, hasPresent, hasOnline, hasType bool) int {
	lower := strings.ToLower(name)
	if strings.Contains(lower, "battery") || strings.Contains(name, "BAT") {
		return 0
	}

	s := 0
	if strings.Contains(lower, "usb") {
		s += 10
	}
	if strings.Contains(lower, "charger") {
		s += 5
	}
	if hasPresent {
		s += 5
	}
	if hasOnline {
		s += 10
	}
	if hasType {
		s += 10
	}
	return s
}

// deviceProbe abstracts reading a power-supply device's attribute presence,
// so Discover can be tested without a real sysfs tree.
type deviceProbe interface {
	// Devices lists candidate device names under the power-supply class.
	Devices() ([]string, error)
	// HasAttr reports whether device exposes the named sysfs attribute.
	HasAttr(device, attr string) bool
}

// sysfsProbe is the real deviceProbe, rooted at a power_supply class
// directory.
type sysfsProbe struct {
	root string
}

func (p sysfsProbe) Devices() ([]string, error) {
	entries, err := os.ReadDir(p.root)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}

func (p sysfsProbe) HasAttr(device, attr string) bool {
	_, err := os.Stat(filepath.Join(p.root, device, attr))
	return err == nil
}

// Discover selects the power-supply device path to watch. If configuredPath
// is non-empty and exists, it is used directly. Otherwise every device
// under root is scored and the highest-scoring device with score > 0 wins,
// matching umudev_init's fallback enumeration.
func Discover(configuredPath, root string) (string, error) {
	if configuredPath != "" {
		if _, err := os.Stat(configuredPath); err == nil {
			return configuredPath, nil
		}
	}
	if root == "" {
		root = PowerSupplyRoot
	}
	return discoverWith(sysfsProbe{root: root}, root)
}

func discoverWith(probe deviceProbe, root string) (string, error) {
	devices, err := probe.Devices()
	if err != nil {
		return "", fmt.Errorf("enumerate power supply devices: %w", err)
	}

	best := ""
	bestScore := 0
	for _, name := range devices {
		s := score(name,
			probe.HasAttr(name, "present"),
			probe.HasAttr(name, "online"),
			probe.HasAttr(name, "type"),
		)
		if s > bestScore {
			bestScore = s
			best = name
		}
	}
	if best == "" {
		return "", fmt.Errorf("no usable power supply device found under %s", root)
	}
	return filepath.Join(root, best), nil
}
