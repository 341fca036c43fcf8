// Package config handles configuration loading and validation for usb-moded.
package config

import (
	"os"
	"path/filepath"
)

// SupportedConfigFormats returns the list of supported config file formats.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile searches for a config file in standard locations, returning
// the first match or "" if none is found.
func FindConfigFile() string {
	searchDirs := []string{".", "/etc/usb-moded"}

	for _, dir := range searchDirs {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "usb-moded."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}
