// Package selector implements the pure mode-selection policy: given cable
// state, the current user, and a policy snapshot, it picks the ModeName the
// controller should request next. It has no side effects and no dependency
// on cable, backend, or controller state beyond what is passed in.
package selector

import (
	"github.com/JamiKettunen/usb-moded/internal/mode"
)

// Policy is the subset of device/session state the selector consults. It is
// a snapshot, not a live object: the caller (internal/controller) is
// responsible for assembling a fresh Policy for each decision.
type Policy struct {
	// Rescue forces developer_mode regardless of everything else.
	Rescue bool

	// Diagnostic forces the first mode in DiagnosticModes.
	Diagnostic      bool
	DiagnosticModes []mode.Name

	// ConfiguredMode is the per-user configured mode, or "" if nothing is
	// configured for this user.
	ConfiguredMode mode.Name

	// AvailableModes is the set of modes currently available to the user,
	// used to resolve mode.Ask to a single concrete mode when possible.
	AvailableModes []mode.Name

	// ExportPermitted reports whether data export is currently allowed
	// (device unlocked, not acting-dead).
	ExportPermitted bool

	// UserChanged reports whether the user session changed since the last
	// mode decision; a configured mode is not honored on the same cable
	// event that changed the user.
	UserChanged bool
}

// Select implements the mode selection policy. The caller only invokes
// Select when cable state is PcConnected; userKnown reports whether the
// current user refers to an actual session (mode.UserId.Known()).
func Select(userKnown bool, p Policy) (mode.Name, error) {
	if p.Rescue {
		return DeveloperMode, nil
	}

	if p.Diagnostic {
		if len(p.DiagnosticModes) == 0 {
			return "", &configError{}
		}
		return p.DiagnosticModes[0], nil
	}

	m := p.ConfiguredMode

	if m == mode.Ask {
		if !userKnown {
			return mode.ChargingFallback, nil
		}
		if len(p.AvailableModes) == 1 {
			return p.AvailableModes[0], nil
		}
		return mode.Ask, nil
	}

	if m != "" && p.ExportPermitted && !p.UserChanged {
		return m, nil
	}

	return mode.ChargingFallback, nil
}

// DeveloperMode is the well-known rescue target every usb-moded build
// configures, distinct from the cable-driven outcome modes.
const DeveloperMode mode.Name = "developer_mode"

type configError struct{}

func (e *configError) Error() string {
	return "diagnostic mode configured with an empty diagnostic mode list"
}
