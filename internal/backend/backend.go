// Package backend abstracts the two gadget realizations the daemon can
// drive: the legacy Android-sysfs tree and the modern ConfigFS gadget.
// Selection happens once at startup; the rest of the daemon only ever
// sees the Backend interface.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/JamiKettunen/usb-moded/internal/mode"
	"github.com/JamiKettunen/usb-moded/internal/sysaction"
)

// Kind tags which realization a Backend implements.
type Kind int

const (
	Android Kind = iota
	ConfigFs
)

func (k Kind) String() string {
	if k == ConfigFs {
		return "configfs"
	}
	return "android"
}

// Identity is the set of device identity strings written once during
// InitValues.
type Identity struct {
	IdVendor     string
	IdProduct    string
	Manufacturer string
	Product      string
	Serial       string
}

// Backend is the narrow capability set both gadget realizations share: a
// tagged variant dispatched behind one interface, selected once at
// startup.
type Backend interface {
	Kind() Kind

	// InUse reports whether this backend's root is present on the running
	// kernel. Used by Probe to pick a realization.
	InUse() bool

	// InitValues performs one-time setup: writes identity strings and
	// pre-registers the function endpoints the device supports. Idempotent.
	InitValues(ctx context.Context, id Identity) error

	// SetChargingMode configures a minimal charging-only configuration and
	// enables the UDC.
	SetChargingMode(ctx context.Context) error

	// SetProductID / SetVendorID write a hex id, normalized by
	// NormalizeHexID.
	SetProductID(ctx context.Context, id string) error
	SetVendorID(ctx context.Context, id string) error

	// SetFunction enacts a named function ("mass_storage", "rndis", "mtp",
	// legacy "ffs"), including the UDC disable/enable dance and the MTP
	// settle delay.
	SetFunction(ctx context.Context, fn string) error

	// SetUDC enables or disables the USB Device Controller. A write that
	// would not change the current value is a no-op.
	SetUDC(ctx context.Context, enable bool) error

	// SetRunner installs the collaborator used for the external-process
	// actions MTP mode requires (FunctionFS mount, userspace MTP service).
	// Leaving it unset makes those actions no-ops.
	SetRunner(r sysaction.Runner)
}

// isMTPFunction reports whether short names the MTP function, under either
// its own name or the legacy "ffs" alias: the only function that mounts
// FunctionFS and starts a userspace helper, and the only one that needs the
// host-enumeration settle delay.
func isMTPFunction(short string) bool {
	return short == "mtp" || short == "ffs"
}

// Sentinel errors, distinguished with errors.Is/errors.As: ConfigAbsent
// marks a missing sysfs root or attribute, IoFailure marks a write that
// reached the filesystem but failed.
var (
	ErrConfigAbsent = errors.New("backend: required root or attribute is absent")
	ErrIoFailure    = errors.New("backend: sysfs/configfs write failed")
)

// WrapConfigAbsent wraps err (which may be nil, producing a bare sentinel)
// as a ConfigAbsent failure.
func WrapConfigAbsent(context string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", context, ErrConfigAbsent)
	}
	return fmt.Errorf("%s: %w: %w", context, ErrConfigAbsent, err)
}

// WrapIoFailure wraps err as an IoFailure.
func WrapIoFailure(context string, err error) error {
	return fmt.Errorf("%s: %w: %w", context, ErrIoFailure, err)
}

// NormalizeHexID strips surrounding whitespace, parses as base-16
// (accepting a leading 0x/0X), and on success renders as "0x%04x"
// lowercase; on parse failure it passes the original string through
// unchanged.
func NormalizeHexID(id string) string {
	trimmed := strings.TrimSpace(id)
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X"), 16, 32)
	if err != nil {
		return id
	}
	return fmt.Sprintf("0x%04x", v)
}

// mapFunction maps short function names to backend-specific
// paths/endpoints. Both backends share the mapping; only the directory
// they apply it under differs.
func mapFunction(short string) (string, error) {
	switch short {
	case "mass_storage":
		return "mass_storage.usb0", nil
	case "rndis":
		return "rndis_bam.rndis", nil
	case "mtp", "ffs":
		return "ffs.mtp", nil
	default:
		return "", fmt.Errorf("backend: unknown function %q", short)
	}
}

// DescriptorFunction resolves the function name a ModeDescriptor
// requests, defaulting to mass_storage when unset.
func DescriptorFunction(d *mode.Descriptor) string {
	if d == nil || d.Function == "" {
		return "mass_storage"
	}
	return d.Function
}
