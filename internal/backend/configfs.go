package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/JamiKettunen/usb-moded/internal/sysaction"
)

// knownFunctions are the backend-specific function directories
// pre-registered by InitValues, so that a descriptor requesting any of
// them never fails SetFunction with ErrConfigAbsent for want of a
// directory nothing else would have created.
var knownFunctions = []string{"mass_storage.usb0", "rndis_bam.rndis", "ffs.mtp"}

// ConfigFsBackend drives a ConfigFS gadget rooted at e.g.
// /config/usb_gadget/g1: functions live under functions/<type>.<instance>,
// are wired into the gadget by a symlink under configs/c.1/<name>, and the
// UDC is selected by writing its name into UDC; an empty write disables
// the gadget.
type ConfigFsBackend struct {
	root   string
	udcDir string
	now    func() <-chan time.Time
	sys    sysaction.Runner
}

// NewConfigFsBackend returns a Backend rooted at root (typically
// "/config/usb_gadget/g1"); udcDir is the UDC class directory
// ("/sys/class/udc") scanned to discover the controller name.
func NewConfigFsBackend(root, udcDir string) *ConfigFsBackend {
	return &ConfigFsBackend{root: root, udcDir: udcDir, now: func() <-chan time.Time { return time.After(mtpSettle) }}
}

// SetRunner installs the collaborator used to mount FunctionFS and start
// the userspace MTP service when the mtp/ffs function is enabled.
func (b *ConfigFsBackend) SetRunner(r sysaction.Runner) {
	b.sys = r
}

func (b *ConfigFsBackend) Kind() Kind { return ConfigFs }

func (b *ConfigFsBackend) InUse() bool {
	return pathExists(b.root) && pathExists(filepath.Join(b.root, "UDC"))
}

func (b *ConfigFsBackend) InitValues(ctx context.Context, id Identity) error {
	strs := filepath.Join(b.root, "strings", "0x409")
	if err := os.MkdirAll(strs, 0755); err != nil {
		return WrapIoFailure("mkdir "+strs, err)
	}
	for attr, v := range map[string]string{
		"manufacturer": id.Manufacturer,
		"product":      id.Product,
		"serialnumber": id.Serial,
	} {
		if v == "" {
			continue
		}
		rel, _ := filepath.Rel(b.root, filepath.Join(strs, attr))
		if err := writeAttr(b.root, rel, v); err != nil {
			return err
		}
	}
	if id.IdVendor != "" {
		if err := b.SetVendorID(ctx, id.IdVendor); err != nil {
			return err
		}
	}
	if id.IdProduct != "" {
		if err := b.SetProductID(ctx, id.IdProduct); err != nil {
			return err
		}
	}
	for _, fn := range knownFunctions {
		dir := filepath.Join(b.root, "functions", fn)
		if err := os.MkdirAll(dir, 0755); err != nil && !errors.Is(err, os.ErrExist) {
			return WrapIoFailure("mkdir "+dir, err)
		}
	}
	return nil
}

func (b *ConfigFsBackend) SetChargingMode(ctx context.Context) error {
	if err := b.SetUDC(ctx, false); err != nil {
		return err
	}
	if err := b.clearConfig(); err != nil {
		return err
	}
	return b.SetUDC(ctx, true)
}

func (b *ConfigFsBackend) SetProductID(ctx context.Context, id string) error {
	return writeAttr(b.root, "idProduct", NormalizeHexID(id))
}

func (b *ConfigFsBackend) SetVendorID(ctx context.Context, id string) error {
	return writeAttr(b.root, "idVendor", NormalizeHexID(id))
}

// SetFunction wires functions/<mapped> into configs/c.1/<mapped> via
// symlink, first clearing any function currently linked. EEXIST on the link
// step is treated as success (already wired): a gadget left configured
// from a previous run is not an error.
func (b *ConfigFsBackend) SetFunction(ctx context.Context, fn string) error {
	mapped, err := mapFunction(fn)
	if err != nil {
		return err
	}

	if err := b.SetUDC(ctx, false); err != nil {
		return err
	}
	if err := b.clearConfig(); err != nil {
		return err
	}

	funcDir := filepath.Join(b.root, "functions", mapped)
	if !pathExists(funcDir) {
		return WrapConfigAbsent("function "+mapped+" not registered under "+funcDir, nil)
	}
	link := filepath.Join(b.root, "configs", "c.1", mapped)
	if err := os.Symlink(funcDir, link); err != nil && !errors.Is(err, os.ErrExist) {
		return WrapIoFailure("symlink "+link, err)
	}

	if !isMTPFunction(fn) {
		return b.SetUDC(ctx, true)
	}

	if b.sys != nil {
		if err := b.sys.MountFunctionFS(ctx); err != nil {
			return err
		}
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.now():
	}
	if err := b.SetUDC(ctx, true); err != nil {
		return err
	}
	if b.sys != nil {
		if err := b.sys.SetMTPService(ctx, true); err != nil {
			return err
		}
	}
	return nil
}

// clearConfig removes any function symlinks currently present under
// configs/c.1, leaving the gadget with an empty configuration. A missing
// symlink target when disabling is not an error: there may be nothing
// wired yet.
func (b *ConfigFsBackend) clearConfig() error {
	dir := filepath.Join(b.root, "configs", "c.1")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return WrapIoFailure("readdir "+dir, err)
	}
	for _, e := range entries {
		if e.Type()&os.ModeSymlink == 0 {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil {
			return WrapIoFailure("remove "+p, err)
		}
	}
	return nil
}

// SetUDC writes the discovered controller name to UDC to enable the
// gadget, or an empty string to disable it. The controller name is
// discovered by scanning udcDir for the first non-dotfile entry, assuming
// a single UDC controller.
func (b *ConfigFsBackend) SetUDC(ctx context.Context, enable bool) error {
	cur, _ := readAttr(b.root, "UDC")
	cur = strings.TrimSpace(cur)

	if !enable {
		if cur == "" {
			return nil
		}
		return writeAttr(b.root, "UDC", "")
	}

	name, err := b.discoverUDC()
	if err != nil {
		return err
	}
	if cur == name {
		return nil
	}
	return writeAttr(b.root, "UDC", name)
}

func (b *ConfigFsBackend) discoverUDC() (string, error) {
	entries, err := os.ReadDir(b.udcDir)
	if err != nil {
		return "", WrapConfigAbsent("no UDC controller found under "+b.udcDir, err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		return e.Name(), nil
	}
	return "", WrapConfigAbsent("no UDC controller found under "+b.udcDir, nil)
}
