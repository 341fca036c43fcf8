package backend

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/JamiKettunen/usb-moded/internal/sysaction"
)

// mtpSettle is the delay between disabling the UDC and re-enabling it
// with a new function list, giving the MTP daemon time to notice the
// gadget disappear and reattach cleanly.
const mtpSettle = 1500 * time.Millisecond

// AndroidBackend drives the legacy Android composition-switch tree
// rooted at /sys/class/android_usb/android0: enable, functions,
// idProduct, idVendor, iManufacturer, iProduct, iSerial.
type AndroidBackend struct {
	root string
	now  func() <-chan time.Time
	sys  sysaction.Runner
}

// NewAndroidBackend returns a Backend rooted at root (typically
// "/sys/class/android_usb/android0").
func NewAndroidBackend(root string) *AndroidBackend {
	return &AndroidBackend{root: root, now: func() <-chan time.Time { return time.After(mtpSettle) }}
}

// SetRunner installs the collaborator used to mount FunctionFS and start
// the userspace MTP service when the mtp/ffs function is enabled.
func (b *AndroidBackend) SetRunner(r sysaction.Runner) {
	b.sys = r
}

func (b *AndroidBackend) Kind() Kind { return Android }

func (b *AndroidBackend) InUse() bool {
	return pathExists(b.root) && pathExists(filepath.Join(b.root, "enable"))
}

func (b *AndroidBackend) InitValues(ctx context.Context, id Identity) error {
	for attr, v := range map[string]string{
		"idVendor":     id.IdVendor,
		"idProduct":    id.IdProduct,
		"iManufacturer": id.Manufacturer,
		"iProduct":      id.Product,
		"iSerial":       id.Serial,
	} {
		if v == "" {
			continue
		}
		if err := writeAttr(b.root, attr, v); err != nil {
			return err
		}
	}
	return nil
}

func (b *AndroidBackend) SetChargingMode(ctx context.Context) error {
	if err := b.SetUDC(ctx, false); err != nil {
		return err
	}
	if err := writeAttr(b.root, "functions", ""); err != nil {
		return err
	}
	return b.SetUDC(ctx, true)
}

func (b *AndroidBackend) SetProductID(ctx context.Context, id string) error {
	return writeAttr(b.root, "idProduct", NormalizeHexID(id))
}

func (b *AndroidBackend) SetVendorID(ctx context.Context, id string) error {
	return writeAttr(b.root, "idVendor", NormalizeHexID(id))
}

func (b *AndroidBackend) SetFunction(ctx context.Context, fn string) error {
	mapped, err := mapFunction(fn)
	if err != nil {
		return err
	}
	if err := b.SetUDC(ctx, false); err != nil {
		return err
	}
	if err := writeAttr(b.root, "functions", mapped); err != nil {
		return err
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

// SetUDC toggles the "enable" attribute. A write that would not change
// the current value is skipped to avoid redundant UDC bounces.
func (b *AndroidBackend) SetUDC(ctx context.Context, enable bool) error {
	want := "0"
	if enable {
		want = "1"
	}
	cur, err := readAttr(b.root, "enable")
	if err == nil && strings.TrimSpace(cur) == want {
		return nil
	}
	return writeAttr(b.root, "enable", want)
}
