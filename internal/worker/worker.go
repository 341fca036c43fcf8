// Package worker implements the single-consumer execution context that
// performs the blocking backend calls a mode switch requires, off the
// main loop.
package worker

import (
	"context"
	"sync"

	"github.com/JamiKettunen/usb-moded/internal/logging"
	"github.com/JamiKettunen/usb-moded/internal/mode"
)

// Backend is the narrow set of backend calls the worker drives; satisfied
// by *backend.AndroidBackend and *backend.ConfigFsBackend.
type Backend interface {
	SetUDC(ctx context.Context, enable bool) error
	SetProductID(ctx context.Context, id string) error
	SetVendorID(ctx context.Context, id string) error
	SetFunction(ctx context.Context, fn string) error
	SetChargingMode(ctx context.Context) error
}

// AttrWriter writes one arbitrary sysfs attribute, used for the
// ModeDescriptor's free-form SysfsPath writes and AndroidExtraSysfs pairs,
// which live outside the backend's own attribute namespace.
type AttrWriter interface {
	WriteAttr(ctx context.Context, path, value string) error
}

// Worker is the depth-1 mailbox-driven single consumer. Post and
// Completions implement controller.WorkPoster and the daemon's
// worker-completion mailbox respectively.
type Worker struct {
	backend Backend
	attrs   AttrWriter
	log     *logging.Logger

	modesMu sync.RWMutex
	modes   *mode.List

	mu      sync.Mutex
	pending mode.Name
	hasWork bool
	wake    chan struct{}

	completions chan mode.Name

	lastApplied *mode.Descriptor
}

// New constructs a Worker. Run must be started exactly once, in its own
// goroutine, for the process lifetime.
func New(backend Backend, attrs AttrWriter, modes *mode.List, log *logging.Logger) *Worker {
	return &Worker{
		backend:     backend,
		attrs:       attrs,
		modes:       modes,
		log:         log,
		wake:        make(chan struct{}, 1),
		completions: make(chan mode.Name, 1),
	}
}

// Post implements controller.WorkPoster: it deposits name into the depth-1
// request mailbox, overwriting any unstarted pending request rather than
// blocking the caller.
func (w *Worker) Post(name mode.Name) {
	w.mu.Lock()
	w.pending = name
	w.hasWork = true
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// SetModes swaps the mode list the worker consults, safe to call from a
// different goroutine than Run: the daemon's main loop calls this after a
// modeconfig reload, once it has confirmed no switch is in flight.
func (w *Worker) SetModes(modes *mode.List) {
	w.modesMu.Lock()
	w.modes = modes
	w.modesMu.Unlock()
}

func (w *Worker) modeList() *mode.List {
	w.modesMu.RLock()
	defer w.modesMu.RUnlock()
	return w.modes
}

// Completions returns the channel the daemon's main loop drains to learn
// which mode was actually realized, for forwarding into
// controller.ModeSwitched.
func (w *Worker) Completions() <-chan mode.Name {
	return w.completions
}

// Run is the worker's main loop: block for work, take the latest pending
// request (coalescing superseded ones), apply it, and publish the
// completion. It returns when ctx is done.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		}

		name, ok := w.takePending()
		if !ok {
			continue
		}

		actual := w.apply(ctx, name)
		w.sendCompletion(ctx, actual)
	}
}

func (w *Worker) takePending() (mode.Name, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.hasWork {
		return "", false
	}
	name := w.pending
	w.hasWork = false
	return name, true
}

func (w *Worker) sendCompletion(ctx context.Context, m mode.Name) {
	select {
	case w.completions <- m:
	case <-ctx.Done():
	default:
		// drain the stale completion and overwrite, matching the mailbox
		// discipline of the request side.
		select {
		case <-w.completions:
		default:
		}
		select {
		case w.completions <- m:
		case <-ctx.Done():
		}
	}
}

// apply runs the backend write sequence for name. On failure it attempts
// charging_fallback once; if that also fails it leaves the UDC disabled
// and reports mode.Undefined.
func (w *Worker) apply(ctx context.Context, name mode.Name) mode.Name {
	if actual, err := w.tryApply(ctx, name); err == nil {
		return actual
	} else {
		w.log.Error("mode switch failed, attempting charging fallback", "requested", name, "error", err)
	}

	if name == mode.ChargingFallback {
		_ = w.backend.SetUDC(ctx, false)
		return mode.Undefined
	}

	if actual, err := w.tryApply(ctx, mode.ChargingFallback); err == nil {
		return actual
	}
	w.log.Error("charging fallback also failed, leaving UDC disabled")
	_ = w.backend.SetUDC(ctx, false)
	return mode.Undefined
}

// tryApply performs the backend write sequence for one mode attempt
// without any fallback handling of its own.
func (w *Worker) tryApply(ctx context.Context, name mode.Name) (mode.Name, error) {
	modes := w.modeList()
	desc := modes.Lookup(name)
	if desc == nil && !mode.IsReserved(name) {
		w.log.Warn("requested mode has no descriptor, falling back to charging", "requested", name)
		name = mode.ChargingFallback
		desc = modes.Lookup(name)
	}

	if err := w.backend.SetUDC(ctx, false); err != nil {
		return "", err
	}

	if w.lastApplied != nil && w.lastApplied.SysfsPath != "" {
		if err := w.attrs.WriteAttr(ctx, w.lastApplied.SysfsPath, w.lastApplied.SysfsResetValue); err != nil {
			w.log.Warn("sysfs reset write failed, continuing", "path", w.lastApplied.SysfsPath, "error", err)
		}
	}

	if desc != nil {
		for _, pair := range desc.AndroidExtraSysfs {
			if err := w.attrs.WriteAttr(ctx, pair.Path, pair.Value); err != nil {
				return "", err
			}
		}
		if desc.SysfsPath != "" {
			if err := w.attrs.WriteAttr(ctx, desc.SysfsPath, desc.SysfsValue); err != nil {
				return "", err
			}
		}
		if desc.IdProduct != "" {
			if err := w.backend.SetProductID(ctx, desc.IdProduct); err != nil {
				return "", err
			}
		}
		if desc.IdVendorOverride != "" {
			if err := w.backend.SetVendorID(ctx, desc.IdVendorOverride); err != nil {
				return "", err
			}
		}
	}

	if name == mode.ChargingFallback || name == mode.Charger {
		if err := w.backend.SetChargingMode(ctx); err != nil {
			return "", err
		}
		w.lastApplied = desc
		return name, nil
	}

	fn := "mass_storage"
	if desc != nil && desc.Function != "" {
		fn = desc.Function
	}
	if err := w.backend.SetFunction(ctx, fn); err != nil {
		return "", err
	}
	if err := w.backend.SetUDC(ctx, true); err != nil {
		return "", err
	}

	w.lastApplied = desc
	return name, nil
}
