// Package daemon wires every collaborator together into the single
// cooperative main loop: it is the only package allowed to start
// goroutines that outlive a function call.
package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/JamiKettunen/usb-moded/internal/backend"
	"github.com/JamiKettunen/usb-moded/internal/bridge"
	"github.com/JamiKettunen/usb-moded/internal/cable"
	"github.com/JamiKettunen/usb-moded/internal/config"
	"github.com/JamiKettunen/usb-moded/internal/controller"
	"github.com/JamiKettunen/usb-moded/internal/history"
	"github.com/JamiKettunen/usb-moded/internal/logging"
	"github.com/JamiKettunen/usb-moded/internal/mode"
	"github.com/JamiKettunen/usb-moded/internal/modeconfig"
	"github.com/JamiKettunen/usb-moded/internal/sysaction"
	"github.com/JamiKettunen/usb-moded/internal/wakelock"
	"github.com/JamiKettunen/usb-moded/internal/worker"
)

// Daemon owns every long-lived collaborator and runs the main loop.
type Daemon struct {
	cfg *config.Config
	log *logging.Logger

	be    backend.Backend
	modes *mode.List

	cableObs *cable.Observer
	ctrl     *controller.Controller
	work     *worker.Worker
	policy   *PolicySource
	wake     *wakelock.Guard

	hist      *history.Store
	bridgeOut bridge.Outbound
	bridgeIn  bridge.Inbound

	modeWatcher *modeconfig.Watcher
	modeReload  chan *mode.List

	currentUser mode.UserId
}

// Option customizes daemon construction, primarily for tests that need to
// substitute the bridge or history store without a real D-Bus connection
// or sqlite file.
type Option func(*Daemon)

// WithBridge overrides the outbound/inbound bridge adapter (default: none,
// i.e. the daemon runs headless).
func WithBridge(out bridge.Outbound, in bridge.Inbound) Option {
	return func(d *Daemon) { d.bridgeOut = out; d.bridgeIn = in }
}

// WithHistory overrides the transition history sink (default: none).
func WithHistory(h *history.Store) Option {
	return func(d *Daemon) { d.hist = h }
}

// New probes a backend, loads the mode list, and wires the controller and
// worker together. It does not start any goroutine; call Run for that.
func New(cfg *config.Config, log *logging.Logger, opts ...Option) (*Daemon, error) {
	be, err := backend.Probe(backend.ProbeConfig{
		Kind:         cfg.Backend.Kind,
		AndroidRoot:  cfg.Backend.AndroidRoot,
		ConfigFSRoot: cfg.Backend.ConfigFSRoot,
		UDCRoot:      cfg.Backend.UDCRoot,
	})
	if err != nil {
		return nil, fmt.Errorf("daemon: backend probe: %w", err)
	}

	modes, err := modeconfig.LoadDir(cfg.ModeStore.Dir, log)
	if err != nil {
		return nil, fmt.Errorf("daemon: load mode descriptors: %w", err)
	}

	d := &Daemon{
		cfg:         cfg,
		log:         log,
		be:          be,
		modes:       modes,
		policy:      NewPolicySource(),
		wake:        wakelock.New("usb-moded"),
		modeReload:  make(chan *mode.List, 1),
		currentUser: mode.UnknownUser,
	}
	for _, opt := range opts {
		opt(d)
	}

	be.SetRunner(sysaction.NewExecRunner(cfg.Backend.FunctionFSPath, cfg.Backend.MTPUnit))

	d.work = worker.New(be, worker.FileAttrWriter{}, modes, log)
	d.ctrl = controller.New(modes, d.policy, d, d.work, log, d.getCurrentUser)
	d.ctrl.SetAuditLogger(logging.DefaultAuditLogger())

	d.policy.SetGlobalMode(mode.Name(cfg.Policy.GlobalMode))
	if len(cfg.Policy.Whitelist) > 0 {
		uids := make([]mode.UserId, len(cfg.Policy.Whitelist))
		for i, u := range cfg.Policy.Whitelist {
			uids[i] = mode.UserId(u)
		}
		d.policy.SetWhitelist(uids)
	}

	debounce := time.Duration(cfg.Cable.PcConnectDebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = cable.DefaultDebounce
	}
	d.cableObs = cable.New(debounce, log)

	if cfg.ModeStore.Watch {
		d.modeWatcher = modeconfig.NewWatcher(cfg.ModeStore.Dir, time.Duration(cfg.ModeStore.ReloadDebounceMs)*time.Millisecond, log)
		d.modeWatcher.OnReload(func(l *mode.List) {
			select {
			case d.modeReload <- l:
			default:
				<-d.modeReload
				d.modeReload <- l
			}
		})
	}

	return d, nil
}

func (d *Daemon) getCurrentUser() mode.UserId {
	return d.currentUser
}

// SetCurrentUser updates the active session, records it as the policy
// source's last user, and rethinks a charging fallback in case the new
// session is now permitted to export data. Because the recorded last user
// is the same user the daemon then asks policy for, the selector sees
// UserChanged=false and a session switch alone does not deny the
// configured mode.
func (d *Daemon) SetCurrentUser(ctx context.Context, user mode.UserId) {
	d.currentUser = user
	d.policy.NoteUserChanged(user)
	d.ctrl.RethinkChargingFallback(ctx)
}

// Policy exposes the daemon's policy source for configuration wiring
// (e.g. a D-Bus "set mode" administrative call, or config-driven defaults).
func (d *Daemon) Policy() *PolicySource { return d.policy }

// Backend exposes the probed backend, mostly for diagnostics/tests.
func (d *Daemon) Backend() backend.Backend { return d.be }

// requestMode is the bridge.RequestModeFunc handed to bridgeIn.Start.
func (d *Daemon) requestMode(ctx context.Context, name mode.Name, uid mode.UserId) error {
	if !d.policy.Authorized(uid, name) {
		logging.DefaultAuditLogger().LogModeDenied(ctx, fmt.Sprint(int64(uid)), string(name), "uid not in whitelist")
		return fmt.Errorf("daemon: uid %d not permitted to request mode %q", uid, name)
	}
	logging.DefaultAuditLogger().LogModeRequested(ctx, fmt.Sprint(int64(uid)), string(name))
	d.ctrl.SetUsbMode(ctx, name)
	return nil
}

// CurrentState/TargetState/ConnectedDialogShow implement
// controller.Publisher: every controller-visible state change is
// forwarded to the bridge (if any) and recorded to history (if any).
func (d *Daemon) CurrentState(ctx context.Context, external mode.Name) {
	if d.bridgeOut != nil {
		d.bridgeOut.CurrentState(ctx, external)
	}
	d.recordTransition(ctx, nil)
}

func (d *Daemon) TargetState(ctx context.Context, target mode.Name) {
	if d.bridgeOut != nil {
		d.bridgeOut.TargetState(ctx, target)
	}
}

func (d *Daemon) ConnectedDialogShow(ctx context.Context) {
	if d.bridgeOut != nil {
		d.bridgeOut.ConnectedDialogShow(ctx)
	}
}

func (d *Daemon) recordTransition(ctx context.Context, txErr error) {
	if d.hist == nil {
		return
	}
	st := d.ctrl.State()
	if err := d.hist.Append(ctx, history.Record{
		Timestamp: now(),
		Cable:     st.Cable,
		Internal:  st.Internal,
		Target:    st.Target,
		External:  st.External,
		User:      st.UserForMode,
		Err:       txErr,
	}); err != nil {
		d.log.Warn("failed to record transition history", "error", err)
	}
}

// now is indirected so tests can make history timestamps deterministic.
var now = time.Now

// Run is the cooperative main loop. It blocks until ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.be.InitValues(ctx, backend.Identity{
		IdVendor:     d.cfg.Backend.IdVendor,
		IdProduct:    d.cfg.Backend.IdProduct,
		Manufacturer: d.cfg.Backend.Manufacturer,
		Product:      d.cfg.Backend.Product,
		Serial:       d.cfg.Backend.Serial,
	}); err != nil {
		return fmt.Errorf("daemon: init backend identity: %w", err)
	}

	go func() {
		defer logging.DefaultCrashHandler().RecoverGoroutine()
		d.work.Run(ctx)
	}()

	d.publishModeSet(ctx, d.modes)
	if d.bridgeOut != nil {
		d.bridgeOut.Whitelist(ctx, d.policy.WhitelistedUsers())
	}

	if d.bridgeIn != nil {
		if err := d.bridgeIn.Start(ctx, d.requestMode); err != nil {
			return fmt.Errorf("daemon: start bridge: %w", err)
		}
		defer d.bridgeIn.Close()
	}

	if d.modeWatcher != nil {
		if err := d.modeWatcher.Start(ctx); err != nil {
			return fmt.Errorf("daemon: start mode watcher: %w", err)
		}
		defer d.modeWatcher.Close()
	}

	cableEvents := d.cableObs.Changes()
	completions := d.work.Completions()

	for {
		select {
		case <-ctx.Done():
			return nil

		case s, ok := <-cableEvents:
			if !ok {
				return fmt.Errorf("daemon: cable observer channel closed")
			}
			_ = d.wake.Acquire()
			d.ctrl.SetCableState(ctx, s)
			_ = d.wake.Release()

		case m, ok := <-completions:
			if !ok {
				return fmt.Errorf("daemon: worker completion channel closed")
			}
			d.ctrl.ModeSwitched(ctx, m)

		case list, ok := <-d.modeReload:
			if !ok {
				continue
			}
			d.applyModeReload(ctx, list)
		}
	}
}

// applyModeReload swaps in a freshly loaded mode list, but only when the
// controller is not mid-switch: a mode list must never change underneath
// a switch that's already using it. On success it republishes the
// supported/hidden mode sets, since configuration changed.
func (d *Daemon) applyModeReload(ctx context.Context, list *mode.List) {
	if d.ctrl.State().External == mode.Busy {
		d.log.Warn("deferring mode descriptor reload: switch in flight")
		select {
		case d.modeReload <- list:
		default:
		}
		return
	}
	d.modes = list
	d.ctrl.SetModes(list)
	d.work.SetModes(list)
	d.log.Info("mode descriptors reloaded", "count", list.Len())
	logging.DefaultAuditLogger().LogConfigReload(ctx, list.Len(), nil)
	d.publishModeSet(ctx, list)
}

// publishModeSet advertises the current supported/hidden mode sets over
// the bridge, filtering configured hidden modes out of the supported set.
// Called once at startup and again after every mode descriptor reload,
// since either can change what is advertised.
func (d *Daemon) publishModeSet(ctx context.Context, list *mode.List) {
	if d.bridgeOut == nil {
		return
	}
	hidden := make(map[mode.Name]bool, len(d.cfg.ModeStore.HiddenModes))
	hiddenNames := make([]mode.Name, 0, len(d.cfg.ModeStore.HiddenModes))
	for _, h := range d.cfg.ModeStore.HiddenModes {
		n := mode.Name(h)
		hidden[n] = true
		hiddenNames = append(hiddenNames, n)
	}

	all := list.Names()
	supported := make([]mode.Name, 0, len(all))
	for _, n := range all {
		if !hidden[n] {
			supported = append(supported, n)
		}
	}

	d.bridgeOut.SupportedModes(ctx, supported)
	d.bridgeOut.HiddenModes(ctx, hiddenNames)
}

// ObserveCableProperties feeds one power-supply property snapshot into
// the cable observer; it is how the event source adapter (not part of
// this package) forwards kernel uevents into the debounce state machine.
func (d *Daemon) ObserveCableProperties(p cable.Properties) {
	d.cableObs.Observe(p)
}

// Close releases resources that don't depend on a running main loop.
func (d *Daemon) Close() error {
	d.cableObs.Close()
	if d.hist != nil {
		return d.hist.Close()
	}
	return nil
}
