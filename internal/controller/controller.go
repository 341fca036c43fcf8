// Package controller implements the mode controller: the single mutator
// of ControllerState and the state machine that turns cable events and
// mode requests into work handed to the worker channel.
package controller

import (
	"context"
	"sync"

	"github.com/JamiKettunen/usb-moded/internal/cable"
	"github.com/JamiKettunen/usb-moded/internal/logging"
	"github.com/JamiKettunen/usb-moded/internal/mode"
	"github.com/JamiKettunen/usb-moded/internal/selector"
)

// Publisher receives the outbound signals the bridge forwards to clients.
// Implementations must not block the controller for long; the bridge
// adapter is expected to buffer or drop slow subscribers on its own side.
type Publisher interface {
	CurrentState(ctx context.Context, external mode.Name)
	TargetState(ctx context.Context, target mode.Name)
	ConnectedDialogShow(ctx context.Context)
}

// WorkPoster is the controller's view of the worker channel: a depth-1
// mailbox that overwrites any unstarted pending request.
type WorkPoster interface {
	Post(name mode.Name)
}

// PolicySource supplies the per-user configured-mode and permission
// snapshot the selector needs; it is implemented by the configuration and
// session-tracking layers.
type PolicySource interface {
	Policy(ctx context.Context, user mode.UserId) selector.Policy
}

// ControllerState is the cable/internal/target/external mode triple,
// guarded entirely by Controller's mutex; nothing outside this package
// mutates it.
type ControllerState struct {
	Cable       cable.State
	Internal    mode.Name
	Target      mode.Name
	External    mode.Name
	UserForMode mode.UserId
}

// busyExternal is the sentinel external value published while a switch is
// in flight; it is the same reserved name mode.Busy identifies.
const busyExternal = mode.Busy

// Controller owns ControllerState. All public methods are safe for
// concurrent use; they are normally called only from the single main-loop
// goroutine, but the mutex keeps worker callbacks (mode_switched) safe to
// invoke from the worker goroutine too.
type Controller struct {
	mu    sync.Mutex
	state ControllerState

	modes     *mode.List
	selector  PolicySource
	publisher Publisher
	poster    WorkPoster
	log       *logging.Logger
	audit     *logging.AuditLogger

	currentUser func() mode.UserId
}

// SetAuditLogger installs the audit sink used to record cable and mode
// transitions. A nil logger (the zero value) disables auditing.
func (c *Controller) SetAuditLogger(audit *logging.AuditLogger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audit = audit
}

// New constructs a Controller. currentUser is consulted when set_usb_mode
// needs the acting user (e.g. to stamp UserForMode on mode_switched); it is
// normally the session tracker's current-user accessor.
func New(modes *mode.List, policy PolicySource, pub Publisher, poster WorkPoster, log *logging.Logger, currentUser func() mode.UserId) *Controller {
	if currentUser == nil {
		currentUser = func() mode.UserId { return mode.UnknownUser }
	}
	return &Controller{
		state:       ControllerState{Cable: cable.Unknown, Internal: mode.Undefined, External: mode.Undefined},
		modes:       modes,
		selector:    policy,
		publisher:   pub,
		poster:      poster,
		log:         log,
		currentUser: currentUser,
	}
}

// SetModes swaps the mode list used for external-name canonicalization.
// Callers must ensure this only happens while the controller is Idle
// (see internal/daemon's reload handling).
func (c *Controller) SetModes(modes *mode.List) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modes = modes
}

// State returns a copy of the current ControllerState for diagnostics.
func (c *Controller) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetCableState implements set_cable_state: store the new cable
// state (if changed) and dispatch the corresponding request.
func (c *Controller) SetCableState(ctx context.Context, s cable.State) {
	c.mu.Lock()
	prev := c.state.Cable
	changed := prev != s
	if changed {
		c.state.Cable = s
	}
	audit := c.audit
	c.mu.Unlock()
	if !changed {
		return
	}
	if audit != nil {
		audit.LogCableChange(ctx, prev.String(), s.String())
	}

	switch s {
	case cable.Disconnected:
		c.SetUsbMode(ctx, mode.Undefined)
	case cable.ChargerConnected:
		c.SetUsbMode(ctx, mode.Charger)
	case cable.PcConnected:
		c.runSelectorAndRequest(ctx)
	}
}

func (c *Controller) runSelectorAndRequest(ctx context.Context) {
	user := c.currentUser()
	policy := c.selector.Policy(ctx, user)
	m, err := selector.Select(user.Known(), policy)
	if err != nil {
		c.log.Error("mode selection failed, falling back to charging", "error", err)
		m = mode.ChargingFallback
	}
	c.SetUsbMode(ctx, m)
}

// SetUsbMode implements set_usb_mode and the Idle/Busy(t) rows of
// the state table: a no-op if m already equals the internal mode,
// otherwise publish target/busy and post (superseding any unstarted
// pending request) to the worker.
func (c *Controller) SetUsbMode(ctx context.Context, m mode.Name) {
	c.mu.Lock()
	if m == c.state.Internal {
		c.mu.Unlock()
		return
	}
	c.state.Internal = m
	c.state.Target = m
	c.state.External = busyExternal
	c.state.UserForMode = mode.UnknownUser
	c.mu.Unlock()

	c.publisher.TargetState(ctx, m)
	c.publisher.CurrentState(ctx, busyExternal)
	c.poster.Post(m)
}

// ModeSwitched implements the mode_switched callback: the worker
// reports which mode it actually realized. If it matches the
// currently-tracked target the controller goes Idle and publishes the
// canonical external mode. If a newer target has since superseded it
// (Busy(t) | mode_switched(t') where t' != t), the controller stays Busy
// and re-dispatches the worker for the current target.
func (c *Controller) ModeSwitched(ctx context.Context, m mode.Name) {
	c.mu.Lock()
	from := c.state.Internal
	c.state.Internal = m
	target := c.state.Target
	external := c.modes.CanonicalExternal(m)
	stale := m != target
	if !stale {
		c.state.External = external
	}
	c.state.UserForMode = c.currentUser()
	audit := c.audit
	c.mu.Unlock()

	if stale {
		c.poster.Post(target)
		return
	}

	if audit != nil {
		success := m != mode.Undefined
		errMsg := ""
		if !success {
			errMsg = "worker could not realize requested mode"
		}
		audit.LogModeSwitched(ctx, string(from), string(m), success, errMsg)
	}

	c.publisher.CurrentState(ctx, external)
	if external == mode.Ask {
		c.publisher.ConnectedDialogShow(ctx)
	}
}

// RethinkChargingFallback implements rethink_charging_fallback:
// called on device-lock state changes or user-session changes. It only
// acts while the cable is PcConnected and the current mode is undefined
// or charging_fallback, re-running the selector if data export has since
// become permitted.
func (c *Controller) RethinkChargingFallback(ctx context.Context) {
	c.mu.Lock()
	acting := c.state.Cable == cable.PcConnected &&
		(c.state.Internal == mode.Undefined || c.state.Internal == mode.ChargingFallback)
	c.mu.Unlock()
	if !acting {
		return
	}
	c.runSelectorAndRequest(ctx)
}
