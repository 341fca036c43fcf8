// Package dbusbridge is the reference wire adapter for the event-bridge
// contract (internal/bridge): it implements Outbound by emitting D-Bus
// signals and Inbound by exporting a request_mode method over
// godbus/dbus/v5.
package dbusbridge

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/JamiKettunen/usb-moded/internal/bridge"
	"github.com/JamiKettunen/usb-moded/internal/logging"
	"github.com/JamiKettunen/usb-moded/internal/mode"
)

const (
	iface = "com.meego.usb_moded"
)

// Authorizer decides whether uid may request a mode switch at all
// (whitelist and capability policy enforced on the inbound path). A nil
// Authorizer passed to Dial allows every uid.
type Authorizer func(uid mode.UserId, name mode.Name) bool

// Adapter implements both bridge.Outbound and bridge.Inbound over a D-Bus
// connection.
type Adapter struct {
	conn       *dbus.Conn
	objectPath dbus.ObjectPath
	busName    string
	authorize  Authorizer
	log        *logging.Logger

	handler bridge.RequestModeFunc
}

// Dial connects to the system or session bus (system by default, since
// usb-moded registers a well-known system-bus name) and requests busName.
func Dial(ctx context.Context, busName, objectPath string, system bool, authorize Authorizer, log *logging.Logger) (*Adapter, error) {
	var conn *dbus.Conn
	var err error
	if system {
		conn, err = dbus.ConnectSystemBus(dbus.WithContext(ctx))
	} else {
		conn, err = dbus.ConnectSessionBus(dbus.WithContext(ctx))
	}
	if err != nil {
		return nil, fmt.Errorf("dbusbridge: connect bus: %w", err)
	}

	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("dbusbridge: request name %s: %w", busName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("dbusbridge: bus name %s already owned", busName)
	}

	if authorize == nil {
		authorize = func(mode.UserId, mode.Name) bool { return true }
	}

	a := &Adapter{
		conn:       conn,
		objectPath: dbus.ObjectPath(objectPath),
		busName:    busName,
		authorize:  authorize,
		log:        log,
	}
	return a, nil
}

// exported is the type whose methods godbus exposes as the object's D-Bus
// methods; kept separate from Adapter so Adapter's own (unexported)
// fields aren't reflected over the bus.
type exported struct {
	a *Adapter
}

// RequestMode is the exported request_mode(name, uid) inbound method.
func (e *exported) RequestMode(name string, uid int32) *dbus.Error {
	a := e.a
	n := mode.Name(name)
	u := mode.UserId(uid)

	if !a.authorize(u, n) {
		return dbus.NewError(iface+".PermissionDenied", []interface{}{"uid not permitted to request this mode"})
	}
	if a.handler == nil {
		return dbus.NewError(iface+".NotReady", []interface{}{"bridge not yet started"})
	}
	if err := a.handler(context.Background(), n, u); err != nil {
		return dbus.NewError(iface+".RequestFailed", []interface{}{err.Error()})
	}
	return nil
}

// Start implements bridge.Inbound: export the request_mode method under
// the configured object path and interface.
func (a *Adapter) Start(ctx context.Context, handler bridge.RequestModeFunc) error {
	a.handler = handler
	return a.conn.Export(&exported{a: a}, a.objectPath, iface)
}

// Close implements bridge.Inbound.
func (a *Adapter) Close() error {
	return a.conn.Close()
}

func (a *Adapter) emit(ctx context.Context, member string, args ...interface{}) {
	err := a.conn.Emit(a.objectPath, iface+"."+member, args...)
	if err != nil {
		a.log.Warn("failed to emit bridge signal", "member", member, "error", err)
	}
}

// CurrentState implements bridge.Outbound.
func (a *Adapter) CurrentState(ctx context.Context, external mode.Name) {
	a.emit(ctx, "current_state", string(external))
}

// TargetState implements bridge.Outbound.
func (a *Adapter) TargetState(ctx context.Context, target mode.Name) {
	a.emit(ctx, "target_state", string(target))
}

// ConnectedDialogShow implements bridge.Outbound.
func (a *Adapter) ConnectedDialogShow(ctx context.Context) {
	a.emit(ctx, "event", "connected_dialog_show")
}

// SupportedModes implements bridge.Outbound.
func (a *Adapter) SupportedModes(ctx context.Context, names []mode.Name) {
	a.emit(ctx, "supported_modes", namesToStrings(names))
}

// HiddenModes implements bridge.Outbound.
func (a *Adapter) HiddenModes(ctx context.Context, names []mode.Name) {
	a.emit(ctx, "hidden_modes", namesToStrings(names))
}

// Whitelist implements bridge.Outbound.
func (a *Adapter) Whitelist(ctx context.Context, uids []mode.UserId) {
	out := make([]int32, len(uids))
	for i, u := range uids {
		out[i] = int32(u)
	}
	a.emit(ctx, "whitelist", out)
}

func namesToStrings(names []mode.Name) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return out
}
