// Package bridge defines the event-bridge contract between the mode
// controller and whatever IPC transport exposes it to clients.
// The controller only ever sees Outbound; inbound requests flow back
// through Inbound into the daemon's request-mode handling. Concrete wire
// adapters (see internal/bridge/dbusbridge) implement both.
package bridge

import (
	"context"

	"github.com/JamiKettunen/usb-moded/internal/mode"
)

// Outbound is the set of signals published on mode and cable transitions.
// Implementations are called synchronously from the controller/daemon;
// they must not block on a slow or absent subscriber.
type Outbound interface {
	CurrentState(ctx context.Context, external mode.Name)
	TargetState(ctx context.Context, target mode.Name)
	ConnectedDialogShow(ctx context.Context)
	SupportedModes(ctx context.Context, names []mode.Name)
	HiddenModes(ctx context.Context, names []mode.Name)
	Whitelist(ctx context.Context, uids []mode.UserId)
}

// RequestModeFunc is the daemon-side handler an Inbound adapter calls once
// it has authenticated and authorized a request_mode call.
type RequestModeFunc func(ctx context.Context, name mode.Name, uid mode.UserId) error

// Inbound is implemented by a wire adapter to receive requests from
// clients. Start begins serving; Close tears the adapter down.
type Inbound interface {
	Start(ctx context.Context, handler RequestModeFunc) error
	Close() error
}
