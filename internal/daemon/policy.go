package daemon

import (
	"context"
	"sync"

	"github.com/JamiKettunen/usb-moded/internal/mode"
	"github.com/JamiKettunen/usb-moded/internal/selector"
)

// PolicySource is the daemon's in-memory implementation of
// controller.PolicySource: a global configured mode plus a per-user
// override map, an export-permission flag toggled by device-lock state,
// and a whitelist gating which uids may request a mode switch at all.
//
// It is deliberately simple: there is no persistence format for
// per-user configured modes here, so this keeps them in memory and lets
// internal/config's reload hook repopulate GlobalMode on startup and on
// config changes.
type PolicySource struct {
	mu sync.RWMutex

	globalMode     mode.Name
	perUser        map[mode.UserId]mode.Name
	availableModes []mode.Name
	exportPermitted bool
	lastUser        mode.UserId
	whitelist       map[mode.UserId]bool
	rescue          bool
	diagnostic      bool
	diagnosticModes []mode.Name
}

// NewPolicySource returns a PolicySource with export permitted and no
// whitelist restriction (every uid allowed), matching an unlocked device
// with no MDM-style capability policy configured.
func NewPolicySource() *PolicySource {
	return &PolicySource{
		perUser:         make(map[mode.UserId]mode.Name),
		exportPermitted: true,
		lastUser:        mode.UnknownUser,
	}
}

// SetGlobalMode sets the configured mode used for users with no per-user
// override.
func (p *PolicySource) SetGlobalMode(m mode.Name) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.globalMode = m
}

// SetUserMode sets the configured mode for a specific user.
func (p *PolicySource) SetUserMode(user mode.UserId, m mode.Name) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.perUser[user] = m
}

// SetAvailableModes updates the set the selector treats as "available to
// this user" when resolving mode.Ask.
func (p *PolicySource) SetAvailableModes(names []mode.Name) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.availableModes = append([]mode.Name{}, names...)
}

// SetExportPermitted toggles whether data export is currently allowed
// (called on device-lock/unlock).
func (p *PolicySource) SetExportPermitted(permitted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exportPermitted = permitted
}

// SetRescue/SetDiagnostic mirror the selector's forcing flags (kernel
// cmdline rescue mode, factory diagnostic image).
func (p *PolicySource) SetRescue(v bool) { p.mu.Lock(); p.rescue = v; p.mu.Unlock() }
func (p *PolicySource) SetDiagnostic(v bool, modes []mode.Name) {
	p.mu.Lock()
	p.diagnostic = v
	p.diagnosticModes = append([]mode.Name{}, modes...)
	p.mu.Unlock()
}

// SetWhitelist restricts which uids may request a mode switch at all. A
// nil or empty whitelist allows every uid (default-open when no
// allowlist is configured).
func (p *PolicySource) SetWhitelist(uids []mode.UserId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(uids) == 0 {
		p.whitelist = nil
		return
	}
	p.whitelist = make(map[mode.UserId]bool, len(uids))
	for _, u := range uids {
		p.whitelist[u] = true
	}
}

// WhitelistedUsers returns the configured uid whitelist in no particular
// order, for publishing over the bridge. Empty when no whitelist is
// configured (every uid permitted).
func (p *PolicySource) WhitelistedUsers() []mode.UserId {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.whitelist) == 0 {
		return nil
	}
	uids := make([]mode.UserId, 0, len(p.whitelist))
	for u := range p.whitelist {
		uids = append(uids, u)
	}
	return uids
}

// NoteUserChanged records user as the last active session. Policy reports
// UserChanged only for a user other than this one, so a Policy call for
// the user just recorded here reports UserChanged=false.
func (p *PolicySource) NoteUserChanged(user mode.UserId) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastUser = user
}

// Authorized implements the whitelist/capability half of the inbound
// permission check.
func (p *PolicySource) Authorized(uid mode.UserId, name mode.Name) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.whitelist == nil {
		return true
	}
	return p.whitelist[uid]
}

// Policy implements controller.PolicySource.
func (p *PolicySource) Policy(ctx context.Context, user mode.UserId) selector.Policy {
	p.mu.RLock()
	defer p.mu.RUnlock()

	m := p.globalMode
	if override, ok := p.perUser[user]; ok {
		m = override
	}

	return selector.Policy{
		Rescue:          p.rescue,
		Diagnostic:      p.diagnostic,
		DiagnosticModes: p.diagnosticModes,
		ConfiguredMode:  m,
		AvailableModes:  p.availableModes,
		ExportPermitted: p.exportPermitted,
		UserChanged:     user != p.lastUser,
	}
}
