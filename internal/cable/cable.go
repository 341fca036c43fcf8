// Package cable turns raw power-supply device events into a debounced
// cable-state signal: a property fallback order and a name/property
// scoring heuristic for auto-discovering the right power-supply device,
// with a single promotion timer absorbing PC-connect debounce.
package cable

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JamiKettunen/usb-moded/internal/logging"
)

// State is a four-valued cable-connection tag.
type State int

const (
	Unknown State = iota
	Disconnected
	ChargerConnected
	PcConnected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case ChargerConnected:
		return "charger_connected"
	case PcConnected:
		return "pc_connected"
	default:
		return "unknown"
	}
}

// Properties are the subset of a power-supply uevent this package reads.
// Fields are pointers so "absent" is distinguishable from "empty string".
type Properties struct {
	Present  *string
	Online   *string
	RealType *string
	Type     *string
}

// DefaultDebounce is the fixed promotion delay for PC-connect debounce.
const DefaultDebounce = 1500 * time.Millisecond

// Observer converts Properties readings into debounced State changes and
// delivers them on Changes(). The caller feeds it readings through Observe
// (internal/daemon does so from ObserveCableProperties); the debounce timer
// is a time.AfterFunc that fires on its own goroutine.
type Observer struct {
	debounce time.Duration
	log      *logging.Logger

	mu      sync.Mutex
	current State
	pending bool
	timer   *time.Timer
	changes chan State
}

// New creates an Observer with the given debounce duration (zero means
// DefaultDebounce) starting from State Unknown.
func New(debounce time.Duration, log *logging.Logger) *Observer {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if log == nil {
		log = logging.Default()
	}
	return &Observer{
		debounce: debounce,
		log:      log.WithComponent("cable"),
		current:  Unknown,
		changes:  make(chan State, 1),
	}
}

// Changes returns the channel State transitions are published on. It is a
// mailbox: only the latest undelivered state is buffered.
func (o *Observer) Changes() <-chan State {
	return o.changes
}

// Current returns the last published state.
func (o *Observer) Current() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// FromProperties classifies a power-supply properties reading into a State,
// following the PRESENT/ONLINE and REAL_TYPE/TYPE fallback chain.
func FromProperties(p Properties) (State, []string) {
	var warnings []string

	present := p.Present
	if present == nil {
		present = p.Online
	}
	if present == nil {
		warnings = append(warnings, "power supply reports neither PRESENT nor ONLINE; treating as disconnected")
		return Disconnected, warnings
	}
	if !truthy(*present) {
		return Disconnected, warnings
	}

	typ := p.RealType
	if typ == nil {
		typ = p.Type
	}
	if typ == nil {
		warnings = append(warnings, "power supply reports neither REAL_TYPE nor TYPE; optimistically assuming PC")
		return PcConnected, warnings
	}

	switch strings.ToUpper(strings.TrimSpace(*typ)) {
	case "USB", "USB_CDP":
		return PcConnected, warnings
	case "USB_DCP", "USB_HVDCP", "USB_HVDCP_3":
		return ChargerConnected, warnings
	case "USB_FLOAT":
		warnings = append(warnings, "USB_FLOAT reported while not already connected")
		return ChargerConnected, warnings
	case "UNKNOWN":
		return Disconnected, warnings
	default:
		warnings = append(warnings, fmt.Sprintf("unrecognized power supply type %q; treating as disconnected", *typ))
		return Disconnected, warnings
	}
}

func truthy(v string) bool {
	v = strings.TrimSpace(v)
	return v == "1" || strings.EqualFold(v, "true")
}

// Observe processes one device-change event. A transition into PcConnected
// from a known prior state is deferred by the debounce timer; every
// other transition, including any transition observed while the timer is
// pending, applies immediately and cancels the pending promotion.
func (o *Observer) Observe(p Properties) {
	next, warnings := FromProperties(p)
	for _, w := range warnings {
		o.log.Warn(w)
	}
	o.observe(next)
}

func (o *Observer) observe(next State) {
	o.mu.Lock()
	defer o.mu.Unlock()

	prev := o.current

	if o.pending {
		if next == PcConnected {
			// still trending PC-connected: let the running timer continue.
			return
		}
		o.stopTimerLocked()
	}

	if next == PcConnected && prev != Unknown && prev != PcConnected {
		o.startTimerLocked()
		return
	}

	o.setLocked(next)
}

func (o *Observer) startTimerLocked() {
	o.pending = true
	o.timer = time.AfterFunc(o.debounce, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if !o.pending {
			return
		}
		o.pending = false
		o.setLocked(PcConnected)
	})
}

func (o *Observer) stopTimerLocked() {
	if o.timer != nil {
		o.timer.Stop()
		o.timer = nil
	}
	o.pending = false
}

func (o *Observer) setLocked(next State) {
	if next == o.current {
		return
	}
	o.log.Info("cable state changed", "from", o.current.String(), "to", next.String())
	o.current = next
	select {
	case o.changes <- next:
	default:
		// mailbox full: drain the stale value and overwrite with the latest.
		select {
		case <-o.changes:
		default:
		}
		o.changes <- next
	}
}

// Close cancels any pending debounce timer. Safe to call from any
// goroutine; it does not close the Changes() channel.
func (o *Observer) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopTimerLocked()
}

// Run blocks processing readings from src until ctx is cancelled or src is
// closed, feeding each into Observe. It suits a power-supply reader that
// produces readings on a channel; internal/daemon does not use it and
// calls Observe directly.
func (o *Observer) Run(ctx context.Context, src <-chan Properties) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-src:
			if !ok {
				return
			}
			o.Observe(p)
		}
	}
}
