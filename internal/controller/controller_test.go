package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JamiKettunen/usb-moded/internal/cable"
	"github.com/JamiKettunen/usb-moded/internal/logging"
	"github.com/JamiKettunen/usb-moded/internal/mode"
	"github.com/JamiKettunen/usb-moded/internal/selector"
)

type fakePublisher struct {
	current []mode.Name
	target  []mode.Name
	dialogs int
}

func (f *fakePublisher) CurrentState(ctx context.Context, external mode.Name) {
	f.current = append(f.current, external)
}
func (f *fakePublisher) TargetState(ctx context.Context, target mode.Name) {
	f.target = append(f.target, target)
}
func (f *fakePublisher) ConnectedDialogShow(ctx context.Context) { f.dialogs++ }

type fakePoster struct {
	posted []mode.Name
}

func (f *fakePoster) Post(name mode.Name) { f.posted = append(f.posted, name) }

type fakePolicy struct {
	p selector.Policy
}

func (f *fakePolicy) Policy(ctx context.Context, user mode.UserId) selector.Policy { return f.p }

func newTestController(t *testing.T) (*Controller, *fakePublisher, *fakePoster, *fakePolicy) {
	t.Helper()
	modes := mode.NewList([]*mode.Descriptor{
		{Name: mode.ChargingFallback, ExternalSynonym: "charging_fallback"},
		{Name: mode.Ask},
		{Name: "mass_storage"},
	})
	pub := &fakePublisher{}
	poster := &fakePoster{}
	policy := &fakePolicy{}
	log := logging.NewTestLogger()
	c := New(modes, policy, pub, poster, log, func() mode.UserId { return 1000 })
	return c, pub, poster, policy
}

func TestSetUsbMode_NoopWhenAlreadyInternal(t *testing.T) {
	c, pub, poster, _ := newTestController(t)
	c.SetUsbMode(context.Background(), mode.Undefined) // already internal == undefined
	assert.Empty(t, pub.target)
	assert.Empty(t, poster.posted)
}

func TestSetUsbMode_PublishesBusyAndPosts(t *testing.T) {
	c, pub, poster, _ := newTestController(t)
	c.SetUsbMode(context.Background(), "mass_storage")

	assert.Equal(t, []mode.Name{"mass_storage"}, pub.target)
	assert.Equal(t, []mode.Name{mode.Busy}, pub.current)
	assert.Equal(t, []mode.Name{"mass_storage"}, poster.posted)
	assert.Equal(t, mode.Name("mass_storage"), c.State().Target)
}

func TestSetUsbMode_SupersedesPendingRequest(t *testing.T) {
	c, pub, poster, _ := newTestController(t)
	c.SetUsbMode(context.Background(), "mass_storage")
	c.SetUsbMode(context.Background(), mode.ChargingFallback)

	assert.Equal(t, []mode.Name{"mass_storage", mode.ChargingFallback}, poster.posted)
	assert.Equal(t, mode.ChargingFallback, c.State().Target)
	assert.Equal(t, []mode.Name{mode.Busy, mode.Busy}, pub.current)
}

func TestModeSwitched_MatchingTargetGoesIdle(t *testing.T) {
	c, pub, poster, _ := newTestController(t)
	c.SetUsbMode(context.Background(), "mass_storage")

	c.ModeSwitched(context.Background(), "mass_storage")

	st := c.State()
	assert.Equal(t, mode.Name("mass_storage"), st.Internal)
	assert.Equal(t, mode.Name("mass_storage"), st.External)
	assert.Equal(t, mode.UserId(1000), st.UserForMode)
	assert.Equal(t, []mode.Name{mode.Busy, "mass_storage"}, pub.current)
	assert.Len(t, poster.posted, 1) // no re-dispatch
}

func TestModeSwitched_StaleResultRedispatchesForCurrentTarget(t *testing.T) {
	c, pub, poster, _ := newTestController(t)
	c.SetUsbMode(context.Background(), "mass_storage")
	c.SetUsbMode(context.Background(), mode.ChargingFallback) // supersedes before worker finishes

	c.ModeSwitched(context.Background(), "mass_storage") // worker reports the stale target

	assert.Equal(t, []mode.Name{"mass_storage", mode.ChargingFallback, mode.ChargingFallback}, poster.posted)
	assert.Equal(t, mode.Busy, c.State().External) // still busy, no extra CurrentState publish
	assert.Equal(t, []mode.Name{mode.Busy, mode.Busy}, pub.current)
}

func TestModeSwitched_AskPublishesConnectedDialog(t *testing.T) {
	c, pub, _, _ := newTestController(t)
	c.SetUsbMode(context.Background(), mode.Ask)
	c.ModeSwitched(context.Background(), mode.Ask)
	assert.Equal(t, 1, pub.dialogs)
}

func TestSetCableState_DisconnectedRequestsUndefined(t *testing.T) {
	c, _, poster, _ := newTestController(t)
	c.SetUsbMode(context.Background(), "mass_storage")
	c.ModeSwitched(context.Background(), "mass_storage")

	c.SetCableState(context.Background(), cable.Disconnected)
	assert.Equal(t, mode.Undefined, poster.posted[len(poster.posted)-1])
}

func TestSetCableState_ChargerConnectedRequestsCharger(t *testing.T) {
	c, _, poster, _ := newTestController(t)
	c.SetCableState(context.Background(), cable.ChargerConnected)
	assert.Equal(t, mode.Charger, poster.posted[len(poster.posted)-1])
}

func TestSetCableState_PcConnectedRunsSelector(t *testing.T) {
	c, _, poster, policy := newTestController(t)
	policy.p = selector.Policy{ConfiguredMode: "mass_storage", ExportPermitted: true}

	c.SetCableState(context.Background(), cable.PcConnected)
	require.NotEmpty(t, poster.posted)
	assert.Equal(t, mode.Name("mass_storage"), poster.posted[len(poster.posted)-1])
}

func TestSetCableState_UnchangedStateIsNoop(t *testing.T) {
	c, _, poster, _ := newTestController(t)
	c.SetCableState(context.Background(), cable.Unknown) // already Unknown at construction
	assert.Empty(t, poster.posted)
}

func TestRethinkChargingFallback_OnlyActsWhenPcConnectedAndFallenBack(t *testing.T) {
	c, _, poster, policy := newTestController(t)
	policy.p = selector.Policy{ConfiguredMode: "mass_storage", ExportPermitted: false} // export denied: selector falls back

	c.RethinkChargingFallback(context.Background()) // cable still Unknown, no-op
	assert.Empty(t, poster.posted)

	c.SetCableState(context.Background(), cable.PcConnected) // falls back, internal becomes charging_fallback
	require.Equal(t, mode.ChargingFallback, c.State().Internal)
	poster.posted = nil

	policy.p.ExportPermitted = true // export now permitted
	c.RethinkChargingFallback(context.Background())
	require.NotEmpty(t, poster.posted)
	assert.Equal(t, mode.Name("mass_storage"), poster.posted[len(poster.posted)-1])
}
