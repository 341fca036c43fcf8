package cable

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func TestFromProperties_TypeMapping(t *testing.T) {
	cases := []struct {
		name string
		p    Properties
		want State
	}{
		{"usb is pc", Properties{Present: ptr("1"), RealType: ptr("USB")}, PcConnected},
		{"usb_cdp is pc", Properties{Present: ptr("1"), RealType: ptr("USB_CDP")}, PcConnected},
		{"usb_dcp is charger", Properties{Present: ptr("1"), RealType: ptr("USB_DCP")}, ChargerConnected},
		{"usb_hvdcp_3 is charger", Properties{Present: ptr("1"), RealType: ptr("USB_HVDCP_3")}, ChargerConnected},
		{"usb_float is charger", Properties{Present: ptr("1"), RealType: ptr("USB_FLOAT")}, ChargerConnected},
		{"unknown type is disconnected", Properties{Present: ptr("1"), RealType: ptr("Unknown")}, Disconnected},
		{"unrecognized type is disconnected", Properties{Present: ptr("1"), RealType: ptr("WEIRD")}, Disconnected},
		{"not present is disconnected", Properties{Present: ptr("0"), RealType: ptr("USB")}, Disconnected},
		{"missing present falls back to online", Properties{Online: ptr("1"), RealType: ptr("USB")}, PcConnected},
		{"missing present and online is disconnected", Properties{RealType: ptr("USB")}, Disconnected},
		{"missing type is optimistically pc", Properties{Present: ptr("1")}, PcConnected},
		{"type falls back to TYPE", Properties{Present: ptr("1"), Type: ptr("USB_DCP")}, ChargerConnected},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, _ := FromProperties(c.p)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestObserver_ImmediateFromUnknown(t *testing.T) {
	o := New(50*time.Millisecond, nil)
	o.Observe(Properties{Present: ptr("1"), RealType: ptr("USB")})
	select {
	case s := <-o.Changes():
		assert.Equal(t, PcConnected, s)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for immediate transition from Unknown")
	}
}

func TestObserver_DebouncesPromotionFromKnownState(t *testing.T) {
	o := New(100*time.Millisecond, nil)
	// establish a known, non-Unknown baseline
	o.Observe(Properties{Present: ptr("0")})
	<-o.Changes()

	o.Observe(Properties{Present: ptr("1"), RealType: ptr("USB")})
	select {
	case <-o.Changes():
		t.Fatal("PcConnected promotion from a known state must be debounced")
	case <-time.After(30 * time.Millisecond):
	}

	select {
	case s := <-o.Changes():
		assert.Equal(t, PcConnected, s)
	case <-time.After(time.Second):
		t.Fatal("debounced PcConnected never arrived")
	}
}

func TestObserver_DisconnectCancelsPendingPromotion(t *testing.T) {
	o := New(100*time.Millisecond, nil)
	o.Observe(Properties{Present: ptr("0")})
	<-o.Changes()

	o.Observe(Properties{Present: ptr("1"), RealType: ptr("USB")}) // starts debounce
	o.Observe(Properties{Present: ptr("0")})                       // disconnect cancels it

	// The state was already Disconnected, so the cancel leaves it there and
	// publishes nothing.
	assert.Equal(t, Disconnected, o.Current())

	select {
	case s := <-o.Changes():
		t.Fatalf("unexpected further transition after cancel: %v", s)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestObserver_ChargerMisdetectNeverEmitsPcConnected(t *testing.T) {
	o := New(500*time.Millisecond, nil)
	o.Observe(Properties{Present: ptr("0")})
	<-o.Changes()

	o.Observe(Properties{Present: ptr("1"), RealType: ptr("USB")})
	o.Observe(Properties{Present: ptr("1"), RealType: ptr("USB_DCP")})

	select {
	case s := <-o.Changes():
		assert.Equal(t, ChargerConnected, s)
	case <-time.After(time.Second):
		t.Fatal("expected immediate ChargerConnected")
	}

	select {
	case s := <-o.Changes():
		t.Fatalf("PcConnected must never surface after a charger misdetect, got %v", s)
	case <-time.After(700 * time.Millisecond):
	}
}

type fakeProbe struct {
	devices  []string
	present  map[string]bool
	online   map[string]bool
	hasType  map[string]bool
}

func (f fakeProbe) Devices() ([]string, error) { return f.devices, nil }
func (f fakeProbe) HasAttr(device, attr string) bool {
	switch attr {
	case "present":
		return f.present[device]
	case "online":
		return f.online[device]
	case "type":
		return f.hasType[device]
	}
	return false
}

func TestDiscoverWith_PicksHighestScoringUsbDevice(t *testing.T) {
	probe := fakeProbe{
		devices: []string{"battery", "usb", "ac"},
		present: map[string]bool{"usb": true, "ac": true},
		online:  map[string]bool{"usb": true},
		hasType: map[string]bool{"usb": true, "ac": true},
	}
	got, err := discoverWith(probe, "/sys/class/power_supply")
	require.NoError(t, err)
	assert.Equal(t, "/sys/class/power_supply/usb", got)
}

func TestDiscoverWith_NoUsableDevice(t *testing.T) {
	probe := fakeProbe{devices: []string{"battery"}}
	_, err := discoverWith(probe, "/sys/class/power_supply")
	assert.Error(t, err)
}
