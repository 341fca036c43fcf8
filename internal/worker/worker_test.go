package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JamiKettunen/usb-moded/internal/logging"
	"github.com/JamiKettunen/usb-moded/internal/mode"
)

type fakeBackend struct {
	mu       sync.Mutex
	calls    []string
	failFn   map[string]bool
	udcState bool
}

func newFakeBackend() *fakeBackend { return &fakeBackend{failFn: map[string]bool{}} }

func (f *fakeBackend) record(s string) {
	f.mu.Lock()
	f.calls = append(f.calls, s)
	f.mu.Unlock()
}

func (f *fakeBackend) SetUDC(ctx context.Context, enable bool) error {
	f.record("udc")
	f.udcState = enable
	return nil
}
func (f *fakeBackend) SetProductID(ctx context.Context, id string) error { f.record("pid"); return nil }
func (f *fakeBackend) SetVendorID(ctx context.Context, id string) error  { f.record("vid"); return nil }
func (f *fakeBackend) SetFunction(ctx context.Context, fn string) error {
	f.record("fn:" + fn)
	f.mu.Lock()
	fail := f.failFn[fn]
	f.mu.Unlock()
	if fail {
		return errors.New("simulated function write failure")
	}
	return nil
}
func (f *fakeBackend) SetChargingMode(ctx context.Context) error {
	f.record("charging")
	f.mu.Lock()
	fail := f.failFn["charging"]
	f.mu.Unlock()
	if fail {
		return errors.New("simulated charging-mode failure")
	}
	return nil
}

type fakeAttrWriter struct {
	mu     sync.Mutex
	writes []string
}

func (f *fakeAttrWriter) WriteAttr(ctx context.Context, path, value string) error {
	f.mu.Lock()
	f.writes = append(f.writes, path+"="+value)
	f.mu.Unlock()
	return nil
}

func waitCompletion(t *testing.T, w *Worker) mode.Name {
	t.Helper()
	select {
	case m := <-w.Completions():
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion")
		return ""
	}
}

func TestWorker_AppliesDescriptorAndReportsCompletion(t *testing.T) {
	modes := mode.NewList([]*mode.Descriptor{
		{Name: "mass_storage", Function: "mass_storage", SysfsPath: "/sys/foo", SysfsValue: "1", SysfsResetValue: "0"},
	})
	be := newFakeBackend()
	attrs := &fakeAttrWriter{}
	w := New(be, attrs, modes, logging.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Post("mass_storage")
	got := waitCompletion(t, w)

	assert.Equal(t, mode.Name("mass_storage"), got)
	assert.Contains(t, be.calls, "fn:mass_storage")
	assert.Contains(t, attrs.writes, "/sys/foo=1")
}

func TestWorker_UnknownModeFallsBackToCharging(t *testing.T) {
	modes := mode.NewList(nil)
	be := newFakeBackend()
	attrs := &fakeAttrWriter{}
	w := New(be, attrs, modes, logging.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Post("some_undescribed_mode")
	got := waitCompletion(t, w)
	assert.Equal(t, mode.ChargingFallback, got)
}

func TestWorker_FailureFallsBackToCharging(t *testing.T) {
	modes := mode.NewList([]*mode.Descriptor{{Name: "rndis", Function: "rndis"}})
	be := newFakeBackend()
	be.failFn["rndis"] = true
	attrs := &fakeAttrWriter{}
	w := New(be, attrs, modes, logging.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Post("rndis")
	got := waitCompletion(t, w)
	assert.Equal(t, mode.ChargingFallback, got)
	assert.Contains(t, be.calls, "charging")
}

func TestWorker_TotalFailureLeavesUdcDisabledAndReportsUndefined(t *testing.T) {
	modes := mode.NewList(nil)
	be := newFakeBackend()
	be.failFn["charging"] = true // charging_fallback's own attempt also fails
	attrs := &fakeAttrWriter{}
	w := New(be, attrs, modes, logging.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	w.Post(mode.ChargingFallback)
	got := waitCompletion(t, w)

	assert.Equal(t, mode.Undefined, got)
	require.NotEmpty(t, be.calls)
	assert.Equal(t, "udc", be.calls[len(be.calls)-1])
	assert.False(t, be.udcState)
}

func TestWorker_PostCoalescesUnstartedRequests(t *testing.T) {
	modes := mode.NewList([]*mode.Descriptor{{Name: "mtp_mode", Function: "mtp"}})
	be := newFakeBackend()
	attrs := &fakeAttrWriter{}
	w := New(be, attrs, modes, logging.NewTestLogger())

	// Post twice before the worker goroutine ever starts: the second Post
	// must be the only one processed.
	w.Post("mass_storage")
	w.Post("mtp_mode")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	got := waitCompletion(t, w)
	assert.Equal(t, mode.Name("mtp_mode"), got)
}
