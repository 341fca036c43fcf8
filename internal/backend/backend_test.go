package backend

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JamiKettunen/usb-moded/internal/sysaction"
)

func TestNormalizeHexID(t *testing.T) {
	assert.Equal(t, "0x18d1", NormalizeHexID("0x18D1"))
	assert.Equal(t, "0x18d1", NormalizeHexID("18d1"))
	assert.Equal(t, "0x0001", NormalizeHexID(" 1 "))
	assert.Equal(t, "not-hex", NormalizeHexID("not-hex"))
}

func newAndroidFixture(t *testing.T) (*AndroidBackend, string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "enable"), []byte("0\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "functions"), []byte(""), 0644))
	b := NewAndroidBackend(root)
	b.now = func() <-chan time.Time { ch := make(chan time.Time, 1); ch <- time.Now(); return ch }
	return b, root
}

func TestAndroidBackend_InUse(t *testing.T) {
	b, _ := newAndroidFixture(t)
	assert.True(t, b.InUse())

	missing := NewAndroidBackend(filepath.Join(t.TempDir(), "nope"))
	assert.False(t, missing.InUse())
}

func TestAndroidBackend_SetUDCIsNoOpWhenUnchanged(t *testing.T) {
	b, root := newAndroidFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "enable"), []byte("1"), 0644))

	require.NoError(t, b.SetUDC(context.Background(), true))

	got, err := os.ReadFile(filepath.Join(root, "enable"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))
}

func TestAndroidBackend_SetFunctionWritesMappedName(t *testing.T) {
	b, root := newAndroidFixture(t)
	require.NoError(t, b.SetFunction(context.Background(), "mass_storage"))

	got, err := os.ReadFile(filepath.Join(root, "functions"))
	require.NoError(t, err)
	assert.Equal(t, "mass_storage.usb0", string(got))

	enable, err := os.ReadFile(filepath.Join(root, "enable"))
	require.NoError(t, err)
	assert.Equal(t, "1", string(enable))
}

func TestAndroidBackend_SetFunctionSkipsMountAndSettleForNonMTP(t *testing.T) {
	b, _ := newAndroidFixture(t)
	fake := &sysaction.FakeRunner{}
	b.SetRunner(fake)

	require.NoError(t, b.SetFunction(context.Background(), "mass_storage"))
	assert.False(t, fake.Mounted)
	assert.Empty(t, fake.MTPCalls)
}

func TestAndroidBackend_SetFunctionMountsAndStartsMTPService(t *testing.T) {
	b, _ := newAndroidFixture(t)
	fake := &sysaction.FakeRunner{}
	b.SetRunner(fake)

	require.NoError(t, b.SetFunction(context.Background(), "mtp"))
	assert.True(t, fake.Mounted)
	assert.Equal(t, []bool{true}, fake.MTPCalls)
}

func TestAndroidBackend_SetFunctionMTPFailsWhenMountFails(t *testing.T) {
	b, _ := newAndroidFixture(t)
	fake := &sysaction.FakeRunner{FailMount: true}
	b.SetRunner(fake)

	err := b.SetFunction(context.Background(), "mtp")
	require.Error(t, err)
}

func TestAndroidBackend_InitValuesWritesIdentity(t *testing.T) {
	b, root := newAndroidFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "idVendor"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "idProduct"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "iManufacturer"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "iProduct"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "iSerial"), []byte(""), 0644))

	require.NoError(t, b.InitValues(context.Background(), Identity{IdVendor: "18d1", Manufacturer: "Acme"}))

	got, err := os.ReadFile(filepath.Join(root, "idVendor"))
	require.NoError(t, err)
	assert.Equal(t, "18d1", string(got))

	got, err = os.ReadFile(filepath.Join(root, "iManufacturer"))
	require.NoError(t, err)
	assert.Equal(t, "Acme", string(got))
}

func TestAndroidBackend_SetChargingModeClearsFunctions(t *testing.T) {
	b, root := newAndroidFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(root, "functions"), []byte("mass_storage.usb0"), 0644))

	require.NoError(t, b.SetChargingMode(context.Background()))

	got, err := os.ReadFile(filepath.Join(root, "functions"))
	require.NoError(t, err)
	assert.Equal(t, "", string(got))
}

func newConfigFsFixture(t *testing.T) (*ConfigFsBackend, string, string) {
	t.Helper()
	root := t.TempDir()
	udcDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "functions", "mass_storage.usb0"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "configs", "c.1"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "UDC"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(udcDir, "musb-hdrc.0"), []byte(""), 0644))

	b := NewConfigFsBackend(root, udcDir)
	b.now = func() <-chan time.Time { ch := make(chan time.Time, 1); ch <- time.Now(); return ch }
	return b, root, udcDir
}

func TestConfigFsBackend_InUse(t *testing.T) {
	b, _, _ := newConfigFsFixture(t)
	assert.True(t, b.InUse())
}

func TestConfigFsBackend_DiscoverUDCSkipsDotfiles(t *testing.T) {
	b, _, udcDir := newConfigFsFixture(t)
	require.NoError(t, os.WriteFile(filepath.Join(udcDir, ".lock"), []byte(""), 0644))

	name, err := b.discoverUDC()
	require.NoError(t, err)
	assert.Equal(t, "musb-hdrc.0", name)
}

func TestConfigFsBackend_SetFunctionSymlinksIntoConfig(t *testing.T) {
	b, root, _ := newConfigFsFixture(t)
	require.NoError(t, b.SetFunction(context.Background(), "mass_storage"))

	link := filepath.Join(root, "configs", "c.1", "mass_storage.usb0")
	info, err := os.Lstat(link)
	require.NoError(t, err)
	assert.True(t, info.Mode()&os.ModeSymlink != 0)

	udc, err := os.ReadFile(filepath.Join(root, "UDC"))
	require.NoError(t, err)
	assert.Equal(t, "musb-hdrc.0", string(udc))
}

func TestConfigFsBackend_SetFunctionMissingFunctionDirIsConfigAbsent(t *testing.T) {
	b, _, _ := newConfigFsFixture(t)
	err := b.SetFunction(context.Background(), "rndis")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigAbsent)
}

func TestConfigFsBackend_InitValuesRegistersKnownFunctionDirs(t *testing.T) {
	b, root, _ := newConfigFsFixture(t)
	require.NoError(t, b.InitValues(context.Background(), Identity{}))

	for _, fn := range knownFunctions {
		assert.DirExists(t, filepath.Join(root, "functions", fn))
	}
}

func TestConfigFsBackend_SetFunctionAfterInitValuesNeverConfigAbsent(t *testing.T) {
	b, _, _ := newConfigFsFixture(t)
	require.NoError(t, b.InitValues(context.Background(), Identity{}))

	assert.NoError(t, b.SetFunction(context.Background(), "rndis"))
}

func TestConfigFsBackend_SetFunctionMountsAndStartsMTPService(t *testing.T) {
	b, root, _ := newConfigFsFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "functions", "ffs.mtp"), 0755))
	fake := &sysaction.FakeRunner{}
	b.SetRunner(fake)

	require.NoError(t, b.SetFunction(context.Background(), "mtp"))
	assert.True(t, fake.Mounted)
	assert.Equal(t, []bool{true}, fake.MTPCalls)
}

func TestConfigFsBackend_SetFunctionSkipsMountForNonMTP(t *testing.T) {
	b, _, _ := newConfigFsFixture(t)
	fake := &sysaction.FakeRunner{}
	b.SetRunner(fake)

	require.NoError(t, b.SetFunction(context.Background(), "mass_storage"))
	assert.False(t, fake.Mounted)
	assert.Empty(t, fake.MTPCalls)
}

func TestProbe_AutoPrefersConfigFs(t *testing.T) {
	_, root, udcDir := newConfigFsFixture(t)
	androidRoot := filepath.Join(t.TempDir(), "android0")

	b, err := Probe(ProbeConfig{Kind: "auto", AndroidRoot: androidRoot, ConfigFSRoot: root, UDCRoot: udcDir})
	require.NoError(t, err)
	assert.Equal(t, ConfigFs, b.Kind())
}

func TestProbe_AutoFallsBackToAndroid(t *testing.T) {
	_, androidRoot := newAndroidFixture(t)
	missingConfigFs := filepath.Join(t.TempDir(), "g1")

	b, err := Probe(ProbeConfig{Kind: "auto", AndroidRoot: androidRoot, ConfigFSRoot: missingConfigFs})
	require.NoError(t, err)
	assert.Equal(t, Android, b.Kind())
}

func TestProbe_NoBackendFound(t *testing.T) {
	_, err := Probe(ProbeConfig{
		Kind:         "auto",
		AndroidRoot:  filepath.Join(t.TempDir(), "android0"),
		ConfigFSRoot: filepath.Join(t.TempDir(), "g1"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigAbsent)
}
