package modeconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JamiKettunen/usb-moded/internal/logging"
	"github.com/JamiKettunen/usb-moded/internal/mode"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadDir_ParsesMultipleFormats(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "mass_storage.toml", `name = "mass_storage"
function = "mass_storage"
mass_storage = true
`)
	writeFile(t, dir, "mtp.json", `{"name": "mtp_mode", "function": "mtp"}`)
	writeFile(t, dir, "rndis.yaml", "name: rndis\nfunction: rndis\nnetwork: true\n")
	writeFile(t, dir, "ignored.txt", "not a descriptor")

	list, err := LoadDir(dir, logging.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, 3, list.Len())
	assert.NotNil(t, list.Lookup("mass_storage"))
	assert.NotNil(t, list.Lookup("mtp_mode"))
	assert.NotNil(t, list.Lookup("rndis"))
}

func TestLoadDir_DropsInvalidDescriptorButKeepsOthers(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "good.json", `{"name": "mass_storage"}`)
	writeFile(t, dir, "bad.json", `{"module": "g_mass_storage"}`) // missing required name

	list, err := LoadDir(dir, logging.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, list.Len())
	assert.NotNil(t, list.Lookup("mass_storage"))
}

func TestLoadDir_EmptyDirectoryIsFatal(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadDir(dir, logging.NewTestLogger())
	assert.ErrorIs(t, err, ErrEmptyModeList)
}

func TestLoadDir_RejectsTooManyAndroidExtraSysfsPairs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "bad.json", `{
		"name": "overloaded",
		"android_extra_sysfs": [
			{"path": "/a", "value": "1"},
			{"path": "/b", "value": "1"},
			{"path": "/c", "value": "1"},
			{"path": "/d", "value": "1"},
			{"path": "/e", "value": "1"}
		]
	}`)
	_, err := LoadDir(dir, logging.NewTestLogger())
	assert.ErrorIs(t, err, ErrEmptyModeList)
}

func TestWatcher_ReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "mass_storage.json", `{"name": "mass_storage"}`)

	w := NewWatcher(dir, 30*time.Millisecond, logging.NewTestLogger())
	reloaded := make(chan *mode.List, 4)
	w.OnReload(func(l *mode.List) { reloaded <- l })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Close()

	writeFile(t, dir, "mtp.json", `{"name": "mtp_mode"}`)

	select {
	case list := <-reloaded:
		assert.Equal(t, 2, list.Len())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
