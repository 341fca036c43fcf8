package selector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JamiKettunen/usb-moded/internal/mode"
)

func TestSelect_Rescue(t *testing.T) {
	got, err := Select(true, Policy{Rescue: true, ConfiguredMode: "mtp_mode", ExportPermitted: true})
	require.NoError(t, err)
	assert.Equal(t, DeveloperMode, got)
}

func TestSelect_DiagnosticUsesFirstMode(t *testing.T) {
	got, err := Select(true, Policy{Diagnostic: true, DiagnosticModes: []mode.Name{"mass_storage", "mtp_mode"}})
	require.NoError(t, err)
	assert.Equal(t, mode.Name("mass_storage"), got)
}

func TestSelect_DiagnosticWithoutModesIsConfigError(t *testing.T) {
	_, err := Select(true, Policy{Diagnostic: true})
	assert.Error(t, err)
}

func TestSelect_AskWithUnknownUserFallsBack(t *testing.T) {
	got, err := Select(false, Policy{ConfiguredMode: mode.Ask})
	require.NoError(t, err)
	assert.Equal(t, mode.ChargingFallback, got)
}

func TestSelect_AskResolvesToSingleAvailableMode(t *testing.T) {
	got, err := Select(true, Policy{ConfiguredMode: mode.Ask, AvailableModes: []mode.Name{"mtp_mode"}})
	require.NoError(t, err)
	assert.Equal(t, mode.Name("mtp_mode"), got)
}

func TestSelect_AskWithMultipleAvailableStaysAsk(t *testing.T) {
	got, err := Select(true, Policy{ConfiguredMode: mode.Ask, AvailableModes: []mode.Name{"mtp_mode", "mass_storage"}})
	require.NoError(t, err)
	assert.Equal(t, mode.Ask, got)
}

func TestSelect_ConfiguredModeHonoredWhenExportPermitted(t *testing.T) {
	got, err := Select(true, Policy{ConfiguredMode: "mass_storage", ExportPermitted: true})
	require.NoError(t, err)
	assert.Equal(t, mode.Name("mass_storage"), got)
}

func TestSelect_ConfiguredModeDeniedWhenExportNotPermitted(t *testing.T) {
	got, err := Select(true, Policy{ConfiguredMode: "mass_storage", ExportPermitted: false})
	require.NoError(t, err)
	assert.Equal(t, mode.ChargingFallback, got)
}

func TestSelect_ConfiguredModeDeniedOnUserChange(t *testing.T) {
	got, err := Select(true, Policy{ConfiguredMode: "mass_storage", ExportPermitted: true, UserChanged: true})
	require.NoError(t, err)
	assert.Equal(t, mode.ChargingFallback, got)
}

func TestSelect_NoConfiguredModeFallsBack(t *testing.T) {
	got, err := Select(true, Policy{ExportPermitted: true})
	require.NoError(t, err)
	assert.Equal(t, mode.ChargingFallback, got)
}
