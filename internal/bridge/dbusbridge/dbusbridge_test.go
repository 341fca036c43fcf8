package dbusbridge

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JamiKettunen/usb-moded/internal/mode"
)

func TestExported_RequestMode_DeniesUnauthorizedUid(t *testing.T) {
	a := &Adapter{
		authorize: func(uid mode.UserId, name mode.Name) bool { return false },
		handler:   func(ctx context.Context, name mode.Name, uid mode.UserId) error { return nil },
	}
	e := &exported{a: a}

	err := e.RequestMode("mass_storage", 1000)
	require.NotNil(t, err)
	assert.Contains(t, err.Name, "PermissionDenied")
}

func TestExported_RequestMode_ForwardsToHandler(t *testing.T) {
	var gotName mode.Name
	var gotUid mode.UserId
	a := &Adapter{
		authorize: func(uid mode.UserId, name mode.Name) bool { return true },
		handler: func(ctx context.Context, name mode.Name, uid mode.UserId) error {
			gotName = name
			gotUid = uid
			return nil
		},
	}
	e := &exported{a: a}

	err := e.RequestMode("mtp_mode", 1001)
	assert.Nil(t, err)
	assert.Equal(t, mode.Name("mtp_mode"), gotName)
	assert.Equal(t, mode.UserId(1001), gotUid)
}

func TestExported_RequestMode_PropagatesHandlerFailure(t *testing.T) {
	a := &Adapter{
		authorize: func(uid mode.UserId, name mode.Name) bool { return true },
		handler: func(ctx context.Context, name mode.Name, uid mode.UserId) error {
			return errors.New("boom")
		},
	}
	e := &exported{a: a}

	err := e.RequestMode("mass_storage", 1000)
	require.NotNil(t, err)
	assert.Contains(t, err.Name, "RequestFailed")
}
