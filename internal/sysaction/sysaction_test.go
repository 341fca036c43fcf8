package sysaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeRunner_RecordsCalls(t *testing.T) {
	r := &FakeRunner{}
	require.NoError(t, r.MountFunctionFS(context.Background()))
	assert.True(t, r.Mounted)

	require.NoError(t, r.SetMTPService(context.Background(), true))
	require.NoError(t, r.SetMTPService(context.Background(), false))
	assert.Equal(t, []bool{true, false}, r.MTPCalls)
}

func TestFakeRunner_PropagatesConfiguredFailures(t *testing.T) {
	r := &FakeRunner{FailMount: true, FailMTP: true}
	assert.Error(t, r.MountFunctionFS(context.Background()))
	assert.Error(t, r.SetMTPService(context.Background(), true))
}
