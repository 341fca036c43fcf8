package wakelock

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGuard_AcquireReleaseBalance(t *testing.T) {
	g := New("usb-moded")
	assert.False(t, g.Held())

	require.NoError(t, g.Acquire())
	assert.True(t, g.Held())

	require.NoError(t, g.Acquire())
	require.NoError(t, g.Release())
	assert.True(t, g.Held(), "still held after one of two releases")

	require.NoError(t, g.Release())
	assert.False(t, g.Held())
}

func TestGuard_ReleaseWithoutAcquireIsNoop(t *testing.T) {
	g := New("usb-moded")
	require.NoError(t, g.Release())
	assert.False(t, g.Held())
}

func TestGuard_ConcurrentAcquireReleaseStaysBalanced(t *testing.T) {
	g := New("usb-moded")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, g.Acquire())
			require.NoError(t, g.Release())
		}()
	}
	wg.Wait()
	assert.False(t, g.Held())
}
