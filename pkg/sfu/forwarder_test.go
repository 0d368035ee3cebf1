package sfu

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestForwarder_StartIsIdempotent(t *testing.T) {
	f := &Forwarder{kind: "audio"}
	f.running.Store(false)

	started := f.running.CompareAndSwap(false, true)
	require.True(t, started)

	startedAgain := f.running.CompareAndSwap(false, true)
	require.False(t, startedAgain)

	require.True(t, f.IsRunning())
	f.Stop()
	require.False(t, f.IsRunning())
}

func TestForwarder_StopIsSafeBeforeStart(t *testing.T) {
	f := &Forwarder{kind: "video"}
	f.Stop()
	require.False(t, f.IsRunning())

	// Stop should be safe to call even before any copy goroutine observes it.
	time.Sleep(time.Millisecond)
	require.False(t, f.IsRunning())
}
