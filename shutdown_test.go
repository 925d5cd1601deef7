package chainlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShutdownRegistry_RegisterAndUnregister(t *testing.T) {
	core := &loggerCore{}

	registerForShutdown(core)
	shutdownRegistry.mu.Lock()
	_, present := shutdownRegistry.cores[core]
	shutdownRegistry.mu.Unlock()
	require.True(t, present)

	unregisterFromShutdown(core)
	shutdownRegistry.mu.Lock()
	_, present = shutdownRegistry.cores[core]
	shutdownRegistry.mu.Unlock()
	require.False(t, present)
}

func TestShutdownRegistry_UnregisterUnknownCoreIsNoop(t *testing.T) {
	unregisterFromShutdown(&loggerCore{})
}
