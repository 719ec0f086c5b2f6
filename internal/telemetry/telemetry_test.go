package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitDisabledInstallsNoops(t *testing.T) {
	t.Setenv("BIOMAPPER_OTEL_ENABLED", "")

	require.NoError(t, Init(context.Background(), "biomapper", "test"))
	assert.False(t, Enabled())

	// No-op providers still hand out usable instruments.
	assert.NotNil(t, Tracer(""))
	assert.NotNil(t, Meter("custom-scope"))

	// Shutdown with nothing registered is a no-op.
	Shutdown(context.Background())
}

func TestShutdownFlushesOnce(t *testing.T) {
	shutdownFns = nil
	calls := 0
	shutdownFns = append(shutdownFns, func(context.Context) error {
		calls++
		return nil
	})

	Shutdown(context.Background())
	Shutdown(context.Background())
	assert.Equal(t, 1, calls)
}
