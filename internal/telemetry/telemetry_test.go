package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWithoutEndpoint(t *testing.T) {
	shutdown := Setup(context.Background(), "toursapi", "", false)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetupWithEndpoint(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The gRPC exporter connects lazily, so no collector is needed here.
	shutdown := Setup(ctx, "toursapi", "127.0.0.1:4317", true)
	require.NotNil(t, shutdown)

	shutdownCtx, stop := context.WithCancel(context.Background())
	stop()
	_ = shutdown(shutdownCtx)
}
