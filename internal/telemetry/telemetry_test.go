package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trigear/internal/config"
)

func TestSetup_DisabledWithoutEndpoint(t *testing.T) {
	p, err := Setup(context.Background(), config.TelemetryConfig{ServiceName: "trigear-storefront"})
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	assert.Nil(t, p.LogHandler())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetup_WithEndpoint(t *testing.T) {
	p, err := Setup(context.Background(), config.TelemetryConfig{
		OTLPEndpoint: "http://127.0.0.1:4318",
		ServiceName:  "trigear-storefront",
	})
	require.NoError(t, err)
	assert.True(t, p.Enabled())
	assert.NotNil(t, p.LogHandler())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	// Nothing was recorded, so shutdown has nothing to export.
	assert.NoError(t, p.Shutdown(ctx))
}
