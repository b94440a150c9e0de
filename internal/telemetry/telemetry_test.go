package telemetry

import (
	"context"
	"testing"

	"github.com/opensource-finance/scamshield/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracerDisabled(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), domain.TracingConfig{}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracerUnsupportedExporter(t *testing.T) {
	_, err := InitTracer(context.Background(), domain.TracingConfig{Enabled: true, ExporterType: "zipkin"}, "test")
	assert.Error(t, err)
}

func TestInitTracerOTLP(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), domain.TracingConfig{
		Enabled:      true,
		ServiceName:  "scamshield-test",
		ExporterType: "otlp",
		Endpoint:     "localhost:4318",
	}, "test")
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
