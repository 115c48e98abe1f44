package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTracer_Disabled(t *testing.T) {
	shutdown, err := InitTracer("qrshare-test", "localhost:4318", false)
	require.NoError(t, err)
	require.NotNil(t, otel.GetTextMapPropagator())
	require.NoError(t, shutdown(context.Background()))
}
