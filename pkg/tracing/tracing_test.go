package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInit_ExportsSpansOnShutdown(t *testing.T) {
	var buf bytes.Buffer
	shutdown, err := Init("agent-payment-gateway-test", "dev", &buf)
	require.NoError(t, err)

	_, span := otel.Tracer("tracing-test").Start(context.Background(), "payment.execute")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "payment.execute")
	assert.Contains(t, buf.String(), "agent-payment-gateway-test")
}
