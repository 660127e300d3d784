package obs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitTracerWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), TracingConfig{ServiceName: "cart-pricing"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}
