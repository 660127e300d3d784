package obs

import (
	"context"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
)

func TestTruncateSQL(t *testing.T) {
	require.Equal(t, "SELECT 1 FROM carts", truncateSQL("SELECT 1\n  FROM   carts"))
	long := truncateSQL("SELECT " + strings.Repeat("x", 400))
	require.Len(t, long, maxStatementLen+3)
}

func TestPGXTracerWithoutProvider(t *testing.T) {
	tracer := PGXTracer{}
	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "select 1"})
	require.NotPanics(t, func() {
		tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: pgx.ErrNoRows})
	})
	ctx = tracer.TraceBatchStart(context.Background(), nil, pgx.TraceBatchStartData{Batch: &pgx.Batch{}})
	tracer.TraceBatchQuery(ctx, nil, pgx.TraceBatchQueryData{SQL: "update carts set modified = true"})
	tracer.TraceBatchEnd(ctx, nil, pgx.TraceBatchEndData{})
}
