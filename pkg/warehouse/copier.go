package warehouse

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RowCopier bulk-copies rows into a table and reports how many were written.
type RowCopier interface {
	CopyRows(ctx context.Context, table pgx.Identifier, columns []string, rows [][]any) (int64, error)
}

// PgxCopier copies through the postgres COPY protocol.
type PgxCopier struct {
	pool *pgxpool.Pool
}

func NewPgxCopier(pool *pgxpool.Pool) *PgxCopier {
	return &PgxCopier{pool: pool}
}

func (c *PgxCopier) CopyRows(ctx context.Context, table pgx.Identifier, columns []string, rows [][]any) (int64, error) {
	return c.pool.CopyFrom(ctx, table, columns, pgx.CopyFromRows(rows))
}
