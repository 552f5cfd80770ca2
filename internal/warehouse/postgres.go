package warehouse

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresExecutor talks to a Postgres-protocol warehouse endpoint. Each
// execution opens its own connection and closes it unconditionally; nothing
// is pooled, so repeated failures cannot leak warehouse sessions.
type PostgresExecutor struct {
	dsn          string
	queryTimeout time.Duration
	maxRows      int
}

// NewPostgresExecutor builds an executor for dsn. queryTimeout bounds every
// execution; when it elapses the connection context is cancelled, which
// tears the connection down mid-statement. maxRows caps the materialized
// result so a runaway SELECT cannot exhaust memory.
func NewPostgresExecutor(dsn string, queryTimeout time.Duration, maxRows int) (*PostgresExecutor, error) {
	if dsn == "" {
		return nil, errors.New("warehouse dsn is required")
	}
	if queryTimeout <= 0 {
		return nil, errors.New("warehouse query timeout must be positive")
	}
	if maxRows <= 0 {
		return nil, errors.New("warehouse max rows must be positive")
	}
	return &PostgresExecutor{dsn: dsn, queryTimeout: queryTimeout, maxRows: maxRows}, nil
}

func (e *PostgresExecutor) Execute(ctx context.Context, query string) (Table, error) {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	conn, err := pgx.Connect(ctx, e.dsn)
	if err != nil {
		return Table{}, classify(ctx, err, true)
	}
	// Close with a detached context so teardown still happens after a timeout.
	defer conn.Close(context.WithoutCancel(ctx))

	rows, err := conn.Query(ctx, query)
	if err != nil {
		return Table{}, classify(ctx, err, false)
	}
	defer rows.Close()

	columns := make([]string, 0, len(rows.FieldDescriptions()))
	for _, fd := range rows.FieldDescriptions() {
		columns = append(columns, fd.Name)
	}

	var out [][]string
	for rows.Next() {
		if len(out) >= e.maxRows {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return Table{}, classify(ctx, err, false)
		}
		row := make([]string, len(values))
		for i, v := range values {
			if v == nil {
				row[i] = ""
				continue
			}
			row[i] = fmt.Sprintf("%v", v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return Table{}, classify(ctx, err, false)
	}

	return Table{Columns: columns, Rows: out}, nil
}

// classify converts a pgx fault into the boundary's error taxonomy. The
// connecting flag marks faults raised before a connection existed.
func classify(ctx context.Context, err error, connecting bool) *ExecutionError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &ExecutionError{Kind: KindTimeout, Err: err}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &ExecutionError{Kind: KindQuery, Err: err}
	}
	if connecting {
		return &ExecutionError{Kind: KindConnection, Err: err}
	}
	// Mid-statement network faults read as connection loss, not a bad query.
	if pgconn.SafeToRetry(err) || errors.Is(err, context.Canceled) {
		return &ExecutionError{Kind: KindConnection, Err: err}
	}
	return &ExecutionError{Kind: KindQuery, Err: err}
}
