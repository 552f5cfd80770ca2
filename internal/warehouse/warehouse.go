// Package warehouse wraps the external data warehouse behind a small
// execution boundary: one statement in, a fully materialized table or a
// classified error out.
package warehouse

import (
	"context"
	"fmt"
)

// Table is the in-memory result of one statement: column names plus ordered
// rows, values already stringified for transport. An empty Table (zero rows)
// is a valid success.
type Table struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Executor runs a single statement against the warehouse. Implementations
// must release any acquired connection on every exit path and must return a
// *ExecutionError for any fault instead of panicking.
type Executor interface {
	Execute(ctx context.Context, query string) (Table, error)
}

// ErrorKind classifies execution faults for the conversation record.
type ErrorKind string

const (
	// KindConnection covers dial, auth and handshake failures.
	KindConnection ErrorKind = "connection_error"
	// KindQuery covers statements the warehouse rejected or failed.
	KindQuery ErrorKind = "query_error"
	// KindTimeout covers executions that exceeded the configured bound.
	KindTimeout ErrorKind = "timeout"
)

// ExecutionError is the only error type that crosses the executor boundary.
type ExecutionError struct {
	Kind ErrorKind
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("warehouse %s: %v", e.Kind, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Retryable reports whether a caller may reasonably retry the statement
// without changing it.
func (e *ExecutionError) Retryable() bool {
	return e.Kind == KindConnection || e.Kind == KindTimeout
}
