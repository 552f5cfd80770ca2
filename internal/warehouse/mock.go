package warehouse

import (
	"context"
	"strings"
)

// MockExecutor serves deterministic sample data so the service can run
// without a reachable warehouse. Queries mentioning query_history get a
// plausible usage table; everything else gets a single-cell status row.
type MockExecutor struct{}

func NewMockExecutor() *MockExecutor { return &MockExecutor{} }

func (e *MockExecutor) Execute(ctx context.Context, query string) (Table, error) {
	select {
	case <-ctx.Done():
		return Table{}, &ExecutionError{Kind: KindTimeout, Err: ctx.Err()}
	default:
	}

	if strings.Contains(strings.ToLower(query), "query_history") {
		return Table{
			Columns: []string{"query_hour", "query_count", "avg_execution_seconds"},
			Rows: [][]string{
				{"2026-08-31 09:00:00", "142", "3.2"},
				{"2026-08-31 08:00:00", "118", "2.9"},
				{"2026-08-31 07:00:00", "95", "4.1"},
			},
		}, nil
	}
	return Table{
		Columns: []string{"status"},
		Rows:    [][]string{{"ok"}},
	}, nil
}
