package warehouse

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// writeStatementPattern matches statements that would modify warehouse
// state. The guard checks every semicolon-separated statement so a write
// cannot hide behind a leading SELECT.
var writeStatementPattern = regexp.MustCompile(`(?i)^\s*(insert|update|delete|merge|drop|truncate|alter|create|grant|revoke|copy|call|vacuum)\b`)

// ReadOnlyGuard decorates an Executor and rejects mutating statements
// before a connection is ever opened. Answers come from an external
// collaborator, so extracted queries are untrusted input.
type ReadOnlyGuard struct {
	next Executor
}

func NewReadOnlyGuard(next Executor) *ReadOnlyGuard {
	return &ReadOnlyGuard{next: next}
}

func (g *ReadOnlyGuard) Execute(ctx context.Context, query string) (Table, error) {
	for _, stmt := range strings.Split(query, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if m := writeStatementPattern.FindStringSubmatch(stmt); m != nil {
			return Table{}, &ExecutionError{
				Kind: KindQuery,
				Err:  fmt.Errorf("%s statements are not allowed on a read-only connection", strings.ToUpper(m[1])),
			}
		}
	}
	return g.next.Execute(ctx, query)
}

var (
	dsnCredsPattern   = regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/@\s]+):[^@\s]+@`)
	passwordKVPattern = regexp.MustCompile(`(?i)\bpassword=[^\s&]+`)
)

// ScrubCredentials masks warehouse credentials that drivers embed in
// connection failure messages, so error text can be shown to clients.
func ScrubCredentials(s string) string {
	out := dsnCredsPattern.ReplaceAllString(s, "$1:[REDACTED]@")
	return passwordKVPattern.ReplaceAllString(out, "password=[REDACTED]")
}
