// Package chat holds the conversation record and the turn state machine
// that drives it.
package chat

import (
	"time"

	"github.com/pcherno/flakewise/internal/warehouse"
)

// Phase is the session-wide transient status gating new submissions.
// Exactly one phase is active at a time.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseThinking  Phase = "thinking"
	PhaseExecuting Phase = "executing"
)

// ExecutionOutcome is the terminal result of running a turn's embedded
// query: either a materialized table or a classified failure.
type ExecutionOutcome struct {
	OK           bool                `json:"ok"`
	Table        warehouse.Table     `json:"table"`
	ErrorKind    warehouse.ErrorKind `json:"error_kind,omitempty"`
	ErrorMessage string              `json:"error_message,omitempty"`
}

// Turn is one exchange in the conversation. Optional fields move from
// absent to present exactly once and are never cleared; a Turn with
// EmbeddedQuery set and Execution absent is awaiting execution.
type Turn struct {
	ID            int64             `json:"id"`
	UserText      string            `json:"user_text"`
	Greeting      bool              `json:"greeting,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	AnswerText    *string           `json:"answer_text,omitempty"`
	EmbeddedQuery *string           `json:"embedded_query,omitempty"`
	Execution     *ExecutionOutcome `json:"execution,omitempty"`
}

func cloneTurn(t *Turn) Turn {
	c := *t
	if t.AnswerText != nil {
		v := *t.AnswerText
		c.AnswerText = &v
	}
	if t.EmbeddedQuery != nil {
		v := *t.EmbeddedQuery
		c.EmbeddedQuery = &v
	}
	if t.Execution != nil {
		v := *t.Execution
		v.Table.Columns = append([]string(nil), t.Execution.Table.Columns...)
		v.Table.Rows = make([][]string, len(t.Execution.Table.Rows))
		for i, row := range t.Execution.Table.Rows {
			v.Table.Rows[i] = append([]string(nil), row...)
		}
		c.Execution = &v
	}
	return c
}
