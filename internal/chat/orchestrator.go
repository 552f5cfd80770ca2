package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/pcherno/flakewise/internal/extract"
	"github.com/pcherno/flakewise/internal/observability"
	"github.com/pcherno/flakewise/internal/responder"
	"github.com/pcherno/flakewise/internal/warehouse"
)

// ErrEmptyMessage rejects blank submissions before a turn is created.
var ErrEmptyMessage = errors.New("message text is empty")

// Turn completion outcomes recorded in metrics.
const (
	outcomeAnswered        = "answered"
	outcomeExecuted        = "executed"
	outcomeExecutionFailed = "execution_failed"
	outcomeResponderFailed = "responder_failed"
	outcomeAborted         = "aborted"
)

// Orchestrator drives one turn through idle → thinking → (executing) →
// idle. It is safe to share across conversations: all per-session state
// lives in the Conversation itself.
type Orchestrator struct {
	responder responder.Responder
	executor  warehouse.Executor
	metrics   *observability.Metrics
}

func NewOrchestrator(r responder.Responder, e warehouse.Executor, m *observability.Metrics) *Orchestrator {
	return &Orchestrator{responder: r, executor: e, metrics: m}
}

// Submit accepts a user message and starts the turn worker. It returns the
// new turn id immediately; the responder call and any query execution run
// on a single background goroutine so the caller's render loop never
// blocks. While a turn is in flight further submissions fail with ErrBusy.
func (o *Orchestrator) Submit(ctx context.Context, conv *Conversation, userText string) (int64, error) {
	text := strings.TrimSpace(userText)
	if text == "" {
		return 0, ErrEmptyMessage
	}

	turn, err := conv.BeginTurn(text)
	if err != nil {
		return 0, err
	}
	o.metrics.PhaseTransitions.WithLabelValues(string(PhaseThinking)).Inc()

	// The worker outlives the submitting request on purpose: the turn must
	// run to completion independently of the caller's timing.
	go o.runTurn(context.WithoutCancel(ctx), conv, turn.ID, text)

	return turn.ID, nil
}

func (o *Orchestrator) runTurn(ctx context.Context, conv *Conversation, turnID int64, userText string) {
	start := time.Now()
	defer func() {
		o.metrics.ObserveTurnTotal(time.Since(start))
	}()

	answer, err := o.responder.Respond(ctx, userText)
	o.metrics.ObserveResponderLatency(time.Since(start))
	if err != nil {
		// A responder fault is terminal for this turn: record it where the
		// answer would go so the user sees it, and free the session.
		failure := fmt.Sprintf("I wasn't able to produce an answer: %v", err)
		o.mustSet(conv.SetAnswer(turnID, failure), turnID, "answer")
		o.finish(conv, outcomeResponderFailed)
		return
	}
	if !o.mustSet(conv.SetAnswer(turnID, answer), turnID, "answer") {
		o.finish(conv, outcomeAborted)
		return
	}

	query, ok := extract.SQL(answer)
	if !ok {
		o.finish(conv, outcomeAnswered)
		return
	}
	if !o.mustSet(conv.SetEmbeddedQuery(turnID, query), turnID, "embedded query") {
		o.finish(conv, outcomeAborted)
		return
	}

	conv.SetPhase(PhaseExecuting)
	o.metrics.PhaseTransitions.WithLabelValues(string(PhaseExecuting)).Inc()

	execStart := time.Now()
	table, execErr := o.executor.Execute(ctx, query)
	o.metrics.ObserveExecutionLatency(time.Since(execStart))

	// Success or failure, the outcome lands on the turn and the phase
	// returns to idle; a bad query must never wedge the session.
	if execErr != nil {
		kind, message := classifyExecution(execErr)
		o.metrics.ExecutorErrors.WithLabelValues(string(kind)).Inc()
		o.mustSet(conv.SetExecutionResult(turnID, ExecutionOutcome{
			OK:           false,
			ErrorKind:    kind,
			ErrorMessage: message,
		}), turnID, "execution result")
		o.finish(conv, outcomeExecutionFailed)
		return
	}

	o.mustSet(conv.SetExecutionResult(turnID, ExecutionOutcome{
		OK:    true,
		Table: table,
	}), turnID, "execution result")
	o.finish(conv, outcomeExecuted)
}

func (o *Orchestrator) finish(conv *Conversation, outcome string) {
	conv.SetPhase(PhaseIdle)
	o.metrics.PhaseTransitions.WithLabelValues(string(PhaseIdle)).Inc()
	o.metrics.Turns.WithLabelValues(outcome).Inc()
}

// mustSet reports whether the store mutation succeeded. A failure here is a
// contract violation inside the orchestrator, so it is logged loudly and
// the turn is abandoned rather than papered over.
func (o *Orchestrator) mustSet(err error, turnID int64, field string) bool {
	if err == nil {
		return true
	}
	log.Printf("turn %d: setting %s violated the store contract: %v", turnID, field, err)
	return false
}

func classifyExecution(err error) (warehouse.ErrorKind, string) {
	var execErr *warehouse.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Kind, warehouse.ScrubCredentials(execErr.Error())
	}
	return warehouse.KindQuery, warehouse.ScrubCredentials(err.Error())
}
