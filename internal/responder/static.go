package responder

import (
	"context"
	"fmt"
	"strings"
)

// Welcome greets a fresh session before any user message arrives.
const Welcome = "Welcome! I'm your warehouse analysis assistant. I can help you with:\n\n" +
	"- Query optimization\n- Cost analysis\n- Usage patterns\n- Performance monitoring\n\n" +
	"Ask a question or pick one of the suggestions below."

// cannedAnswers maps the suggested questions to prepared answers. Two of the
// answers embed a fenced SQL block so the execution path is reachable
// without a remote answering service.
var cannedAnswers = map[string]string{
	"How can I analyze warehouse usage?": "Based on my analysis, you can monitor warehouse usage through several key methods:\n\n" +
		"1. Query History Analysis:\n- Use the account usage query history view\n- Monitor execution times and patterns\n- Track resource consumption\n\n" +
		"2. Warehouse Metrics:\n- Check warehouse metering history\n- Monitor credit usage\n- Analyze peak usage times",
	"What are the most expensive queries?": "To identify expensive queries, focus on:\n\n" +
		"1. Execution Time:\n- Long-running queries\n- High compilation time\n\n" +
		"2. Resource Usage:\n- Large data scans\n- Heavy compute operations\n\n" +
		"Use this query:\n```sql\nSELECT query_text, execution_time, credits_used\nFROM query_history\nORDER BY credits_used DESC\nLIMIT 10;\n```",
	"How to optimize compute costs?": "Here are proven strategies to reduce warehouse compute costs:\n\n" +
		"1. Warehouse Management:\n- Auto-suspend unused warehouses\n- Right-size warehouse capacity\n\n" +
		"2. Query Optimization:\n- Use clustering keys\n- Implement proper filtering\n- Avoid SELECT *",
	"Show recent query patterns": "I'll help you analyze recent query patterns. Here's a query for that:\n" +
		"```sql\nSELECT\n  date_trunc('hour', start_time) AS query_hour,\n  count(*) AS query_count,\n  avg(execution_time)/1000 AS avg_execution_seconds\nFROM query_history\nWHERE start_time >= current_timestamp - interval '7 days'\nGROUP BY 1\nORDER BY 1 DESC;\n```",
}

// suggestedOrder fixes the display order for clients; map iteration would
// shuffle the buttons on every fetch.
var suggestedOrder = []string{
	"How can I analyze warehouse usage?",
	"What are the most expensive queries?",
	"How to optimize compute costs?",
	"Show recent query patterns",
}

// Static answers from the canned table, with a generic fallback for
// anything it does not recognize.
type Static struct{}

func NewStatic() *Static { return &Static{} }

func (s *Static) Respond(ctx context.Context, userText string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	text := strings.TrimSpace(userText)
	if answer, ok := cannedAnswers[text]; ok {
		return answer, nil
	}
	return fmt.Sprintf("Let me help you with that query: %s\n\nBased on the warehouse documentation and best practices, here's what I found...", text), nil
}

// SuggestedQuestions returns the canned questions in display order.
func SuggestedQuestions() []string {
	out := make([]string, len(suggestedOrder))
	copy(out, suggestedOrder)
	return out
}
