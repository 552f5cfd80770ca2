package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pcherno/flakewise/internal/chat"
	"github.com/pcherno/flakewise/internal/warehouse"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeUserMessage     MessageType = "user_message"
	TypeTurnAccepted    MessageType = "turn_accepted"
	TypeAssistantAnswer MessageType = "assistant_answer"
	TypePhaseChanged    MessageType = "phase_changed"
	TypeQueryExtracted  MessageType = "query_extracted"
	TypeExecutionResult MessageType = "execution_result"
	TypeErrorEvent      MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

type UserMessage struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Text      string      `json:"text"`
}

type TurnAccepted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    int64       `json:"turn_id"`
}

type AssistantAnswer struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    int64       `json:"turn_id"`
	Text      string      `json:"text"`
}

type PhaseChanged struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Phase     string      `json:"phase"`
}

type QueryExtracted struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    int64       `json:"turn_id"`
	Query     string      `json:"query"`
}

type ExecutionResult struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	TurnID    int64       `json:"turn_id"`
	OK        bool        `json:"ok"`
	Columns   []string    `json:"columns,omitempty"`
	Rows      [][]string  `json:"rows,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Detail    string      `json:"detail,omitempty"`
}

type ErrorEvent struct {
	Type      MessageType `json:"type"`
	SessionID string      `json:"session_id"`
	Code      string      `json:"code"`
	Detail    string      `json:"detail"`
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeUserMessage:
		var msg UserMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Text == "" {
			return nil, errors.New("invalid user_message")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// FromEvent converts a conversation event into the server message sent over
// the websocket. A nil return means the event carries nothing for clients.
func FromEvent(sessionID string, evt chat.Event) any {
	switch evt.Type {
	case chat.EventPhaseChanged, chat.EventTurnCreated:
		return PhaseChanged{Type: TypePhaseChanged, SessionID: sessionID, Phase: string(evt.Phase)}
	case chat.EventAnswerSet:
		if evt.Turn.AnswerText == nil {
			return nil
		}
		return AssistantAnswer{
			Type:      TypeAssistantAnswer,
			SessionID: sessionID,
			TurnID:    evt.Turn.ID,
			Text:      *evt.Turn.AnswerText,
		}
	case chat.EventQueryExtracted:
		if evt.Turn.EmbeddedQuery == nil {
			return nil
		}
		return QueryExtracted{
			Type:      TypeQueryExtracted,
			SessionID: sessionID,
			TurnID:    evt.Turn.ID,
			Query:     *evt.Turn.EmbeddedQuery,
		}
	case chat.EventExecutionDone:
		if evt.Turn.Execution == nil {
			return nil
		}
		out := evt.Turn.Execution
		msg := ExecutionResult{
			Type:      TypeExecutionResult,
			SessionID: sessionID,
			TurnID:    evt.Turn.ID,
			OK:        out.OK,
		}
		if out.OK {
			msg.Columns = out.Table.Columns
			msg.Rows = out.Table.Rows
		} else {
			msg.ErrorKind = string(out.ErrorKind)
			msg.Detail = out.ErrorMessage
		}
		return msg
	default:
		return nil
	}
}

// executionErrorKinds guards the wire names against drifting from the
// executor's taxonomy.
var executionErrorKinds = map[warehouse.ErrorKind]struct{}{
	warehouse.KindConnection: {},
	warehouse.KindQuery:      {},
	warehouse.KindTimeout:    {},
}

func KnownErrorKind(kind string) bool {
	_, ok := executionErrorKinds[warehouse.ErrorKind(kind)]
	return ok
}
