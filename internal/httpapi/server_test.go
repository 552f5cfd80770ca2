package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pcherno/flakewise/internal/chat"
	"github.com/pcherno/flakewise/internal/config"
	"github.com/pcherno/flakewise/internal/observability"
	"github.com/pcherno/flakewise/internal/responder"
	"github.com/pcherno/flakewise/internal/session"
	"github.com/pcherno/flakewise/internal/warehouse"
)

type stubExecutor struct {
	table warehouse.Table
	err   error
}

func (e *stubExecutor) Execute(ctx context.Context, query string) (warehouse.Table, error) {
	if e.err != nil {
		return warehouse.Table{}, e.err
	}
	return e.table, nil
}

type blockingResponder struct {
	release chan struct{}
}

func (r *blockingResponder) Respond(ctx context.Context, userText string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.release:
	}
	return "done thinking", nil
}

func newTestServer(t *testing.T, resp responder.Responder, exec warehouse.Executor) (*httptest.Server, *session.Manager) {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		AllowAnyOrigin:           true,
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout, responder.Welcome)
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))
	if resp == nil {
		resp = responder.NewStatic()
	}
	if exec == nil {
		exec = &stubExecutor{table: warehouse.Table{Columns: []string{"n"}, Rows: [][]string{{"1"}}}}
	}
	orch := chat.NewOrchestrator(resp, exec, metrics)
	srv := New(cfg, sessions, orch, metrics)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, sessions
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	res, err := http.Post(ts.URL+"/v1/chat/session", "application/json", bytes.NewReader([]byte(`{"user_id":"u1"}`)))
	if err != nil {
		t.Fatalf("create session request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	var created map[string]any
	if err := json.NewDecoder(res.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	sessionID, _ := created["session_id"].(string)
	if sessionID == "" {
		t.Fatalf("missing session_id in create response: %+v", created)
	}
	return sessionID
}

func fetchTranscript(t *testing.T, ts *httptest.Server, sessionID string) map[string]any {
	t.Helper()
	res, err := http.Get(ts.URL + "/v1/chat/session/" + sessionID + "/transcript")
	if err != nil {
		t.Fatalf("transcript request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transcript status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode transcript: %v", err)
	}
	return payload
}

func TestCreateAndEndSession(t *testing.T) {
	ts, _ := newTestServer(t, nil, nil)
	sessionID := createSession(t, ts)

	endRes, err := http.Post(ts.URL+"/v1/chat/session/"+sessionID+"/end", "application/json", nil)
	if err != nil {
		t.Fatalf("end session request error = %v", err)
	}
	defer endRes.Body.Close()
	if endRes.StatusCode != http.StatusOK {
		t.Fatalf("end status = %d, want %d", endRes.StatusCode, http.StatusOK)
	}

	msgRes, err := http.Post(ts.URL+"/v1/chat/session/"+sessionID+"/messages", "application/json", bytes.NewReader([]byte(`{"text":"hi"}`)))
	if err != nil {
		t.Fatalf("message request error = %v", err)
	}
	defer msgRes.Body.Close()
	if msgRes.StatusCode != http.StatusGone {
		t.Fatalf("message to ended session status = %d, want %d", msgRes.StatusCode, http.StatusGone)
	}
}

func TestTranscriptStartsWithGreeting(t *testing.T) {
	ts, _ := newTestServer(t, nil, nil)
	sessionID := createSession(t, ts)

	payload := fetchTranscript(t, ts, sessionID)
	turns, _ := payload["turns"].([]any)
	if len(turns) != 1 {
		t.Fatalf("turns = %d, want greeting only", len(turns))
	}
	first, _ := turns[0].(map[string]any)
	if first["greeting"] != true {
		t.Fatalf("first turn = %+v, want greeting", first)
	}
	if payload["phase"] != "idle" {
		t.Fatalf("phase = %v, want idle", payload["phase"])
	}
}

func TestPostMessageRunsTurn(t *testing.T) {
	ts, _ := newTestServer(t, nil, nil)
	sessionID := createSession(t, ts)

	res, err := http.Post(ts.URL+"/v1/chat/session/"+sessionID+"/messages", "application/json",
		bytes.NewReader([]byte(`{"text":"Show recent query patterns"}`)))
	if err != nil {
		t.Fatalf("message request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("message status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		payload := fetchTranscript(t, ts, sessionID)
		turns, _ := payload["turns"].([]any)
		if payload["phase"] == "idle" && len(turns) == 2 {
			last, _ := turns[1].(map[string]any)
			if last["answer_text"] != nil {
				if last["embedded_query"] == nil {
					t.Fatalf("turn without extracted query: %+v", last)
				}
				exec, _ := last["execution"].(map[string]any)
				if exec == nil || exec["ok"] != true {
					t.Fatalf("execution outcome = %+v, want success", last["execution"])
				}
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("turn never completed: %+v", payload)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPostMessageBusyConflict(t *testing.T) {
	release := make(chan struct{})
	ts, _ := newTestServer(t, &blockingResponder{release: release}, nil)
	defer close(release)
	sessionID := createSession(t, ts)

	first, err := http.Post(ts.URL+"/v1/chat/session/"+sessionID+"/messages", "application/json",
		bytes.NewReader([]byte(`{"text":"slow one"}`)))
	if err != nil {
		t.Fatalf("first message error = %v", err)
	}
	first.Body.Close()
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("first message status = %d, want %d", first.StatusCode, http.StatusAccepted)
	}

	second, err := http.Post(ts.URL+"/v1/chat/session/"+sessionID+"/messages", "application/json",
		bytes.NewReader([]byte(`{"text":"impatient"}`)))
	if err != nil {
		t.Fatalf("second message error = %v", err)
	}
	defer second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Fatalf("second message status = %d, want %d", second.StatusCode, http.StatusConflict)
	}
	var payload errorResponse
	if err := json.NewDecoder(second.Body).Decode(&payload); err != nil {
		t.Fatalf("decode conflict response: %v", err)
	}
	if payload.Code != "turn_in_flight" {
		t.Fatalf("code = %q, want turn_in_flight", payload.Code)
	}
}

func TestPostMessageUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t, nil, nil)
	res, err := http.Post(ts.URL+"/v1/chat/session/nope/messages", "application/json",
		bytes.NewReader([]byte(`{"text":"hi"}`)))
	if err != nil {
		t.Fatalf("message request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestSuggestions(t *testing.T) {
	ts, _ := newTestServer(t, nil, nil)
	res, err := http.Get(ts.URL + "/v1/chat/suggestions")
	if err != nil {
		t.Fatalf("suggestions request error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var payload suggestionsResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode suggestions: %v", err)
	}
	if len(payload.Questions) != 4 {
		t.Fatalf("questions = %d, want 4", len(payload.Questions))
	}
}

func TestSessionWSStreamsTurn(t *testing.T) {
	ts, _ := newTestServer(t, nil, nil)
	sessionID := createSession(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/session/" + sessionID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial error = %v", err)
	}
	defer conn.Close()

	msg := fmt.Sprintf(`{"type":"user_message","session_id":%q,"text":"Show recent query patterns"}`, sessionID)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		t.Fatalf("ws write error = %v", err)
	}

	seen := map[string]bool{}
	deadline := time.Now().Add(3 * time.Second)
	for !seen["assistant_answer"] || !seen["execution_result"] {
		_ = conn.SetReadDeadline(deadline)
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ws read error = %v (seen %v)", err, seen)
		}
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("decode ws message: %v", err)
		}
		seen[env.Type] = true
	}
	if !seen["turn_accepted"] {
		t.Fatalf("turn_accepted never arrived; seen %v", seen)
	}
}

func TestSessionWSRejectsMalformedMessage(t *testing.T) {
	ts, _ := newTestServer(t, nil, nil)
	sessionID := createSession(t, ts)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/chat/session/" + sessionID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"wat"}`)); err != nil {
		t.Fatalf("ws write error = %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ws read error = %v", err)
	}
	var env struct {
		Type string `json:"type"`
		Code string `json:"code"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode ws message: %v", err)
	}
	if env.Type != "error_event" || env.Code != "invalid_client_message" {
		t.Fatalf("message = %s, want invalid_client_message error", data)
	}
}
