package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/pcherno/flakewise/internal/chat"
	"github.com/pcherno/flakewise/internal/config"
	"github.com/pcherno/flakewise/internal/observability"
	"github.com/pcherno/flakewise/internal/protocol"
	"github.com/pcherno/flakewise/internal/responder"
	"github.com/pcherno/flakewise/internal/session"
)

// Submitter starts one conversation turn. Implemented by chat.Orchestrator.
type Submitter interface {
	Submit(ctx context.Context, conv *chat.Conversation, userText string) (int64, error)
}

type Server struct {
	cfg          config.Config
	sessions     *session.Manager
	orchestrator Submitter
	metrics      *observability.Metrics
	upgrader     websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, orchestrator Submitter, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		sessions:     sessions,
		orchestrator: orchestrator,
		metrics:      metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin, so other sites cannot drive a user's chat session
				// if the service is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/chat/session", s.handleCreateSession)
	r.Post("/v1/chat/session/{id}/end", s.handleEndSession)
	r.Post("/v1/chat/session/{id}/messages", s.handlePostMessage)
	r.Get("/v1/chat/session/{id}/transcript", s.handleTranscript)
	r.Get("/v1/chat/session/{id}/ws", s.handleSessionWS)
	r.Get("/v1/chat/suggestions", s.handleSuggestions)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}

	sess := s.sessions.Create(req.UserID)
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("created").Inc()

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.cfg.SessionInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if strings.TrimSpace(id) == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}

	sess, err := s.sessions.End(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
	s.metrics.SessionEvents.WithLabelValues("ended").Inc()
	respondJSON(w, http.StatusOK, sess)
}

type postMessageRequest struct {
	Text string `json:"text"`
}

type postMessageResponse struct {
	SessionID string `json:"session_id"`
	TurnID    int64  `json:"turn_id"`
	Phase     string `json:"phase"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Active(id)
	if err != nil {
		respondSessionError(w, err)
		return
	}

	var req postMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	turnID, err := s.orchestrator.Submit(r.Context(), sess.Conversation(), req.Text)
	switch {
	case errors.Is(err, chat.ErrBusy):
		respondError(w, http.StatusConflict, "turn_in_flight", "a turn is already being processed")
		return
	case errors.Is(err, chat.ErrEmptyMessage):
		respondError(w, http.StatusBadRequest, "empty_message", "message text is required")
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "submit_failed", err.Error())
		return
	}

	_ = s.sessions.Touch(sess.ID)
	respondJSON(w, http.StatusAccepted, postMessageResponse{
		SessionID: sess.ID,
		TurnID:    turnID,
		Phase:     string(sess.Conversation().Phase()),
	})
}

type transcriptResponse struct {
	SessionID string      `json:"session_id"`
	Phase     string      `json:"phase"`
	Turns     []chat.Turn `json:"turns"`
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondSessionError(w, err)
		return
	}

	conv := sess.Conversation()
	respondJSON(w, http.StatusOK, transcriptResponse{
		SessionID: sess.ID,
		Phase:     string(conv.Phase()),
		Turns:     conv.Turns(),
	})
}

type suggestionsResponse struct {
	Questions []string `json:"questions"`
}

func (s *Server) handleSuggestions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, suggestionsResponse{Questions: responder.SuggestedQuestions()})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"generated_at": "",
			"window_size":  0,
			"stages":       []any{},
		})
		return
	}
	respondJSON(w, http.StatusOK, s.metrics.SnapshotStages())
}

func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.sessions.Get(id)
	if err != nil {
		respondSessionError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	defer s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := sess.Conversation().Subscribe()
	defer unsubscribe()

	// All websocket writes funnel through the writer goroutine; gorilla
	// connections do not tolerate concurrent writers.
	outbound := make(chan any, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		write := func(msg any) bool {
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return false
			}
			if t, ok := messageTypeOf(msg); ok {
				s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
			}
			return true
		}
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				if !write(msg) {
					return
				}
			case evt, ok := <-events:
				if !ok {
					return
				}
				msg := protocol.FromEvent(sess.ID, evt)
				if msg == nil {
					continue
				}
				if !write(msg) {
					return
				}
			}
		}
	}()

	enqueue := func(msg any) {
		select {
		case outbound <- msg:
		default:
			// Drop rather than stall the read loop on a saturated writer.
		}
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			enqueue(wsError(sess.ID, "invalid_client_message", err.Error()))
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		user, ok := parsed.(protocol.UserMessage)
		if !ok {
			continue
		}
		turnID, err := s.orchestrator.Submit(ctx, sess.Conversation(), user.Text)
		switch {
		case errors.Is(err, chat.ErrBusy):
			enqueue(wsError(sess.ID, "turn_in_flight", "a turn is already being processed"))
		case errors.Is(err, chat.ErrEmptyMessage):
			enqueue(wsError(sess.ID, "empty_message", "message text is required"))
		case err != nil:
			enqueue(wsError(sess.ID, "submit_failed", err.Error()))
		default:
			_ = s.sessions.Touch(sess.ID)
			enqueue(protocol.TurnAccepted{Type: protocol.TypeTurnAccepted, SessionID: sess.ID, TurnID: turnID})
		}
	}

	cancel()
	<-writerDone
}

func wsError(sessionID, code, detail string) protocol.ErrorEvent {
	return protocol.ErrorEvent{
		Type:      protocol.TypeErrorEvent,
		SessionID: sessionID,
		Code:      code,
		Detail:    detail,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrEnded):
		respondError(w, http.StatusGone, "session_ended", err.Error())
	default:
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.UserMessage:
		return m.Type, true
	case protocol.TurnAccepted:
		return m.Type, true
	case protocol.AssistantAnswer:
		return m.Type, true
	case protocol.PhaseChanged:
		return m.Type, true
	case protocol.QueryExtracted:
		return m.Type, true
	case protocol.ExecutionResult:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
