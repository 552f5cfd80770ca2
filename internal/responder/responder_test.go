package responder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestStaticCannedLookup(t *testing.T) {
	r := NewStatic()
	answer, err := r.Respond(context.Background(), "Show recent query patterns")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !strings.Contains(answer, "```sql") {
		t.Fatalf("canned answer should embed a fenced SQL block, got %q", answer)
	}
}

func TestStaticFallback(t *testing.T) {
	r := NewStatic()
	answer, err := r.Respond(context.Background(), "how do credits work?")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if !strings.Contains(answer, "how do credits work?") {
		t.Fatalf("fallback should echo the question, got %q", answer)
	}
	if strings.Contains(answer, "```") {
		t.Fatalf("fallback should not embed SQL, got %q", answer)
	}
}

func TestStaticRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewStatic().Respond(ctx, "anything"); err == nil {
		t.Fatalf("Respond() with cancelled context should fail")
	}
}

func TestSuggestedQuestionsStableOrder(t *testing.T) {
	a := SuggestedQuestions()
	b := SuggestedQuestions()
	if len(a) == 0 {
		t.Fatalf("no suggested questions")
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("order not stable: %v vs %v", a, b)
		}
	}
	for _, q := range a {
		if _, ok := cannedAnswers[q]; !ok {
			t.Fatalf("suggested question %q has no canned answer", q)
		}
	}
}

func TestHTTPRespond(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/respond" {
			t.Errorf("path = %q, want /v1/respond", r.URL.Path)
		}
		var req respondRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(respondResponse{Answer: "echo: " + req.Text})
	}))
	defer ts.Close()

	answer, err := NewHTTP(ts.URL).Respond(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if answer != "echo: hello" {
		t.Fatalf("Respond() = %q, want %q", answer, "echo: hello")
	}
}

func TestHTTPRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(respondResponse{Answer: "recovered"})
	}))
	defer ts.Close()

	answer, err := NewHTTP(ts.URL).Respond(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if answer != "recovered" {
		t.Fatalf("Respond() = %q, want %q", answer, "recovered")
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestHTTPDoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	if _, err := NewHTTP(ts.URL).Respond(context.Background(), "hello"); err == nil {
		t.Fatalf("Respond() should fail on 400")
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestRetryBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := retryBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := retryBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}

func TestNewFactoryModes(t *testing.T) {
	if _, err := New(Config{Mode: "static"}); err != nil {
		t.Fatalf("static mode error = %v", err)
	}
	if _, err := New(Config{Mode: "http"}); err == nil {
		t.Fatalf("http mode without URL should fail")
	}
	r, err := New(Config{Mode: "auto"})
	if err != nil {
		t.Fatalf("auto mode error = %v", err)
	}
	if _, ok := r.(*Static); !ok {
		t.Fatalf("auto mode without URL should build *Static, got %T", r)
	}
	r, err = New(Config{Mode: "auto", HTTPURL: "http://localhost:9"})
	if err != nil {
		t.Fatalf("auto mode with URL error = %v", err)
	}
	if _, ok := r.(*HTTP); !ok {
		t.Fatalf("auto mode with URL should build *HTTP, got %T", r)
	}
	if _, err := New(Config{Mode: "bogus"}); err == nil {
		t.Fatalf("unknown mode should fail")
	}
}
