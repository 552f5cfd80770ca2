package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	httpRequestTimeout = 30 * time.Second
	httpRetryMax       = 1
	httpRetryBase      = 250 * time.Millisecond
	httpRetryCap       = 2 * time.Second
)

// HTTP forwards the user's question to an external answering service:
// POST {url}/v1/respond with {"text": ...}, expecting {"answer": ...}.
type HTTP struct {
	baseURL string
	client  *http.Client
}

func NewHTTP(baseURL string) *HTTP {
	return &HTTP{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:  &http.Client{Timeout: httpRequestTimeout},
	}
}

type respondRequest struct {
	Text string `json:"text"`
}

type respondResponse struct {
	Answer string `json:"answer"`
}

func (h *HTTP) Respond(ctx context.Context, userText string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= httpRetryMax; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(retryBackoff(attempt, httpRetryBase, httpRetryCap))
			select {
			case <-ctx.Done():
				timer.Stop()
				return "", ctx.Err()
			case <-timer.C:
			}
		}

		answer, retryable, err := h.respondOnce(ctx, userText)
		if err == nil {
			return answer, nil
		}
		lastErr = err
		if !retryable || ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}

func (h *HTTP) respondOnce(ctx context.Context, userText string) (string, bool, error) {
	body, err := json.Marshal(respondRequest{Text: userText})
	if err != nil {
		return "", false, fmt.Errorf("encode respond request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+"/v1/respond", bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build respond request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := h.client.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("responder request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return "", isRetryableStatus(res.StatusCode),
			fmt.Errorf("responder returned status %d: %s", res.StatusCode, strings.TrimSpace(string(payload)))
	}

	var parsed respondResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return "", false, fmt.Errorf("decode respond response: %w", err)
	}
	if strings.TrimSpace(parsed.Answer) == "" {
		return "", false, fmt.Errorf("responder returned an empty answer")
	}
	return parsed.Answer, false, nil
}

// isRetryableStatus classifies status codes worth one more attempt.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// retryBackoff computes a deterministic capped backoff duration.
func retryBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
