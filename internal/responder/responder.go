// Package responder turns user questions into answer text. The orchestrator
// only sees the Responder interface; the concrete strategy (canned lookup,
// remote service) is injected at build time.
package responder

import (
	"context"
	"fmt"
	"strings"
)

// Responder produces an answer for one user message. The answer may embed a
// fenced SQL block for the caller to extract and execute. Implementations
// must respect ctx and return within a bounded time.
type Responder interface {
	Respond(ctx context.Context, userText string) (string, error)
}

// Config controls responder construction.
type Config struct {
	Mode    string
	HTTPURL string
}

// New builds a responder for the configured mode. "auto" prefers the remote
// service when a URL is configured and falls back to the canned table.
func New(cfg Config) (Responder, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.HTTPURL) != "" {
			return NewHTTP(cfg.HTTPURL), nil
		}
		return NewStatic(), nil
	case "static":
		return NewStatic(), nil
	case "http":
		if strings.TrimSpace(cfg.HTTPURL) == "" {
			return nil, fmt.Errorf("responder HTTP url is required for http mode")
		}
		return NewHTTP(cfg.HTTPURL), nil
	default:
		return nil, fmt.Errorf("unsupported responder mode %q", cfg.Mode)
	}
}
