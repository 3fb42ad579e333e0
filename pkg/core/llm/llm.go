// Package llm is the request/response boundary to language-model providers.
// The gateway treats providers as opaque: a list of role-tagged messages goes
// in, assistant text comes out.
package llm

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	RequestID     string    `json:"requestId"`
	Messages      []Message `json:"messages"`
	ModelOverride string    `json:"modelOverride,omitempty"`

	// JSON asks the provider for a JSON-object response when it supports
	// a response-format switch.
	JSON bool `json:"-"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type Response struct {
	AssistantText string `json:"assistantText"`
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	Usage         *Usage `json:"usage,omitempty"`
}

// Provider is implemented by every upstream model API.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "gemini").
	Name() string

	// Complete sends one non-streaming request.
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// NewRequestID returns a fresh request identifier.
func NewRequestID() string {
	return "llm_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// splitSystem separates system messages (joined by blank lines) from the
// conversational turns, for providers that take the system prompt out of band.
func splitSystem(msgs []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if s := strings.TrimSpace(m.Content); s != "" {
				system = append(system, s)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}
