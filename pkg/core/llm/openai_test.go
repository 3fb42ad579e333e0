package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vango-go/vai-callgate/pkg/core"
)

func TestOpenAIProvider_Complete(t *testing.T) {
	t.Parallel()

	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path=%q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization=%q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-4o-mini-2024",
			"choices": [{"message": {"role": "assistant", "content": "{\"type\":\"READ_TASKS\"}"}}],
			"usage": {"prompt_tokens": 11, "completion_tokens": 4, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAI("sk-test", WithBaseURL(srv.URL+"/v1"), WithModel("gpt-4o-mini"))
	resp, err := p.Complete(context.Background(), &Request{
		RequestID: "llm_1",
		Messages: []Message{
			{Role: RoleSystem, Content: "classify"},
			{Role: RoleUser, Content: "what's on my plate"},
		},
		JSON: true,
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.AssistantText != `{"type":"READ_TASKS"}` {
		t.Fatalf("AssistantText=%q", resp.AssistantText)
	}
	if resp.Provider != "openai" || resp.Model != "gpt-4o-mini-2024" {
		t.Fatalf("provider/model=%q/%q", resp.Provider, resp.Model)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 15 {
		t.Fatalf("usage=%+v", resp.Usage)
	}
	if got.Model != "gpt-4o-mini" || got.ResponseFormat == nil || got.ResponseFormat.Type != "json_object" {
		t.Fatalf("request=%+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != RoleSystem {
		t.Fatalf("messages=%+v", got.Messages)
	}
}

func TestOpenAIProvider_ModelOverride(t *testing.T) {
	t.Parallel()

	var model string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		model = req.Model
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAI("k", WithBaseURL(srv.URL))
	resp, err := p.Complete(context.Background(), &Request{
		Messages:      []Message{{Role: RoleUser, Content: "hi"}},
		ModelOverride: "gpt-4.1",
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if model != "gpt-4.1" || resp.Model != "gpt-4.1" {
		t.Fatalf("sent model=%q, response model=%q", model, resp.Model)
	}
}

func TestOpenAIProvider_ErrorStatusMapsToCoreError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
	}))
	defer srv.Close()

	p := NewOpenAI("k", WithBaseURL(srv.URL))
	_, err := p.Complete(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	var coreErr *core.Error
	if !errors.As(err, &coreErr) {
		t.Fatalf("err=%v, want *core.Error", err)
	}
	if coreErr.Type != core.ErrRateLimit || coreErr.Message != "slow down" {
		t.Fatalf("err=%+v", coreErr)
	}
	if coreErr.RetryAfter == nil || *coreErr.RetryAfter != 2 {
		t.Fatalf("RetryAfter=%v", coreErr.RetryAfter)
	}
}

func TestOpenAIProvider_RejectsEmptyRequest(t *testing.T) {
	t.Parallel()

	p := NewOpenAI("k")
	if _, err := p.Complete(context.Background(), &Request{}); err == nil {
		t.Fatalf("expected error for empty request")
	}
}
