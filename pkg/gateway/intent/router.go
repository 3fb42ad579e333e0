package intent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vango-go/vai-callgate/pkg/core/llm"
)

const DefaultTimeout = 8 * time.Second

// Router classifies transcripts with a language model. It never returns
// provider text to the caller; the only output is a Result.
type Router struct {
	provider llm.Provider
	model    string
	timeout  time.Duration
	logger   *slog.Logger
	tracer   trace.Tracer
}

type RouterOption func(*Router)

func WithModel(model string) RouterOption {
	return func(r *Router) { r.model = model }
}

func WithTimeout(d time.Duration) RouterOption {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithTracer sets the OpenTelemetry tracer used for classification spans.
func WithTracer(t trace.Tracer) RouterOption {
	return func(r *Router) {
		if t != nil {
			r.tracer = t
		}
	}
}

func NewRouter(provider llm.Provider, opts ...RouterOption) *Router {
	r := &Router{
		provider: provider,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
		tracer:   noop.NewTracerProvider().Tracer("callgate/intent"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Classify asks the provider for a decision on transcript. On any failure it
// returns UNKNOWN at zero confidence together with the cause, so callers can
// record the failure without ever speaking it.
func (r *Router) Classify(ctx context.Context, transcript, contextSummary string) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "intent.classify")
	defer span.End()

	if r.provider == nil {
		err := errors.New("intent router has no provider")
		span.RecordError(err)
		return UnknownResult(), err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	user := "Caller said: " + transcript
	if contextSummary != "" {
		user = "Recent call history:\n" + contextSummary + "\n\n" + user
	}
	req := &llm.Request{
		RequestID:     llm.NewRequestID(),
		ModelOverride: r.model,
		JSON:          true,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: user},
		},
	}

	start := time.Now()
	resp, err := r.provider.Complete(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("classification timed out after %s: %w", r.timeout, err)
		}
		span.RecordError(err)
		r.logger.Warn("intent classification failed",
			"request_id", req.RequestID,
			"provider", r.provider.Name(),
			"error", err,
		)
		return UnknownResult(), err
	}

	result, err := Parse(resp.AssistantText)
	if err != nil {
		span.RecordError(err)
		r.logger.Warn("intent classification unparseable",
			"request_id", req.RequestID,
			"provider", resp.Provider,
			"model", resp.Model,
			"error", err,
		)
		return UnknownResult(), err
	}

	r.logger.Debug("intent classified",
		"request_id", req.RequestID,
		"provider", resp.Provider,
		"model", resp.Model,
		"type", string(result.Type),
		"confidence", result.Confidence,
		"suggested", result.Suggested,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}
