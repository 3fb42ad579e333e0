package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vango-go/vai-callgate/pkg/core"
)

const maxWebhookResponseBytes int64 = 1 << 20

// Webhook executes intents by POSTing them to a single HTTP endpoint that
// answers with a Result.
type Webhook struct {
	url        string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries uint64
	backoff    time.Duration
}

type WebhookOption func(*Webhook)

func WithWebhookHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) {
		if c != nil {
			w.httpClient = c
		}
	}
}

func WithWebhookTimeout(d time.Duration) WebhookOption {
	return func(w *Webhook) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithWebhookRetries retries transport errors and 5xx responses.
func WithWebhookRetries(n uint64, backoff time.Duration) WebhookOption {
	return func(w *Webhook) {
		w.maxRetries = n
		if backoff > 0 {
			w.backoff = backoff
		}
	}
}

func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:        strings.TrimSpace(url),
		httpClient: &http.Client{},
		timeout:    5 * time.Second,
		backoff:    100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Webhook) Name() string { return "webhook" }

type webhookResponse struct {
	Status string         `json:"status"`
	Count  int            `json:"count"`
	When   string         `json:"when"`
	Data   map[string]any `json:"data"`
}

func (w *Webhook) Execute(ctx context.Context, call Call) (Result, error) {
	body, err := json.Marshal(call)
	if err != nil {
		return Result{}, fmt.Errorf("encode webhook call: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if w.maxRetries == 0 {
		return w.post(ctx, call, body)
	}

	var out Result
	b := retry.WithMaxRetries(w.maxRetries, retry.NewExponential(w.backoff))
	err = retry.Do(ctx, b, func(ctx context.Context) error {
		res, err := w.post(ctx, call, body)
		if err != nil {
			var cerr *core.Error
			if errors.As(err, &cerr) && cerr.IsRetryable() {
				return retry.RetryableError(err)
			}
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return out, nil
}

func (w *Webhook) post(ctx context.Context, call Call, body []byte) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", call.CallID+":"+strconv.FormatInt(call.Seq, 10))

	resp, err := w.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, core.NewProviderError("webhook", err)
	}
	defer resp.Body.Close()

	raw, err := readLimited(resp.Body, maxWebhookResponseBytes)
	if err != nil {
		return Result{}, core.NewProviderError("webhook", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, core.NewUpstreamStatusError("webhook", resp.StatusCode, strings.TrimSpace(string(raw)), nil)
	}

	var decoded webhookResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, fmt.Errorf("decode webhook response: %w", err)
	}
	res := Result{Status: decoded.Status, Count: decoded.Count, Data: decoded.Data}
	if decoded.When != "" {
		when, err := time.Parse(time.RFC3339, decoded.When)
		if err != nil {
			return Result{}, fmt.Errorf("decode webhook response: when: %w", err)
		}
		res.When = when
	}
	if res.Status == "" {
		res.Status = StatusOK
	}
	return res, nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("response exceeds maximum size %d bytes", limit)
	}
	return b, nil
}
