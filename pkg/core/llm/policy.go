package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/vango-go/vai-callgate/pkg/core"
)

// Policy is the retry behavior layered over a provider. The per-attempt
// deadline comes from the caller's context.
type Policy struct {
	MaxRetries uint64
	Backoff    time.Duration
}

type policyProvider struct {
	inner  Provider
	policy Policy
}

// WithPolicy wraps p so retryable upstream failures are re-attempted with
// exponential backoff. Non-retryable errors and context expiry return at once.
func WithPolicy(p Provider, policy Policy) Provider {
	if policy.MaxRetries == 0 {
		return p
	}
	if policy.Backoff <= 0 {
		policy.Backoff = 200 * time.Millisecond
	}
	return &policyProvider{inner: p, policy: policy}
}

func (p *policyProvider) Name() string { return p.inner.Name() }

func (p *policyProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	var out *Response
	backoff := retry.WithMaxRetries(p.policy.MaxRetries, retry.NewExponential(p.policy.Backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		resp, err := p.inner.Complete(ctx, req)
		if err == nil {
			out = resp
			return nil
		}
		var coreErr *core.Error
		if errors.As(err, &coreErr) && coreErr.IsRetryable() {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
