package mw

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/vai-callgate/pkg/core"
	"github.com/vango-go/vai-callgate/pkg/gateway/ratelimit"
)

// KeyFunc picks the rate limit bucket for a request. An empty key skips
// limiting.
type KeyFunc func(r *http.Request) string

// PacketCallID keys on the callId field of a JSON packet body. The body is
// restored for the next handler; at most maxBytes+1 bytes are buffered.
func PacketCallID(maxBytes int64) KeyFunc {
	return func(r *http.Request) string {
		if r.Body == nil {
			return ""
		}
		limit := maxBytes
		if limit <= 0 {
			limit = 1 << 20
		}
		buf, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
		r.Body = io.NopCloser(io.MultiReader(bytes.NewReader(buf), r.Body))
		if err != nil {
			return ""
		}
		var head struct {
			CallID string `json:"callId"`
		}
		if json.Unmarshal(buf, &head) != nil {
			return ""
		}
		return head.CallID
	}
}

// RateLimit rejects requests whose key has exhausted its bucket. onLimited,
// if set, observes each rejection.
func RateLimit(limiter *ratelimit.Limiter, key KeyFunc, onLimited func(), next http.Handler) http.Handler {
	if !limiter.Enabled() || key == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		k := key(r)
		if k == "" {
			next.ServeHTTP(w, r)
			return
		}
		dec := limiter.Allow(k, time.Now())
		if dec.Allowed {
			next.ServeHTTP(w, r)
			return
		}
		if onLimited != nil {
			onLimited()
		}
		reqID, _ := RequestIDFrom(r.Context())
		w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
		e := core.NewRateLimitError("too many turns for this call", dec.RetryAfter)
		e.Code = "turn_rate_limited"
		e.RequestID = reqID
		writeJSONError(w, http.StatusTooManyRequests, e)
	})
}
