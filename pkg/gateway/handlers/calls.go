package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-callgate/pkg/core"
	"github.com/vango-go/vai-callgate/pkg/gateway/callctx"
	"github.com/vango-go/vai-callgate/pkg/gateway/config"
	"github.com/vango-go/vai-callgate/pkg/gateway/convo"
	"github.com/vango-go/vai-callgate/pkg/gateway/ivr"
	"github.com/vango-go/vai-callgate/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-callgate/pkg/gateway/media"
	"github.com/vango-go/vai-callgate/pkg/gateway/metrics"
	"github.com/vango-go/vai-callgate/pkg/gateway/mw"
	"github.com/vango-go/vai-callgate/pkg/gateway/ratelimit"
)

// Calls is the call-processing core shared by the call-facing handlers.
type Calls struct {
	Config     config.Config
	Loop       *convo.Loop
	Dispatcher *ivr.Dispatcher
	Store      *callctx.Store
	Speaker    *media.Speaker
	Streams    *media.Tracker
	Limiter    *ratelimit.Limiter
	Metrics    *metrics.Metrics
	Lifecycle  *lifecycle.Lifecycle
	Logger     *slog.Logger
}

func (c *Calls) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Calls) turnTimeout() time.Duration {
	if c.Config.TurnTimeout > 0 {
		return c.Config.TurnTimeout
	}
	return 20 * time.Second
}

// submit queues p on its call's worker. after runs on the worker once the
// turn is handled, under the same turn deadline. A turn dropped by a hangup
// before it started still reaches after, as an abandoned reply.
func (c *Calls) submit(p ivr.Packet, after func(ctx context.Context, reply convo.Reply)) error {
	if c.Lifecycle.IsDraining() {
		return ivr.ErrDispatcherClosed
	}
	err := c.Dispatcher.Do(p.CallID, p.Seq, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, c.turnTimeout())
		defer cancel()
		reply := c.Loop.HandleTurn(ctx, p)
		if after != nil {
			after(ctx, reply)
		}
	}, func() {
		if c.Metrics != nil {
			c.Metrics.RecordTurn(string(convo.OutcomeAbandoned), 0)
		}
		if after != nil {
			after(context.Background(), convo.Reply{Outcome: convo.OutcomeAbandoned})
		}
	})
	if errors.Is(err, ivr.ErrQueueFull) && c.Metrics != nil {
		c.Metrics.QueueRejections.Inc()
	}
	return err
}

// voiceProfile returns the caller's preferred profile id, or "".
func (c *Calls) voiceProfile(callID string) string {
	if cc, ok := c.Store.Peek(callID); ok {
		return cc.Preferences.VoiceProfile
	}
	return ""
}

// hangup abandons the call's work and closes its media stream. The call
// context is retained until it expires.
func (c *Calls) hangup(callID string) (cancelled, streamClosed bool) {
	cancelled = c.Dispatcher.Hangup(callID)
	streamClosed = c.Streams.Hangup(callID)
	c.Limiter.Forget(callID)
	return cancelled, streamClosed
}

// HangupHandler serves DELETE /v1/calls/{callId}.
type HangupHandler struct {
	Calls *Calls
}

func (h HangupHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(r.PathValue("callId"))
	if callID == "" {
		reqID, _ := mw.RequestIDFrom(r.Context())
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestErrorWithParam("callId is required", "callId"), http.StatusBadRequest)
		return
	}
	cancelled, streamClosed := h.Calls.hangup(callID)
	_, known := h.Calls.Store.Peek(callID)
	h.Calls.logger().Info("call hung up", "call_id", callID, "cancelled", cancelled, "stream_closed", streamClosed)

	writeJSON(w, http.StatusOK, struct {
		CallID          string `json:"callId"`
		Cancelled       bool   `json:"cancelled"`
		StreamClosed    bool   `json:"streamClosed"`
		ContextRetained bool   `json:"contextRetained"`
	}{callID, cancelled, streamClosed, known})
}
