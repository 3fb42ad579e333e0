package handlers

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"time"

	"github.com/vango-go/vai-callgate/pkg/core/audio"
	"github.com/vango-go/vai-callgate/pkg/gateway/convo"
	"github.com/vango-go/vai-callgate/pkg/gateway/intent"
	"github.com/vango-go/vai-callgate/pkg/gateway/ivr"
	"github.com/vango-go/vai-callgate/pkg/gateway/speech"
)

// replyGrace is how long past the turn deadline a request waits for the
// worker to hand back a reply.
const replyGrace = 2 * time.Second

type turnAudio struct {
	Encoding   string   `json:"encoding"`
	SampleRate int      `json:"sampleRate"`
	FrameSize  int      `json:"frameSize"`
	Frames     []string `json:"frames"`
}

type turnResponse struct {
	CallID  string         `json:"callId"`
	Seq     int64          `json:"seq"`
	Outcome convo.Outcome  `json:"outcome"`
	Text    string         `json:"text,omitempty"`
	Signal  speech.Signal  `json:"signal,omitempty"`
	Intent  *intent.Result `json:"intent,omitempty"`
	Audio   *turnAudio     `json:"audio,omitempty"`
}

// TurnsHandler serves POST /v1/turns: one packet in, the spoken reply out.
// With ?audio=mulaw the reply also carries base64 µ-law frames.
type TurnsHandler struct {
	Calls *Calls
}

func (h TurnsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := h.Calls
	limit := c.Config.MaxPacketBytes
	if limit <= 0 {
		limit = 64 << 10
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		writeError(w, r, err)
		return
	}
	p, err := ivr.Decode(data, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	wantAudio := r.URL.Query().Get("audio") == "mulaw"

	done := make(chan turnResponse, 1)
	err = c.submit(p, func(ctx context.Context, reply convo.Reply) {
		resp := turnResponse{
			CallID:  p.CallID,
			Seq:     p.Seq,
			Outcome: reply.Outcome,
			Text:    reply.Text,
			Signal:  reply.Signal,
			Intent:  reply.Intent,
		}
		if wantAudio && reply.Speaks() {
			resp.Audio = h.render(ctx, p, reply.Text)
		}
		done <- resp
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	timer := time.NewTimer(c.turnTimeout() + replyGrace)
	defer timer.Stop()
	select {
	case resp := <-done:
		writeJSON(w, http.StatusOK, resp)
	case <-r.Context().Done():
		// Caller went away; the turn still completes and is deduplicated on retry.
	case <-timer.C:
		writeError(w, r, context.DeadlineExceeded)
	}
}

func (h TurnsHandler) render(ctx context.Context, p ivr.Packet, text string) *turnAudio {
	c := h.Calls
	if !c.Speaker.Enabled() {
		return nil
	}
	frames, err := c.Speaker.Render(ctx, text, c.voiceProfile(p.CallID))
	if err != nil {
		c.logger().Warn("reply audio failed", "call_id", p.CallID, "seq", p.Seq, "error", err)
		return nil
	}
	out := &turnAudio{
		Encoding:   "mulaw",
		SampleRate: audio.TelephonyRateHz,
		FrameSize:  audio.FrameSize,
		Frames:     make([]string, len(frames)),
	}
	for i, f := range frames {
		out.Frames[i] = base64.StdEncoding.EncodeToString(f)
	}
	return out
}
