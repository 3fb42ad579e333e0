package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-callgate/pkg/gateway/callctx"
	"github.com/vango-go/vai-callgate/pkg/gateway/convo"
	"github.com/vango-go/vai-callgate/pkg/gateway/ivr"
	"github.com/vango-go/vai-callgate/pkg/gateway/media"
	"github.com/vango-go/vai-callgate/pkg/gateway/mw"
)

const mediaHandshakeTimeout = 10 * time.Second

// MediaHandler serves GET /v1/media, the carrier's bidirectional media
// stream. Inbound "turn" messages carry transcript packets; replies go back
// as µ-law media frames followed by a "turn-<seq>" mark.
type MediaHandler struct {
	Calls *Calls
}

func (h MediaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := h.Calls
	if c.Lifecycle.IsDraining() {
		writeError(w, r, ivr.ErrDispatcherClosed)
		return
	}
	reqID, _ := mw.RequestIDFrom(r.Context())
	log := c.logger().With("request_id", reqID)

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	stream := media.NewStream(conn, media.StreamConfig{
		WriteTimeout: c.Config.WSWriteTimeout,
		ReadLimit:    c.Config.MaxPacketBytes + 4096,
		OnFrames: func(n int) {
			if c.Metrics != nil {
				c.Metrics.RecordFrames(n)
			}
		},
	})
	defer stream.Close()

	callID, err := h.handshake(conn, stream)
	if err != nil {
		log.Warn("media stream handshake failed", "error", err)
		return
	}
	log = log.With("call_id", callID, "stream_sid", stream.StreamID())
	h.applyStartParams(callID, stream)

	unregister := c.Streams.Register(callID, media.Handle{
		Hangup: func() { _ = stream.Close() },
		Notify: stream.SendMark,
	})
	defer unregister()
	defer c.Dispatcher.Hangup(callID)
	defer c.Limiter.Forget(callID)

	log.Info("media stream started")
	for {
		msg, err := stream.Next()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !errors.Is(err, net.ErrClosed) {
				log.Debug("media stream read ended", "error", err)
			}
			break
		}
		switch msg.Event {
		case media.EventTurn:
			h.turn(callID, msg, stream, log)
		case media.EventMark:
			log.Debug("playback reached mark", "mark", msg.MarkName())
		case media.EventStop:
			log.Info("media stream stopped by carrier")
			return
		}
	}
	log.Info("media stream closed")
}

// handshake waits for the start message and returns the stream's call id.
func (h MediaHandler) handshake(conn *websocket.Conn, stream *media.Stream) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(mediaHandshakeTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	for {
		msg, err := stream.Next()
		if err != nil {
			return "", err
		}
		switch msg.Event {
		case media.EventConnected:
			continue
		case media.EventStart:
			if id := stream.CallID(); id != "" {
				return id, nil
			}
			return "", errors.New("start message has no callSid")
		default:
			return "", errors.New("expected start message, got " + strconv.Quote(msg.Event))
		}
	}
}

// applyStartParams copies per-call preferences from the start message.
func (h MediaHandler) applyStartParams(callID string, stream *media.Stream) {
	prefs := callctx.Preferences{
		VoiceProfile:      stream.Param("voice_profile"),
		ConfirmationStyle: stream.Param("confirmation_style"),
		Verbosity:         stream.Param("verbosity"),
	}
	if prefs != (callctx.Preferences{}) {
		h.Calls.Store.Update(callID, callctx.Patch{Preferences: &prefs})
	}
}

func (h MediaHandler) turn(callID string, msg media.Message, stream *media.Stream, log *slog.Logger) {
	c := h.Calls
	p, err := ivr.Decode(msg.Turn, c.Config.MaxPacketBytes)
	if err != nil {
		log.Warn("dropping malformed turn", "error", err)
		return
	}
	if p.CallID != callID {
		log.Warn("dropping turn for another call", "packet_call_id", p.CallID)
		return
	}
	if dec := c.Limiter.Allow(callID, time.Now()); !dec.Allowed {
		if c.Metrics != nil {
			c.Metrics.RecordRateLimitHit("turn")
		}
		log.Warn("turn rate limited", "seq", p.Seq)
		return
	}

	err = c.submit(p, func(ctx context.Context, reply convo.Reply) {
		if !reply.Speaks() {
			return
		}
		if !c.Speaker.Enabled() {
			log.Warn("reply not spoken: no synthesizer configured", "seq", p.Seq)
			return
		}
		frames, err := c.Speaker.Render(ctx, reply.Text, c.voiceProfile(callID))
		if err != nil {
			log.Warn("reply synthesis failed", "seq", p.Seq, "error", err)
			return
		}
		if err := stream.SendFrames(frames, "turn-"+strconv.FormatInt(p.Seq, 10)); err != nil {
			log.Warn("reply send failed", "seq", p.Seq, "error", err)
		}
	})
	if err != nil {
		log.Warn("turn not queued", "seq", p.Seq, "error", err)
	}
}
