// Package server assembles the call gateway: the per-call core, its HTTP
// routes and middleware, and the background sweeps.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/vango-go/vai-callgate/pkg/core/voice/tts"
	"github.com/vango-go/vai-callgate/pkg/gateway/callctx"
	"github.com/vango-go/vai-callgate/pkg/gateway/config"
	"github.com/vango-go/vai-callgate/pkg/gateway/convo"
	"github.com/vango-go/vai-callgate/pkg/gateway/events"
	"github.com/vango-go/vai-callgate/pkg/gateway/handlers"
	"github.com/vango-go/vai-callgate/pkg/gateway/idempotency"
	"github.com/vango-go/vai-callgate/pkg/gateway/ivr"
	"github.com/vango-go/vai-callgate/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-callgate/pkg/gateway/media"
	"github.com/vango-go/vai-callgate/pkg/gateway/metrics"
	"github.com/vango-go/vai-callgate/pkg/gateway/mw"
	"github.com/vango-go/vai-callgate/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-callgate/pkg/gateway/resolve"
	"github.com/vango-go/vai-callgate/pkg/gateway/speech"
	"github.com/vango-go/vai-callgate/pkg/gateway/tools"
)

// Deps are the pluggable boundaries of the gateway. Nil fields fall back to
// an in-memory idempotency store, an empty tool registry, no classifier
// (every turn is UNKNOWN) and no speech synthesis.
type Deps struct {
	Classifier  convo.Classifier
	Tools       *tools.Registry
	Synthesizer tts.Synthesizer
	Idempotency idempotency.Store
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	metrics    *metrics.Metrics
	lifecycle  *lifecycle.Lifecycle
	store      *callctx.Store
	idem       idempotency.Store
	emitter    *events.Emitter
	dispatcher *ivr.Dispatcher
	streams    *media.Tracker
	limiter    *ratelimit.Limiter
	calls      *handlers.Calls
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	voices, err := speech.NewVoiceSelector(cfg.VoiceProfile, voiceProfiles(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("voice profiles: %w", err)
	}

	m := metrics.New(cfg.MetricsNamespace)
	idem := deps.Idempotency
	if idem == nil {
		idem = idempotency.NewMemory(cfg.IdempotencyTTL)
	}
	store := callctx.NewStore(
		callctx.WithHistoryLimit(cfg.HistoryLimit),
		callctx.WithTTL(cfg.ContextTTL),
	)
	emitter := events.NewEmitter(
		events.Multi(events.LogSink(logger), m.EventSink()),
		cfg.EventBuffer,
		events.WithDropHook(m.RecordEventDropped),
		events.WithLogger(logger),
	)

	loop := convo.New(convo.Deps{
		Store:       store,
		Resolver:    resolve.New(store),
		Classifier:  deps.Classifier,
		Idempotency: idem,
		Tools:       deps.Tools,
		Emitter:     emitter,
		Metrics:     m,
		Logger:      logger,
	})

	dispatcher := ivr.NewDispatcher(nil, ivr.DispatcherConfig{
		QueueSize:     cfg.CallQueueSize,
		IdleTimeout:   cfg.CallIdleTimeout,
		Logger:        logger,
		OnWorkerStart: func(string) { m.CallsActive.Inc() },
		OnWorkerStop:  func(string) { m.CallsActive.Dec() },
	})

	lc := &lifecycle.Lifecycle{}
	if p, ok := idem.(interface{ Ping(context.Context) error }); ok {
		lc.AddCheck("idempotency", p.Ping)
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		mux:        http.NewServeMux(),
		metrics:    m,
		lifecycle:  lc,
		store:      store,
		idem:       idem,
		emitter:    emitter,
		dispatcher: dispatcher,
		streams:    media.NewTracker(),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:      cfg.TurnRateRPS,
			Burst:    cfg.TurnRateBurst,
			EntryTTL: cfg.ContextTTL,
		}),
	}
	s.calls = &handlers.Calls{
		Config:     cfg,
		Loop:       loop,
		Dispatcher: dispatcher,
		Store:      store,
		Speaker: media.NewSpeaker(deps.Synthesizer, voices,
			media.WithSampleRate(cfg.TTSSampleRate),
			media.WithMetrics(m),
			media.WithLogger(logger),
		),
		Streams:   s.streams,
		Limiter:   s.limiter,
		Metrics:   m,
		Lifecycle: lc,
		Logger:    logger,
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	turns := mw.RateLimit(s.limiter, mw.PacketCallID(s.cfg.MaxPacketBytes), func() {
		s.metrics.RecordRateLimitHit("turn")
	}, handlers.TurnsHandler{Calls: s.calls})

	s.mux.Handle("GET /healthz", mw.Route("/healthz", handlers.HealthHandler{}))
	s.mux.Handle("GET /readyz", mw.Route("/readyz", handlers.ReadyHandler{
		Config:      s.cfg,
		Lifecycle:   s.lifecycle,
		ActiveCalls: s.dispatcher.Active,
	}))
	s.mux.Handle("GET /metrics", mw.Route("/metrics", s.metrics.Handler()))
	s.mux.Handle("POST /v1/turns", mw.Route("/v1/turns", turns))
	s.mux.Handle("DELETE /v1/calls/{callId}", mw.Route("/v1/calls/{callId}", handlers.HangupHandler{Calls: s.calls}))
	s.mux.Handle("GET /v1/media", mw.Route("/v1/media", handlers.MediaHandler{Calls: s.calls}))
	s.mux.Handle("/", mw.Route("unmatched", handlers.NotFoundHandler{}))
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Auth(s.cfg, h)
	h = mw.APIVersion(h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, s.metrics.RecordRequest, h)
	h = mw.RequestID(h)
	return h
}

func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// Sweep evicts expired call contexts, idempotency keys and rate-limit
// buckets once.
func (s *Server) Sweep(ctx context.Context) {
	if n := s.store.Cleanup(); n > 0 {
		s.metrics.ContextsEvicted.Add(float64(n))
		s.logger.Debug("evicted call contexts", "count", n)
	}
	if n, err := s.idem.Sweep(ctx); err != nil {
		s.logger.Warn("idempotency sweep failed", "error", err)
	} else if n > 0 {
		s.metrics.IdempotencyKeys.Add(float64(n))
		s.logger.Debug("evicted idempotency keys", "count", n)
	}
	s.limiter.Sweep(time.Now())
}

// RunSweeper calls Sweep every SweepInterval until ctx ends.
func (s *Server) RunSweeper(ctx context.Context) {
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// SetDraining makes new turns and media streams fail with 529 and readiness
// report 503.
func (s *Server) SetDraining() {
	s.lifecycle.SetDraining(true)
}

// NotifyDraining sends a "draining" mark on every open media stream and
// returns how many were notified.
func (s *Server) NotifyDraining() int {
	return s.streams.NotifyAll("draining")
}

// Close lets queued turns finish, then hangs up the remaining media streams
// and flushes events. Work still running when ctx ends is cancelled.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if err := s.dispatcher.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain calls: %w", err))
	}
	if n := s.streams.HangupAll(); n > 0 {
		s.logger.Info("closed media streams", "count", n)
	}
	if !s.streams.Wait(ctx) {
		errs = append(errs, errors.New("media streams still open"))
	}
	if err := s.emitter.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush events: %w", err))
	}
	if err := s.idem.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close idempotency store: %w", err))
	}
	return errors.Join(errs...)
}

func voiceProfiles(cfg config.Config) []speech.Profile {
	ids := make([]string, 0, len(cfg.VoiceProfiles))
	for id := range cfg.VoiceProfiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]speech.Profile, 0, len(ids))
	for _, id := range ids {
		p := cfg.VoiceProfiles[id]
		out = append(out, speech.Profile{
			ID:       id,
			VoiceID:  p.VoiceID,
			Language: p.Language,
			Speed:    p.Speed,
			Gain:     p.Gain,
		})
	}
	return out
}
