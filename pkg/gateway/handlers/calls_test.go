package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-callgate/pkg/core/voice/tts"
	"github.com/vango-go/vai-callgate/pkg/gateway/callctx"
	"github.com/vango-go/vai-callgate/pkg/gateway/config"
	"github.com/vango-go/vai-callgate/pkg/gateway/convo"
	"github.com/vango-go/vai-callgate/pkg/gateway/intent"
	"github.com/vango-go/vai-callgate/pkg/gateway/ivr"
	"github.com/vango-go/vai-callgate/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-callgate/pkg/gateway/media"
	"github.com/vango-go/vai-callgate/pkg/gateway/metrics"
	"github.com/vango-go/vai-callgate/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-callgate/pkg/gateway/speech"
	"github.com/vango-go/vai-callgate/pkg/gateway/tools"
)

type fixedClassifier struct {
	mu     sync.Mutex
	result intent.Result
	block  chan struct{}
}

func (f *fixedClassifier) Classify(ctx context.Context, _, _ string) (intent.Result, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return intent.UnknownResult(), ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, nil
}

type silentSynth struct{}

func (silentSynth) Name() string { return "silent" }

func (silentSynth) Synthesize(_ context.Context, _ string, opts tts.SynthesizeOptions) (*tts.Synthesis, error) {
	// 100 ms of low-level audio.
	pcm := make([]byte, opts.SampleRate/10*2)
	for i := 0; i < len(pcm); i += 2 {
		pcm[i] = 0x40
	}
	return &tts.Synthesis{PCM: pcm, SampleRate: opts.SampleRate}, nil
}

func testConfig() config.Config {
	return config.Config{
		AuthMode:            config.AuthModeDisabled,
		MaxPacketBytes:      4096,
		HistoryLimit:        20,
		ContextTTL:          time.Minute,
		SweepInterval:       time.Minute,
		IdempotencyDriver:   config.IdempotencyMemory,
		IdempotencyTTL:      time.Hour,
		LLMProvider:         "openai",
		LLMTimeout:          time.Second,
		TTSProvider:         "none",
		TTSSampleRate:       24000,
		VoiceProfile:        speech.ProfileWarm,
		CallQueueSize:       4,
		CallIdleTimeout:     time.Minute,
		TurnTimeout:         3 * time.Second,
		ToolTimeout:         time.Second,
		EventBuffer:         16,
		ReadHeaderTimeout:   time.Second,
		ReadTimeout:         time.Second,
		ShutdownGracePeriod: time.Second,
		WSWriteTimeout:      time.Second,
	}
}

func newTestCalls(t *testing.T, classifier convo.Classifier, synth tts.Synthesizer) *Calls {
	t.Helper()
	cfg := testConfig()
	store := callctx.NewStore()
	registry := tools.NewRegistry()
	registry.Register(tools.Func("tasks", func(context.Context, tools.Call) (tools.Result, error) {
		return tools.Result{Count: 2}, nil
	}), intent.ReadTasks)
	m := metrics.New("test")
	voices, err := speech.NewVoiceSelector(speech.ProfileWarm)
	if err != nil {
		t.Fatalf("voices: %v", err)
	}
	loop := convo.New(convo.Deps{Store: store, Classifier: classifier, Tools: registry, Metrics: m})
	d := ivr.NewDispatcher(nil, ivr.DispatcherConfig{QueueSize: cfg.CallQueueSize})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return &Calls{
		Config:     cfg,
		Loop:       loop,
		Dispatcher: d,
		Store:      store,
		Speaker:    media.NewSpeaker(synth, voices, media.WithMetrics(m)),
		Streams:    media.NewTracker(),
		Limiter:    ratelimit.New(ratelimit.Config{}),
		Metrics:    m,
		Lifecycle:  &lifecycle.Lifecycle{},
	}
}

func TestHangupHandler_CancelsInFlightTurnAndKeepsContext(t *testing.T) {
	cl := &fixedClassifier{result: intent.Result{Type: intent.ReadTasks, Confidence: 0.9}, block: make(chan struct{})}
	calls := newTestCalls(t, cl, nil)

	replied := make(chan convo.Reply, 1)
	if err := calls.submit(ivr.Packet{CallID: "CA1", Seq: 1, IsHuman: true, Transcript: "what's on"}, func(_ context.Context, r convo.Reply) {
		replied <- r
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Wait until the turn is in flight.
	deadline := time.Now().Add(time.Second)
	for {
		if cc, ok := calls.Store.Peek("CA1"); ok && len(cc.Utterances) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("turn never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mux := http.NewServeMux()
	mux.Handle("DELETE /v1/calls/{callId}", HangupHandler{Calls: calls})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/calls/CA1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp map[string]any
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp["cancelled"] != true || resp["contextRetained"] != true {
		t.Fatalf("resp=%v", resp)
	}

	select {
	case r := <-replied:
		if r.Outcome != convo.OutcomeAbandoned || r.Speaks() {
			t.Fatalf("reply after hangup = %#v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("in-flight turn was not cancelled")
	}
	if _, ok := calls.Store.Peek("CA1"); !ok {
		t.Fatalf("call context discarded on hangup")
	}
}

func TestHangupHandler_UnknownCall(t *testing.T) {
	calls := newTestCalls(t, &fixedClassifier{}, nil)
	mux := http.NewServeMux()
	mux.Handle("DELETE /v1/calls/{callId}", HangupHandler{Calls: calls})
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/v1/calls/nope", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"cancelled":false`) {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
}
