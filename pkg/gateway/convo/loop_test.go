package convo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-callgate/pkg/gateway/callctx"
	"github.com/vango-go/vai-callgate/pkg/gateway/events"
	"github.com/vango-go/vai-callgate/pkg/gateway/intent"
	"github.com/vango-go/vai-callgate/pkg/gateway/ivr"
	"github.com/vango-go/vai-callgate/pkg/gateway/metrics"
	"github.com/vango-go/vai-callgate/pkg/gateway/speech"
	"github.com/vango-go/vai-callgate/pkg/gateway/tools"
)

type scriptedClassifier struct {
	mu      sync.Mutex
	results []intent.Result
	err     error
	panics  bool
	seen    []string
}

func (c *scriptedClassifier) Classify(_ context.Context, transcript, _ string) (intent.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, transcript)
	if c.panics {
		panic("classifier exploded")
	}
	if c.err != nil {
		return intent.UnknownResult(), c.err
	}
	if len(c.results) == 0 {
		return intent.UnknownResult(), nil
	}
	r := c.results[0]
	c.results = c.results[1:]
	return r, nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *recordingEmitter) Emit(ev events.Event) {
	e.mu.Lock()
	e.events = append(e.events, ev)
	e.mu.Unlock()
}

func (e *recordingEmitter) count(t events.Type) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (e *recordingEmitter) last(t events.Type) (events.Event, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := len(e.events) - 1; i >= 0; i-- {
		if e.events[i].Type == t {
			return e.events[i], true
		}
	}
	return events.Event{}, false
}

type harness struct {
	loop       *Loop
	store      *callctx.Store
	classifier *scriptedClassifier
	emitter    *recordingEmitter
	registry   *tools.Registry
	calls      []tools.Call
	toolErr    error
	toolResult tools.Result
	mu         sync.Mutex
}

func newHarness(t *testing.T, results ...intent.Result) *harness {
	t.Helper()
	h := &harness{
		store:      callctx.NewStore(),
		classifier: &scriptedClassifier{results: results},
		emitter:    &recordingEmitter{},
		registry:   tools.NewRegistry(),
	}
	h.registry.Register(tools.Func("test", func(_ context.Context, call tools.Call) (tools.Result, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.calls = append(h.calls, call)
		if h.toolErr != nil {
			return tools.Result{}, h.toolErr
		}
		return h.toolResult, nil
	}), intent.ReadTasks, intent.AddTask, intent.CaptureNote)
	h.loop = New(Deps{
		Store:      h.store,
		Classifier: h.classifier,
		Tools:      h.registry,
		Emitter:    h.emitter,
		Metrics:    metrics.New("test"),
	})
	return h
}

func (h *harness) toolCalls() []tools.Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]tools.Call(nil), h.calls...)
}

func human(seq int64, transcript string) ivr.Packet {
	return ivr.Packet{CallID: "CA1", Seq: seq, IsHuman: true, Transcript: transcript}
}

func assertSafe(t *testing.T, r Reply) {
	t.Helper()
	if err := speech.Check(r.Text); err != nil {
		t.Fatalf("reply %q leaked vocabulary: %v", r.Text, err)
	}
}

func TestHandleTurn_NonHumanIsDropped(t *testing.T) {
	h := newHarness(t)
	r := h.loop.HandleTurn(context.Background(), ivr.Packet{CallID: "CA1", Seq: 1, Transcript: "beep"})
	if r.Speaks() || r.Outcome != OutcomeDropped {
		t.Fatalf("reply = %#v", r)
	}
	if h.emitter.count(events.IVRIncoming) != 1 || h.emitter.count(events.IVRHumanDetected) != 0 || h.emitter.count(events.TurnStarted) != 0 {
		t.Fatalf("events = %#v", h.emitter.events)
	}
	if len(h.classifier.seen) != 0 {
		t.Fatalf("classifier called for non-human traffic")
	}
}

func TestHandleTurn_ReplayIsProcessedOnce(t *testing.T) {
	h := newHarness(t, intent.Result{Type: intent.ReadTasks, Confidence: 0.95})
	h.toolResult = tools.Result{Count: 3}
	p := human(7, "what's on my plate")

	first := h.loop.HandleTurn(context.Background(), p)
	second := h.loop.HandleTurn(context.Background(), p)

	if first.Text != "You have 3 things on your plate." {
		t.Fatalf("first = %#v", first)
	}
	if second.Speaks() || second.Outcome != OutcomeDuplicate {
		t.Fatalf("second = %#v", second)
	}
	if n := h.emitter.count(events.TurnCompleted); n != 1 {
		t.Fatalf("completed events = %d, want 1", n)
	}
	if n := h.emitter.count(events.TurnIgnoredIdempotent); n != 1 {
		t.Fatalf("ignored events = %d, want 1", n)
	}
	ev, _ := h.emitter.last(events.TurnIgnoredIdempotent)
	if ev.IdempotencyKey != "CA1:7" || ev.CallID != "CA1" || ev.Seq != 7 {
		t.Fatalf("ignored event = %#v", ev)
	}
	cc := h.store.Get("CA1")
	if len(cc.Utterances) != 2 || len(cc.Intents) != 1 || len(cc.ToolResults) != 1 {
		t.Fatalf("history = %d utterances, %d intents, %d tool results", len(cc.Utterances), len(cc.Intents), len(cc.ToolResults))
	}
	if len(h.toolCalls()) != 1 {
		t.Fatalf("tool called %d times", len(h.toolCalls()))
	}
}

func TestHandleTurn_SuggestedIntentWaitsForConfirmation(t *testing.T) {
	h := newHarness(t,
		intent.Result{Type: intent.AddTask, Confidence: 0.95, Suggested: true, Params: map[string]any{"task": "renew passport"}},
		intent.Result{Type: intent.Confirm, Confidence: 0.99},
		intent.Result{Type: intent.Confirm, Confidence: 0.99},
	)

	r := h.loop.HandleTurn(context.Background(), human(1, "ugh my passport expires soon"))
	assertSafe(t, r)
	if r.Signal != speech.ConfirmInferred {
		t.Fatalf("signal = %s, want CONFIRM_INFERRED", r.Signal)
	}
	if r.Intent == nil || !r.Intent.RequiresConfirmation {
		t.Fatalf("intent = %#v", r.Intent)
	}
	if len(h.toolCalls()) != 0 {
		t.Fatalf("inferred action executed without confirmation")
	}
	if cc := h.store.Get("CA1"); cc.Pending == nil || cc.Pending.IntentType != string(intent.AddTask) {
		t.Fatalf("pending = %#v", cc.Pending)
	}

	r = h.loop.HandleTurn(context.Background(), human(2, "yes please"))
	if r.Signal != speech.Done {
		t.Fatalf("signal = %s, want DONE", r.Signal)
	}
	calls := h.toolCalls()
	if len(calls) != 1 || calls[0].Intent != intent.AddTask || calls[0].Params["task"] != "renew passport" {
		t.Fatalf("tool calls = %#v", calls)
	}

	r = h.loop.HandleTurn(context.Background(), human(3, "yes"))
	if r.Signal != speech.NothingPending {
		t.Fatalf("signal = %s, want NOTHING_PENDING", r.Signal)
	}
}

func TestHandleTurn_LowConfidenceMutationAsksFirst(t *testing.T) {
	h := newHarness(t,
		intent.Result{Type: intent.CaptureNote, Confidence: 0.6, Params: map[string]any{"content": "gate code 4411"}},
		intent.Result{Type: intent.Cancel, Confidence: 0.9},
	)
	r := h.loop.HandleTurn(context.Background(), human(1, "gate code is 4411"))
	if r.Signal != speech.ConfirmRequested {
		t.Fatalf("signal = %s", r.Signal)
	}
	r = h.loop.HandleTurn(context.Background(), human(2, "never mind"))
	if r.Signal != speech.Cancelled {
		t.Fatalf("signal = %s", r.Signal)
	}
	if cc := h.store.Get("CA1"); cc.Pending != nil {
		t.Fatalf("pending survived cancel")
	}
	if len(h.toolCalls()) != 0 {
		t.Fatalf("cancelled action executed")
	}
}

func TestHandleTurn_ConfirmAlwaysPreference(t *testing.T) {
	h := newHarness(t, intent.Result{Type: intent.AddTask, Confidence: 0.99, Params: map[string]any{"task": "milk"}})
	p := human(1, "add milk")
	p.Meta = map[string]any{"confirmation_style": callctx.ConfirmAlways, "voice_profile": "calm"}

	r := h.loop.HandleTurn(context.Background(), p)
	if r.Signal != speech.ConfirmRequested {
		t.Fatalf("signal = %s", r.Signal)
	}
	if cc := h.store.Get("CA1"); cc.Preferences.VoiceProfile != "calm" {
		t.Fatalf("preferences = %#v", cc.Preferences)
	}
}

func TestHandleTurn_ClassifierErrorMeansNotUnderstood(t *testing.T) {
	h := newHarness(t)
	h.classifier.err = errors.New("provider down")
	r := h.loop.HandleTurn(context.Background(), human(1, "hello?"))
	if r.Signal != speech.DidNotUnderstand || r.Outcome != OutcomeCompleted {
		t.Fatalf("reply = %#v", r)
	}
	if r.Intent == nil || r.Intent.Type != intent.Unknown || r.Intent.Confidence != 0 {
		t.Fatalf("intent = %#v", r.Intent)
	}
}

func TestHandleTurn_ToolFailureFallsBack(t *testing.T) {
	h := newHarness(t, intent.Result{Type: intent.ReadTasks, Confidence: 0.9})
	h.toolErr = errors.New("crm timeout: SELECT * FROM tasks")

	r := h.loop.HandleTurn(context.Background(), human(1, "what do I have"))
	if r.Text != speech.FallbackText || r.Outcome != OutcomeFailed {
		t.Fatalf("reply = %#v", r)
	}
	ev, ok := h.emitter.last(events.ConvoError)
	if !ok || ev.Payload["error"] == nil {
		t.Fatalf("convo.error event missing: %#v", h.emitter.events)
	}
	if h.emitter.count(events.TurnCompleted) != 0 {
		t.Fatalf("failed turn reported as completed")
	}
	cc := h.store.Get("CA1")
	if last := cc.Utterances[len(cc.Utterances)-1]; last.Role != callctx.RoleAssistant || last.Text != speech.FallbackText {
		t.Fatalf("fallback not appended: %#v", last)
	}
}

func TestHandleTurn_ToolReportedFailureIsSpoken(t *testing.T) {
	h := newHarness(t, intent.Result{Type: intent.AddTask, Confidence: 0.95, Params: map[string]any{"task": "call Dana"}})
	h.toolResult = tools.Result{Status: tools.StatusFailed}

	r := h.loop.HandleTurn(context.Background(), human(1, "remind me to call Dana"))
	if r.Signal != speech.ActionFailed || r.Outcome != OutcomeCompleted {
		t.Fatalf("reply = %#v", r)
	}
	assertSafe(t, r)
}

func TestHandleTurn_PanicFallsBack(t *testing.T) {
	h := newHarness(t)
	h.classifier.panics = true
	r := h.loop.HandleTurn(context.Background(), human(1, "hello"))
	if r.Text != speech.FallbackText {
		t.Fatalf("reply = %#v", r)
	}
	if h.emitter.count(events.ConvoError) != 1 {
		t.Fatalf("expected convo.error")
	}
}

func TestHandleTurn_MissingToolIsUnavailable(t *testing.T) {
	h := newHarness(t, intent.Result{Type: intent.NextMeeting, Confidence: 0.95})
	r := h.loop.HandleTurn(context.Background(), human(1, "when's my next meeting"))
	if r.Signal != speech.Unavailable {
		t.Fatalf("signal = %s", r.Signal)
	}
}

func TestHandleTurn_NextMeeting(t *testing.T) {
	h := newHarness(t, intent.Result{Type: intent.NextMeeting, Confidence: 0.95})
	h.registry.Register(tools.Func("calendar", func(context.Context, tools.Call) (tools.Result, error) {
		return tools.Result{When: time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)}, nil
	}), intent.NextMeeting)

	r := h.loop.HandleTurn(context.Background(), human(1, "when's my next meeting"))
	if r.Text != "Your next meeting is at 2:00 PM." {
		t.Fatalf("reply = %#v", r)
	}
}

func TestHandleTurn_EmptyTranscriptIsSilent(t *testing.T) {
	h := newHarness(t)
	r := h.loop.HandleTurn(context.Background(), human(1, "   "))
	if r.Speaks() || r.Outcome != OutcomeSilent {
		t.Fatalf("reply = %#v", r)
	}
	if h.emitter.count(events.TurnCompleted) != 1 {
		t.Fatalf("expected completed event")
	}
}

func TestHandleTurn_CapturedEntitiesResolveLaterPronouns(t *testing.T) {
	h := newHarness(t,
		intent.Result{Type: intent.AddTask, Confidence: 0.95, Params: map[string]any{"task": "send the contract", "person": "Dana"}},
		intent.Result{Type: intent.AddTask, Confidence: 0.95},
	)
	h.loop.HandleTurn(context.Background(), human(1, "send Dana the contract"))
	h.loop.HandleTurn(context.Background(), human(2, "and call her about it later"))

	if len(h.classifier.seen) != 2 {
		t.Fatalf("seen = %#v", h.classifier.seen)
	}
	want := "and call [Dana] about [send the contract] [in 3 hours]"
	if h.classifier.seen[1] != want {
		t.Fatalf("classifier saw %q, want %q", h.classifier.seen[1], want)
	}
}

func TestHandleTurn_CancelledContextIsAbandoned(t *testing.T) {
	h := newHarness(t, intent.Result{Type: intent.ReadTasks, Confidence: 0.9})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := h.loop.HandleTurn(ctx, human(1, "what do I have"))
	if r.Speaks() || r.Outcome != OutcomeAbandoned {
		t.Fatalf("reply = %#v", r)
	}
}

func TestHandleTurn_InferredConfirmKeepsActionParked(t *testing.T) {
	h := newHarness(t,
		intent.Result{Type: intent.AddTask, Confidence: 0.95, Suggested: true, Params: map[string]any{"task": "call Dana"}},
		intent.Result{Type: intent.Confirm, Confidence: 0.2, Suggested: true},
		intent.Result{Type: intent.Confirm, Confidence: 0.6},
		intent.Result{Type: intent.Confirm, Confidence: 0.95},
	)
	h.loop.HandleTurn(context.Background(), human(1, "I keep forgetting Dana"))

	for i, transcript := range []string{"I guess", "maybe yeah"} {
		seq := int64(i + 2)
		r := h.loop.HandleTurn(context.Background(), human(seq, transcript))
		if r.Signal != speech.ConfirmRequested {
			t.Fatalf("seq %d signal=%s, want %s", seq, r.Signal, speech.ConfirmRequested)
		}
		if n := len(h.toolCalls()); n != 0 {
			t.Fatalf("seq %d tool calls=%d, want 0", seq, n)
		}
		if cc := h.store.Get("CA1"); cc.Pending == nil || cc.Pending.IntentType != string(intent.AddTask) {
			t.Fatalf("seq %d pending=%#v", seq, cc.Pending)
		}
	}

	r := h.loop.HandleTurn(context.Background(), human(4, "yes, add it"))
	if r.Signal != speech.Done {
		t.Fatalf("signal=%s, want %s", r.Signal, speech.Done)
	}
	if calls := h.toolCalls(); len(calls) != 1 || calls[0].Params["task"] != "call Dana" {
		t.Fatalf("tool calls=%#v", calls)
	}
}

func TestHandleTurn_InferredConfirmWithNothingPending(t *testing.T) {
	h := newHarness(t, intent.Result{Type: intent.Confirm, Confidence: 0.3, Suggested: true})
	r := h.loop.HandleTurn(context.Background(), human(1, "sure"))
	if r.Signal != speech.NothingPending {
		t.Fatalf("signal=%s, want %s", r.Signal, speech.NothingPending)
	}
}

type stallingClassifier struct{}

func (stallingClassifier) Classify(ctx context.Context, _, _ string) (intent.Result, error) {
	<-ctx.Done()
	return intent.Result{Type: intent.AddTask, Confidence: 0.99}, ctx.Err()
}

func TestHandleTurn_ClassifierDeadlineMeansNotUnderstood(t *testing.T) {
	em := &recordingEmitter{}
	loop := New(Deps{Classifier: stallingClassifier{}, Emitter: em, Metrics: metrics.New("test")})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	r := loop.HandleTurn(ctx, human(1, "hello?"))
	if r.Outcome != OutcomeCompleted || r.Signal != speech.DidNotUnderstand {
		t.Fatalf("reply=%#v, want completed %s", r, speech.DidNotUnderstand)
	}
	if r.Intent == nil || r.Intent.Type != intent.Unknown || r.Intent.Confidence != 0 {
		t.Fatalf("intent=%#v", r.Intent)
	}
	if em.count(events.TurnCompleted) != 1 {
		t.Fatalf("completed events=%d, want 1", em.count(events.TurnCompleted))
	}
}

func TestHandleTurn_ToolDeadlineFallsBack(t *testing.T) {
	h := newHarness(t, intent.Result{Type: intent.ReadTasks, Confidence: 0.95})
	h.registry.Register(tools.Func("slow", func(ctx context.Context, _ tools.Call) (tools.Result, error) {
		<-ctx.Done()
		return tools.Result{}, ctx.Err()
	}), intent.ReadTasks)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	r := h.loop.HandleTurn(ctx, human(1, "what do I have"))
	if r.Outcome != OutcomeFailed || r.Text != speech.FallbackText {
		t.Fatalf("reply=%#v, want fallback", r)
	}
	if h.emitter.count(events.ConvoError) != 1 {
		t.Fatalf("convo.error events=%d, want 1", h.emitter.count(events.ConvoError))
	}
}
