// Package convo runs one conversational turn: presence gate, dedupe,
// reference resolution, classification, tool execution and the spoken reply.
package convo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/vai-callgate/pkg/gateway/callctx"
	"github.com/vango-go/vai-callgate/pkg/gateway/events"
	"github.com/vango-go/vai-callgate/pkg/gateway/idempotency"
	"github.com/vango-go/vai-callgate/pkg/gateway/intent"
	"github.com/vango-go/vai-callgate/pkg/gateway/ivr"
	"github.com/vango-go/vai-callgate/pkg/gateway/metrics"
	"github.com/vango-go/vai-callgate/pkg/gateway/resolve"
	"github.com/vango-go/vai-callgate/pkg/gateway/speech"
	"github.com/vango-go/vai-callgate/pkg/gateway/tools"
)

type Outcome string

const (
	OutcomeDropped   Outcome = "dropped"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeSilent    Outcome = "silent"
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeAbandoned Outcome = "abandoned"
)

// summaryTurns bounds the history sent to the classifier.
const summaryTurns = 6

// Reply is the result of one turn. An empty Text means nothing is spoken.
type Reply struct {
	Text    string         `json:"text,omitempty"`
	Signal  speech.Signal  `json:"signal,omitempty"`
	Outcome Outcome        `json:"outcome"`
	Intent  *intent.Result `json:"intent,omitempty"`
}

func (r Reply) Speaks() bool { return r.Text != "" }

type Classifier interface {
	Classify(ctx context.Context, transcript, contextSummary string) (intent.Result, error)
}

type Emitter interface {
	Emit(ev events.Event)
}

type Deps struct {
	Store       *callctx.Store
	Resolver    *resolve.Resolver
	Classifier  Classifier
	Idempotency idempotency.Store
	Tools       *tools.Registry
	Emitter     Emitter
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

type Loop struct {
	store      *callctx.Store
	resolver   *resolve.Resolver
	classifier Classifier
	idem       idempotency.Store
	tools      *tools.Registry
	emitter    Emitter
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

func New(d Deps) *Loop {
	if d.Store == nil {
		d.Store = callctx.NewStore()
	}
	if d.Resolver == nil {
		d.Resolver = resolve.New(d.Store)
	}
	if d.Idempotency == nil {
		d.Idempotency = idempotency.NewMemory(idempotency.DefaultTTL)
	}
	if d.Tools == nil {
		d.Tools = tools.NewRegistry()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Loop{
		store:      d.Store,
		resolver:   d.Resolver,
		classifier: d.Classifier,
		idem:       d.Idempotency,
		tools:      d.Tools,
		emitter:    d.Emitter,
		metrics:    d.Metrics,
		logger:     d.Logger,
	}
}

// HandleTurn processes one inbound packet. It never panics and never returns
// caller-facing text that did not come from the speech package.
func (l *Loop) HandleTurn(ctx context.Context, p ivr.Packet) Reply {
	start := time.Now()
	key := idempotency.Key(p.CallID, p.Seq)
	reply := l.handle(ctx, p, key)
	if l.metrics != nil {
		l.metrics.RecordTurn(string(reply.Outcome), time.Since(start))
	}
	return reply
}

func (l *Loop) handle(ctx context.Context, p ivr.Packet, key string) Reply {
	l.emit(events.IVRIncoming, p, key, map[string]any{
		"isHuman":          p.IsHuman,
		"transcriptLength": len(p.Transcript),
	})
	if !p.IsHuman {
		return Reply{Outcome: OutcomeDropped}
	}
	l.emit(events.IVRHumanDetected, p, key, nil)

	claimed, err := l.idem.Claim(ctx, key)
	if err != nil {
		return l.fail(p, key, fmt.Errorf("idempotency claim: %w", err))
	}
	if !claimed {
		l.emit(events.TurnIgnoredIdempotent, p, key, nil)
		return Reply{Outcome: OutcomeDuplicate}
	}

	l.emit(events.TurnStarted, p, key, nil)
	l.applyMeta(p)

	if strings.TrimSpace(p.Transcript) == "" {
		l.emit(events.TurnCompleted, p, key, map[string]any{"empty": true})
		return Reply{Outcome: OutcomeSilent}
	}

	reply, err := l.process(ctx, p)
	if hungUp(ctx) {
		l.emit(events.ConvoError, p, key, map[string]any{"error": "turn abandoned: " + ctx.Err().Error()})
		return Reply{Outcome: OutcomeAbandoned}
	}
	if err != nil {
		return l.fail(p, key, err)
	}

	l.store.AppendUtterance(p.CallID, callctx.RoleAssistant, reply.Text)
	payload := map[string]any{"signal": string(reply.Signal)}
	if reply.Intent != nil {
		payload["intent"] = string(reply.Intent.Type)
		payload["confidence"] = reply.Intent.Confidence
		payload["suggested"] = reply.Intent.Suggested
		payload["requiresConfirmation"] = reply.Intent.RequiresConfirmation
	}
	l.emit(events.TurnCompleted, p, key, payload)
	return reply
}

// process runs the fallible part of the turn. Panics surface as errors.
func (l *Loop) process(ctx context.Context, p ivr.Packet) (reply Reply, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("turn panic: %v", rec)
		}
	}()

	l.store.AppendUtterance(p.CallID, callctx.RoleUser, p.Transcript)

	resolved := l.resolver.Resolve(p.CallID, p.Transcript)
	if resolved.RequiresClarification {
		return l.say(speech.NeedClarification, speech.Params{}, nil)
	}

	result := intent.UnknownResult()
	if l.classifier != nil {
		summary := intent.Summarize(l.store.Get(p.CallID), summaryTurns)
		var cerr error
		result, cerr = l.classifier.Classify(ctx, resolved.ResolvedText, summary)
		if cerr != nil {
			if hungUp(ctx) {
				return Reply{}, ctx.Err()
			}
			l.recordClassificationFailure(cerr)
			result = intent.UnknownResult()
		}
	}
	cc := l.store.Get(p.CallID)
	if result.Type.Mutating() && cc.Preferences.ConfirmationStyle == callctx.ConfirmAlways {
		result.RequiresConfirmation = true
	}
	result = intent.Normalize(result)

	l.store.AppendIntent(p.CallID, callctx.IntentRecord{
		Seq:                  p.Seq,
		Type:                 string(result.Type),
		Confidence:           result.Confidence,
		Params:               result.Params,
		Suggested:            result.Suggested,
		RequiresConfirmation: result.RequiresConfirmation,
	})
	l.captureEntities(p.CallID, result.Params)
	if l.metrics != nil {
		l.metrics.RecordIntent(string(result.Type), result.RequiresConfirmation)
	}

	sig, params, err := l.decide(ctx, p, result)
	if err != nil {
		return Reply{}, err
	}
	return l.say(sig, params, &result)
}

func (l *Loop) decide(ctx context.Context, p ivr.Packet, result intent.Result) (speech.Signal, speech.Params, error) {
	switch result.Type {
	case intent.Unknown:
		return speech.DidNotUnderstand, speech.Params{}, nil

	case intent.Confirm:
		if result.RequiresConfirmation || result.Confidence < intent.ConfirmationThreshold {
			// An inferred yes never releases the parked action.
			if l.store.Get(p.CallID).Pending == nil {
				return speech.NothingPending, speech.Params{}, nil
			}
			return speech.ConfirmRequested, speech.Params{}, nil
		}
		pending, ok := l.store.TakePending(p.CallID)
		if !ok {
			return speech.NothingPending, speech.Params{}, nil
		}
		return l.execute(ctx, p, intent.Type(pending.IntentType), pending.Params)

	case intent.Cancel:
		l.store.Update(p.CallID, callctx.Patch{ClearPending: true})
		return speech.Cancelled, speech.Params{}, nil
	}

	if result.RequiresConfirmation {
		l.store.Update(p.CallID, callctx.Patch{Pending: &callctx.PendingAction{
			Seq:        p.Seq,
			IntentType: string(result.Type),
			Params:     result.Params,
			Suggested:  result.Suggested,
		}})
		if result.Suggested {
			return speech.ConfirmInferred, speech.Params{}, nil
		}
		return speech.ConfirmRequested, speech.Params{}, nil
	}
	return l.execute(ctx, p, result.Type, result.Params)
}

func (l *Loop) execute(ctx context.Context, p ivr.Packet, t intent.Type, params map[string]any) (speech.Signal, speech.Params, error) {
	res, err := l.tools.Execute(ctx, tools.Call{CallID: p.CallID, Seq: p.Seq, Intent: t, Params: params})
	rec := callctx.ToolResultRecord{
		Seq:    p.Seq,
		Intent: string(t),
		Status: res.Status,
		Count:  res.Count,
		When:   res.When,
		Data:   res.Data,
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if errors.Is(err, tools.ErrNoTool) {
		rec.Status = tools.StatusNotFound
		l.store.AppendToolResult(p.CallID, rec)
		l.recordToolCall(t, rec.Status)
		return speech.Unavailable, speech.Params{}, nil
	}
	l.store.AppendToolResult(p.CallID, rec)
	l.recordToolCall(t, rec.Status)
	if err != nil {
		return "", speech.Params{}, fmt.Errorf("execute %s: %w", t, err)
	}
	if res.Status == tools.StatusFailed {
		return speech.ActionFailed, speech.Params{}, nil
	}

	switch t {
	case intent.ReadTasks:
		if res.Count <= 0 {
			return speech.NoTasks, speech.Params{}, nil
		}
		return speech.HasTasks, speech.Params{Count: res.Count}, nil
	case intent.NextMeeting:
		if res.Status == tools.StatusNotFound || res.When.IsZero() {
			return speech.NoMeeting, speech.Params{}, nil
		}
		return speech.NextMeetingAt, speech.Params{When: res.When}, nil
	default:
		return speech.Done, speech.Params{}, nil
	}
}

func (l *Loop) say(sig speech.Signal, params speech.Params, result *intent.Result) (Reply, error) {
	text, err := speech.Speak(sig, params)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Text: text, Signal: sig, Outcome: OutcomeCompleted, Intent: result}, nil
}

// fail records err and answers with the fixed fallback phrase.
func (l *Loop) fail(p ivr.Packet, key string, err error) Reply {
	l.logger.Warn("turn failed", "call_id", p.CallID, "seq", p.Seq, "error", err)
	l.emit(events.ConvoError, p, key, map[string]any{"error": err.Error()})
	text, serr := speech.Speak(speech.Fallback, speech.Params{})
	if serr != nil {
		text = speech.FallbackText
	}
	l.store.AppendUtterance(p.CallID, callctx.RoleAssistant, text)
	return Reply{Text: text, Signal: speech.Fallback, Outcome: OutcomeFailed}
}

// applyMeta copies per-call settings the carrier attached to the packet.
func (l *Loop) applyMeta(p ivr.Packet) {
	var patch callctx.Patch
	prefs := callctx.Preferences{
		VoiceProfile:      p.MetaString("voice_profile"),
		ConfirmationStyle: p.MetaString("confirmation_style"),
		Verbosity:         p.MetaString("verbosity"),
	}
	if prefs != (callctx.Preferences{}) {
		patch.Preferences = &prefs
	}
	if d := strings.ToUpper(p.MetaString("disposition")); d != "" {
		conf, _ := p.Meta["disposition_confidence"].(float64)
		mode := callctx.Mode{Disposition: d, Confidence: conf}
		if reason := p.MetaString("disposition_reason"); reason != "" {
			mode.Reasons = []string{reason}
		}
		patch.Mode = &mode
	}
	if patch.Preferences != nil || patch.Mode != nil {
		l.store.Update(p.CallID, patch)
	}
}

var entityParams = map[string]callctx.EntityType{
	"person":   callctx.EntityPerson,
	"name":     callctx.EntityPerson,
	"contact":  callctx.EntityPerson,
	"task":     callctx.EntityItem,
	"item":     callctx.EntityItem,
	"note":     callctx.EntityItem,
	"content":  callctx.EntityItem,
	"location": callctx.EntityLocation,
	"place":    callctx.EntityLocation,
	"where":    callctx.EntityLocation,
}

// captureEntityOrder fixes insertion order so recency is deterministic.
var captureEntityOrder = []string{"location", "place", "where", "task", "item", "note", "content", "person", "name", "contact"}

func (l *Loop) captureEntities(callID string, params map[string]any) {
	for _, key := range captureEntityOrder {
		s, ok := params[key].(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		l.store.AddResolvedEntity(callID, entityParams[key], s)
	}
}

// hungUp distinguishes a hangup from the turn's own deadline, which is
// handled as an ordinary provider or tool failure.
func hungUp(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

func (l *Loop) emit(t events.Type, p ivr.Packet, key string, payload map[string]any) {
	if l.emitter == nil {
		return
	}
	l.emitter.Emit(events.Event{
		Type:           t,
		TS:             time.Now(),
		CallID:         p.CallID,
		Seq:            p.Seq,
		IdempotencyKey: key,
		Payload:        payload,
	})
}

func (l *Loop) recordClassificationFailure(err error) {
	if l.metrics == nil {
		return
	}
	reason := "provider"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = "timeout"
	case errors.Is(err, intent.ErrInvalidOutput):
		reason = "invalid_payload"
	}
	l.metrics.RecordClassificationFailure(reason)
}

func (l *Loop) recordToolCall(t intent.Type, status string) {
	if l.metrics != nil {
		l.metrics.RecordToolCall(string(t), status)
	}
}
