package intent

import (
	"fmt"
	"strings"

	"github.com/vango-go/vai-callgate/pkg/gateway/callctx"
)

const systemPrompt = `You classify what a phone caller wants. Reply with a single JSON object and nothing else:
{"type": <TYPE>, "confidence": <0..1>, "params": {...}, "suggested": <bool>, "requires_confirmation": <bool>}

TYPE is exactly one of: READ_TASKS, ADD_TASK, NEXT_MEETING, CAPTURE_NOTE, CONFIRM, CANCEL, UNKNOWN.
- READ_TASKS: the caller asks what is outstanding for them.
- ADD_TASK: the caller wants something tracked. params.task holds it; params.person, params.when and params.location when stated.
- NEXT_MEETING: the caller asks about their next appointment.
- CAPTURE_NOTE: the caller dictates information to keep. params.content holds it; params.person when stated.
- CONFIRM: the caller agrees to what was just proposed.
- CANCEL: the caller declines or withdraws what was just proposed.
- UNKNOWN: anything else.

Rules:
- suggested is true when you inferred the intent from indirect language rather than an explicit request.
- If suggested is true, requires_confirmation must be true.
- For ADD_TASK or CAPTURE_NOTE with confidence below 0.85, requires_confirmation must be true.
- Bracketed text such as [Dana] is an already-resolved reference; copy it into params without brackets.
- Do not write anything meant to be said to the caller.`

// Summarize renders the recent history of a call for the classifier.
func Summarize(cc callctx.CallContext, maxTurns int) string {
	var b strings.Builder
	if cc.Pending != nil {
		fmt.Fprintf(&b, "awaiting confirmation: %s", cc.Pending.IntentType)
		if v := firstString(cc.Pending.Params, "task", "content"); v != "" {
			fmt.Fprintf(&b, " (%s)", v)
		}
		b.WriteByte('\n')
	}
	turns := cc.Utterances
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	for _, u := range turns {
		fmt.Fprintf(&b, "%s: %s\n", u.Role, u.Text)
	}
	if last, ok := cc.LastIntent(); ok {
		fmt.Fprintf(&b, "last intent: %s\n", last.Type)
	}
	return strings.TrimSpace(b.String())
}

func firstString(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := params[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}
