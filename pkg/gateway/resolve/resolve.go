// Package resolve rewrites pronouns and relative phrases in a transcript
// using the call's recent history, so the classifier sees explicit referents.
package resolve

import (
	"regexp"
	"strings"

	"github.com/vango-go/vai-callgate/pkg/gateway/callctx"
)

// LaterHint replaces "later". It is a fixed default anchor, not a prompt for
// the caller to be more specific.
const LaterHint = "[in 3 hours]"

var (
	againPattern     = regexp.MustCompile(`(?i)\bagain\b`)
	referencePattern = regexp.MustCompile(`(?i)\b(that|this|it|her|him|she|he|later)\b`)
)

var (
	thingParams  = []string{"task", "note", "content", "item", "name"}
	personParams = []string{"person", "name", "contact"}
)

type Result struct {
	ResolvedText          string                   `json:"resolved_text"`
	EntitiesFound         []callctx.ResolvedEntity `json:"entities_found,omitempty"`
	RequiresClarification bool                     `json:"requires_clarification"`
	IsRecurringSignal     bool                     `json:"is_recurring_signal"`
}

type Resolver struct {
	store             *callctx.Store
	clarifyUnresolved bool
}

type Option func(*Resolver)

// WithClarifyUnresolved makes an unresolved pronoun set RequiresClarification.
// By default unresolved pronouns are treated as filler.
func WithClarifyUnresolved(v bool) Option {
	return func(r *Resolver) { r.clarifyUnresolved = v }
}

func New(store *callctx.Store, opts ...Option) *Resolver {
	r := &Resolver{store: store}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Resolve(callID, text string) Result {
	res := Result{
		ResolvedText:      text,
		IsRecurringSignal: againPattern.MatchString(text),
	}
	if !referencePattern.MatchString(text) {
		return res
	}

	cc := r.store.Get(callID)
	last, hasIntent := cc.LastIntent()

	seen := make(map[callctx.ResolvedEntity]bool)
	found := func(e callctx.ResolvedEntity) {
		key := callctx.ResolvedEntity{Type: e.Type, Value: e.Value}
		if !seen[key] {
			seen[key] = true
			res.EntitiesFound = append(res.EntitiesFound, e)
		}
	}

	res.ResolvedText = referencePattern.ReplaceAllStringFunc(text, func(tok string) string {
		var (
			types    []callctx.EntityType
			fallback []string
		)
		switch strings.ToLower(tok) {
		case "later":
			return LaterHint
		case "that", "this", "it":
			types = []callctx.EntityType{callctx.EntityItem, callctx.EntityLocation}
			fallback = thingParams
		default:
			types = []callctx.EntityType{callctx.EntityPerson}
			fallback = personParams
		}

		if ent, ok := cc.LatestEntity(types...); ok {
			found(ent)
			return "[" + ent.Value + "]"
		}
		if hasIntent {
			if v := salientParam(last.Params, fallback); v != "" {
				return v
			}
		}
		if r.clarifyUnresolved {
			res.RequiresClarification = true
		}
		return tok
	})
	return res
}

func salientParam(params map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := params[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}
