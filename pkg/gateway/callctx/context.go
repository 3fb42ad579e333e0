// Package callctx holds per-call conversational state: bounded history,
// resolved entities, caller preferences and any action awaiting confirmation.
package callctx

import (
	"maps"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type EntityType string

const (
	EntityPerson   EntityType = "person"
	EntityItem     EntityType = "item"
	EntityLocation EntityType = "location"
)

// Dispositions tracked in Mode.
const (
	DispositionCalm     = "CALM"
	DispositionStressed = "STRESSED"
)

// Confirmation styles.
const (
	ConfirmWhenUnsure = "when_unsure"
	ConfirmAlways     = "always"
)

type Mode struct {
	Disposition string    `json:"disposition"`
	Confidence  float64   `json:"confidence"`
	Reasons     []string  `json:"reasons,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Preferences struct {
	VoiceProfile      string `json:"voice_profile,omitempty"`
	ConfirmationStyle string `json:"confirmation_style,omitempty"`
	Verbosity         string `json:"verbosity,omitempty"`
}

type Utterance struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// IntentRecord is the classification outcome of one turn.
type IntentRecord struct {
	Seq                  int64          `json:"seq"`
	Type                 string         `json:"type"`
	Confidence           float64        `json:"confidence"`
	Params               map[string]any `json:"params,omitempty"`
	Suggested            bool           `json:"suggested"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
	At                   time.Time      `json:"at"`
}

// ToolResultRecord is the typed outcome of a tool invocation. It never
// carries caller-facing text.
type ToolResultRecord struct {
	Seq    int64          `json:"seq"`
	Intent string         `json:"intent"`
	Status string         `json:"status"`
	Count  int            `json:"count,omitempty"`
	When   time.Time      `json:"when,omitzero"`
	Data   map[string]any `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
	At     time.Time      `json:"at"`
}

type ResolvedEntity struct {
	Type      EntityType `json:"type"`
	Value     string     `json:"value"`
	FirstSeen time.Time  `json:"first_seen"`
	LastSeen  time.Time  `json:"last_seen"`
}

// PendingAction is an intent parked until the caller confirms or cancels it.
type PendingAction struct {
	Seq        int64          `json:"seq"`
	IntentType string         `json:"intent_type"`
	Params     map[string]any `json:"params,omitempty"`
	Suggested  bool           `json:"suggested"`
	CreatedAt  time.Time      `json:"created_at"`
}

type CallContext struct {
	CallID       string      `json:"call_id"`
	StartTime    time.Time   `json:"start_time"`
	LastActivity time.Time   `json:"last_activity"`
	Mode         Mode        `json:"mode"`
	Preferences  Preferences `json:"preferences"`

	Utterances  []Utterance        `json:"utterances"`
	Intents     []IntentRecord     `json:"intents"`
	ToolResults []ToolResultRecord `json:"tool_results"`
	Entities    []ResolvedEntity   `json:"entities"`

	Pending *PendingAction `json:"pending,omitempty"`
}

// LastIntent returns the most recent intent record, if any.
func (c CallContext) LastIntent() (IntentRecord, bool) {
	if len(c.Intents) == 0 {
		return IntentRecord{}, false
	}
	return c.Intents[len(c.Intents)-1], true
}

// LatestEntity searches entities newest first for one of the given types.
func (c CallContext) LatestEntity(types ...EntityType) (ResolvedEntity, bool) {
	for i := len(c.Entities) - 1; i >= 0; i-- {
		for _, t := range types {
			if c.Entities[i].Type == t {
				return c.Entities[i], true
			}
		}
	}
	return ResolvedEntity{}, false
}

func (c *CallContext) clone() CallContext {
	out := *c
	out.Mode.Reasons = append([]string(nil), c.Mode.Reasons...)
	out.Utterances = append([]Utterance(nil), c.Utterances...)
	out.Intents = make([]IntentRecord, len(c.Intents))
	for i, rec := range c.Intents {
		rec.Params = maps.Clone(rec.Params)
		out.Intents[i] = rec
	}
	out.ToolResults = make([]ToolResultRecord, len(c.ToolResults))
	for i, rec := range c.ToolResults {
		rec.Data = maps.Clone(rec.Data)
		out.ToolResults[i] = rec
	}
	out.Entities = append([]ResolvedEntity(nil), c.Entities...)
	if c.Pending != nil {
		p := *c.Pending
		p.Params = maps.Clone(p.Params)
		out.Pending = &p
	}
	return out
}
