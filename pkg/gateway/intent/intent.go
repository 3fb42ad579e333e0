// Package intent classifies a resolved transcript into one of a closed set
// of caller intents.
package intent

import (
	"math"
	"strings"
)

type Type string

const (
	ReadTasks   Type = "READ_TASKS"
	AddTask     Type = "ADD_TASK"
	NextMeeting Type = "NEXT_MEETING"
	CaptureNote Type = "CAPTURE_NOTE"
	Confirm     Type = "CONFIRM"
	Cancel      Type = "CANCEL"
	Unknown     Type = "UNKNOWN"
)

// Types lists every intent the classifier may return, in prompt order.
var Types = []Type{ReadTasks, AddTask, NextMeeting, CaptureNote, Confirm, Cancel, Unknown}

// ConfirmationThreshold is the confidence below which a mutating intent is
// never executed without the caller confirming it.
const ConfirmationThreshold = 0.85

func ParseType(raw string) (Type, bool) {
	t := Type(strings.ToUpper(strings.TrimSpace(raw)))
	for _, known := range Types {
		if t == known {
			return t, true
		}
	}
	return Unknown, false
}

// Mutating reports whether acting on the intent changes caller data.
func (t Type) Mutating() bool {
	return t == AddTask || t == CaptureNote
}

// Result is the decision for one turn. It never carries spoken text.
type Result struct {
	Type                 Type           `json:"type"`
	Confidence           float64        `json:"confidence"`
	Params               map[string]any `json:"params,omitempty"`
	Suggested            bool           `json:"suggested"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
}

// UnknownResult is returned for anything that could not be classified.
func UnknownResult() Result {
	return Result{Type: Unknown, Confidence: 0}
}

// Normalize enforces the confirmation rules on r: unknown types collapse to
// UNKNOWN at zero confidence, a suggested intent always needs confirmation,
// and a mutating intent below ConfirmationThreshold does too.
func Normalize(r Result) Result {
	t, ok := ParseType(string(r.Type))
	if !ok || t == Unknown {
		return UnknownResult()
	}
	r.Type = t
	switch {
	case math.IsNaN(r.Confidence) || r.Confidence < 0:
		r.Confidence = 0
	case r.Confidence > 1:
		r.Confidence = 1
	}
	if r.Suggested {
		r.RequiresConfirmation = true
	}
	if t.Mutating() && r.Confidence < ConfirmationThreshold {
		r.RequiresConfirmation = true
	}
	return r
}
