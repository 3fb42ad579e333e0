package speech

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrUnknownSignal       = errors.New("speech: unknown signal")
	ErrForbiddenVocabulary = errors.New("speech: forbidden vocabulary")
)

// ForbiddenWords describe internal mechanics and must never reach a caller.
var ForbiddenWords = []string{"task", "list", "note", "reminder", "tool", "log", "create", "save", "add"}

var forbiddenPattern = regexp.MustCompile(`(?i)\b(` + strings.Join(ForbiddenWords, "|") + `)\b`)

// Params carries the non-text values a template may render.
type Params struct {
	Count int
	When  time.Time
}

type template func(Params) string

var templates = map[Signal]template{
	Done:              fixed("All set."),
	ConfirmInferred:   fixed("It sounds like you'd like me to take care of that. Should I go ahead?"),
	ConfirmRequested:  fixed("Just to check, should I go ahead with that?"),
	Cancelled:         fixed("Okay, I won't do that."),
	NothingPending:    fixed("There's nothing waiting on a yes from you right now."),
	HasTasks:          hasTasks,
	NoTasks:           fixed("You're all clear right now."),
	NextMeetingAt:     nextMeeting,
	NoMeeting:         fixed("I don't see anything coming up on your calendar."),
	DidNotUnderstand:  fixed("I didn't quite catch what you need. Could you say it another way?"),
	NeedClarification: fixed("Who or what did you mean?"),
	Unavailable:       fixed("I can't help with that right now."),
	ActionFailed:      fixed("Something went wrong on my end. Please try again in a moment."),
	Fallback:          fixed(FallbackText),
}

func init() {
	if err := Validate(); err != nil {
		panic(err)
	}
}

func fixed(s string) template {
	return func(Params) string { return s }
}

func hasTasks(p Params) string {
	switch {
	case p.Count <= 0:
		return "You're all clear right now."
	case p.Count == 1:
		return "You have one thing on your plate."
	default:
		return fmt.Sprintf("You have %d things on your plate.", p.Count)
	}
}

func nextMeeting(p Params) string {
	if p.When.IsZero() {
		return "I don't see anything coming up on your calendar."
	}
	return "Your next meeting is at " + p.When.Format("3:04 PM") + "."
}

// Speak renders the phrase for sig. It fails if sig has no template or the
// rendered text contains forbidden vocabulary; both indicate a template
// defect, never caller input.
func Speak(sig Signal, p Params) (string, error) {
	tmpl, ok := templates[sig]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSignal, sig)
	}
	text := tmpl(p)
	if err := Check(text); err != nil {
		return "", fmt.Errorf("%s: %w", sig, err)
	}
	return text, nil
}

// Check reports whether text is free of forbidden vocabulary.
func Check(text string) error {
	if w := forbiddenPattern.FindString(text); w != "" {
		return fmt.Errorf("%w: %q", ErrForbiddenVocabulary, strings.ToLower(w))
	}
	return nil
}

// Validate renders every template against representative parameters.
func Validate() error {
	samples := []Params{
		{},
		{Count: 1},
		{Count: 12, When: time.Date(2026, 1, 1, 15, 30, 0, 0, time.UTC)},
	}
	for _, sig := range Signals {
		if _, ok := templates[sig]; !ok {
			return fmt.Errorf("%w: %q has no template", ErrUnknownSignal, sig)
		}
		for _, p := range samples {
			if _, err := Speak(sig, p); err != nil {
				return err
			}
		}
	}
	return nil
}
