// Package speech is the only producer of caller-facing text. Callers pick a
// Signal; the package renders a fixed phrase for it and refuses to return
// anything containing forbidden vocabulary.
package speech

type Signal string

const (
	Done              Signal = "DONE"
	ConfirmInferred   Signal = "CONFIRM_INFERRED"
	ConfirmRequested  Signal = "CONFIRM_REQUESTED"
	Cancelled         Signal = "CANCELLED"
	NothingPending    Signal = "NOTHING_PENDING"
	HasTasks          Signal = "HAS_TASKS"
	NoTasks           Signal = "NO_TASKS"
	NextMeetingAt     Signal = "NEXT_MEETING_AT"
	NoMeeting         Signal = "NO_MEETING"
	DidNotUnderstand  Signal = "DID_NOT_UNDERSTAND"
	NeedClarification Signal = "NEED_CLARIFICATION"
	Unavailable       Signal = "UNAVAILABLE"
	ActionFailed      Signal = "ACTION_FAILED"
	Fallback          Signal = "FALLBACK"
)

// Signals lists every signal with a template.
var Signals = []Signal{
	Done,
	ConfirmInferred,
	ConfirmRequested,
	Cancelled,
	NothingPending,
	HasTasks,
	NoTasks,
	NextMeetingAt,
	NoMeeting,
	DidNotUnderstand,
	NeedClarification,
	Unavailable,
	ActionFailed,
	Fallback,
}

// FallbackText is spoken when a turn fails for any reason.
const FallbackText = "Sorry — I missed that, can you say it again?"
