package callctx

import (
	"strings"
	"sync"
	"time"
)

const (
	DefaultHistoryLimit = 20
	DefaultTTL          = 30 * time.Minute
)

// Patch is a shallow update. Nil fields are left untouched; non-empty
// Preferences fields replace the stored ones.
type Patch struct {
	Mode         *Mode
	Preferences  *Preferences
	Pending      *PendingAction
	ClearPending bool
}

// Store maps call ids to their CallContext. Contexts are created on first
// access and evicted once idle for longer than the TTL, either by Cleanup or
// when a stale context is touched again.
//
// Callers receive snapshots; state changes only through Store methods.
type Store struct {
	mu           sync.Mutex
	calls        map[string]*CallContext
	historyLimit int
	ttl          time.Duration
	now          func() time.Time
}

type Option func(*Store)

func WithHistoryLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		calls:        make(map[string]*CallContext),
		historyLimit: DefaultHistoryLimit,
		ttl:          DefaultTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) HistoryLimit() int { return s.historyLimit }

// Get returns a snapshot of the call's context, creating it if needed.
func (s *Store) Get(callID string) CallContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.touch(callID).clone()
}

// Peek returns a snapshot without creating or refreshing the context.
func (s *Store) Peek(callID string) (CallContext, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok || s.expired(c, s.now()) {
		return CallContext{}, false
	}
	return c.clone(), true
}

func (s *Store) Update(callID string, p Patch) CallContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.touch(callID)
	if p.Mode != nil {
		c.Mode = *p.Mode
		c.Mode.Reasons = append([]string(nil), p.Mode.Reasons...)
		if c.Mode.UpdatedAt.IsZero() {
			c.Mode.UpdatedAt = c.LastActivity
		}
	}
	if p.Preferences != nil {
		if p.Preferences.VoiceProfile != "" {
			c.Preferences.VoiceProfile = p.Preferences.VoiceProfile
		}
		if p.Preferences.ConfirmationStyle != "" {
			c.Preferences.ConfirmationStyle = p.Preferences.ConfirmationStyle
		}
		if p.Preferences.Verbosity != "" {
			c.Preferences.Verbosity = p.Preferences.Verbosity
		}
	}
	if p.ClearPending {
		c.Pending = nil
	}
	if p.Pending != nil {
		pending := *p.Pending
		if pending.CreatedAt.IsZero() {
			pending.CreatedAt = c.LastActivity
		}
		c.Pending = &pending
	}
	return c.clone()
}

// TakePending removes and returns the call's pending action.
func (s *Store) TakePending(callID string) (PendingAction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.touch(callID)
	if c.Pending == nil {
		return PendingAction{}, false
	}
	p := *c.Pending
	c.Pending = nil
	return p, true
}

func (s *Store) AppendUtterance(callID string, role Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.touch(callID)
	c.Utterances = trim(append(c.Utterances, Utterance{Role: role, Text: text, At: c.LastActivity}), s.historyLimit)
}

func (s *Store) AppendIntent(callID string, rec IntentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.touch(callID)
	if rec.At.IsZero() {
		rec.At = c.LastActivity
	}
	c.Intents = trim(append(c.Intents, rec), s.historyLimit)
}

func (s *Store) AppendToolResult(callID string, rec ToolResultRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.touch(callID)
	if rec.At.IsZero() {
		rec.At = c.LastActivity
	}
	c.ToolResults = trim(append(c.ToolResults, rec), s.historyLimit)
}

// AddResolvedEntity records an entity mention. A repeat of the same
// (type, value) moves to the newest position and keeps its first-seen time.
func (s *Store) AddResolvedEntity(callID string, typ EntityType, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.touch(callID)
	ent := ResolvedEntity{Type: typ, Value: value, FirstSeen: c.LastActivity, LastSeen: c.LastActivity}
	for i, e := range c.Entities {
		if e.Type == typ && strings.EqualFold(e.Value, value) {
			ent.FirstSeen = e.FirstSeen
			c.Entities = append(c.Entities[:i], c.Entities[i+1:]...)
			break
		}
	}
	c.Entities = trim(append(c.Entities, ent), s.historyLimit)
}

// Delete drops a call's context immediately.
func (s *Store) Delete(callID string) {
	s.mu.Lock()
	delete(s.calls, callID)
	s.mu.Unlock()
}

// Cleanup evicts every context idle for longer than the TTL and reports how
// many were removed.
func (s *Store) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, c := range s.calls {
		if s.expired(c, now) {
			delete(s.calls, id)
			removed++
		}
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// touch must be called with mu held.
func (s *Store) touch(callID string) *CallContext {
	now := s.now()
	c, ok := s.calls[callID]
	if ok && s.expired(c, now) {
		ok = false
	}
	if !ok {
		c = &CallContext{
			CallID:      callID,
			StartTime:   now,
			Mode:        Mode{Disposition: DispositionCalm, Confidence: 1, UpdatedAt: now},
			Preferences: Preferences{ConfirmationStyle: ConfirmWhenUnsure},
		}
		s.calls[callID] = c
	}
	c.LastActivity = now
	return c
}

func (s *Store) expired(c *CallContext, now time.Time) bool {
	return now.Sub(c.LastActivity) > s.ttl
}

func trim[T any](s []T, n int) []T {
	if n <= 0 || len(s) <= n {
		return s
	}
	copy(s, s[len(s)-n:])
	clear(s[n:])
	return s[:n]
}
