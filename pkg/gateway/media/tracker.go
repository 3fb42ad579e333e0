package media

import (
	"context"
	"sync"
)

// Handle lets the tracker act on a live stream.
type Handle struct {
	// Hangup ends the stream.
	Hangup func()
	// Notify sends a named mark to the far end.
	Notify func(name string) error
}

// Tracker indexes live media streams by call id so hangups and shutdown can
// reach them.
type Tracker struct {
	mu      sync.Mutex
	streams map[string]*trackedStream
	wg      sync.WaitGroup
}

type trackedStream struct {
	handle Handle
	once   sync.Once
}

func NewTracker() *Tracker {
	return &Tracker{streams: make(map[string]*trackedStream)}
}

// Register tracks a stream for callID, replacing and hanging up any earlier
// stream for the same call. The returned func must be called when the stream
// ends.
func (t *Tracker) Register(callID string, h Handle) (unregister func()) {
	if t == nil {
		return func() {}
	}
	entry := &trackedStream{handle: h}

	t.mu.Lock()
	old := t.streams[callID]
	t.streams[callID] = entry
	t.wg.Add(1)
	t.mu.Unlock()

	if old != nil && old.handle.Hangup != nil {
		old.handle.Hangup()
	}
	return func() { t.unregister(callID, entry) }
}

func (t *Tracker) unregister(callID string, entry *trackedStream) {
	entry.once.Do(func() {
		t.mu.Lock()
		if t.streams[callID] == entry {
			delete(t.streams, callID)
		}
		t.mu.Unlock()
		t.wg.Done()
	})
}

func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}

// Hangup ends the stream for callID and reports whether one was live.
func (t *Tracker) Hangup(callID string) bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	entry, ok := t.streams[callID]
	t.mu.Unlock()
	if !ok || entry.handle.Hangup == nil {
		return false
	}
	entry.handle.Hangup()
	return true
}

// NotifyAll sends a mark to every live stream and returns how many accepted it.
func (t *Tracker) NotifyAll(name string) (sent int) {
	for _, h := range t.handles() {
		if h.Notify == nil {
			continue
		}
		if h.Notify(name) == nil {
			sent++
		}
	}
	return sent
}

// HangupAll ends every live stream.
func (t *Tracker) HangupAll() (n int) {
	for _, h := range t.handles() {
		if h.Hangup != nil {
			h.Hangup()
			n++
		}
	}
	return n
}

func (t *Tracker) handles() []Handle {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Handle, 0, len(t.streams))
	for _, entry := range t.streams {
		out = append(out, entry.handle)
	}
	return out
}

// Wait blocks until every registered stream has unregistered or ctx ends.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}
