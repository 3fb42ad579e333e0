// Package idempotency records which inbound turns have already been
// processed so redelivered packets are ignored.
package idempotency

import (
	"context"
	"strconv"
	"sync"
	"time"
)

const DefaultTTL = 2 * time.Hour

// Store claims keys at most once within their TTL.
type Store interface {
	// Claim records key and reports whether this caller is the first to do so.
	Claim(ctx context.Context, key string) (bool, error)
	// Sweep removes expired keys and reports how many were removed.
	Sweep(ctx context.Context) (int, error)
	Close() error
}

// Key derives the idempotency key of one turn.
func Key(callID string, seq int64) string {
	return callID + ":" + strconv.FormatInt(seq, 10)
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.Mutex
	keys map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{keys: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

// WithClock overrides the time source. Intended for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Claim(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.keys[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.keys[key] = now.Add(m.ttl)
	return true, nil
}

func (m *Memory) Sweep(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for k, exp := range m.keys {
		if !now.Before(exp) {
			delete(m.keys, k)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.keys)
}

func (m *Memory) Close() error { return nil }
