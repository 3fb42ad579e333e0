// Package lifecycle holds process state shared by handlers: whether the
// gateway is draining and the dependency checks behind readiness.
package lifecycle

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// CheckFunc reports whether a dependency is usable.
type CheckFunc func(ctx context.Context) error

type Lifecycle struct {
	draining atomic.Bool

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

func (l *Lifecycle) SetDraining(draining bool) {
	if l == nil {
		return
	}
	l.draining.Store(draining)
}

func (l *Lifecycle) IsDraining() bool {
	if l == nil {
		return false
	}
	return l.draining.Load()
}

// AddCheck registers a readiness check under name, replacing any previous one.
func (l *Lifecycle) AddCheck(name string, fn CheckFunc) {
	if l == nil || fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.checks == nil {
		l.checks = make(map[string]CheckFunc)
	}
	l.checks[name] = fn
}

// Check runs every registered check and returns "name: error" for each
// failure, sorted by name.
func (l *Lifecycle) Check(ctx context.Context) []string {
	if l == nil {
		return nil
	}
	l.mu.RLock()
	names := make([]string, 0, len(l.checks))
	for name := range l.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(l.checks))
	for k, v := range l.checks {
		checks[k] = v
	}
	l.mu.RUnlock()

	sort.Strings(names)
	var issues []string
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			issues = append(issues, name+": "+err.Error())
		}
	}
	return issues
}
