// Package tools is the boundary to external actions (task storage, calendar
// lookups). Results are typed records; no tool ever produces spoken text.
package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vango-go/vai-callgate/pkg/gateway/intent"
)

var ErrNoTool = errors.New("tools: no executor for intent")

// Result statuses.
const (
	StatusOK       = "ok"
	StatusNotFound = "not_found"
	StatusFailed   = "failed"
)

type Call struct {
	CallID string         `json:"callId"`
	Seq    int64          `json:"seq"`
	Intent intent.Type    `json:"intent"`
	Params map[string]any `json:"params,omitempty"`
}

type Result struct {
	Status string         `json:"status"`
	Count  int            `json:"count,omitempty"`
	When   time.Time      `json:"when,omitzero"`
	Data   map[string]any `json:"data,omitempty"`
}

type Executor interface {
	Name() string
	Execute(ctx context.Context, call Call) (Result, error)
}

type ExecutorFunc func(ctx context.Context, call Call) (Result, error)

// Func adapts fn into a named Executor.
func Func(name string, fn ExecutorFunc) Executor {
	return funcExecutor{name: name, fn: fn}
}

type funcExecutor struct {
	name string
	fn   ExecutorFunc
}

func (f funcExecutor) Name() string { return f.name }

func (f funcExecutor) Execute(ctx context.Context, call Call) (Result, error) {
	return f.fn(ctx, call)
}

// Registry routes intents to executors.
type Registry struct {
	mu       sync.RWMutex
	byIntent map[intent.Type]Executor
}

func NewRegistry() *Registry {
	return &Registry{byIntent: make(map[intent.Type]Executor)}
}

// Register binds ex to each of the given intents, replacing earlier bindings.
func (r *Registry) Register(ex Executor, intents ...intent.Type) {
	if ex == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range intents {
		r.byIntent[t] = ex
	}
}

func (r *Registry) Has(t intent.Type) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byIntent[t]
	return ok
}

func (r *Registry) Intents() []intent.Type {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]intent.Type, 0, len(r.byIntent))
	for t := range r.byIntent {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *Registry) Execute(ctx context.Context, call Call) (Result, error) {
	if r == nil {
		return Result{}, fmt.Errorf("%w %s", ErrNoTool, call.Intent)
	}
	r.mu.RLock()
	ex, ok := r.byIntent[call.Intent]
	r.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w %s", ErrNoTool, call.Intent)
	}
	res, err := ex.Execute(ctx, call)
	if err != nil {
		return Result{Status: StatusFailed}, fmt.Errorf("%s: %w", ex.Name(), err)
	}
	if res.Status == "" {
		res.Status = StatusOK
	}
	return res, nil
}
