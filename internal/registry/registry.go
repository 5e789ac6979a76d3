// Package registry maps tool names to input schemas and handlers. Every
// protocol adapter funnels calls through Registry.Invoke, so validation,
// timeouts, concurrency limits, and metrics apply identically on every
// transport.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/ashita-ai/kaiun/internal/model"
	"github.com/ashita-ai/kaiun/internal/telemetry"
	"github.com/ashita-ai/kaiun/internal/toolerr"
)

// Defaults applied when options are not given.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxConcurrent = 64
)

// Handler executes a tool with schema-validated arguments. The result must
// be JSON-encodable.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is a registry entry.
type Tool struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Handler     Handler
	// ReadOnly marks tools that never mutate records.
	ReadOnly bool
}

// Descriptor is the public view of a registered tool.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	ReadOnly    bool            `json:"readOnly"`
}

type entry struct {
	tool   Tool
	schema *jsonschema.Schema
}

// Option configures a Registry.
type Option func(*Registry)

// WithTimeout sets the per-call execution bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxConcurrent bounds the number of handlers running at once.
func WithMaxConcurrent(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxConcurrent = int64(n)
		}
	}
}

// WithLogger sets the logger used for per-call log lines.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// Registry is immutable after Freeze and safe for concurrent Invoke.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	frozen  bool

	timeout       time.Duration
	maxConcurrent int64
	sem           *semaphore.Weighted
	logger        *slog.Logger

	calls    metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:       make(map[string]*entry),
		timeout:       DefaultTimeout,
		maxConcurrent: DefaultMaxConcurrent,
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.sem = semaphore.NewWeighted(r.maxConcurrent)

	meter := telemetry.Meter("kaiun/registry")
	var err error
	if r.calls, err = meter.Int64Counter("kaiun.tool.calls",
		metric.WithDescription("Tool invocations by tool, transport, and outcome")); err != nil {
		r.logger.Warn("registry: create calls counter", "error", err)
	}
	if r.duration, err = meter.Float64Histogram("kaiun.tool.duration",
		metric.WithDescription("Tool execution time"), metric.WithUnit("ms")); err != nil {
		r.logger.Warn("registry: create duration histogram", "error", err)
	}
	return r
}

// Register adds a tool. It panics on duplicate names, invalid schemas, or
// registration after Freeze; all three are startup programming errors.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic(fmt.Sprintf("registry: register %q after freeze", t.Name))
	}
	if t.Name == "" || t.Handler == nil {
		panic("registry: tool needs a name and a handler")
	}
	if _, dup := r.entries[t.Name]; dup {
		panic(fmt.Sprintf("registry: duplicate tool %q", t.Name))
	}
	schema, err := compileSchema(t.Name, t.Schema)
	if err != nil {
		panic(err.Error())
	}
	if len(t.Schema) == 0 {
		t.Schema = json.RawMessage(`{"type":"object"}`)
	}
	r.entries[t.Name] = &entry{tool: t, schema: schema}
	r.order = append(r.order, t.Name)
}

// Freeze makes the registry immutable.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// List returns descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		t := r.entries[name].tool
		out = append(out, Descriptor{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Schema,
			ReadOnly:    t.ReadOnly,
		})
	}
	return out
}

// Invoke validates env against the tool's schema and runs its handler under
// the call timeout and the concurrency bound. Failures are *toolerr.Error.
func (r *Registry) Invoke(ctx context.Context, env model.ToolCallEnvelope) (any, error) {
	ctx, span := telemetry.Tracer("kaiun/registry").Start(ctx, "tool "+env.Tool,
		trace.WithAttributes(
			attribute.String("kaiun.tool", env.Tool),
			attribute.String("kaiun.transport", env.Transport),
		),
	)
	defer span.End()

	start := time.Now()
	result, err := r.invoke(ctx, env)
	if err != nil {
		span.SetStatus(codes.Error, string(toolerr.KindOf(err)))
	}
	r.observe(ctx, env, time.Since(start), err)
	return result, err
}

func (r *Registry) invoke(ctx context.Context, env model.ToolCallEnvelope) (any, error) {
	r.mu.RLock()
	e, ok := r.entries[env.Tool]
	r.mu.RUnlock()
	if !ok {
		return nil, toolerr.NotFound("unknown tool %q", env.Tool)
	}

	args := env.Arguments
	if args == nil {
		args = map[string]any{}
	}
	if err := validateArgs(e.schema, args); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, toolerr.Timeout(env.Tool, err)
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	// The slot is held until the handler returns, even after a timeout, so
	// handlers that ignore ctx still count against the limit.
	go func() {
		defer r.sem.Release(1)
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: toolerr.Internal(
					fmt.Errorf("panic: %v\n%s", p, debug.Stack()), "tool %q panicked", env.Tool)}
			}
		}()
		v, err := e.tool.Handler(ctx, args)
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() != nil {
				return nil, toolerr.Timeout(env.Tool, out.err)
			}
			return nil, classify(out.err)
		}
		return out.value, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, toolerr.Timeout(env.Tool, ctx.Err())
		}
		return nil, toolerr.Internal(ctx.Err(), "call cancelled")
	}
}

// classify wraps unclassified handler errors as internal failures.
func classify(err error) error {
	var te *toolerr.Error
	if errors.As(err, &te) {
		return err
	}
	return toolerr.Internal(err, "tool failed")
}

func (r *Registry) observe(ctx context.Context, env model.ToolCallEnvelope, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(toolerr.KindOf(err))
	}
	attrs := metric.WithAttributes(
		attribute.String("tool", env.Tool),
		attribute.String("transport", env.Transport),
		attribute.String("outcome", outcome),
	)
	if r.calls != nil {
		r.calls.Add(ctx, 1, attrs)
	}
	if r.duration != nil {
		r.duration.Record(ctx, float64(d.Microseconds())/1000, attrs)
	}

	logArgs := []any{
		"tool", env.Tool,
		"transport", env.Transport,
		"request_id", env.RequestID,
		"duration_ms", d.Milliseconds(),
		"outcome", outcome,
	}
	if env.SessionID != "" {
		logArgs = append(logArgs, "session_id", env.SessionID)
	}
	switch toolerr.KindOf(err) {
	case "":
		r.logger.Info("tool call", logArgs...)
	case toolerr.KindInternal:
		r.logger.Error("tool call failed", append(logArgs, "error", err)...)
	default:
		r.logger.Warn("tool call rejected", append(logArgs, "error", err)...)
	}
}
