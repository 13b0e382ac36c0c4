// Package tracing times the stages of one unit of work. A root span carries
// the trace id (the request_id in the worker); child spans record each stage
// and the whole tree is reported as one structured log line.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey struct{}

// Span represents a timed operation within a trace.
type Span struct {
	Name    string
	TraceID string

	start    time.Time
	duration time.Duration
	err      error
	children []*Span
	attrs    map[string]any
	mu       sync.Mutex
}

// Start creates a root span and stores it in the returned context.
func Start(ctx context.Context, name, traceID string) (context.Context, *Span) {
	span := &Span{Name: name, TraceID: traceID, start: time.Now(), attrs: make(map[string]any)}
	return context.WithValue(ctx, contextKey{}, span), span
}

// StartChild creates a span under the one in ctx. Without a parent the child
// is detached but still usable.
func StartChild(ctx context.Context, name string) (context.Context, *Span) {
	child := &Span{Name: name, start: time.Now(), attrs: make(map[string]any)}
	if parent := FromContext(ctx); parent != nil {
		child.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, child)
		parent.mu.Unlock()
	}
	return context.WithValue(ctx, contextKey{}, child), child
}

// FromContext returns the current span, or nil.
func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

// End records the span's duration and the error it finished with, if any.
func (s *Span) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duration = time.Since(s.start)
	s.err = err
}

func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs[key] = value
	s.mu.Unlock()
}

// Attrs flattens the span and its direct children into slog key/value pairs:
// <child>_ms for every child, and <child>_error for failed ones.
func (s *Span) Attrs() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_ms", s.duration.Milliseconds(),
	}
	if s.err != nil {
		out = append(out, "error", s.err.Error())
	}
	for _, child := range s.children {
		child.mu.Lock()
		out = append(out, child.Name+"_ms", child.duration.Milliseconds())
		if child.err != nil {
			out = append(out, child.Name+"_error", child.err.Error())
		}
		child.mu.Unlock()
	}
	for k, v := range s.attrs {
		out = append(out, k, v)
	}
	return out
}

// Log writes the span summary at debug level.
func (s *Span) Log(logger *slog.Logger) {
	logger.Debug("span", s.Attrs()...)
}
