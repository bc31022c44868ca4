// Package tracing records span trees in the request context. When a root
// span ends the tree is logged at debug level, keyed by the request ID.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/ngram-search/pkg/logger"
)

type contextKey struct{}

// Span is one timed operation. Children are attached by Start when a span is
// already present in the context.
type Span struct {
	Name    string
	TraceID string

	start    time.Time
	duration time.Duration
	root     bool

	mu       sync.Mutex
	attrs    []any
	children []*Span
}

// Start opens a span named name. It becomes a child of the span in ctx, or a
// root span whose trace ID is the request ID (or a fresh UUID) otherwise.
func Start(ctx context.Context, name string) (context.Context, *Span) {
	span := &Span{Name: name, start: time.Now()}
	if parent := FromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.children = append(parent.children, span)
		parent.mu.Unlock()
	} else {
		span.root = true
		span.TraceID = logger.RequestID(ctx)
		if span.TraceID == "" {
			span.TraceID = uuid.NewString()
		}
	}
	return context.WithValue(ctx, contextKey{}, span), span
}

// FromContext returns the innermost span in ctx, or nil.
func FromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(contextKey{}).(*Span)
	return span
}

// SetAttr attaches a key/value pair that is logged with the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.attrs = append(s.attrs, key, value)
	s.mu.Unlock()
}

// End records the span's duration. Ending a root span logs the tree.
func (s *Span) End() {
	s.mu.Lock()
	s.duration = time.Since(s.start)
	s.mu.Unlock()
	if s.root && slog.Default().Enabled(context.Background(), slog.LevelDebug) {
		s.log(0)
	}
}

// Duration is zero until End is called.
func (s *Span) Duration() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duration
}

// Children returns a copy of the spans started under s.
func (s *Span) Children() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Span(nil), s.children...)
}

func (s *Span) log(depth int) {
	s.mu.Lock()
	attrs := append([]any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"depth", depth,
		"duration", s.duration,
	}, s.attrs...)
	children := append([]*Span(nil), s.children...)
	s.mu.Unlock()

	slog.Debug("span", attrs...)
	for _, c := range children {
		c.log(depth + 1)
	}
}
