package instrument

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	parentSpanIDKey
	instrumenterKey
	userIDKey
)

// Instrumenter starts spans and emits one-shot business events.
type Instrumenter interface {
	StartSpan(ctx context.Context, source, component, action string) (context.Context, Span)
	EmitBusinessEvent(ctx context.Context, action, model, objectID string, metadata map[string]any)
}

// Span is one timed operation. End enqueues it; later calls are ignored.
type Span interface {
	End()
	SetStatus(status string)
	SetMetadata(key string, value any)
	SetModel(model, objectID string)
	TraceID() string
	SpanID() string
}

// Event is a row of the _events table.
type Event struct {
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID *string        `json:"parent_span_id"`
	EventType    string         `json:"event_type"`
	Source       string         `json:"source"`
	Component    string         `json:"component"`
	Action       string         `json:"action"`
	Model        *string        `json:"model"`
	ObjectID     *string        `json:"object_id"`
	UserID       *string        `json:"user_id"`
	DurationMs   *float64       `json:"duration_ms"`
	Status       *string        `json:"status"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Sink receives finished events.
type Sink interface {
	Enqueue(e Event)
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

func withParentSpanID(ctx context.Context, spanID string) context.Context {
	return context.WithValue(ctx, parentSpanIDKey, spanID)
}

func parentSpanID(ctx context.Context) *string {
	if v, ok := ctx.Value(parentSpanIDKey).(string); ok && v != "" {
		return &v
	}
	return nil
}

func WithInstrumenter(ctx context.Context, inst Instrumenter) context.Context {
	return context.WithValue(ctx, instrumenterKey, inst)
}

// GetInstrumenter returns the instrumenter of ctx, or a NoopInstrumenter.
func GetInstrumenter(ctx context.Context) Instrumenter {
	if v, ok := ctx.Value(instrumenterKey).(Instrumenter); ok {
		return v
	}
	return NoopInstrumenter{}
}

// WithUserID records the caller for spans started from ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func userID(ctx context.Context) *string {
	if v, ok := ctx.Value(userIDKey).(string); ok && v != "" {
		return &v
	}
	return nil
}

// Tracer is the Instrumenter that hands events to a Sink.
type Tracer struct {
	sink Sink
	now  func() time.Time
}

func NewTracer(sink Sink) *Tracer {
	return &Tracer{sink: sink, now: time.Now}
}

// StartSpan returns a child context whose later spans name this one as parent.
func (t *Tracer) StartSpan(ctx context.Context, source, component, action string) (context.Context, Span) {
	s := &span{
		tracer: t,
		event: Event{
			TraceID:      GetTraceID(ctx),
			SpanID:       uuid.NewString(),
			ParentSpanID: parentSpanID(ctx),
			EventType:    "system",
			Source:       source,
			Component:    component,
			Action:       action,
			UserID:       userID(ctx),
		},
		start: t.now(),
	}
	return withParentSpanID(ctx, s.event.SpanID), s
}

func (t *Tracer) EmitBusinessEvent(ctx context.Context, action, model, objectID string, metadata map[string]any) {
	e := Event{
		TraceID:      GetTraceID(ctx),
		SpanID:       uuid.NewString(),
		ParentSpanID: parentSpanID(ctx),
		EventType:    "business",
		Source:       "business",
		Component:    "portal",
		Action:       action,
		UserID:       userID(ctx),
		Metadata:     metadata,
		CreatedAt:    t.now(),
	}
	if model != "" {
		e.Model = &model
	}
	if objectID != "" {
		e.ObjectID = &objectID
	}
	t.sink.Enqueue(e)
}

type span struct {
	tracer *Tracer
	start  time.Time

	mu    sync.Mutex
	event Event
	ended bool
}

func (s *span) TraceID() string { return s.event.TraceID }
func (s *span) SpanID() string  { return s.event.SpanID }

func (s *span) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event.Status = &status
}

func (s *span) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.event.Metadata == nil {
		s.event.Metadata = make(map[string]any)
	}
	s.event.Metadata[key] = value
}

func (s *span) SetModel(model, objectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.event.Model = &model
	if objectID != "" {
		s.event.ObjectID = &objectID
	}
}

func (s *span) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	now := s.tracer.now()
	ms := float64(now.Sub(s.start).Microseconds()) / 1000.0
	s.event.DurationMs = &ms
	s.event.CreatedAt = now
	e := s.event
	s.mu.Unlock()

	s.tracer.sink.Enqueue(e)
}
