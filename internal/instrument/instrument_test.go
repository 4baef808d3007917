package instrument

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"business-objects/internal/config"
	"business-objects/internal/metadata"
	"business-objects/internal/store"
)

type memorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *memorySink) Enqueue(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *memorySink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func TestSpansLinkToTheirParent(t *testing.T) {
	sink := &memorySink{}
	tracer := NewTracer(sink)
	ctx := WithUserID(WithTraceID(context.Background(), "t-1"), "u-1")

	ctx, outer := tracer.StartSpan(ctx, "engine", "portal", "portal.save")
	_, inner := tracer.StartSpan(ctx, "engine", "rules", "rules.validate")
	inner.SetStatus("invalid")
	inner.SetMetadata("broken_rules", 2)
	inner.End()
	inner.End()
	outer.SetModel("Order", "7")
	outer.End()

	events := sink.all()
	require.Len(t, events, 2, "End is idempotent")
	assert.Equal(t, "rules.validate", events[0].Action)
	require.NotNil(t, events[0].ParentSpanID)
	assert.Equal(t, outer.SpanID(), *events[0].ParentSpanID)
	assert.Equal(t, "invalid", *events[0].Status)
	assert.Equal(t, 2, events[0].Metadata["broken_rules"])
	assert.Equal(t, "u-1", *events[0].UserID)

	assert.Nil(t, events[1].ParentSpanID)
	assert.Equal(t, "Order", *events[1].Model)
	assert.Equal(t, "7", *events[1].ObjectID)
	assert.Equal(t, "t-1", events[1].TraceID)
	assert.NotNil(t, events[1].DurationMs)
}

func TestBusinessEvent(t *testing.T) {
	sink := &memorySink{}
	ctx := WithTraceID(context.Background(), "t-2")
	NewTracer(sink).EmitBusinessEvent(ctx, "create", "Order", "", map[string]any{"n": 1})

	events := sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, "business", events[0].EventType)
	assert.Equal(t, "Order", *events[0].Model)
	assert.Nil(t, events[0].ObjectID)
}

func TestNoopWithoutInstrumenter(t *testing.T) {
	ctx := context.Background()
	inst := GetInstrumenter(ctx)
	_, span := inst.StartSpan(ctx, "engine", "portal", "portal.fetch")
	span.SetStatus("ok")
	span.End()
	assert.Empty(t, span.SpanID())
}

func TestEventBufferWritesBatch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("SET LOCAL synchronous_commit = off").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO _events (id,trace_id,span_id")).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	// a long interval keeps the ticker out of the way
	eb := NewEventBuffer(db, &store.PostgresDialect{}, 10, 60_000)
	eb.Enqueue(Event{TraceID: "t", SpanID: "a", EventType: "system", Source: "engine", Component: "portal", Action: "x"})
	eb.Enqueue(Event{TraceID: "t", SpanID: "b", EventType: "business", Source: "business", Component: "portal", Action: "y",
		Metadata: map[string]any{"k": "v"}})
	assert.Equal(t, 2, eb.Len())

	eb.Stop()
	assert.Equal(t, 0, eb.Len())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupOldEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM _events WHERE created_at < now() - ($1 || ' days')::interval")).
		WithArgs("7").
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := CleanupOldEvents(context.Background(), db, &store.PostgresDialect{}, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMiddlewareTracesRequests(t *testing.T) {
	sink := &memorySink{}
	cfg := config.InstrumentationConfig{Enabled: true, SamplingRate: 1}

	app := fiber.New()
	app.Use(Middleware(cfg, sink))
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user", &metadata.UserContext{ID: "u-9"})
		return c.Next()
	})
	app.Use(WithUser())
	app.Get("/ping", func(c *fiber.Ctx) error {
		_, span := GetInstrumenter(c.UserContext()).StartSpan(c.UserContext(), "engine", "portal", "portal.fetch")
		span.End()
		return c.SendString("pong")
	})

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("X-Trace-ID", "trace-abc")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if got := resp.Header.Get("X-Trace-ID"); got != "trace-abc" {
		t.Fatalf("expected the trace id to be echoed, got %q", got)
	}

	events := sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, "portal.fetch", events[0].Action)
	assert.Equal(t, "u-9", *events[0].UserID)
	assert.Equal(t, "request", events[1].Action)
	assert.Equal(t, "ok", *events[1].Status)
	assert.Equal(t, "u-9", events[1].Metadata["user_id"])
	for _, e := range events {
		assert.Equal(t, "trace-abc", e.TraceID)
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	sink := &memorySink{}
	app := fiber.New()
	app.Use(Middleware(config.InstrumentationConfig{Enabled: false}, sink))
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendString("pong") })

	resp, err := app.Test(httptest.NewRequest("GET", "/ping", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.Header.Get("X-Trace-ID") != "" {
		t.Fatal("disabled instrumentation must not set a trace id")
	}
	assert.Empty(t, sink.all())
}

func TestEventHandler(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	h := NewEventHandler(db, &store.PostgresDialect{})
	app := fiber.New()
	app.Get("/events", h.List)
	app.Get("/events/trace/:traceId", h.GetTrace)

	cols := []string{"id", "trace_id", "span_id", "parent_span_id", "event_type", "source", "component", "action",
		"model", "object_id", "user_id", "duration_ms", "status", "metadata", "created_at"}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) AS count FROM _events WHERE model = $1")).
		WithArgs("Order").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE model = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3")).
		WithArgs("Order", 50, 0).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow("e1", "t1", "s1", nil, "business", "business", "portal", "create", "Order", "1", nil, nil, nil, nil, now))

	resp, err := app.Test(httptest.NewRequest("GET", "/events?model=Order", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	raw, _ := io.ReadAll(resp.Body)
	var body struct {
		Data       []map[string]any `json:"data"`
		Pagination map[string]any   `json:"pagination"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0]["action"] != "create" {
		t.Fatalf("unexpected data %v", body.Data)
	}
	if body.Pagination["total"] != float64(1) {
		t.Fatalf("unexpected pagination %v", body.Pagination)
	}

	mock.ExpectQuery(regexp.QuoteMeta("WHERE trace_id = $1 ORDER BY created_at ASC")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(cols))
	resp, err = app.Test(httptest.NewRequest("GET", "/events/trace/missing", nil), -1)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}
