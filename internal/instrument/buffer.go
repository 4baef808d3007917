package instrument

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"business-objects/internal/store"
)

var eventColumns = []string{
	"id", "trace_id", "span_id", "parent_span_id", "event_type", "source", "component", "action",
	"model", "object_id", "user_id", "duration_ms", "status", "metadata", "created_at",
}

// EventBuffer collects events in memory and writes them to _events in
// batches, on a timer or when maxSize events are pending.
type EventBuffer struct {
	db      *sql.DB
	dialect store.Dialect
	maxSize int

	mu     sync.Mutex
	events []Event

	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewEventBuffer starts the flush loop. Stop must be called on shutdown.
func NewEventBuffer(db *sql.DB, dialect store.Dialect, maxSize int, flushIntervalMs int) *EventBuffer {
	if maxSize <= 0 {
		maxSize = 500
	}
	if flushIntervalMs <= 0 {
		flushIntervalMs = 100
	}
	eb := &EventBuffer{
		db:      db,
		dialect: dialect,
		maxSize: maxSize,
		ticker:  time.NewTicker(time.Duration(flushIntervalMs) * time.Millisecond),
		done:    make(chan struct{}),
	}
	eb.wg.Add(1)
	go eb.run()
	return eb
}

func (eb *EventBuffer) run() {
	defer eb.wg.Done()
	for {
		select {
		case <-eb.done:
			return
		case <-eb.ticker.C:
			eb.Flush()
		}
	}
}

// Enqueue adds an event; a full buffer triggers an asynchronous flush.
func (eb *EventBuffer) Enqueue(e Event) {
	eb.mu.Lock()
	eb.events = append(eb.events, e)
	full := len(eb.events) >= eb.maxSize
	eb.mu.Unlock()
	if full {
		go eb.Flush()
	}
}

// Len returns the number of pending events.
func (eb *EventBuffer) Len() int {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	return len(eb.events)
}

// Flush writes the pending events. Failures are logged and the batch dropped.
func (eb *EventBuffer) Flush() {
	eb.mu.Lock()
	batch := eb.events
	eb.events = nil
	eb.mu.Unlock()
	if len(batch) == 0 {
		return
	}
	if err := eb.write(context.Background(), batch); err != nil {
		log.Printf("ERROR: event buffer: %v", err)
	}
}

func (eb *EventBuffer) write(ctx context.Context, batch []Event) error {
	tx, err := eb.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if stmt := eb.dialect.SyncCommitOff(); stmt != "" {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sync commit off: %w", err)
		}
	}

	pb := eb.dialect.NewParamBuilder()
	rows := make([]string, 0, len(batch))
	for _, e := range batch {
		var meta any
		if e.Metadata != nil {
			b, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata: %w", err)
			}
			meta = string(b)
		}
		created := e.CreatedAt
		if created.IsZero() {
			created = time.Now()
		}
		values := []any{
			uuid.NewString(), e.TraceID, e.SpanID, e.ParentSpanID, e.EventType, e.Source, e.Component, e.Action,
			e.Model, e.ObjectID, e.UserID, e.DurationMs, e.Status, meta, created.UTC(),
		}
		ph := make([]string, len(values))
		for i, v := range values {
			ph[i] = pb.Add(v)
		}
		rows = append(rows, "("+strings.Join(ph, ",")+")")
	}

	q := fmt.Sprintf("INSERT INTO _events (%s) VALUES %s", strings.Join(eventColumns, ","), strings.Join(rows, ","))
	if _, err := tx.ExecContext(ctx, q, pb.Params()...); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Stop halts the flush loop and writes what is left.
func (eb *EventBuffer) Stop() {
	eb.ticker.Stop()
	close(eb.done)
	eb.wg.Wait()
	eb.Flush()
}
