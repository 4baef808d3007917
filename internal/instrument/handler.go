package instrument

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"business-objects/internal/store"
)

const eventSelect = "SELECT id, trace_id, span_id, parent_span_id, event_type, source, component, action, model, object_id, user_id, duration_ms, status, metadata, created_at FROM _events"

var eventFilters = []string{"source", "component", "action", "model", "object_id", "event_type", "trace_id", "user_id", "status"}

// EventHandler serves the recorded events to administrators.
type EventHandler struct {
	db      *sql.DB
	dialect store.Dialect
}

func NewEventHandler(db *sql.DB, dialect store.Dialect) *EventHandler {
	return &EventHandler{db: db, dialect: dialect}
}

// List handles GET /api/_admin/events.
func (h *EventHandler) List(c *fiber.Ctx) error {
	pb := h.dialect.NewParamBuilder()
	var conditions []string
	for _, col := range eventFilters {
		if v := c.Query(col); v != "" {
			conditions = append(conditions, col+" = "+pb.Add(v))
		}
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page < 1 {
		page = 1
	}
	perPage, _ := strconv.Atoi(c.Query("per_page", "50"))
	if perPage < 1 || perPage > 100 {
		perPage = 50
	}

	ctx := c.UserContext()
	countRow, err := store.QueryRow(ctx, h.db, "SELECT COUNT(*) AS count FROM _events"+where, pb.Params()...)
	if err != nil {
		return fmt.Errorf("count events: %w", err)
	}

	limit := pb.Add(perPage)
	offset := pb.Add((page - 1) * perPage)
	rows, err := store.QueryRows(ctx, h.db,
		fmt.Sprintf("%s%s ORDER BY created_at DESC LIMIT %s OFFSET %s", eventSelect, where, limit, offset),
		pb.Params()...)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}

	return c.JSON(fiber.Map{
		"data": rows,
		"pagination": fiber.Map{
			"page":     page,
			"per_page": perPage,
			"total":    countRow["count"],
		},
	})
}

// GetTrace handles GET /api/_admin/events/trace/:traceId, oldest span first.
func (h *EventHandler) GetTrace(c *fiber.Ctx) error {
	traceID := c.Params("traceId")
	rows, err := store.QueryRows(c.UserContext(), h.db,
		eventSelect+" WHERE trace_id = "+h.dialect.Placeholder(1)+" ORDER BY created_at ASC", traceID)
	if err != nil {
		return fmt.Errorf("get trace: %w", err)
	}
	if len(rows) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": fiber.Map{"code": "NOT_FOUND", "message": "Trace not found: " + traceID}})
	}
	return c.JSON(fiber.Map{"data": rows})
}
