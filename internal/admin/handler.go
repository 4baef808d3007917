package admin

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"business-objects/internal/engine"
	"business-objects/internal/instrument"
	"business-objects/internal/metadata"
	"business-objects/internal/store"
)

// Migrator creates or extends the table of a model.
type Migrator interface {
	Migrate(ctx context.Context, m *metadata.Model) error
}

type Handler struct {
	db       *sql.DB
	dialect  store.Dialect
	registry *metadata.Registry
	migrator Migrator
	base     []*metadata.ModelDefinition
}

// NewHandler serves model definitions. base holds the definitions loaded
// from files; they are composed again on every reload.
func NewHandler(s *store.Store, reg *metadata.Registry, mig Migrator, base []*metadata.ModelDefinition) *Handler {
	return &Handler{db: s.DB, dialect: s.Dialect, registry: reg, migrator: mig, base: base}
}

func RegisterAdminRoutes(app *fiber.App, h *Handler, events *instrument.EventHandler, middleware ...fiber.Handler) {
	admin := app.Group("/api/_admin", middleware...)

	admin.Get("/models", h.ListModels)
	admin.Get("/models/:name", h.GetModel)
	admin.Put("/models/:name", h.PutModel)
	admin.Delete("/models/:name", h.DeleteModel)

	if events != nil {
		admin.Get("/events", events.List)
		admin.Get("/events/trace/:traceId", events.GetTrace)
	}
}

type modelSummary struct {
	Name        string        `json:"name"`
	Kind        metadata.Kind `json:"kind"`
	Table       string        `json:"table"`
	Properties  int           `json:"properties"`
	Rules       int           `json:"rules"`
	Permissions int           `json:"permissions"`
}

// ListModels handles GET /api/_admin/models
func (h *Handler) ListModels(c *fiber.Ctx) error {
	models := h.registry.AllModels()
	out := make([]modelSummary, 0, len(models))
	for _, m := range models {
		out = append(out, modelSummary{
			Name:        m.Name(),
			Kind:        m.Kind(),
			Table:       m.Table(),
			Properties:  len(m.Properties),
			Rules:       len(m.Def.Rules),
			Permissions: len(m.Def.Permissions),
		})
	}
	return c.JSON(fiber.Map{"data": out})
}

// GetModel handles GET /api/_admin/models/:name
func (h *Handler) GetModel(c *fiber.Ctx) error {
	name := c.Params("name")
	m := h.registry.GetModel(name)
	if m == nil {
		return engine.UnknownModelError(name)
	}
	return c.JSON(fiber.Map{"data": m.Def})
}

// PutModel handles PUT /api/_admin/models/:name. The definition is composed
// before anything is stored, so broken rule definitions never reach _models.
func (h *Handler) PutModel(c *fiber.Ctx) error {
	name := c.Params("name")
	isJSON := !strings.Contains(c.Get(fiber.HeaderContentType), "yaml")
	def, err := metadata.ParseDefinition(c.Body(), isJSON)
	if err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, err.Error())
	}
	if def.Name != name {
		return engine.NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest,
			fmt.Sprintf("definition name %q does not match %q", def.Name, name))
	}

	model, err := metadata.ComposeWithDefault(def, h.registry.NoAccessBehavior())
	if err != nil {
		return engine.NewAppError("INVALID_DEFINITION", fiber.StatusUnprocessableEntity, err.Error())
	}

	ctx := c.UserContext()
	if err := h.migrator.Migrate(ctx, model); err != nil {
		return fmt.Errorf("migrate model %s: %w", name, err)
	}

	defJSON, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("marshal model %s: %w", name, err)
	}
	pb := h.dialect.NewParamBuilder()
	q := fmt.Sprintf(`INSERT INTO _models (name, definition) VALUES (%s, %s)
		ON CONFLICT (name) DO UPDATE SET definition = excluded.definition, updated_at = %s`,
		pb.Add(name), pb.Add(string(defJSON)), h.dialect.NowExpr())
	if _, err := store.Exec(ctx, h.db, q, pb.Params()...); err != nil {
		return fmt.Errorf("store model %s: %w", name, err)
	}

	if err := metadata.Reload(ctx, h.db, h.registry, h.base); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return c.JSON(fiber.Map{"data": def})
}

// DeleteModel handles DELETE /api/_admin/models/:name. The table and its rows
// are kept; a model that is also defined in a file falls back to that
// definition.
func (h *Handler) DeleteModel(c *fiber.Ctx) error {
	name := c.Params("name")
	ctx := c.UserContext()

	pb := h.dialect.NewParamBuilder()
	n, err := store.Exec(ctx, h.db, "DELETE FROM _models WHERE name = "+pb.Add(name), pb.Params()...)
	if err != nil {
		return fmt.Errorf("delete model %s: %w", name, err)
	}
	if n == 0 {
		return engine.NewAppError("NOT_FOUND", fiber.StatusNotFound, "No stored definition for model: "+name)
	}

	if err := metadata.Reload(ctx, h.db, h.registry, h.base); err != nil {
		return fmt.Errorf("reload registry: %w", err)
	}
	return c.JSON(fiber.Map{"data": fiber.Map{"name": name}})
}
