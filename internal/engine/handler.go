package engine

import (
	"bytes"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/vmihailenco/msgpack/v5"

	"business-objects/internal/metadata"
	"business-objects/internal/rules"
)

const mimeMsgpack = "application/msgpack"

type Handler struct {
	portal *Portal
}

func NewHandler(p *Portal) *Handler {
	return &Handler{portal: p}
}

type objectResponse struct {
	Data        map[string]any           `json:"data" msgpack:"data"`
	BrokenRules *rules.BrokenRulesOutput `json:"brokenRules" msgpack:"brokenRules"`
}

type callResponse struct {
	Result      any                      `json:"result" msgpack:"result"`
	Data        map[string]any           `json:"data" msgpack:"data"`
	BrokenRules *rules.BrokenRulesOutput `json:"brokenRules" msgpack:"brokenRules"`
}

type listResponse struct {
	Data       []map[string]any `json:"data" msgpack:"data"`
	Pagination pagination       `json:"pagination" msgpack:"pagination"`
}

type pagination struct {
	Page    int   `json:"page" msgpack:"page"`
	PerPage int   `json:"per_page" msgpack:"per_page"`
	Total   int64 `json:"total" msgpack:"total"`
}

// List handles GET /api/:model
func (h *Handler) List(c *fiber.Ctx) error {
	m, err := h.portal.Model(c.Params("model"))
	if err != nil {
		return err
	}
	q, err := ParseListQuery(c, m)
	if err != nil {
		return err
	}
	list, err := h.portal.FetchList(c.UserContext(), m.Name(), getUser(c), q)
	if err != nil {
		return err
	}

	items := make([]map[string]any, 0, len(list.Items))
	for _, obj := range list.Items {
		dto, err := obj.ToDTO()
		if err != nil {
			return err
		}
		items = append(items, dto)
	}
	return respond(c, fiber.StatusOK, listResponse{
		Data:       items,
		Pagination: pagination{Page: list.Page, PerPage: list.PerPage, Total: list.Total},
	})
}

// New handles GET /api/:model/_new
func (h *Handler) New(c *fiber.Ctx) error {
	obj, err := h.portal.Create(c.UserContext(), c.Params("model"), getUser(c))
	if err != nil {
		return err
	}
	return respondObject(c, fiber.StatusOK, obj)
}

// Get handles GET /api/:model/:id
func (h *Handler) Get(c *fiber.Ctx) error {
	obj, err := h.portal.Fetch(c.UserContext(), c.Params("model"), c.Params("id"), getUser(c))
	if err != nil {
		return err
	}
	return respondObject(c, fiber.StatusOK, obj)
}

// Create handles POST /api/:model
func (h *Handler) Create(c *fiber.Ctx) error {
	body, err := parseBody(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	obj, err := h.portal.Create(ctx, c.Params("model"), getUser(c))
	if err != nil {
		return err
	}
	if err := obj.Apply(body); err != nil {
		return err
	}
	if err := h.portal.Save(ctx, obj); err != nil {
		return err
	}
	return respondObject(c, fiber.StatusCreated, obj)
}

// Update handles PUT /api/:model/:id
func (h *Handler) Update(c *fiber.Ctx) error {
	body, err := parseBody(c)
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	obj, err := h.portal.Fetch(ctx, c.Params("model"), c.Params("id"), getUser(c))
	if err != nil {
		return err
	}
	if err := obj.Apply(body); err != nil {
		return err
	}
	if err := h.portal.Save(ctx, obj); err != nil {
		return err
	}
	return respondObject(c, fiber.StatusOK, obj)
}

// Delete handles DELETE /api/:model/:id
func (h *Handler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.portal.Remove(c.UserContext(), c.Params("model"), id, getUser(c)); err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, fiber.Map{"data": fiber.Map{"id": id}})
}

// Execute handles POST /api/:model/_execute
func (h *Handler) Execute(c *fiber.Ctx) error {
	body, err := parseBody(c)
	if err != nil {
		return err
	}
	obj, err := h.portal.Execute(c.UserContext(), c.Params("model"), body, getUser(c))
	if err != nil {
		return err
	}
	return respondObject(c, fiber.StatusOK, obj)
}

// Call handles POST /api/:model/:id/_call/:method
func (h *Handler) Call(c *fiber.Ctx) error {
	args, err := parseBody(c)
	if err != nil {
		return err
	}
	result, obj, err := h.portal.Call(c.UserContext(), c.Params("model"), c.Params("id"), c.Params("method"), args, getUser(c))
	if err != nil {
		return err
	}
	dto, err := obj.ToDTO()
	if err != nil {
		return err
	}
	return respond(c, fiber.StatusOK, callResponse{Result: result, Data: dto, BrokenRules: obj.BrokenRules().Output()})
}

// ErrorHandler is the fiber error handler for the whole app.
func ErrorHandler(c *fiber.Ctx, err error) error {
	body, status := toAppError(err)
	if body == nil {
		log.Printf("ERROR: %s %s: %v", c.Method(), c.Path(), err)
		body = NewAppError("INTERNAL_ERROR", fiber.StatusInternalServerError, "Internal server error")
	}
	return respond(c, status, ErrorResponse{Error: body})
}

func getUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}

// parseBody reads a JSON or MessagePack object. An empty body is an empty
// object.
func parseBody(c *fiber.Ctx) (map[string]any, error) {
	body := map[string]any{}
	raw := c.Body()
	if len(bytes.TrimSpace(raw)) == 0 {
		return body, nil
	}
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), mimeMsgpack) {
		dec := msgpack.NewDecoder(bytes.NewReader(raw))
		dec.UseLooseInterfaceDecoding(true)
		if err := dec.Decode(&body); err != nil {
			return nil, NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, "Invalid MessagePack body")
		}
		return body, nil
	}
	if err := c.BodyParser(&body); err != nil {
		return nil, NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, "Invalid JSON body")
	}
	return body, nil
}

func respondObject(c *fiber.Ctx, status int, obj *Instance) error {
	dto, err := obj.ToDTO()
	if err != nil {
		return err
	}
	return respond(c, status, objectResponse{Data: dto, BrokenRules: obj.BrokenRules().Output()})
}

// respond writes v as MessagePack when the client prefers it, JSON otherwise.
func respond(c *fiber.Ctx, status int, v any) error {
	if c.Accepts(fiber.MIMEApplicationJSON, mimeMsgpack) == mimeMsgpack {
		b, err := msgpack.Marshal(v)
		if err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, mimeMsgpack)
		return c.Status(status).Send(b)
	}
	return c.Status(status).JSON(v)
}
