package engine

import "github.com/gofiber/fiber/v2"

func RegisterModelRoutes(app *fiber.App, h *Handler, middleware ...fiber.Handler) {
	api := app.Group("/api", middleware...)

	api.Get("/:model/_new", h.New)
	api.Get("/:model", h.List)
	api.Post("/:model/_execute", h.Execute)
	api.Get("/:model/:id", h.Get)
	api.Post("/:model", h.Create)
	api.Put("/:model/:id", h.Update)
	api.Delete("/:model/:id", h.Delete)
	api.Post("/:model/:id/_call/:method", h.Call)
}
