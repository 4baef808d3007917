package instrument

import (
	"math/rand"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"business-objects/internal/config"
	"business-objects/internal/metadata"
)

// Middleware starts a root span per request and puts a Tracer into the
// request's user context. A nil sink or a disabled config is a no-op.
func Middleware(cfg config.InstrumentationConfig, sink Sink) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !cfg.Enabled || sink == nil {
			return c.Next()
		}
		if cfg.SamplingRate < 1.0 && rand.Float64() > cfg.SamplingRate {
			return c.Next()
		}

		traceID := c.Get("X-Trace-ID")
		if traceID == "" {
			traceID = uuid.NewString()
		}

		tracer := NewTracer(sink)
		ctx := WithInstrumenter(WithTraceID(c.UserContext(), traceID), tracer)
		ctx, span := tracer.StartSpan(ctx, "http", "handler", "request")
		span.SetMetadata("method", c.Method())
		span.SetMetadata("path", c.Path())
		c.SetUserContext(ctx)
		c.Set("X-Trace-ID", traceID)

		err := c.Next()

		if user, ok := c.Locals("user").(*metadata.UserContext); ok && user != nil {
			span.SetMetadata("user_id", user.ID)
		}
		status := c.Response().StatusCode()
		span.SetMetadata("status_code", status)
		if err != nil || status >= 400 {
			span.SetStatus("error")
		} else {
			span.SetStatus("ok")
		}
		span.End()
		return err
	}
}

// WithUser is middleware placed after authentication so that spans started
// by handlers carry the caller's id.
func WithUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if user, ok := c.Locals("user").(*metadata.UserContext); ok && user != nil {
			c.SetUserContext(WithUserID(c.UserContext(), user.ID))
		}
		return c.Next()
	}
}
