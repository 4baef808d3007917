package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"business-objects/internal/engine"
	"business-objects/internal/metadata"
)

// AuthMiddleware rejects requests without a valid bearer token and puts the
// caller's UserContext into c.Locals("user").
func AuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := userFromHeader(c, secret)
		if err != nil {
			return err
		}
		if user == nil {
			return engine.UnauthorizedError("Missing auth token")
		}
		c.Locals("user", user)
		return c.Next()
	}
}

// OptionalAuth accepts anonymous requests. A present but invalid token is
// still rejected. Anonymous callers have no roles, so authorization rules
// decide what they may do.
func OptionalAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := userFromHeader(c, secret)
		if err != nil {
			return err
		}
		if user != nil {
			c.Locals("user", user)
		}
		return c.Next()
	}
}

// RequireAdmin checks that the authenticated user has the admin role.
func RequireAdmin() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user := GetUser(c)
		if user == nil {
			return engine.UnauthorizedError("Missing auth token")
		}
		if !user.IsAdmin() {
			return engine.ForbiddenError("Admin access required")
		}
		return c.Next()
	}
}

func GetUser(c *fiber.Ctx) *metadata.UserContext {
	user, _ := c.Locals("user").(*metadata.UserContext)
	return user
}

// userFromHeader returns nil, nil when no Authorization header is sent.
func userFromHeader(c *fiber.Ctx, secret string) (*metadata.UserContext, error) {
	header := c.Get(fiber.HeaderAuthorization)
	if header == "" {
		return nil, nil
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return nil, engine.UnauthorizedError("Invalid auth header format")
	}
	claims, err := ParseAccessToken(strings.TrimSpace(token), secret)
	if err != nil {
		return nil, engine.UnauthorizedError("Invalid or expired token")
	}
	return claims.Identity(), nil
}
