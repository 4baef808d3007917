package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"business-objects/internal/engine"
	"business-objects/internal/store"
)

// AuthHandler serves login, refresh and logout against _users.
type AuthHandler struct {
	store     *store.Store
	jwtSecret string
	now       func() time.Time
}

func NewAuthHandler(s *store.Store, jwtSecret string) *AuthHandler {
	return &AuthHandler{store: s, jwtSecret: jwtSecret, now: time.Now}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var body credentials
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, "Invalid request body")
	}
	if body.Email == "" || body.Password == "" {
		return engine.UnauthorizedError("Email and password are required")
	}

	ctx := c.UserContext()
	user, err := h.findUserByEmail(ctx, body.Email)
	if err != nil {
		return engine.UnauthorizedError("Invalid email or password")
	}
	if active, _ := user["active"].(bool); !active {
		return engine.UnauthorizedError("Account is disabled")
	}
	if hash, _ := user["password_hash"].(string); !CheckPassword(body.Password, hash) {
		return engine.UnauthorizedError("Invalid email or password")
	}

	userID, _ := user["id"].(string)
	roles, err := h.store.Dialect.ScanArray(user["roles"])
	if err != nil {
		return fmt.Errorf("login %s: %w", body.Email, err)
	}

	pair, err := h.generateTokenPair(ctx, userID, roles)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Refresh handles POST /api/auth/refresh. Refresh tokens are single use.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	var body refreshRequest
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, "Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}

	ctx := c.UserContext()
	pb := h.store.Dialect.NewParamBuilder()
	q := `SELECT rt.id, rt.user_id, rt.expires_at, u.roles, u.active
		FROM _refresh_tokens rt
		JOIN _users u ON u.id = rt.user_id
		WHERE rt.token = ` + pb.Add(body.RefreshToken)
	row, err := store.QueryRow(ctx, h.store.DB, q, pb.Params()...)
	if err != nil {
		return engine.UnauthorizedError("Invalid refresh token")
	}
	h.fixBools(row)

	tokenID, _ := row["id"].(string)
	if err := h.deleteToken(ctx, "id", tokenID); err != nil {
		return err
	}

	expiresAt, ok := parseTime(row["expires_at"])
	if !ok || h.now().After(expiresAt) {
		return engine.UnauthorizedError("Refresh token expired")
	}
	if active, _ := row["active"].(bool); !active {
		return engine.UnauthorizedError("Account is disabled")
	}

	userID, _ := row["user_id"].(string)
	roles, err := h.store.Dialect.ScanArray(row["roles"])
	if err != nil {
		return fmt.Errorf("refresh: %w", err)
	}

	pair, err := h.generateTokenPair(ctx, userID, roles)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": pair})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	var body refreshRequest
	if err := c.BodyParser(&body); err != nil {
		return engine.NewAppError("INVALID_PAYLOAD", fiber.StatusBadRequest, "Invalid request body")
	}
	if body.RefreshToken == "" {
		return engine.UnauthorizedError("Refresh token is required")
	}
	if err := h.deleteToken(c.UserContext(), "token", body.RefreshToken); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"message": "Logged out"})
}

func RegisterAuthRoutes(app *fiber.App, h *AuthHandler) {
	auth := app.Group("/api/auth")
	auth.Post("/login", h.Login)
	auth.Post("/refresh", h.Refresh)
	auth.Post("/logout", h.Logout)
}

func (h *AuthHandler) findUserByEmail(ctx context.Context, email string) (map[string]any, error) {
	pb := h.store.Dialect.NewParamBuilder()
	q := "SELECT id, email, password_hash, roles, active FROM _users WHERE email = " + pb.Add(email)
	row, err := store.QueryRow(ctx, h.store.DB, q, pb.Params()...)
	if err != nil {
		return nil, err
	}
	h.fixBools(row)
	return row, nil
}

func (h *AuthHandler) deleteToken(ctx context.Context, column, value string) error {
	pb := h.store.Dialect.NewParamBuilder()
	q := fmt.Sprintf("DELETE FROM _refresh_tokens WHERE %s = %s", column, pb.Add(value))
	if _, err := store.Exec(ctx, h.store.DB, q, pb.Params()...); err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	return nil
}

func (h *AuthHandler) generateTokenPair(ctx context.Context, userID string, roles []string) (*TokenPair, error) {
	accessToken, err := GenerateAccessToken(userID, roles, h.jwtSecret)
	if err != nil {
		return nil, engine.NewAppError("INTERNAL_ERROR", fiber.StatusInternalServerError, "Failed to generate access token")
	}

	refreshToken := GenerateRefreshToken()
	expiresAt := h.now().Add(RefreshTokenTTL).UTC()

	pb := h.store.Dialect.NewParamBuilder()
	q := fmt.Sprintf("INSERT INTO _refresh_tokens (id, user_id, token, expires_at) VALUES (%s, %s, %s, %s)",
		pb.Add(uuid.NewString()), pb.Add(userID), pb.Add(refreshToken), pb.Add(expiresAt.Format(time.RFC3339)))
	if _, err := store.Exec(ctx, h.store.DB, q, pb.Params()...); err != nil {
		return nil, engine.NewAppError("INTERNAL_ERROR", fiber.StatusInternalServerError, "Failed to store refresh token")
	}

	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int(AccessTokenTTL.Seconds()),
	}, nil
}

func (h *AuthHandler) fixBools(row map[string]any) {
	if h.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans([]map[string]any{row}, []string{"active"})
	}
}

// parseTime accepts driver timestamps and the text SQLite keeps them as.
func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, true
			}
		}
	}
	return time.Time{}, false
}
