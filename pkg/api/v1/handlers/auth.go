package handlers

import (
	"errors"
	"strings"

	fiber "github.com/gofiber/fiber/v2"

	"github.com/wasmforge/wasmforge/internal/db/models"
	"github.com/wasmforge/wasmforge/internal/db/repos"
)

// userLocal is the fiber locals key the authenticated user is stored under.
const userLocal = "user"

// RequireAuth resolves the bearer token to a user and stores it in locals.
// Requests without a valid token are rejected with 401.
func RequireAuth(users *repos.UserRepository) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(Err(ErrMsgMissingToken))
		}

		user, err := users.GetByToken(c.Context(), strings.TrimSpace(token))
		if err != nil {
			if errors.Is(err, repos.ErrUserNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(Err(ErrMsgInvalidToken))
			}
			return respondError(c, err)
		}

		c.Locals(userLocal, user)
		return c.Next()
	}
}

// currentUser returns the authenticated user stored by RequireAuth.
func currentUser(c *fiber.Ctx) *models.User {
	user, _ := c.Locals(userLocal).(*models.User)
	return user
}
