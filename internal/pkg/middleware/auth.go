package middleware

import (
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/quaestor-app/quaestor/app/repository"
	"github.com/quaestor-app/quaestor/internal/pkg/adminops"
	"github.com/quaestor-app/quaestor/internal/pkg/identity"
	"github.com/quaestor-app/quaestor/internal/pkg/usercontext"
)

// BearerAuthMiddleware verifies the request's bearer token against the
// identity provider and loads (auto-provisioning on first sight) the matching
// user row. The verified caller lands in the request locals.
func BearerAuthMiddleware(verifier *identity.Verifier, allowlist adminops.Allowlist) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing bearer token"})
		}

		ident, err := verifier.Verify(c.UserContext(), token)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidToken) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid token"})
			}
			log.Printf("token verification failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Token verification failed"})
		}

		repo := repository.GetGlobalFactory().GetUserRepository()
		user, err := repo.GetOrCreateByExternalID(ident.Subject, ident.Email, ident.Name)
		if err != nil {
			log.Printf("user provisioning failed for subject %s: %v", ident.Subject, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "User lookup failed"})
		}

		userCtx := usercontext.UserContext{
			UserID:  user.ID,
			Email:   user.Email,
			Name:    user.Name,
			IsAdmin: !allowlist.Empty() && allowlist.Contains(user.Email),
			Plan:    user.SubscriptionPlan,
			Status:  user.SubscriptionStatus,
		}
		c.Locals("USER_CONTEXT", userCtx)

		return c.Next()
	}
}

// AdminOnlyMiddleware rejects requests whose verified caller is not an
// allow-listed administrator. Must run after BearerAuthMiddleware.
func AdminOnlyMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !usercontext.IsAdmin(c) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "forbidden", "message": "Administrator access required"})
		}
		return c.Next()
	}
}

func extractBearerToken(c *fiber.Ctx) string {
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
