package usercontext

import "github.com/gofiber/fiber/v2"

// UserContext represents the authenticated caller for a request
type UserContext struct {
	UserID  uint   `json:"user_id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
	Plan    string `json:"plan"`
	Status  string `json:"status"`
}

// GetUserContext retrieves the user context from fiber context.
// Returns a zero context if the request was not authenticated.
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx := c.Locals("USER_CONTEXT"); ctx != nil {
		return ctx.(UserContext)
	}
	return UserContext{}
}

// IsAuthenticated checks whether the request carries a verified user
func IsAuthenticated(c *fiber.Ctx) bool {
	return GetUserContext(c).UserID != 0
}

// IsAdmin checks if the current user is an allow-listed administrator
func IsAdmin(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAdmin
}

// GetUserID returns the current user's ID, or 0 if not authenticated
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}

// GetEmail returns the current user's email, or empty string if not authenticated
func GetEmail(c *fiber.Ctx) string {
	return GetUserContext(c).Email
}
