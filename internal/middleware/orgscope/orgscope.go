// Package orgscope resolves the organization and user a request acts for.
// Identity is asserted by the upstream gateway through request headers.
package orgscope

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

const (
	HeaderOrgID  = "X-Org-ID"
	HeaderUserID = "X-User-ID"

	LocalOrgID  = "org_id"
	LocalUserID = "user_id"

	maxIDLength = 128
)

// Middleware rejects requests without an organization and stores the
// identity in the request locals.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		orgID := strings.TrimSpace(c.Get(HeaderOrgID))
		if orgID == "" || len(orgID) > maxIDLength {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": fiber.Map{
					"code":      "MISSING_ORGANIZATION",
					"message":   "An organization is required",
					"retryable": false,
				},
			})
		}

		c.Locals(LocalOrgID, orgID)
		c.Locals(LocalUserID, strings.TrimSpace(c.Get(HeaderUserID)))
		return c.Next()
	}
}

func OrgID(c *fiber.Ctx) string {
	if v, ok := c.Locals(LocalOrgID).(string); ok {
		return v
	}
	return strings.TrimSpace(c.Get(HeaderOrgID))
}

func UserID(c *fiber.Ctx) string {
	if v, ok := c.Locals(LocalUserID).(string); ok {
		return v
	}
	return strings.TrimSpace(c.Get(HeaderUserID))
}

// Capture stores whatever identity the headers carry without enforcing it.
// Websocket clients may name the organization in their first message instead.
func Capture() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(LocalOrgID, strings.TrimSpace(c.Get(HeaderOrgID)))
		c.Locals(LocalUserID, strings.TrimSpace(c.Get(HeaderUserID)))
		return c.Next()
	}
}
