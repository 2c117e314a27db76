package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/payroll/internal/apperr"
	"github.com/congo-pay/payroll/internal/httpx"
)

// Actor copies the operator id set by the authenticating proxy into Locals.
// When required is true, mutating requests without one are rejected.
func Actor(required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		actor := strings.TrimSpace(c.Get(httpx.ActorHeader))
		if actor != "" {
			c.Locals(httpx.ActorKey, actor)
			return c.Next()
		}
		if required {
			switch c.Method() {
			case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			default:
				return apperr.New(apperr.Validation, apperr.ReasonMissingActor, "%s header is required", httpx.ActorHeader)
			}
		}
		return c.Next()
	}
}
