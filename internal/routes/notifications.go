package routes

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/payroll/internal/apperr"
	"github.com/congo-pay/payroll/internal/notification"
)

// RegisterNotificationRoutes exposes the operator inboxes.
func RegisterNotificationRoutes(r fiber.Router, inbox *notification.RedisNotifier) {
	r.Get("/notifications/:role", func(c *fiber.Ctx) error {
		role := strings.ToUpper(c.Params("role"))
		if !notification.IsOperatorRole(role) {
			return apperr.New(apperr.Validation, apperr.ReasonInvalidInput, "unknown role: %s", c.Params("role"))
		}
		limit := int64(50)
		if v := c.Query("limit"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 1 || n > 1000 {
				return apperr.New(apperr.Validation, apperr.ReasonInvalidInput, "invalid limit: %s", v)
			}
			limit = n
		}
		msgs, err := inbox.Recent(c.UserContext(), role, limit)
		if err != nil {
			return err
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{"role": role, "notifications": msgs})
	})
}
