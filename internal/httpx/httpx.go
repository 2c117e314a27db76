// Package httpx holds request helpers shared by the Fiber handlers.
package httpx

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/payroll/internal/apperr"
)

const (
	// ActorKey is the fiber.Locals key holding the acting operator id.
	ActorKey = "actor_id"
	// ActorHeader carries the operator id set by the authenticating proxy.
	ActorHeader = "X-Actor-ID"

	defaultLimit = 50
	maxLimit     = 500
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return toSnake(f.Name)
		}
		return name
	})
	return v
}

// Bind decodes the JSON body into dst and validates its struct tags.
func Bind(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return apperr.Wrap(err, apperr.Validation, apperr.ReasonInvalidInput, "invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.Wrap(err, apperr.Validation, apperr.ReasonInvalidInput, "%s", describe(verrs[0]))
		}
		return apperr.Wrap(err, apperr.Validation, apperr.ReasonInvalidInput, "invalid request")
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must contain at least %s item(s)", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must contain at most %s item(s)", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %q validation", field, fe.Tag())
	}
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Actor returns the acting operator id, or "system" when none was supplied.
func Actor(c *fiber.Ctx) string {
	if v, ok := c.Locals(ActorKey).(string); ok && v != "" {
		return v
	}
	if v := strings.TrimSpace(c.Get(ActorHeader)); v != "" {
		return v
	}
	return "system"
}

// Page reads limit/offset query parameters with bounds.
func Page(c *fiber.Ctx) (limit, offset int, err error) {
	limit, offset = defaultLimit, 0
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			return 0, 0, apperr.New(apperr.Validation, apperr.ReasonInvalidInput, "invalid limit: %s", v)
		}
		if limit > maxLimit {
			limit = maxLimit
		}
	}
	if v := c.Query("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, apperr.New(apperr.Validation, apperr.ReasonInvalidInput, "invalid offset: %s", v)
		}
	}
	return limit, offset, nil
}
