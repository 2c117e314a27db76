package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/payroll/internal/apperr"
	"github.com/congo-pay/payroll/internal/routes"
)

// Server wraps the Fiber application.
type Server struct {
	app  *fiber.App
	addr string
}

// New builds the Fiber app and delegates route wiring to routes.Setup.
func New(d routes.Deps) (*Server, error) {
	app := NewApp(d.Cfg.AppName, d.Logger)
	if err := routes.Setup(app, d); err != nil {
		return nil, err
	}
	return &Server{app: app, addr: d.Cfg.Address()}, nil
}

// NewApp returns a Fiber app using go-json and the coded error renderer.
func NewApp(name string, logger *slog.Logger) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               name,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		BodyLimit:             8 * 1024 * 1024,
		DisableStartupMessage: true,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler:          ErrorHandler(logger),
	})
}

// ErrorHandler renders errors as {"error", "code", "reason"}.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message, "code": codeForStatus(fe.Code)})
		}
		status := apperr.HTTPStatus(err)
		e, ok := apperr.As(err)
		if !ok || e.Code == apperr.Internal {
			logger.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
			return c.Status(status).JSON(fiber.Map{"error": "internal server error", "code": apperr.Internal})
		}
		body := fiber.Map{"error": e.Message, "code": e.Code}
		if e.Reason != "" {
			body["reason"] = e.Reason
		}
		return c.Status(status).JSON(body)
	}
}

func codeForStatus(status int) apperr.Code {
	switch {
	case status == fiber.StatusNotFound:
		return apperr.NotFound
	case status == fiber.StatusConflict:
		return apperr.Conflict
	case status >= fiber.StatusInternalServerError:
		return apperr.Internal
	default:
		return apperr.Validation
	}
}

// App exposes the Fiber app, for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
