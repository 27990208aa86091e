package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// EdgeHandler answers every non-diagnostics request. It allows injecting fake
// handlers during tests.
type EdgeHandler interface {
	Handle(fiber.Ctx) error
}

// EdgeHandlerFunc adapts a function to the EdgeHandler interface.
type EdgeHandlerFunc func(fiber.Ctx) error

// Handle makes EdgeHandlerFunc satisfy EdgeHandler.
func (f EdgeHandlerFunc) Handle(c fiber.Ctx) error {
	return f(c)
}

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger     *logrus.Logger
	Handler    EdgeHandler
	ListenPort int
	BodyLimit  int
}

const (
	contextKeyRequestID = "_edge_request_id"
	contextKeyStarted   = "_edge_started"

	// HeaderRequestID 在请求与响应上携带请求 ID。
	HeaderRequestID = "X-Request-ID"
)

// NewApp builds a Fiber application with request-id middleware, panic
// recovery and a catch-all route that forwards to the edge handler.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("edge handler is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	cfg := fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	}
	if opts.BodyLimit > 0 {
		cfg.BodyLimit = opts.BodyLimit
	}
	app := fiber.New(cfg)

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.All("/*", func(c fiber.Ctx) error {
		if IsDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return opts.Handler.Handle(c)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID；客户端传入合法 UUID 时沿用。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := strings.TrimSpace(c.Get(HeaderRequestID))
		if _, err := uuid.Parse(reqID); err != nil {
			reqID = uuid.NewString()
		}
		c.Locals(contextKeyRequestID, reqID)
		c.Locals(contextKeyStarted, time.Now())
		c.Set(HeaderRequestID, reqID)
		return c.Next()
	}
}

func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		code := "internal_error"
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			status = fiberErr.Code
			code = strings.ReplaceAll(strings.ToLower(fiberErr.Message), " ", "_")
		}
		logger.WithError(err).WithFields(logrus.Fields{
			"action":     "http_error",
			"request_id": RequestID(c),
			"status":     status,
		}).Warn("request_failed")
		return c.Status(status).JSON(fiber.Map{"error": code})
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// Started returns when the request entered the middleware chain.
func Started(c fiber.Ctx) time.Time {
	if value := c.Locals(contextKeyStarted); value != nil {
		if started, ok := value.(time.Time); ok {
			return started
		}
	}
	return time.Now()
}

// IsDiagnosticsPath reports whether path belongs to the /-/ admin surface.
func IsDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}
