package server

import (
	"bytes"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func TestRouterForwardsToEdgeHandler(t *testing.T) {
	app, recorder := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "http://edge.local/src/App.js?v=1", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 status, got %d", resp.StatusCode)
	}
	if recorder.path != "/src/App.js" {
		t.Fatalf("expected handler to see /src/App.js, got %s", recorder.path)
	}
	reqID := resp.Header.Get(HeaderRequestID)
	if _, err := uuid.Parse(reqID); err != nil {
		t.Fatalf("expected uuid X-Request-ID, got %q", reqID)
	}
	if recorder.requestID != reqID {
		t.Fatalf("handler should see the same request id")
	}
}

func TestRouterKeepsValidIncomingRequestID(t *testing.T) {
	app, _ := newTestApp(t)
	incoming := uuid.NewString()

	req := httptest.NewRequest("GET", "http://edge.local/", nil)
	req.Header.Set(HeaderRequestID, incoming)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.Header.Get(HeaderRequestID) != incoming {
		t.Fatalf("expected incoming request id to be reused")
	}

	req = httptest.NewRequest("GET", "http://edge.local/", nil)
	req.Header.Set(HeaderRequestID, "not-a-uuid")
	resp, _ = app.Test(req)
	if resp.Header.Get(HeaderRequestID) == "not-a-uuid" {
		t.Fatalf("invalid request ids must be replaced")
	}
}

func TestRouterSkipsDiagnosticsPaths(t *testing.T) {
	app, recorder := newTestApp(t)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "http://edge.local/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "pong" {
		t.Fatalf("expected diagnostics route, got %s", string(body))
	}
	if recorder.path != "" {
		t.Fatalf("edge handler must not see diagnostics requests")
	}
}

func TestRouterRendersHandlerErrorsAsJSON(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	app, err := NewApp(AppOptions{
		Logger:     logger,
		ListenPort: 5000,
		Handler: EdgeHandlerFunc(func(c fiber.Ctx) error {
			return errors.New("boom")
		}),
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	resp, err := app.Test(httptest.NewRequest("GET", "http://edge.local/x", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"internal_error"`)) {
		t.Fatalf("expected internal_error body, got %s", string(body))
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	if _, err := NewApp(AppOptions{ListenPort: 5000}); err == nil {
		t.Fatalf("missing logger should fail")
	}
	if _, err := NewApp(AppOptions{Logger: logrus.New(), ListenPort: 5000}); err == nil {
		t.Fatalf("missing handler should fail")
	}
}

type handlerRecorder struct {
	path      string
	requestID string
}

func (h *handlerRecorder) Handle(c fiber.Ctx) error {
	h.path = c.Path()
	h.requestID = RequestID(c)
	return c.SendStatus(fiber.StatusNoContent)
}

func newTestApp(t *testing.T) (*fiber.App, *handlerRecorder) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &handlerRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Handler:    recorder,
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app, recorder
}
