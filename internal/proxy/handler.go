package proxy

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/edge-cache/internal/cache"
	"github.com/any-hub/edge-cache/internal/interceptor"
	"github.com/any-hub/edge-cache/internal/logging"
	"github.com/any-hub/edge-cache/internal/metrics"
	"github.com/any-hub/edge-cache/internal/server"
	"github.com/any-hub/edge-cache/internal/transport"
)

const (
	// HeaderSource 标记响应来源：策略名、app-shell 或 passthrough。
	HeaderSource = "X-Edge-Cache"

	sourcePassthrough = "passthrough"
)

// Interceptor 由 interceptor.Interceptor 实现，测试可替换。
type Interceptor interface {
	Intercept(ctx context.Context, req cache.Request) interceptor.Outcome
}

// Upstream 用于透传：拦截器不处理或拿不到响应时直接回源，不写缓存。
type Upstream interface {
	Fetch(ctx context.Context, req cache.Request) (*cache.Snapshot, error)
}

// Handler 把 fiber 请求交给拦截器，拦截器放弃时退化为不缓存的透传。
type Handler struct {
	interceptor Interceptor
	upstream    Upstream
	logger      *logrus.Logger
	metrics     *metrics.Metrics
}

// NewHandler constructs the edge handler.
func NewHandler(icpt Interceptor, upstream Upstream, logger *logrus.Logger, m *metrics.Metrics) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		interceptor: icpt,
		upstream:    upstream,
		logger:      logger,
		metrics:     m,
	}
}

func (h *Handler) Handle(c fiber.Ctx) error {
	started := server.Started(c)
	requestID := server.RequestID(c)
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req := buildRequest(c)
	outcome := h.interceptor.Intercept(ctx, req)
	if outcome.Result == interceptor.Responded && outcome.Snapshot != nil {
		return h.writeSnapshot(c, req, outcome.Snapshot, outcome.Source, requestID, started)
	}

	snap, err := h.upstream.Fetch(ctx, req)
	if err != nil {
		h.logResult(req, requestID, sourcePassthrough, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	return h.writeSnapshot(c, req, snap, sourcePassthrough, requestID, started)
}

func (h *Handler) writeSnapshot(c fiber.Ctx, req cache.Request, snap *cache.Snapshot, source, requestID string, started time.Time) error {
	copyResponseHeaders(c, snap.Header)
	c.Set(HeaderSource, source)

	// opaque 响应没有可见状态码，对下游按 200 输出
	status := snap.Status
	if status == 0 {
		status = fiber.StatusOK
	}
	c.Status(status)

	h.logResult(req, requestID, source, status, started, nil)
	if req.Method == http.MethodHead {
		return nil
	}
	return c.Send(snap.Body)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	c.Set(HeaderSource, sourcePassthrough)
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(req cache.Request, requestID, source string, status int, started time.Time, err error) {
	elapsed := time.Since(started)
	h.metrics.ObserveRequest(source, elapsed)

	fields := logging.RequestFields(requestID, req.Method, req.URL, source, status)
	fields["action"] = "edge"
	fields["elapsed_ms"] = elapsed.Milliseconds()
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("passthrough_failed")
		return
	}
	h.logger.WithFields(fields).Info("edge_complete")
}

// buildRequest 把 fiber 请求转换为缓存引擎的请求描述，URL 取 path?query。
func buildRequest(c fiber.Ctx) cache.Request {
	header := fiberHeadersAsHTTP(c)
	method := c.Method()
	req := cache.Request{
		Method:   method,
		URL:      requestKey(c),
		Header:   header,
		Navigate: interceptor.IsNavigation(method, header),
	}
	if body := c.Body(); len(body) > 0 {
		req.Body = append([]byte(nil), body...)
	}
	return req
}

// requestKey 取请求行中未解码的 path 与 query，absolute-form 的请求行也落在同一个键上。
// 保持转义形式，%2F、%3F、%25 与解码后的字符不会混为同一个键或同一个回源地址。
func requestKey(c fiber.Ctx) string {
	uri := c.Request().URI()
	key := string(uri.PathOriginal())
	if key == "" {
		key = "/"
	}
	if query := uri.QueryString(); len(query) > 0 {
		key += "?" + string(query)
	}
	return cache.CanonicalURL(key)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if transport.IsHopByHopHeader(key) {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Append(key, value)
		}
	}
}
