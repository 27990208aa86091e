package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/any-hub/edge-cache/internal/cache"
	"github.com/any-hub/edge-cache/internal/version"
)

// Error 表示请求未能拿到任何响应（拨号失败、TLS、超时、读取正文中断）。
// 上游返回的 4xx/5xx 是正常响应，永远不会包装成 Error。
type Error struct {
	Method string
	URL    string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Method, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err (or anything it wraps) is a *Error.
func IsTransportError(err error) bool {
	var target *Error
	return errors.As(err, &target)
}

// HTTP 将缓存键解析到 origin 上并发起真实请求，响应正文整体读入 Snapshot。
type HTTP struct {
	client *http.Client
	origin *url.URL
}

// NewHTTP 构造回源 fetcher；origin 必须是带 scheme/host 的绝对地址。
func NewHTTP(client *http.Client, origin string) (*HTTP, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	parsed, err := url.Parse(strings.TrimRight(origin, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("origin must be http/https: %s", origin)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("origin missing host: %s", origin)
	}
	return &HTTP{client: client, origin: parsed}, nil
}

// Origin 返回解析后的上游地址。
func (h *HTTP) Origin() *url.URL {
	return h.origin
}

// Resolve 把相对缓存键拼接到 origin 上，绝对 URL 原样返回。
func (h *HTTP) Resolve(raw string) (*url.URL, error) {
	ref, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if ref.IsAbs() {
		return ref, nil
	}
	return h.origin.ResolveReference(ref), nil
}

// Fetch 发起请求并返回完整快照。所有无法得到响应的情况都返回 *Error。
func (h *HTTP) Fetch(ctx context.Context, req cache.Request) (*cache.Snapshot, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target, err := h.Resolve(req.URL)
	if err != nil {
		return nil, &Error{Method: method, URL: req.URL, Err: err}
	}

	var body io.Reader = http.NoBody
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	upstream, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, &Error{Method: method, URL: target.String(), Err: err}
	}
	if req.Header != nil {
		CopyHeaders(upstream.Header, req.Header)
	}
	// 交给 net/http 透明解压，缓存中保存解压后的正文
	upstream.Header.Del("Accept-Encoding")
	upstream.Header.Del("Host")
	if upstream.Header.Get("User-Agent") == "" {
		upstream.Header.Set("User-Agent", version.UserAgent())
	}
	upstream.Host = target.Host

	resp, err := h.client.Do(upstream)
	if err != nil {
		return nil, &Error{Method: method, URL: target.String(), Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Method: method, URL: target.String(), Err: err}
	}

	header := http.Header{}
	CopyHeaders(header, resp.Header)
	// 正文已完整读出，长度由写出方重新计算
	header.Del("Content-Length")

	return &cache.Snapshot{
		URL:    req.URL,
		Status: resp.StatusCode,
		Header: header,
		Body:   payload,
		Type:   cache.ResponseBasic,
	}, nil
}

// CacheBust 在 URL 上追加唯一查询参数，绕过中间层缓存；原有查询参数保留。
func CacheBust(raw, param, value string) string {
	if param == "" {
		return raw
	}
	fragment := ""
	if idx := strings.Index(raw, "#"); idx >= 0 {
		raw, fragment = raw[:idx], raw[idx:]
	}
	sep := "?"
	if strings.Contains(raw, "?") {
		sep = "&"
	}
	return raw + sep + url.QueryEscape(param) + "=" + url.QueryEscape(value) + fragment
}
