package cache

import (
	"net/url"
	"strings"
)

// DefaultExcludedSchemes 列出浏览器内部协议，这类请求的响应永远不落缓存。
var DefaultExcludedSchemes = []string{
	"chrome-extension",
	"moz-extension",
	"safari-web-extension",
	"data",
	"blob",
}

// Classifier 判断一个响应是否可以安全地写入缓存。
type Classifier struct {
	excluded map[string]struct{}
}

// NewClassifier 以协议黑名单构造 Classifier，协议名大小写不敏感，可带或不带冒号。
func NewClassifier(excludedSchemes []string) Classifier {
	excluded := make(map[string]struct{}, len(excludedSchemes))
	for _, scheme := range excludedSchemes {
		scheme = strings.ToLower(strings.TrimSuffix(strings.TrimSpace(scheme), ":"))
		if scheme != "" {
			excluded[scheme] = struct{}{}
		}
	}
	return Classifier{excluded: excluded}
}

// IsCacheSafe 当且仅当状态码为 2xx 或 0（opaque），且请求 URL 的协议不在黑名单中时返回 true。
func (c Classifier) IsCacheSafe(snap *Snapshot, req Request) bool {
	if snap == nil {
		return false
	}
	if !IsCacheableStatus(snap.Status) {
		return false
	}
	return !c.Excluded(req.URL)
}

// Excluded 报告 URL 的协议是否命中黑名单。
func (c Classifier) Excluded(rawURL string) bool {
	if len(c.excluded) == 0 {
		return false
	}
	idx := strings.Index(rawURL, ":")
	if idx <= 0 {
		return false
	}
	_, hit := c.excluded[strings.ToLower(rawURL[:idx])]
	return hit
}

// IsCacheableStatus: 2xx or opaque.
func IsCacheableStatus(status int) bool {
	return status == 0 || (status >= 200 && status <= 299)
}

// CanonicalURL 去掉 fragment，并为相对路径补上前导 "/"，查询串原样保留。
// 预缓存列表中的 "src/App.js" 与运行时请求 "/src/App.js" 因此落在同一个键上。
func CanonicalURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "/"
	}
	if idx := strings.Index(raw, "#"); idx >= 0 {
		raw = raw[:idx]
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if parsed.IsAbs() || parsed.Host != "" {
		return parsed.String()
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return raw
}
