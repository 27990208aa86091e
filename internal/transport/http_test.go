package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/any-hub/edge-cache/internal/cache"
	"github.com/any-hub/edge-cache/internal/version"
)

func TestFetchResolvesAgainstOrigin(t *testing.T) {
	var gotPath, gotQuery, gotHeader string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotHeader = r.Header.Get("X-Client")
		w.Header().Set("Content-Type", "text/css")
		w.Header().Set("Connection", "close")
		_, _ = io.WriteString(w, "body{}")
	}))
	defer origin.Close()

	fetcher := newTestFetcher(t, origin.URL)
	header := http.Header{}
	header.Set("X-Client", "edge")
	header.Set("Proxy-Authorization", "secret")

	snap, err := fetcher.Fetch(context.Background(), cache.Request{URL: "/src/index.css?v=1", Header: header})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if gotPath != "/src/index.css" || gotQuery != "v=1" {
		t.Fatalf("unexpected upstream target %s?%s", gotPath, gotQuery)
	}
	if gotHeader != "edge" {
		t.Fatalf("end-to-end headers should be forwarded")
	}
	if snap.Status != http.StatusOK || string(snap.Body) != "body{}" {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.URL != "/src/index.css?v=1" {
		t.Fatalf("snapshot should keep the request key, got %s", snap.URL)
	}
	if snap.Header.Get("Connection") != "" {
		t.Fatalf("hop-by-hop response headers must be stripped")
	}
	if snap.Type != cache.ResponseBasic {
		t.Fatalf("expected basic response type, got %s", snap.Type)
	}
}

func TestFetchReturnsErrorStatusAsResponse(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer origin.Close()

	snap, err := newTestFetcher(t, origin.URL).Fetch(context.Background(), cache.Request{URL: "/api"})
	if err != nil {
		t.Fatalf("http error status must not be a transport error: %v", err)
	}
	if snap.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", snap.Status)
	}
}

func TestFetchDoesNotFollowRedirects(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer origin.Close()

	snap, err := newTestFetcher(t, origin.URL).Fetch(context.Background(), cache.Request{URL: "/"})
	if err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if snap.Status != http.StatusFound {
		t.Fatalf("expected redirect to be returned as-is, got %d", snap.Status)
	}
}

func TestFetchUnreachableOriginIsTransportError(t *testing.T) {
	origin := httptest.NewServer(http.NotFoundHandler())
	addr := origin.URL
	origin.Close()

	_, err := newTestFetcher(t, addr).Fetch(context.Background(), cache.Request{URL: "/"})
	if err == nil {
		t.Fatalf("expected transport error")
	}
	if !IsTransportError(err) {
		t.Fatalf("expected *transport.Error, got %T", err)
	}
	var terr *Error
	if !errors.As(err, &terr) || terr.Method != http.MethodGet {
		t.Fatalf("transport error should carry the method, got %+v", terr)
	}
}

func TestNewHTTPValidatesOrigin(t *testing.T) {
	client := NewClient(time.Second)
	for _, origin := range []string{"", "ftp://example.com", "http://"} {
		if _, err := NewHTTP(client, origin); err == nil {
			t.Fatalf("origin %q should be rejected", origin)
		}
	}
	if _, err := NewHTTP(nil, "http://example.com"); err == nil {
		t.Fatalf("nil client should be rejected")
	}
}

func TestCacheBust(t *testing.T) {
	testCases := []struct {
		raw, want string
	}{
		{"/", "/?_cb=123"},
		{"/app.js?v=2", "/app.js?v=2&_cb=123"},
		{"/page#top", "/page?_cb=123#top"},
	}
	for _, tc := range testCases {
		if got := CacheBust(tc.raw, "_cb", "123"); got != tc.want {
			t.Fatalf("CacheBust(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
	if got := CacheBust("/x", "", "1"); got != "/x" {
		t.Fatalf("empty param should disable busting, got %q", got)
	}
}

func newTestFetcher(t *testing.T, origin string) *HTTP {
	t.Helper()
	fetcher, err := NewHTTP(NewClient(5*time.Second), origin)
	if err != nil {
		t.Fatalf("NewHTTP error: %v", err)
	}
	return fetcher
}

func TestFetchSetsDefaultUserAgent(t *testing.T) {
	var agents []string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents = append(agents, r.Header.Get("User-Agent"))
	}))
	defer origin.Close()

	fetcher := newTestFetcher(t, origin.URL)
	if _, err := fetcher.Fetch(context.Background(), cache.Request{URL: "/"}); err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	header := http.Header{}
	header.Set("User-Agent", "browser/1.0")
	if _, err := fetcher.Fetch(context.Background(), cache.Request{URL: "/", Header: header}); err != nil {
		t.Fatalf("fetch error: %v", err)
	}
	if len(agents) != 2 || agents[0] != version.UserAgent() || agents[1] != "browser/1.0" {
		t.Fatalf("unexpected user agents: %v", agents)
	}
}
