package cache

import "testing"

func TestIsCacheSafeByStatus(t *testing.T) {
	classifier := NewClassifier(DefaultExcludedSchemes)
	req := Request{URL: "/app.js"}

	testCases := []struct {
		status int
		safe   bool
	}{
		{0, true},
		{200, true},
		{204, true},
		{299, true},
		{199, false},
		{301, false},
		{304, false},
		{404, false},
		{500, false},
	}
	for _, tc := range testCases {
		got := classifier.IsCacheSafe(&Snapshot{Status: tc.status}, req)
		if got != tc.safe {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.safe, got)
		}
	}
}

func TestIsCacheSafeRejectsExcludedSchemes(t *testing.T) {
	classifier := NewClassifier([]string{"chrome-extension:", "Data"})
	ok := &Snapshot{Status: 200}

	if classifier.IsCacheSafe(ok, Request{URL: "chrome-extension://abcdef/script.js"}) {
		t.Fatalf("chrome-extension requests must never be cached")
	}
	if classifier.IsCacheSafe(ok, Request{URL: "data:text/plain,hello"}) {
		t.Fatalf("scheme matching should be case-insensitive")
	}
	if !classifier.IsCacheSafe(ok, Request{URL: "https://cdn.example.com/lib.js"}) {
		t.Fatalf("https requests should be cacheable")
	}
	if !classifier.IsCacheSafe(ok, Request{URL: "/relative?next=a:b"}) {
		t.Fatalf("relative urls have no scheme and should be cacheable")
	}
	if classifier.IsCacheSafe(nil, Request{URL: "/"}) {
		t.Fatalf("nil snapshot is never cache-safe")
	}
}

func TestCanonicalURL(t *testing.T) {
	testCases := map[string]string{
		"":                          "/",
		"/":                         "/",
		"src/App.js":                "/src/App.js",
		"/app.js?v=2":               "/app.js?v=2",
		"/page#section":             "/page",
		"https://cdn.example.com/x": "https://cdn.example.com/x",
		"  /padded  ":               "/padded",
	}
	for input, expected := range testCases {
		if got := CanonicalURL(input); got != expected {
			t.Fatalf("CanonicalURL(%q) = %q, want %q", input, got, expected)
		}
	}
}
