package linkpreview

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFirstURL(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"check https://example.com/a out", "https://example.com/a"},
		{"http://one.test and https://two.test", "http://one.test"},
		{"no links here", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := FirstURL(tc.text); got != tc.want {
			t.Errorf("FirstURL(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}

func TestFetchOpenGraph(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head>
			<title>Fallback Title</title>
			<meta property="og:title" content="OG Title">
			<meta property="og:description" content="A description">
			<meta property="og:image" content="https://img.test/p.png">
		</head><body>ignored</body></html>`))
	}))
	defer srv.Close()

	p, err := NewFetcher().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if p.Title != "OG Title" {
		t.Errorf("Title = %q, want OG Title", p.Title)
	}
	if p.Description != "A description" {
		t.Errorf("Description = %q", p.Description)
	}
	if p.ImageURL != "https://img.test/p.png" {
		t.Errorf("ImageURL = %q", p.ImageURL)
	}
	if p.URL != srv.URL {
		t.Errorf("URL = %q, want %q", p.URL, srv.URL)
	}
}

func TestFetchTitleFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Just a Title</title></head><body></body></html>`))
	}))
	defer srv.Close()

	p, err := NewFetcher().Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if p.Title != "Just a Title" {
		t.Errorf("Title = %q, want Just a Title", p.Title)
	}
}

func TestFetchNonHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	if _, err := NewFetcher().Fetch(context.Background(), srv.URL); err == nil {
		t.Error("Fetch() = nil error for non-html page")
	}
}

func TestFetchErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := NewFetcher().Fetch(context.Background(), srv.URL); err == nil {
		t.Error("Fetch() = nil error for 404")
	}
}
