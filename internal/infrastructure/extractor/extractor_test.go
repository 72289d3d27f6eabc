package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/infrastructure/httpfetch"
)

func articlePage(paragraphs int) string {
	var b strings.Builder
	b.WriteString(`<html><head><title>Sample</title><script>var tracking = true;</script></head><body>`)
	b.WriteString(`<nav><a href="/">Home</a><a href="/about">About</a></nav><article><h1>Building a radar</h1>`)
	for i := 0; i < paragraphs; i++ {
		fmt.Fprintf(&b, "<p>Paragraph %d explains how the ingestion pipeline fetches, deduplicates and ranks content from many sources without losing track of where it stopped.</p>", i)
	}
	b.WriteString(`</article><footer>Copyright</footer></body></html>`)
	return b.String()
}

func newTestExtractor(srv *httptest.Server, opts Options) *Extractor {
	return New(httpfetch.NewClient(srv.Client(), nil, httpfetch.Options{}), opts)
}

func TestExtractArticle(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, articlePage(12))
	}))
	defer srv.Close()

	ex := newTestExtractor(srv, Options{})
	got, err := ex.Extract(context.Background(), srv.URL+"/post")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(got.Text, "Paragraph 3 explains") {
		t.Fatalf("article text missing: %q", got.Text)
	}
	if strings.Contains(got.Text, "var tracking") {
		t.Fatalf("script leaked into text")
	}
	if got.Domain != "127.0.0.1" {
		t.Fatalf("unexpected domain %q", got.Domain)
	}
	if got.ContentHash != ContentHash(got.Text) || len(got.ContentHash) != 64 {
		t.Fatalf("unexpected hash %q", got.ContentHash)
	}
	if n := len([]rune(got.Snippet)); n > snippetLength+3 || !strings.HasSuffix(got.Snippet, "...") {
		t.Fatalf("snippet not bounded: %d runes %q", n, got.Snippet)
	}
	if n := len([]rune(got.Summary)); n == 0 || n > summaryLength {
		t.Fatalf("summary not bounded: %d", n)
	}
}

func TestExtractTruncatesBeforeHashing(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, articlePage(400))
	}))
	defer srv.Close()

	ex := newTestExtractor(srv, Options{MaxLength: 1000})
	got, err := ex.Extract(context.Background(), srv.URL+"/long")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if n := len([]rune(got.Text)); n > 1000 {
		t.Fatalf("text not truncated: %d runes", n)
	}
	if got.ContentHash != ContentHash(got.Text) {
		t.Fatalf("hash must cover the truncated text")
	}
}

func TestExtractFallbackForSparsePages(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><main><ul><li>Short item one</li><li>Short item two</li></ul></main></body></html>`)
	}))
	defer srv.Close()

	got, err := newTestExtractor(srv, Options{}).Extract(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(got.Text, "Short item one") || !strings.Contains(got.Text, "Short item two") {
		t.Fatalf("fallback text incomplete: %q", got.Text)
	}
}

func TestExtractErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/empty":
			fmt.Fprint(w, `<html><body><script>only()</script></body></html>`)
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	ex := newTestExtractor(srv, Options{})

	var extraction *domain.ExtractionError
	if _, err := ex.Extract(context.Background(), srv.URL+"/missing"); !errors.As(err, &extraction) {
		t.Fatalf("404 should be an extraction error, got %v", err)
	}
	if _, err := ex.Extract(context.Background(), srv.URL+"/empty"); !errors.As(err, &extraction) {
		t.Fatalf("empty page should be an extraction error, got %v", err)
	}

	var transient *domain.TransientFetchError
	if _, err := ex.Extract(context.Background(), srv.URL+"/busy"); !errors.As(err, &transient) {
		t.Fatalf("503 should be transient, got %v", err)
	}
}

func TestFromBody(t *testing.T) {
	t.Parallel()

	ex := New(nil, Options{})
	got, err := ex.FromBody("https://blog.example.com/a", "<p>First <b>paragraph</b> with enough words to count as a proper summary line.</p><p>Second.</p>")
	if err != nil {
		t.Fatalf("from body: %v", err)
	}
	if got.Summary != "First paragraph with enough words to count as a proper summary line." {
		t.Fatalf("unexpected summary %q", got.Summary)
	}
	if got.Domain != "blog.example.com" {
		t.Fatalf("unexpected domain %q", got.Domain)
	}

	if _, err := ex.FromBody("https://blog.example.com/a", "   "); err == nil {
		t.Fatalf("expected error for blank body")
	}
}

func TestContentHashNormalizes(t *testing.T) {
	t.Parallel()

	if ContentHash("Hello   World\n") != ContentHash("hello world") {
		t.Fatalf("hash should ignore case and whitespace")
	}
	if ContentHash("hello world") == ContentHash("hello, world") {
		t.Fatalf("hash should be sensitive to content")
	}
}

func TestSummaryFallsBackToSentences(t *testing.T) {
	t.Parallel()

	text := "Short. Second one! Third? Fourth."
	if got := Summary(text); got != "Short. Second one! Third?" {
		t.Fatalf("unexpected summary %q", got)
	}
}
