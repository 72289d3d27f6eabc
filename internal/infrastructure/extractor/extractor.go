// Package extractor reduces fetched pages to bounded text, snippet, summary and hash.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"

	"IdeaRadar/internal/canonical"
	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/infrastructure/httpfetch"
	"IdeaRadar/internal/ports"
)

const (
	defaultMaxLength     = 10000
	defaultMinTextLength = 200
	htmlAccept           = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5"
)

var noiseSelectors = "script, style, nav, header, footer, aside, noscript, iframe, form"

// Options bound the derived text.
type Options struct {
	MaxLength     int
	MinTextLength int
}

// Extractor runs the readability reducer first and a DOM reducer as fallback.
type Extractor struct {
	fetcher   *httpfetch.Client
	maxLength int
	minText   int
}

var _ ports.Extractor = (*Extractor)(nil)

// New wires the shared fetcher.
func New(fetcher *httpfetch.Client, opts Options) *Extractor {
	if opts.MaxLength <= 0 {
		opts.MaxLength = defaultMaxLength
	}
	if opts.MinTextLength <= 0 {
		opts.MinTextLength = defaultMinTextLength
	}
	return &Extractor{fetcher: fetcher, maxLength: opts.MaxLength, minText: opts.MinTextLength}
}

// Extract fetches rawURL and derives bounded text from it.
func (e *Extractor) Extract(ctx context.Context, rawURL string) (domain.Extraction, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil || pageURL.Host == "" {
		return domain.Extraction{}, &domain.ExtractionError{URL: rawURL, Err: fmt.Errorf("invalid url")}
	}

	body, err := e.fetcher.Get(ctx, rawURL, htmlAccept)
	if err != nil {
		var status *httpfetch.StatusError
		if errors.As(err, &status) {
			return domain.Extraction{}, &domain.ExtractionError{URL: rawURL, Err: err}
		}
		return domain.Extraction{}, httpfetch.AsTransient(rawURL, err)
	}

	text := e.reduce(body, pageURL)
	if text == "" {
		return domain.Extraction{}, &domain.ExtractionError{URL: rawURL, Err: fmt.Errorf("no readable text")}
	}
	return e.derive(rawURL, text), nil
}

// FromBody derives bounded text from a body the connector already supplied,
// which may be HTML or plain text.
func (e *Extractor) FromBody(rawURL, body string) (domain.Extraction, error) {
	var text string
	if looksLikeHTML(body) {
		text = domText([]byte(body))
	} else {
		text = normalize(body)
	}
	if text == "" {
		return domain.Extraction{}, &domain.ExtractionError{URL: rawURL, Err: fmt.Errorf("empty body")}
	}
	return e.derive(rawURL, text), nil
}

func (e *Extractor) reduce(body []byte, pageURL *url.URL) string {
	var primary string
	if article, err := readability.FromReader(bytes.NewReader(body), pageURL); err == nil {
		primary = normalize(article.TextContent)
	}
	if len([]rune(primary)) >= e.minText {
		return primary
	}
	if fallback := domText(body); len([]rune(fallback)) > len([]rune(primary)) {
		return fallback
	}
	return primary
}

func (e *Extractor) derive(rawURL, text string) domain.Extraction {
	text = truncate(text, e.maxLength)
	return domain.Extraction{
		Domain:      canonical.Domain(rawURL),
		Text:        text,
		Snippet:     Snippet(text),
		Summary:     Summary(text),
		ContentHash: ContentHash(text),
	}
}

// domText strips non-content elements and returns the text of the most
// specific content container.
func domText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	doc.Find(noiseSelectors).Remove()

	root := doc.Find("article").First()
	if root.Length() == 0 {
		root = doc.Find("main").First()
	}
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}
	if root.Length() == 0 {
		root = doc.Selection
	}

	var blocks []string
	root.Find("h1, h2, h3, h4, p, li, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		if s.Find("p, li").Length() > 0 {
			return
		}
		if text := normalizeLine(s.Text()); text != "" {
			blocks = append(blocks, text)
		}
	})
	if len(blocks) == 0 {
		return normalize(root.Text())
	}
	return strings.Join(blocks, "\n\n")
}

func looksLikeHTML(s string) bool {
	trimmed := strings.TrimSpace(s)
	return strings.HasPrefix(trimmed, "<") || strings.Contains(trimmed, "</") || strings.Contains(trimmed, "<br")
}
