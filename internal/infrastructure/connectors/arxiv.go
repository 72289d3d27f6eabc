package connectors

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"

	"IdeaRadar/internal/connector"
	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/infrastructure/httpfetch"
)

const arxivAPI = "http://export.arxiv.org/api/query"

var (
	arxivIDExpr = regexp.MustCompile(`\d{4}\.\d{4,5}(v\d+)?`)
	spaceExpr   = regexp.MustCompile(`\s+`)
)

type arxivConfig struct {
	SearchQuery string `json:"search_query"`
	SortBy      string `json:"sort_by"`
	SortOrder   string `json:"sort_order"`
	BaseURL     string `json:"base_url"`
}

// ArxivConnector pages through the arXiv export API. Its cursor is the start index.
type ArxivConnector struct {
	fetcher *httpfetch.Client
}

var _ connector.Connector = (*ArxivConnector)(nil)

// NewArxivConnector wires the shared fetcher.
func NewArxivConnector(fetcher *httpfetch.Client) *ArxivConnector {
	return &ArxivConnector{fetcher: fetcher}
}

// Kind identifies the strategy inside the registry.
func (a *ArxivConnector) Kind() string { return "arxiv" }

// Type reports the source family served.
func (a *ArxivConnector) Type() domain.SourceType { return domain.SourceStructuredAPI }

// Fetch requests one page of req.Limit entries starting at the cursor.
// A short page means the listing is exhausted and the cursor restarts.
func (a *ArxivConnector) Fetch(ctx context.Context, req connector.Request) (connector.Result, error) {
	cfg := arxivConfig{SortBy: "submittedDate", SortOrder: "descending", BaseURL: arxivAPI}
	if err := decodeConfig(req, &cfg); err != nil {
		return connector.Result{}, err
	}
	if cfg.SearchQuery == "" {
		return connector.Result{}, &domain.ConfigurationError{Source: req.SourceName, Err: fmt.Errorf("arxiv search_query is required")}
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	start := parseOffsetCursor(req.Cursor)

	pageURL, err := buildQueryURL(cfg, start, limit)
	if err != nil {
		return connector.Result{}, &domain.ConfigurationError{Source: req.SourceName, Err: err}
	}

	body, err := a.fetcher.Get(ctx, pageURL, "application/atom+xml")
	if err != nil {
		return connector.Result{}, httpfetch.AsTransient(pageURL, err)
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return connector.Result{}, httpfetch.AsTransient(pageURL, fmt.Errorf("parse atom: %w", err))
	}

	result := connector.Result{Candidates: make([]domain.Candidate, 0, len(feed.Items))}
	for i, item := range feed.Items {
		if i >= limit {
			break
		}
		candidate, ok := parseArxivEntry(item)
		if !ok {
			continue
		}
		candidate.Cursor = strconv.Itoa(start + i + 1)
		result.Candidates = append(result.Candidates, candidate)
	}

	if len(feed.Items) >= limit {
		result.Next = strconv.Itoa(start + limit)
	}
	return result, nil
}

func parseArxivEntry(item *gofeed.Item) (domain.Candidate, bool) {
	link := strings.TrimSpace(item.Link)
	if link == "" {
		link = strings.TrimSpace(item.GUID)
	}
	if link == "" {
		return domain.Candidate{}, false
	}

	published := item.PublishedParsed
	if published == nil {
		published = item.UpdatedParsed
	}

	authors := make([]string, 0, len(item.Authors))
	for _, author := range item.Authors {
		if author != nil && author.Name != "" {
			authors = append(authors, author.Name)
		}
	}

	signals := map[string]any{}
	if id := arxivIDExpr.FindString(item.GUID); id != "" {
		signals["arxiv_id"] = id
	}
	if len(item.Categories) > 0 {
		signals["categories"] = item.Categories
	}
	if len(authors) > 0 {
		signals["authors"] = authors
	}

	candidate := domain.Candidate{
		Title:       collapse(item.Title),
		URL:         link,
		PublishedAt: published,
		Body:        collapse(item.Description),
		Signals:     signals,
	}
	if len(authors) > 0 {
		candidate.Author = authors[0]
	}
	return candidate, true
}

func buildQueryURL(cfg arxivConfig, start, maxResults int) (string, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid arxiv url %s: %w", cfg.BaseURL, err)
	}

	query := parsed.Query()
	query.Set("search_query", cfg.SearchQuery)
	query.Set("start", strconv.Itoa(start))
	query.Set("max_results", strconv.Itoa(maxResults))
	query.Set("sortBy", cfg.SortBy)
	query.Set("sortOrder", cfg.SortOrder)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func collapse(s string) string {
	return strings.TrimSpace(spaceExpr.ReplaceAllString(s, " "))
}
