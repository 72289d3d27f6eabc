package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"IdeaRadar/internal/connector"
	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/infrastructure/httpfetch"
)

const (
	hackerNewsAPI      = "https://hacker-news.firebaseio.com/v0"
	hackerNewsItemPage = "https://news.ycombinator.com/item?id="
	defaultHNCap       = 100
)

var hackerNewsEndpoints = map[string]bool{
	"topstories":  true,
	"newstories":  true,
	"beststories": true,
	"askstories":  true,
	"showstories": true,
}

type hackerNewsConfig struct {
	Endpoint string `json:"endpoint"`
	BaseURL  string `json:"base_url"`
	// Cap bounds how deep into the id list the cursor walks before restarting.
	Cap int `json:"cap"`
}

type hackerNewsItem struct {
	ID          int64  `json:"id"`
	Type        string `json:"type"`
	By          string `json:"by"`
	Time        int64  `json:"time"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Text        string `json:"text"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
	Dead        bool   `json:"dead"`
	Deleted     bool   `json:"deleted"`
}

// HackerNewsConnector walks a Hacker News story list. Its cursor is the offset
// into that list; it restarts from the top once the list or cap is exhausted.
type HackerNewsConnector struct {
	fetcher *httpfetch.Client
}

var _ connector.Connector = (*HackerNewsConnector)(nil)

// NewHackerNewsConnector wires the shared fetcher.
func NewHackerNewsConnector(fetcher *httpfetch.Client) *HackerNewsConnector {
	return &HackerNewsConnector{fetcher: fetcher}
}

// Kind identifies the strategy inside the registry.
func (h *HackerNewsConnector) Kind() string { return "hackernews" }

// Type reports the source family served.
func (h *HackerNewsConnector) Type() domain.SourceType { return domain.SourceStructuredAPI }

// Fetch pulls up to req.Limit stories starting at the cursor offset.
func (h *HackerNewsConnector) Fetch(ctx context.Context, req connector.Request) (connector.Result, error) {
	cfg := hackerNewsConfig{Endpoint: "topstories", BaseURL: hackerNewsAPI, Cap: defaultHNCap}
	if err := decodeConfig(req, &cfg); err != nil {
		return connector.Result{}, err
	}
	if !hackerNewsEndpoints[cfg.Endpoint] {
		return connector.Result{}, &domain.ConfigurationError{Source: req.SourceName, Err: fmt.Errorf("unknown hackernews endpoint %q", cfg.Endpoint)}
	}
	base := strings.TrimSuffix(cfg.BaseURL, "/")

	listURL := fmt.Sprintf("%s/%s.json", base, cfg.Endpoint)
	var ids []int64
	if err := h.getJSON(ctx, listURL, &ids); err != nil {
		return connector.Result{}, err
	}
	if cfg.Cap > 0 && len(ids) > cfg.Cap {
		ids = ids[:cfg.Cap]
	}

	offset := parseOffsetCursor(req.Cursor)
	if offset >= len(ids) {
		offset = 0
	}

	result := connector.Result{}
	pos := offset
	for ; pos < len(ids); pos++ {
		if req.Limit > 0 && len(result.Candidates) >= req.Limit {
			break
		}
		itemURL := fmt.Sprintf("%s/item/%d.json", base, ids[pos])
		var item hackerNewsItem
		if err := h.getJSON(ctx, itemURL, &item); err != nil {
			return connector.Result{}, err
		}
		if item.Deleted || item.Dead || item.Type != "story" {
			continue
		}
		candidate := toHackerNewsCandidate(item)
		candidate.Cursor = strconv.Itoa(pos + 1)
		result.Candidates = append(result.Candidates, candidate)
	}

	if pos < len(ids) {
		result.Next = strconv.Itoa(pos)
	}
	return result, nil
}

func (h *HackerNewsConnector) getJSON(ctx context.Context, rawURL string, out any) error {
	body, err := h.fetcher.Get(ctx, rawURL, "application/json")
	if err != nil {
		return httpfetch.AsTransient(rawURL, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return httpfetch.AsTransient(rawURL, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func toHackerNewsCandidate(item hackerNewsItem) domain.Candidate {
	link := item.URL
	if link == "" {
		link = hackerNewsItemPage + strconv.FormatInt(item.ID, 10)
	}
	var published *time.Time
	if item.Time > 0 {
		ts := time.Unix(item.Time, 0).UTC()
		published = &ts
	}
	return domain.Candidate{
		Title:       strings.TrimSpace(item.Title),
		URL:         link,
		PublishedAt: published,
		Body:        item.Text,
		Author:      item.By,
		Signals: map[string]any{
			"hn_id":       item.ID,
			"score":       item.Score,
			"descendants": item.Descendants,
		},
	}
}

func parseOffsetCursor(cursor string) int {
	v, err := strconv.Atoi(cursor)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
