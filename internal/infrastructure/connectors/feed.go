package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"IdeaRadar/internal/connector"
	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/infrastructure/httpfetch"
)

const feedAccept = "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8"

type feedConfig struct {
	URL string `json:"url"`
}

// FeedConnector reads RSS, Atom and JSON feeds. Its cursor is a feedPosition.
type FeedConnector struct {
	fetcher *httpfetch.Client
}

var _ connector.Connector = (*FeedConnector)(nil)

// NewFeedConnector wires the shared fetcher.
func NewFeedConnector(fetcher *httpfetch.Client) *FeedConnector {
	return &FeedConnector{fetcher: fetcher}
}

// Kind identifies the strategy inside the registry.
func (f *FeedConnector) Kind() string { return "feed" }

// Type reports the source family served.
func (f *FeedConnector) Type() domain.SourceType { return domain.SourceFeed }

type feedEntry struct {
	candidate domain.Candidate
	published int64
}

// Fetch returns entries newer than the cursor, oldest first, undated entries last.
func (f *FeedConnector) Fetch(ctx context.Context, req connector.Request) (connector.Result, error) {
	var cfg feedConfig
	if err := decodeConfig(req, &cfg); err != nil {
		return connector.Result{}, err
	}
	if cfg.URL == "" {
		return connector.Result{}, &domain.ConfigurationError{Source: req.SourceName, Err: fmt.Errorf("feed url is required")}
	}

	body, err := f.fetcher.Get(ctx, cfg.URL, feedAccept)
	if err != nil {
		return connector.Result{}, httpfetch.AsTransient(cfg.URL, err)
	}

	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return connector.Result{}, httpfetch.AsTransient(cfg.URL, fmt.Errorf("parse feed: %w", err))
	}

	pos := parseFeedCursor(req.Cursor)
	var dated, undated []feedEntry
	for _, item := range feed.Items {
		entry, ok := toFeedEntry(item)
		if !ok {
			continue
		}
		switch {
		case entry.published == 0:
			undated = append(undated, entry)
		case entry.published > pos.Done:
			dated = append(dated, entry)
		}
	}
	sort.SliceStable(dated, func(i, j int) bool { return dated[i].published < dated[j].published })
	dated = pos.skipSeen(dated)
	undated = pos.pendingUndated(undated)

	remaining := make(map[int64]int, len(dated))
	for _, entry := range dated {
		remaining[entry.published]++
	}

	entries := append(dated, undated...)
	if req.Limit > 0 && len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	result := connector.Result{Candidates: make([]domain.Candidate, 0, len(entries))}
	for _, entry := range entries {
		pos = pos.advance(entry, remaining)
		entry.candidate.Cursor = pos.String()
		result.Candidates = append(result.Candidates, entry.candidate)
	}
	result.Next = pos.String()
	return result, nil
}

// feedPosition records how far a feed has been consumed. Dated entries
// published at or before Done are consumed, plus the first Seen entries
// (in feed order) published at Group. After is the link of the last consumed
// undated entry. A position without a partial group or undated marker
// encodes as the bare unix time of Done.
type feedPosition struct {
	Done  int64  `json:"done,omitempty"`
	Group int64  `json:"group,omitempty"`
	Seen  int    `json:"seen,omitempty"`
	After string `json:"after,omitempty"`
}

func parseFeedCursor(cursor string) feedPosition {
	cursor = strings.TrimSpace(cursor)
	if !strings.HasPrefix(cursor, "{") {
		return feedPosition{Done: parseUnixCursor(cursor)}
	}
	var pos feedPosition
	if err := json.Unmarshal([]byte(cursor), &pos); err != nil {
		return feedPosition{}
	}
	pos.Done = max(pos.Done, 0)
	if pos.Seen <= 0 || pos.Group <= pos.Done {
		pos.Group, pos.Seen = 0, 0
	}
	return pos
}

func (p feedPosition) String() string {
	if p.Seen == 0 && p.After == "" {
		return formatUnixCursor(p.Done)
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return formatUnixCursor(p.Done)
	}
	return string(raw)
}

// skipSeen drops the already consumed head of the partial group.
func (p feedPosition) skipSeen(dated []feedEntry) []feedEntry {
	if p.Seen == 0 {
		return dated
	}
	kept := make([]feedEntry, 0, len(dated))
	skipped := 0
	for _, entry := range dated {
		if entry.published == p.Group && skipped < p.Seen {
			skipped++
			continue
		}
		kept = append(kept, entry)
	}
	return kept
}

// pendingUndated returns undated entries oldest first, starting after the
// last consumed one. Feeds list newest first, so new undated entries land
// after the marker. When the marker has rotated out of the feed every undated
// entry is replayed.
func (p feedPosition) pendingUndated(undated []feedEntry) []feedEntry {
	slices.Reverse(undated)
	if p.After == "" {
		return undated
	}
	for i, entry := range undated {
		if entry.candidate.URL == p.After {
			return undated[i+1:]
		}
	}
	return undated
}

// advance returns the position after consuming entry. remaining counts the
// pending dated entries per publish time and is decremented in place.
func (p feedPosition) advance(entry feedEntry, remaining map[int64]int) feedPosition {
	if entry.published == 0 {
		p.After = entry.candidate.URL
		return p
	}
	at := entry.published
	remaining[at]--
	if remaining[at] <= 0 {
		p.Done = max(p.Done, at)
		if p.Group <= p.Done {
			p.Group, p.Seen = 0, 0
		}
		return p
	}
	if p.Group == at {
		p.Seen++
	} else {
		p.Group, p.Seen = at, 1
	}
	return p
}

func toFeedEntry(item *gofeed.Item) (feedEntry, bool) {
	link := strings.TrimSpace(item.Link)
	if link == "" && len(item.Links) > 0 {
		link = strings.TrimSpace(item.Links[0])
	}
	if link == "" && strings.HasPrefix(item.GUID, "http") {
		link = item.GUID
	}
	if link == "" {
		return feedEntry{}, false
	}

	var published *time.Time
	switch {
	case item.PublishedParsed != nil:
		published = item.PublishedParsed
	case item.UpdatedParsed != nil:
		published = item.UpdatedParsed
	}

	body := item.Description
	if len(item.Content) > len(body) {
		body = item.Content
	}

	var author string
	if item.Author != nil {
		author = item.Author.Name
	}

	entry := feedEntry{
		candidate: domain.Candidate{
			Title:       strings.TrimSpace(item.Title),
			URL:         link,
			PublishedAt: published,
			Body:        body,
			Author:      author,
			Signals:     map[string]any{},
		},
	}
	if len(item.Categories) > 0 {
		entry.candidate.Signals["categories"] = item.Categories
	}
	if published != nil {
		entry.published = published.Unix()
	}
	return entry, true
}

func parseUnixCursor(cursor string) int64 {
	if cursor == "" {
		return 0
	}
	v, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func formatUnixCursor(v int64) string {
	if v <= 0 {
		return ""
	}
	return strconv.FormatInt(v, 10)
}

func decodeConfig(req connector.Request, out any) error {
	if len(req.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Config, out); err != nil {
		return &domain.ConfigurationError{Source: req.SourceName, Err: fmt.Errorf("decode connector config: %w", err)}
	}
	return nil
}
