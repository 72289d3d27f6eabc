package web

import (
	"time"

	"IdeaRadar/internal/domain"
)

type itemView struct {
	ID           int64          `json:"id"`
	URL          string         `json:"url"`
	Title        string         `json:"title"`
	SourceID     int64          `json:"source_id"`
	Domain       string         `json:"domain"`
	PublishedAt  *time.Time     `json:"published_at,omitempty"`
	FetchedAt    time.Time      `json:"fetched_at"`
	Snippet      string         `json:"snippet"`
	Summary      string         `json:"summary"`
	DuplicateOf  *int64         `json:"duplicate_of,omitempty"`
	NoveltyScore float64        `json:"novelty_score"`
	QualityScore float64        `json:"quality_score"`
	RecencyScore float64        `json:"recency_score"`
	FinalScore   float64        `json:"final_score"`
	Signals      map[string]any `json:"signals,omitempty"`
}

func newItemView(item domain.Item) itemView {
	return itemView{
		ID:           item.ID,
		URL:          item.CanonicalURL,
		Title:        item.Title,
		SourceID:     item.SourceID,
		Domain:       item.Domain,
		PublishedAt:  item.PublishedAt,
		FetchedAt:    item.FetchedAt,
		Snippet:      item.Snippet,
		Summary:      item.Summary,
		DuplicateOf:  item.DuplicateOf,
		NoveltyScore: item.NoveltyScore,
		QualityScore: item.QualityScore,
		RecencyScore: item.RecencyScore,
		FinalScore:   item.FinalScore,
		Signals:      item.Signals,
	}
}
