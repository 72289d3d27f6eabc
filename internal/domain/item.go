package domain

import "time"

// Candidate is a raw, unverified item produced by a connector.
type Candidate struct {
	Title       string
	URL         string
	PublishedAt *time.Time
	Body        string
	Author      string
	Signals     map[string]any
	// Cursor resumes the source right after this candidate; empty when unknown.
	Cursor string
}

// Item is the persisted, canonical content entity.
type Item struct {
	ID           int64
	CanonicalURL string
	Title        string
	SourceID     int64
	PublishedAt  *time.Time
	FetchedAt    time.Time
	Snippet      string
	Summary      string
	Domain       string
	ContentHash  string
	Fingerprint  *uint64
	DuplicateOf  *int64
	NoveltyScore float64
	QualityScore float64
	RecencyScore float64
	FinalScore   float64
	Signals      map[string]any
	CreatedAt    time.Time
}

// IsDuplicate reports whether the item was flagged as a duplicate of an earlier one.
func (i Item) IsDuplicate() bool {
	return i.DuplicateOf != nil
}

// Extraction is the bounded, derived text produced for a candidate URL.
type Extraction struct {
	Domain      string
	Text        string
	Snippet     string
	Summary     string
	ContentHash string
}

// FingerprintRef is one entry of the novelty window.
type FingerprintRef struct {
	ItemID      int64
	Fingerprint uint64
	DuplicateOf *int64
}

// HashRef is one entry of the exact-duplicate window.
type HashRef struct {
	ItemID      int64
	ContentHash string
	DuplicateOf *int64
}

// Root returns the item the reference ultimately duplicates, or the item itself.
func (r FingerprintRef) Root() int64 {
	if r.DuplicateOf != nil {
		return *r.DuplicateOf
	}
	return r.ItemID
}

// Root returns the item the reference ultimately duplicates, or the item itself.
func (r HashRef) Root() int64 {
	if r.DuplicateOf != nil {
		return *r.DuplicateOf
	}
	return r.ItemID
}

// ItemQuery narrows the read-only item listing.
type ItemQuery struct {
	Limit      int
	UniqueOnly bool
}
