// Package scoring turns novelty, quality and recency signals into a ranking score.
package scoring

import (
	"math"
	"regexp"
	"time"

	"IdeaRadar/internal/fingerprint"
)

const neutral = 0.5

const (
	pointsCap   = 100.0
	commentsCap = 50.0
)

var codeMarkers = regexp.MustCompile("```|\\bfunc\\s+\\w+\\(|\\bdef\\s+\\w+\\(|\\bclass\\s+\\w+|\\bimport\\s+[\\w\"]|#include\\s*<|\\bconst\\s+\\w+\\s*=|=>\\s*\\{")

// Weights controls how the three components contribute to the final score.
type Weights struct {
	Novelty float64
	Quality float64
	Recency float64
}

// DefaultWeights favours novelty, then quality, then recency.
func DefaultWeights() Weights {
	return Weights{Novelty: 0.5, Quality: 0.35, Recency: 0.15}
}

func (w Weights) sum() float64 {
	return w.Novelty + w.Quality + w.Recency
}

// Params configure a Scorer.
type Params struct {
	Weights  Weights
	HalfLife time.Duration
}

// Input carries everything known about one item at scoring time.
type Input struct {
	// HasNeighbour is false when the novelty window is empty.
	HasNeighbour    bool
	NearestDistance int
	ExactDuplicate  bool
	SourceWeight    *float64
	Signals         map[string]any
	Text            string
	PublishedAt     *time.Time
	FetchedAt       time.Time
}

// Scores are the per-component values and their weighted combination, all in [0,1].
type Scores struct {
	Novelty float64
	Quality float64
	Recency float64
	Final   float64
}

// Scorer is a pure function of its input and the clock value it is handed.
type Scorer struct {
	weights  Weights
	halfLife time.Duration
}

// NewScorer falls back to default weights when the sum is not positive
// and to a 24h half-life when none is set.
func NewScorer(p Params) *Scorer {
	w := p.Weights
	if w.Novelty < 0 || w.Quality < 0 || w.Recency < 0 || w.sum() <= 0 {
		w = DefaultWeights()
	}
	halfLife := p.HalfLife
	if halfLife <= 0 {
		halfLife = 24 * time.Hour
	}
	return &Scorer{weights: w, halfLife: halfLife}
}

// Score computes all components for in as of now.
func (s *Scorer) Score(in Input, now time.Time) Scores {
	var novelty float64
	switch {
	case in.ExactDuplicate:
		novelty = 0
	case !in.HasNeighbour:
		novelty = 1
	default:
		novelty = Novelty(in.NearestDistance)
	}

	published := in.FetchedAt
	if in.PublishedAt != nil {
		published = *in.PublishedAt
	}

	out := Scores{
		Novelty: novelty,
		Quality: Quality(in.SourceWeight, in.Signals, in.Text),
		Recency: s.Recency(now.Sub(published)),
	}
	out.Final = clamp((s.weights.Novelty*out.Novelty + s.weights.Quality*out.Quality + s.weights.Recency*out.Recency) / s.weights.sum())
	return out
}

// Novelty maps a Hamming distance to [0,1]; identical fingerprints score 0.
func Novelty(distance int) float64 {
	return clamp(float64(distance) / float64(fingerprint.Width))
}

// Recency decays exponentially with age; future timestamps count as brand new.
func (s *Scorer) Recency(age time.Duration) float64 {
	if age < 0 {
		age = 0
	}
	return clamp(math.Pow(0.5, age.Hours()/s.halfLife.Hours()))
}

// Quality averages source weight, engagement and a content heuristic.
// Missing sub-signals count as neutral.
func Quality(sourceWeight *float64, signals map[string]any, text string) float64 {
	source := neutral
	if sourceWeight != nil {
		source = clamp(*sourceWeight)
	}
	return clamp((source + engagement(signals) + content(text)) / 3)
}

func engagement(signals map[string]any) float64 {
	var parts []float64
	if v, ok := lookup(signals, "score", "points"); ok {
		parts = append(parts, logScaled(v, pointsCap))
	}
	if v, ok := lookup(signals, "descendants", "comments"); ok {
		parts = append(parts, logScaled(v, commentsCap))
	}
	if len(parts) == 0 {
		return neutral
	}
	var total float64
	for _, p := range parts {
		total += p
	}
	return total / float64(len(parts))
}

func content(text string) float64 {
	if text == "" {
		return neutral
	}
	n := len([]rune(text))
	var length float64
	switch {
	case n > 5000:
		length = 0.6
	case n >= 500:
		length = 0.8
	default:
		length = 0.3
	}
	if codeMarkers.MatchString(text) {
		return (length + 0.7) / 2
	}
	return length
}

func logScaled(v, limit float64) float64 {
	if v <= 0 {
		return 0
	}
	return clamp(math.Log1p(v) / math.Log1p(limit))
}

func lookup(signals map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		raw, ok := signals[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case int:
			return float64(v), true
		case int64:
			return float64(v), true
		case float64:
			return v, true
		case float32:
			return float64(v), true
		case interface{ Float64() (float64, error) }:
			if f, err := v.Float64(); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
