// Package fingerprint computes 64-bit SimHash fingerprints for near-duplicate detection.
package fingerprint

import (
	"math/bits"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"IdeaRadar/internal/domain"
)

const (
	// Width is the fingerprint size in bits.
	Width = 64
	// DefaultThreshold is the Hamming distance at or below which two texts are near-duplicates.
	DefaultThreshold = 5
)

// Compute returns the SimHash of text over frequency-weighted word tokens.
// Case, punctuation and whitespace do not affect the result. Empty text yields 0.
func Compute(text string) uint64 {
	weights := tokenWeights(text)
	if len(weights) == 0 {
		return 0
	}

	var acc [Width]int
	for token, weight := range weights {
		h := xxhash.Sum64String(token)
		for bit := 0; bit < Width; bit++ {
			if h&(1<<uint(bit)) != 0 {
				acc[bit] += weight
			} else {
				acc[bit] -= weight
			}
		}
	}

	var fp uint64
	for bit := 0; bit < Width; bit++ {
		if acc[bit] > 0 {
			fp |= 1 << uint(bit)
		}
	}
	return fp
}

// Distance is the Hamming distance between two fingerprints.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// IsNearDuplicate reports whether a and b are within threshold bits of each other.
func IsNearDuplicate(a, b uint64, threshold int) bool {
	return Distance(a, b) <= threshold
}

// Nearest scans refs for the fingerprint closest to fp, ignoring the item exclude.
// ok is false when no candidate reference remains.
func Nearest(fp uint64, refs []domain.FingerprintRef, exclude int64) (nearest domain.FingerprintRef, distance int, ok bool) {
	distance = Width + 1
	for _, ref := range refs {
		if exclude != 0 && ref.ItemID == exclude {
			continue
		}
		d := Distance(fp, ref.Fingerprint)
		if d < distance {
			nearest, distance, ok = ref, d, true
			if d == 0 {
				break
			}
		}
	}
	if !ok {
		return domain.FingerprintRef{}, 0, false
	}
	return nearest, distance, true
}

func tokenWeights(text string) map[string]int {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	weights := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		weights[tok]++
	}
	return weights
}
