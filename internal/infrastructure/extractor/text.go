package extractor

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

const (
	snippetLength    = 300
	summaryLength    = 500
	minParagraphSize = 50
	summarySentences = 3
)

// ContentHash is the sha256 of the lower-cased, whitespace-collapsed text.
func ContentHash(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Snippet cuts text at a word boundary near snippetLength runes.
func Snippet(text string) string {
	flat := strings.Join(strings.Fields(text), " ")
	runes := []rune(flat)
	if len(runes) <= snippetLength {
		return flat
	}
	cut := string(runes[:snippetLength])
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,;:") + "..."
}

// Summary prefers the first paragraph when it has a sensible size and
// otherwise takes the first sentences, capped at summaryLength runes.
func Summary(text string) string {
	paragraphs := strings.Split(text, "\n\n")
	if first := strings.TrimSpace(paragraphs[0]); len([]rune(first)) >= minParagraphSize && len([]rune(first)) <= summaryLength {
		return first
	}
	flat := strings.Join(strings.Fields(text), " ")
	return truncate(firstSentences(flat, summarySentences), summaryLength)
}

func firstSentences(text string, n int) string {
	count := 0
	runes := []rune(text)
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		count++
		if count == n {
			return string(runes[:i+1])
		}
	}
	return text
}

// normalize collapses whitespace inside lines and keeps paragraph breaks.
func normalize(text string) string {
	lines := strings.Split(text, "\n")
	paragraphs := make([]string, 0, len(lines))
	for _, line := range lines {
		if clean := normalizeLine(line); clean != "" {
			paragraphs = append(paragraphs, clean)
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

func normalizeLine(line string) string {
	return strings.Join(strings.Fields(line), " ")
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	return strings.TrimSpace(string(runes[:limit]))
}
