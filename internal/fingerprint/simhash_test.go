package fingerprint

import (
	"fmt"
	"strings"
	"testing"

	"IdeaRadar/internal/domain"
)

const article = `Go modules make dependency management reproducible. Every module declares
its requirements in a go.mod file and the toolchain records checksums in go.sum, so builds
on another machine resolve exactly the same versions.`

func TestComputeDeterministicAndSelfDistance(t *testing.T) {
	t.Parallel()

	a := Compute(article)
	b := Compute(article)
	if a != b {
		t.Fatalf("fingerprint not deterministic: %x vs %x", a, b)
	}
	if d := Distance(a, a); d != 0 {
		t.Fatalf("expected zero self distance, got %d", d)
	}
}

func TestComputeIgnoresCaseAndPunctuation(t *testing.T) {
	t.Parallel()

	noisy := strings.ToUpper(strings.ReplaceAll(article, ".", " !! "))
	if d := Distance(Compute(article), Compute(noisy)); d != 0 {
		t.Fatalf("expected normalization-insensitive fingerprint, distance %d", d)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	t.Parallel()

	other := Compute("Kubernetes schedules containers onto nodes using resource requests and affinity rules.")
	base := Compute(article)
	if Distance(base, other) != Distance(other, base) {
		t.Fatalf("distance not symmetric")
	}
	if d := Distance(0, ^uint64(0)); d != Width {
		t.Fatalf("expected max distance %d, got %d", Width, d)
	}
}

func TestNearParaphraseWithinThreshold(t *testing.T) {
	t.Parallel()

	words := make([]string, 0, 1000)
	for i := 0; i < 1000; i++ {
		words = append(words, fmt.Sprintf("term%d", i))
	}
	original := strings.Join(words, " ")
	words[500] = "replacement"
	edited := strings.Join(words, " ")

	d := Distance(Compute(original), Compute(edited))
	if !IsNearDuplicate(Compute(original), Compute(edited), DefaultThreshold) {
		t.Fatalf("expected near duplicate, distance %d", d)
	}
}

func TestUnrelatedTextsAboveThreshold(t *testing.T) {
	t.Parallel()

	a := Compute(article)
	b := Compute(`The recipe calls for flour, butter, sugar and two eggs. Bake the dough for
twenty minutes until golden, then let the cake cool on a wire rack before slicing.`)
	if IsNearDuplicate(a, b, DefaultThreshold) {
		t.Fatalf("unrelated texts flagged as near duplicates, distance %d", Distance(a, b))
	}
}

func TestComputeEmpty(t *testing.T) {
	t.Parallel()

	if fp := Compute("  ... "); fp != 0 {
		t.Fatalf("expected zero fingerprint for empty text, got %x", fp)
	}
}

func TestNearest(t *testing.T) {
	t.Parallel()

	refs := []domain.FingerprintRef{
		{ItemID: 1, Fingerprint: 0xFF},
		{ItemID: 2, Fingerprint: 0x0F},
		{ItemID: 3, Fingerprint: 0x01},
	}

	ref, d, ok := Nearest(0x00, refs, 0)
	if !ok || ref.ItemID != 3 || d != 1 {
		t.Fatalf("unexpected nearest: %+v distance %d ok %v", ref, d, ok)
	}

	ref, d, ok = Nearest(0x01, refs, 3)
	if !ok || ref.ItemID != 2 || d != 3 {
		t.Fatalf("exclusion ignored: %+v distance %d", ref, d)
	}

	if _, _, ok := Nearest(0x01, nil, 0); ok {
		t.Fatalf("expected no neighbour for empty window")
	}
}
