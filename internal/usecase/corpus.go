package usecase

import (
	"IdeaRadar/internal/domain"
	"IdeaRadar/internal/fingerprint"
)

// corpus is the batch-local novelty window. It starts from the repository
// snapshot and grows with every item the batch commits.
type corpus struct {
	fingerprints []domain.FingerprintRef
	hashes       map[string][]domain.HashRef
}

func newCorpus(fps []domain.FingerprintRef, hashes []domain.HashRef) *corpus {
	c := &corpus{
		fingerprints: fps,
		hashes:       make(map[string][]domain.HashRef, len(hashes)),
	}
	for _, h := range hashes {
		c.hashes[h.ContentHash] = append(c.hashes[h.ContentHash], h)
	}
	return c
}

func (c *corpus) exact(hash string, exclude int64) (domain.HashRef, bool) {
	if hash == "" {
		return domain.HashRef{}, false
	}
	for _, ref := range c.hashes[hash] {
		if ref.ItemID != exclude {
			return ref, true
		}
	}
	return domain.HashRef{}, false
}

func (c *corpus) nearest(fp uint64, exclude int64) (domain.FingerprintRef, int, bool) {
	return fingerprint.Nearest(fp, c.fingerprints, exclude)
}

func (c *corpus) add(item domain.Item) {
	if item.ContentHash != "" {
		c.hashes[item.ContentHash] = append(c.hashes[item.ContentHash], domain.HashRef{
			ItemID:      item.ID,
			ContentHash: item.ContentHash,
			DuplicateOf: item.DuplicateOf,
		})
	}
	if item.Fingerprint != nil {
		c.fingerprints = append(c.fingerprints, domain.FingerprintRef{
			ItemID:      item.ID,
			Fingerprint: *item.Fingerprint,
			DuplicateOf: item.DuplicateOf,
		})
	}
}
