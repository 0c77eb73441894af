package memory

import (
	"context"
	"fmt"

	"github.com/sandevgo/memgate/internal/core"
	"github.com/sandevgo/memgate/pkg/log"
)

// defaultConfidence is assigned to freshly extracted facts; the extractor
// contract carries no confidence of its own.
const defaultConfidence = 0.8

// Deduper decides whether an extracted fact is new, an update to an
// existing item, or noise already covered.
type Deduper struct {
	items     core.ItemRepository
	index     core.VectorIndex
	embedder  core.Embedder
	threshold float64
}

func NewDeduper(items core.ItemRepository, index core.VectorIndex, embedder core.Embedder, threshold float64) *Deduper {
	return &Deduper{
		items:     items,
		index:     index,
		embedder:  embedder,
		threshold: threshold,
	}
}

// Apply classifies one candidate fact. Similarity at or above the threshold
// collapses it into the nearest existing item (Touch: fresher text, newer
// updated timestamp, same identity); otherwise a new pending item is
// inserted. The embed-query-write sequence is not atomic across the
// engine: two concurrent near-duplicates from different threads can both
// insert. The race is bounded, the pair collapses on a later detection
// cycle once one of them is indexed.
func (d *Deduper) Apply(ctx context.Context, fact core.ExtractedFact) (string, bool, error) {
	vec, err := d.embedder.Embed(ctx, fact.Text)
	if err != nil {
		return "", false, fmt.Errorf("embed candidate: %w", err)
	}

	hits, err := d.index.Query(ctx, vec, 1)
	if err != nil {
		return "", false, fmt.Errorf("nearest-neighbor query: %w", err)
	}

	if len(hits) > 0 && float64(hits[0].Similarity) >= d.threshold {
		// The index may hold a dangling record for a tombstoned item;
		// only an active row counts as a duplicate target.
		existing, err := d.items.GetByIDs(ctx, []string{hits[0].ID})
		if err != nil {
			return "", false, fmt.Errorf("hydrate duplicate candidate: %w", err)
		}
		if len(existing) == 1 {
			if err := d.items.Touch(ctx, hits[0].ID, fact.Text, core.KeepConfidence); err != nil {
				return "", false, fmt.Errorf("touch duplicate: %w", err)
			}
			log.FromCtx(ctx).Debug().
				Str("item", hits[0].ID).
				Float32("similarity", hits[0].Similarity).
				Msg("fact merged into existing item")
			return hits[0].ID, false, nil
		}
	}

	id, err := d.items.InsertPending(ctx, fact.Text, core.NormalizeKind(fact.Kind), defaultConfidence)
	if err != nil {
		return "", false, fmt.Errorf("insert pending item: %w", err)
	}
	return id, true, nil
}
